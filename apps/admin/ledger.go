package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core/billing"
)

var nowFunc = time.Now // mockable

func today() string { return nowFunc().Format(billing.DateLayout) }

func (cli *commandLine) balance(ctx context.Context, planID string) error {
	stmt, err := cli.billingSvc.GetPlanStatement(ctx, planID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "plan:         %s\n", stmt.PlanID)
	_, _ = fmt.Fprintf(cli.out, "amount:       %s\n", stmt.Amount.StringFixed(2))
	_, _ = fmt.Fprintf(cli.out, "paid:         %s (%d payments)\n", stmt.Paid.StringFixed(2), stmt.PaymentCount)
	_, _ = fmt.Fprintf(cli.out, "balance:      %s\n", stmt.Balance.StringFixed(2))
	if stmt.IsOverpaid {
		_, _ = fmt.Fprintf(cli.out, "overpaid by:  %s\n", stmt.Signed.Neg().StringFixed(2))
	}
	if !stmt.NextPaymentDate.IsZero() {
		_, _ = fmt.Fprintf(cli.out, "next payment: %s\n", stmt.NextPaymentDate.Format(billing.DateLayout))
	}
	return nil
}

func (cli *commandLine) invoice(ctx context.Context, ni billing.NewInvoice) error {
	inv, err := cli.billingSvc.CreateInvoice(ctx, ni)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "invoice %s: %s due %s\n", inv.ID, inv.Amount.StringFixed(2), inv.DueDate.Format(billing.DateLayout))
	return nil
}

// schedule prints the installment estimate and due dates a new plan would get.
func (cli *commandLine) schedule(policy billing.IntervalPolicy, amount decimal.Decimal, duration, installments int, from string) error {
	regDate, err := billing.ParseDate(from)
	if err != nil {
		return err
	}
	estimate, err := billing.EstimateInstallment(amount, installments)
	if err != nil {
		return err
	}
	due, err := billing.NextPaymentDate(policy, duration, installments, regDate)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cli.out, "policy: %s, estimate: %s\n", policy, estimate.StringFixed(2))
	for i := 1; i <= installments; i++ {
		_, _ = fmt.Fprintf(cli.out, "%3d  %s\n", i, due.Format(billing.DateLayout))
		due = billing.AdvanceSchedule(due)
	}
	return nil
}
