package billing

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
)

// Balance returns |plan.Amount - sum(payments)|, or zero when nothing was paid yet.
// The absolute value hides overpayments; see NewStatement for the signed figure.
func Balance(plan PaymentPlan, payments []Payment) decimal.Decimal {
	if len(payments) == 0 {
		return decimal.Zero
	}
	return plan.Amount.Sub(totalPaid(payments)).Abs()
}

func NewStatement(plan PaymentPlan, payments []Payment) Statement {
	paid := totalPaid(payments)
	signed := plan.Amount.Sub(paid)
	return Statement{
		PlanID:          plan.ID,
		Amount:          plan.Amount,
		Paid:            paid,
		Signed:          signed,
		Balance:         Balance(plan, payments),
		IsOverpaid:      signed.IsNegative(),
		PaymentCount:    len(payments),
		NextPaymentDate: plan.NextPaymentDate,
	}
}

func totalPaid(payments []Payment) decimal.Decimal {
	return lo.Reduce(payments, func(sum decimal.Decimal, pmt Payment, _ int) decimal.Decimal {
		return sum.Add(pmt.Amount)
	}, decimal.Zero)
}

func (svc *Service) planLedger(ctx context.Context, planID string) (PaymentPlan, []Payment, error) {
	plan, err := svc.repo.GetPlan(ctx, core.CleanString(planID))
	if err != nil {
		return PaymentPlan{}, nil, err
	}
	payments, _, err := svc.repo.QueryPayments(ctx, PaymentFilter{PlanID: plan.ID}, core.PageRequest{})
	if err != nil {
		return PaymentPlan{}, nil, errors.Wrap(err, "querying payments")
	}
	return plan, payments, nil
}

// GetPlanBalance computes the outstanding balance of a plan from its current ledger.
func (svc *Service) GetPlanBalance(ctx context.Context, planID string) (decimal.Decimal, error) {
	plan, payments, err := svc.planLedger(ctx, planID)
	if err != nil {
		return decimal.Zero, err
	}
	return Balance(plan, payments), nil
}

func (svc *Service) GetPlanStatement(ctx context.Context, planID string) (Statement, error) {
	plan, payments, err := svc.planLedger(ctx, planID)
	if err != nil {
		return Statement{}, err
	}
	return NewStatement(plan, payments), nil
}
