package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/storage"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	store      *storage.Store
	billingSvc *billing.Service
	opts       billing.Options
	out        io.Writer
	in         io.Reader
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) against the postgres store")
	_, _ = fmt.Fprintln(cli.out, "  sweep [-yes] - delete orphaned payment plans, payments and invoices")
	_, _ = fmt.Fprintln(cli.out, "  balance -plan PLAN_ID - print a payment plan's statement")
	_, _ = fmt.Fprintln(cli.out, "  invoice -plan PLAN_ID -amount AMOUNT -due YYYY-MM-DD -message MESSAGE -disclaimer DISCLAIMER - issue an invoice and mail its notice")
	_, _ = fmt.Fprintln(cli.out, "  schedule -amount AMOUNT -duration MONTHS -installments N [-from YYYY-MM-DD] [-policy even-periods|gaps] - preview a plan")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	sweepCmd := cli.newFlagSet("sweep")
	sweepYes := sweepCmd.Bool("yes", false, "Do not ask for confirmation.")

	balanceCmd := cli.newFlagSet("balance")
	balancePlan := balanceCmd.String("plan", "", "The payment plan ID.")

	invoiceCmd := cli.newFlagSet("invoice")
	invoicePlan := invoiceCmd.String("plan", "", "The payment plan ID.")
	invoiceAmount := invoiceCmd.String("amount", "", "The invoiced amount.")
	invoiceDue := invoiceCmd.String("due", "", "The due date (YYYY-MM-DD).")
	invoiceMessage := invoiceCmd.String("message", "", "The invoice message.")
	invoiceDisclaimer := invoiceCmd.String("disclaimer", "", "The invoice disclaimer.")

	scheduleCmd := cli.newFlagSet("schedule")
	scheduleAmount := scheduleCmd.String("amount", "", "The amount financed by the plan.")
	scheduleDuration := scheduleCmd.Int("duration", 0, "The course duration in months.")
	scheduleInstallments := scheduleCmd.Int("installments", 1, "The number of installments.")
	scheduleFrom := scheduleCmd.String("from", "", "The registration date (YYYY-MM-DD). Defaults to today.")
	schedulePolicy := scheduleCmd.String("policy", cli.opts.IntervalPolicy.String(), "The interval policy: even-periods or gaps.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "sweep":
		if err := sweepCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.sweep(ctx, *sweepYes)

	case "balance":
		if err := balanceCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *balancePlan == "" {
			balanceCmd.Usage()
			return errHelp
		}
		return cli.balance(ctx, *balancePlan)

	case "invoice":
		if err := invoiceCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *invoicePlan == "" || *invoiceAmount == "" || *invoiceDue == "" {
			invoiceCmd.Usage()
			return errHelp
		}
		amount, err := decimal.NewFromString(*invoiceAmount)
		if err != nil {
			return fmt.Errorf("invalid amount %q", *invoiceAmount)
		}
		due, err := billing.ParseDate(*invoiceDue)
		if err != nil {
			return err
		}
		return cli.invoice(ctx, billing.NewInvoice{
			PlanID:     *invoicePlan,
			Amount:     amount,
			Message:    *invoiceMessage,
			Disclaimer: *invoiceDisclaimer,
			DueDate:    due,
		})

	case "schedule":
		if err := scheduleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *scheduleAmount == "" || *scheduleDuration == 0 {
			scheduleCmd.Usage()
			return errHelp
		}
		amount, err := decimal.NewFromString(*scheduleAmount)
		if err != nil {
			return fmt.Errorf("invalid amount %q", *scheduleAmount)
		}
		policy, err := billing.ParseIntervalPolicy(*schedulePolicy)
		if err != nil {
			return err
		}
		from := *scheduleFrom
		if from == "" {
			from = today()
		}
		return cli.schedule(policy, amount, *scheduleDuration, *scheduleInstallments, from)

	default:
		cli.printUsage()
		return errHelp
	}
}
