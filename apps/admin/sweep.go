package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/bursar/core/billing"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errNotConfirmed = errors.New("sweep not confirmed")
	errNoTerminal   = errors.New("refusing to sweep without confirmation; pass -yes on non-interactive input")
)

// confirm asks the operator to type "y" before a destructive command.
func (cli *commandLine) confirm(question string) error {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return errNoTerminal
	}
	_, _ = fmt.Fprintf(cli.out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(cli.in).ReadString('\n')
	if err != nil && answer == "" {
		return errNotConfirmed
	}
	if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
		return errNotConfirmed
	}
	return nil
}

func (cli *commandLine) sweep(ctx context.Context, skipConfirm bool) error {
	if !skipConfirm {
		if err := cli.confirm(fmt.Sprintf("Delete orphaned payment plans, payments and invoices from the %s store?", cli.store.Engine)); err != nil {
			return err
		}
	}

	report, err := cli.billingSvc.Sweep(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "%-14s %8s %8s %8s\n", "", "scanned", "deleted", "failed")
	for _, row := range []struct {
		name string
		res  billing.CleanupResult
	}{
		{"payment plans", report.Plans},
		{"payments", report.Payments},
		{"invoices", report.Invoices},
	} {
		_, _ = fmt.Fprintf(cli.out, "%-14s %8d %8d %8d\n", row.name, row.res.Scanned, row.res.Deleted, row.res.Failed)
	}
	return nil
}
