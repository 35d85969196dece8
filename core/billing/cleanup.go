package billing

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/bursar/core"
)

// Each cleanup lists the children before their parents: a child created after the
// listing is never a candidate, and its parent is visible to the later read.

type deleteFunc func(ctx context.Context, ids ...string) (int, error)

// CleanupOrphanedPlans deletes the plans whose student no longer exists.
func (svc *Service) CleanupOrphanedPlans(ctx context.Context) (CleanupResult, error) {
	plans, err := svc.repo.QueryPlans(ctx, PlanFilter{})
	if err != nil {
		return CleanupResult{}, errors.Wrap(err, "querying payment plans")
	}
	students, err := svc.studentSet(ctx)
	if err != nil {
		return CleanupResult{}, err
	}

	orphans := lo.Filter(plans, func(plan PaymentPlan, _ int) bool { return !students[plan.StudentID] })
	return svc.deleteOrphans(ctx, "payment plan", len(plans), planIDs(orphans), svc.repo.DeletePlansByID), nil
}

// CleanupOrphanedPayments deletes the payments whose student or plan no longer exists.
func (svc *Service) CleanupOrphanedPayments(ctx context.Context) (CleanupResult, error) {
	payments, _, err := svc.repo.QueryPayments(ctx, PaymentFilter{}, core.PageRequest{})
	if err != nil {
		return CleanupResult{}, errors.Wrap(err, "querying payments")
	}
	students, err := svc.studentSet(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	plans, err := svc.planSet(ctx)
	if err != nil {
		return CleanupResult{}, err
	}

	orphans := lo.Filter(payments, func(pmt Payment, _ int) bool {
		return !students[pmt.StudentID] || !plans[pmt.PlanID]
	})
	return svc.deleteOrphans(ctx, "payment", len(payments), paymentIDs(orphans), svc.repo.DeletePaymentsByID), nil
}

// CleanupOrphanedInvoices deletes the invoices whose plan no longer exists.
func (svc *Service) CleanupOrphanedInvoices(ctx context.Context) (CleanupResult, error) {
	invoices, err := svc.repo.QueryInvoices(ctx, InvoiceFilter{})
	if err != nil {
		return CleanupResult{}, errors.Wrap(err, "querying invoices")
	}
	plans, err := svc.planSet(ctx)
	if err != nil {
		return CleanupResult{}, err
	}

	orphans := lo.Filter(invoices, func(inv Invoice, _ int) bool { return !plans[inv.PlanID] })
	return svc.deleteOrphans(ctx, "invoice", len(invoices), invoiceIDs(orphans), svc.repo.DeleteInvoicesByID), nil
}

// Sweep runs the plan, payment and invoice cleanups in that order, so that payments and
// invoices left behind by the deleted plans are collected in the same run.
func (svc *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		err    error
	)
	if report.Plans, err = svc.CleanupOrphanedPlans(ctx); err != nil {
		return report, errors.Wrap(err, "sweeping payment plans")
	}
	if report.Payments, err = svc.CleanupOrphanedPayments(ctx); err != nil {
		return report, errors.Wrap(err, "sweeping payments")
	}
	if report.Invoices, err = svc.CleanupOrphanedInvoices(ctx); err != nil {
		return report, errors.Wrap(err, "sweeping invoices")
	}
	return report, nil
}

// deleteOrphans deletes ids one by one so that a failing record does not stop the sweep.
func (svc *Service) deleteOrphans(ctx context.Context, resource string, scanned int, ids []string, del deleteFunc) CleanupResult {
	res := CleanupResult{Scanned: scanned}
	for _, id := range ids {
		n, err := del(ctx, id)
		if err != nil {
			res.Failed++
			svc.logger.Error(fmt.Sprintf("deleting orphaned %s %s: %v", resource, id, err), err)
			continue
		}
		res.Deleted += n
	}
	if res.Deleted > 0 {
		svc.logger.Info(fmt.Sprintf("deleted %d orphaned %s record(s)", res.Deleted, resource))
	}
	return res
}

func (svc *Service) studentSet(ctx context.Context) (map[string]bool, error) {
	students, err := svc.repo.QueryStudents(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	return lo.Associate(students, func(std Student) (string, bool) { return std.ID, true }), nil
}

func (svc *Service) planSet(ctx context.Context) (map[string]bool, error) {
	plans, err := svc.repo.QueryPlans(ctx, PlanFilter{})
	if err != nil {
		return nil, errors.Wrap(err, "querying payment plans")
	}
	return lo.Associate(plans, func(plan PaymentPlan) (string, bool) { return plan.ID, true }), nil
}

func planIDs(plans []PaymentPlan) []string {
	return lo.Map(plans, func(plan PaymentPlan, _ int) string { return plan.ID })
}

func paymentIDs(payments []Payment) []string {
	return lo.Map(payments, func(pmt Payment, _ int) string { return pmt.ID })
}

func invoiceIDs(invoices []Invoice) []string {
	return lo.Map(invoices, func(inv Invoice, _ int) string { return inv.ID })
}
