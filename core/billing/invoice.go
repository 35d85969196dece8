package billing

import (
	"context"
	"fmt"
	"net/mail"
	texttmpl "text/template"

	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
)

var invoiceNoticeTmpl = texttmpl.Must(texttmpl.New("invoice_notice").Parse(`Hello {{.Student.Fullname}},

An invoice of {{.Invoice.Amount.StringFixed 2}} was issued for your payment plan.
It is due on {{.Invoice.DueDate.Format "2006-01-02"}}.
{{with .Invoice.Message}}
{{.}}
{{end}}{{with .Invoice.Disclaimer}}
{{.}}
{{end}}`))

type invoiceNotice struct {
	Student Student
	Invoice Invoice
}

func (svc *Service) CreateInvoice(ctx context.Context, ni NewInvoice) (Invoice, error) {
	if err := ni.Validate(svc.validate); err != nil {
		return Invoice{}, svc.validationErr(err)
	}

	inv, err := svc.repo.CreateInvoice(ctx, Invoice{
		PlanID:     ni.PlanID,
		Amount:     ni.Amount,
		Message:    ni.Message,
		Disclaimer: ni.Disclaimer,
		DueDate:    ni.DueDate,
		CreatedAt:  nowFunc().UTC(),
	})
	if err != nil {
		return Invoice{}, errors.Wrap(err, "inserting invoice")
	}
	svc.sendInvoiceNotice(ctx, inv)
	return inv, nil
}

// sendInvoiceNotice mails the invoice to the plan's student. Failures are only logged.
func (svc *Service) sendInvoiceNotice(ctx context.Context, inv Invoice) {
	if svc.mailSvc == nil {
		return
	}

	plan, err := svc.repo.GetPlan(ctx, inv.PlanID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("invoice %s notice: %v", inv.ID, err), err)
		return
	}
	std, err := svc.repo.GetStudent(ctx, plan.StudentID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("invoice %s notice: %v", inv.ID, err), err)
		return
	}
	if std.Email == "" {
		svc.logger.Info(fmt.Sprintf("invoice %s notice: student %s has no email", inv.ID, std.ID))
		return
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: std.Fullname, Address: std.Email}},
		Subject:      "Invoice due " + inv.DueDate.Format(DateLayout),
		Template:     invoiceNoticeTmpl,
		TemplateData: invoiceNotice{Student: std, Invoice: inv},
	})
}

func (svc *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return svc.repo.GetInvoice(ctx, core.CleanString(id))
}

func (svc *Service) QueryInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	filter.PlanID = core.CleanString(filter.PlanID)
	return svc.repo.QueryInvoices(ctx, filter)
}

func (svc *Service) DeleteInvoice(ctx context.Context, id string) error {
	inv, err := svc.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	_, err = svc.repo.DeleteInvoicesByID(ctx, inv.ID)
	return errors.Wrap(err, "deleting invoice")
}
