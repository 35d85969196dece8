package sqlxrepos

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

type (
	studentRow struct {
		ID               string         `db:"id"`
		Fullname         string         `db:"fullname"`
		Email            string         `db:"email"`
		Phone            string         `db:"phone"`
		CenterID         string         `db:"center_id"`
		StudentNumber    string         `db:"student_number"`
		RegistrationDate null.Time      `db:"registration_date"`
		BirthDate        null.Time      `db:"birth_date"`
		PlanIDs          pq.StringArray `db:"plan_ids"`
		CreatedAt        time.Time      `db:"created_at"`
		UpdatedAt        time.Time      `db:"updated_at"`
	}

	courseRow struct {
		ID        string          `db:"id"`
		Title     string          `db:"title"`
		Duration  int             `db:"duration"`
		Amount    decimal.Decimal `db:"amount"`
		CreatedAt time.Time       `db:"created_at"`
		UpdatedAt time.Time       `db:"updated_at"`
	}

	planRow struct {
		ID               string          `db:"id"`
		StudentID        string          `db:"student_id"`
		CourseID         string          `db:"course_id"`
		CenterID         string          `db:"center_id"`
		Amount           decimal.Decimal `db:"amount"`
		Installments     int             `db:"installments"`
		Estimate         decimal.Decimal `db:"estimate"`
		RegistrationDate time.Time       `db:"registration_date"`
		LastPaymentDate  null.Time       `db:"last_payment_date"`
		NextPaymentDate  time.Time       `db:"next_payment_date"`
		Version          int             `db:"version"`
		CreatedAt        time.Time       `db:"created_at"`
		UpdatedAt        time.Time       `db:"updated_at"`
	}

	paymentRow struct {
		ID              string          `db:"id"`
		StudentID       string          `db:"student_id"`
		PlanID          string          `db:"plan_id"`
		CenterID        string          `db:"center_id"`
		CourseID        string          `db:"course_id"`
		Amount          decimal.Decimal `db:"amount"`
		PaymentDate     time.Time       `db:"payment_date"`
		LastPaymentDate time.Time       `db:"last_payment_date"`
		Message         string          `db:"message"`
		Disclaimer      string          `db:"disclaimer"`
		IdempotencyKey  null.String     `db:"idempotency_key"`
		StudentFullname string          `db:"student_fullname"`
		StudentEmail    string          `db:"student_email"`
		StudentPhone    string          `db:"student_phone"`
		StudentNumber   string          `db:"student_number"`
		CreatedAt       time.Time       `db:"created_at"`
	}

	invoiceRow struct {
		ID         string          `db:"id"`
		PlanID     string          `db:"plan_id"`
		Amount     decimal.Decimal `db:"amount"`
		Message    string          `db:"message"`
		Disclaimer string          `db:"disclaimer"`
		DueDate    time.Time       `db:"due_date"`
		CreatedAt  time.Time       `db:"created_at"`
	}
)

func nullDate(t time.Time) null.Time {
	return null.NewTime(core.Date(t), !t.IsZero())
}

func fromNullDate(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return core.Date(t.Time)
}

func newStudentRow(std billing.Student) studentRow {
	planIDs := std.PlanIDs
	if planIDs == nil {
		planIDs = []string{}
	}
	return studentRow{
		ID:               std.ID,
		Fullname:         std.Fullname,
		Email:            std.Email,
		Phone:            std.Phone,
		CenterID:         std.CenterID,
		StudentNumber:    std.StudentNumber,
		RegistrationDate: nullDate(std.RegistrationDate),
		BirthDate:        nullDate(std.BirthDate),
		PlanIDs:          planIDs,
		CreatedAt:        std.CreatedAt.UTC(),
		UpdatedAt:        std.UpdatedAt.UTC(),
	}
}

func (row studentRow) toStudent() billing.Student {
	return billing.Student{
		ID:               row.ID,
		Fullname:         row.Fullname,
		Email:            row.Email,
		Phone:            row.Phone,
		CenterID:         row.CenterID,
		StudentNumber:    row.StudentNumber,
		RegistrationDate: fromNullDate(row.RegistrationDate),
		BirthDate:        fromNullDate(row.BirthDate),
		PlanIDs:          []string(row.PlanIDs),
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func newCourseRow(course billing.Course) courseRow {
	return courseRow{
		ID:        course.ID,
		Title:     course.Title,
		Duration:  course.Duration,
		Amount:    course.Amount,
		CreatedAt: course.CreatedAt.UTC(),
		UpdatedAt: course.UpdatedAt.UTC(),
	}
}

func (row courseRow) toCourse() billing.Course {
	return billing.Course{
		ID:        row.ID,
		Title:     row.Title,
		Duration:  row.Duration,
		Amount:    row.Amount,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func newPlanRow(plan billing.PaymentPlan) planRow {
	return planRow{
		ID:               plan.ID,
		StudentID:        plan.StudentID,
		CourseID:         plan.CourseID,
		CenterID:         plan.CenterID,
		Amount:           plan.Amount,
		Installments:     plan.Installments,
		Estimate:         plan.Estimate,
		RegistrationDate: core.Date(plan.RegistrationDate),
		LastPaymentDate:  nullDate(plan.LastPaymentDate),
		NextPaymentDate:  core.Date(plan.NextPaymentDate),
		Version:          plan.Version,
		CreatedAt:        plan.CreatedAt.UTC(),
		UpdatedAt:        plan.UpdatedAt.UTC(),
	}
}

func (row planRow) toPlan() billing.PaymentPlan {
	return billing.PaymentPlan{
		ID:               row.ID,
		StudentID:        row.StudentID,
		CourseID:         row.CourseID,
		CenterID:         row.CenterID,
		Amount:           row.Amount,
		Installments:     row.Installments,
		Estimate:         row.Estimate,
		RegistrationDate: core.Date(row.RegistrationDate),
		LastPaymentDate:  fromNullDate(row.LastPaymentDate),
		NextPaymentDate:  core.Date(row.NextPaymentDate),
		Version:          row.Version,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func newPaymentRow(pmt billing.Payment) paymentRow {
	return paymentRow{
		ID:              pmt.ID,
		StudentID:       pmt.StudentID,
		PlanID:          pmt.PlanID,
		CenterID:        pmt.CenterID,
		CourseID:        pmt.CourseID,
		Amount:          pmt.Amount,
		PaymentDate:     core.Date(pmt.PaymentDate),
		LastPaymentDate: core.Date(pmt.LastPaymentDate),
		Message:         pmt.Message,
		Disclaimer:      pmt.Disclaimer,
		IdempotencyKey:  null.NewString(pmt.IdempotencyKey, pmt.IdempotencyKey != ""),
		StudentFullname: pmt.Student.Fullname,
		StudentEmail:    pmt.Student.Email,
		StudentPhone:    pmt.Student.Phone,
		StudentNumber:   pmt.Student.StudentNumber,
		CreatedAt:       pmt.CreatedAt.UTC(),
	}
}

func (row paymentRow) toPayment() billing.Payment {
	return billing.Payment{
		ID:              row.ID,
		StudentID:       row.StudentID,
		PlanID:          row.PlanID,
		CenterID:        row.CenterID,
		CourseID:        row.CourseID,
		Amount:          row.Amount,
		PaymentDate:     core.Date(row.PaymentDate),
		LastPaymentDate: core.Date(row.LastPaymentDate),
		Message:         row.Message,
		Disclaimer:      row.Disclaimer,
		IdempotencyKey:  row.IdempotencyKey.String,
		Student: billing.StudentSnapshot{
			Fullname:      row.StudentFullname,
			Email:         row.StudentEmail,
			Phone:         row.StudentPhone,
			StudentNumber: row.StudentNumber,
		},
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func newInvoiceRow(inv billing.Invoice) invoiceRow {
	return invoiceRow{
		ID:         inv.ID,
		PlanID:     inv.PlanID,
		Amount:     inv.Amount,
		Message:    inv.Message,
		Disclaimer: inv.Disclaimer,
		DueDate:    core.Date(inv.DueDate),
		CreatedAt:  inv.CreatedAt.UTC(),
	}
}

func (row invoiceRow) toInvoice() billing.Invoice {
	return billing.Invoice{
		ID:         row.ID,
		PlanID:     row.PlanID,
		Amount:     row.Amount,
		Message:    row.Message,
		Disclaimer: row.Disclaimer,
		DueDate:    core.Date(row.DueDate),
		CreatedAt:  row.CreatedAt.UTC(),
	}
}
