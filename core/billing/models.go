package billing

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/principal"
)

// Course is reference data owned by the admin tenant.
type Course struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Duration  int             `json:"duration"` // months
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Student is the subset of a center's student record the billing core relies on.
type Student struct {
	ID               string    `json:"id"`
	Fullname         string    `json:"fullname"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	CenterID         string    `json:"center"`
	StudentNumber    string    `json:"student_id"`
	RegistrationDate time.Time `json:"reg_date"`
	BirthDate        time.Time `json:"birth_date"`
	PlanIDs          []string  `json:"plan"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StudentSnapshot is the denormalized copy of a Student kept on each Payment for searching.
type StudentSnapshot struct {
	Fullname      string `json:"fullname"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	StudentNumber string `json:"student_id"`
}

func (s Student) Snapshot() StudentSnapshot {
	return StudentSnapshot{
		Fullname:      s.Fullname,
		Email:         s.Email,
		Phone:         s.Phone,
		StudentNumber: s.StudentNumber,
	}
}

func (s Student) HasPlan(planID string) bool {
	for _, id := range s.PlanIDs {
		if id == planID {
			return true
		}
	}
	return false
}

// PaymentPlan is one student's financing agreement for one course.
type PaymentPlan struct {
	ID               string          `json:"id"`
	StudentID        string          `json:"user_id"`
	CourseID         string          `json:"course_id"`
	CenterID         string          `json:"center"`
	Amount           decimal.Decimal `json:"amount"`
	Installments     int             `json:"installments"`
	Estimate         decimal.Decimal `json:"estimate"`
	RegistrationDate time.Time       `json:"reg_date"`
	LastPaymentDate  time.Time       `json:"last_payment_date"` // zero until the first payment
	NextPaymentDate  time.Time       `json:"next_payment_date"`
	Version          int             `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p PaymentPlan) HasPayments() bool { return !p.LastPaymentDate.IsZero() }

// Payment is one recorded installment payment.
type Payment struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"user_id"`
	PlanID          string          `json:"payment_plan_id"`
	CenterID        string          `json:"center"`
	CourseID        string          `json:"course_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     time.Time       `json:"payment_date"`
	LastPaymentDate time.Time       `json:"last_payment_date"` // what was due when this payment was made
	Message         string          `json:"message"`
	Disclaimer      string          `json:"disclaimer"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Student         StudentSnapshot `json:"student"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Invoice is a billing notice tied to a plan.
type Invoice struct {
	ID         string          `json:"id"`
	PlanID     string          `json:"payment_plan_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message"`
	Disclaimer string          `json:"disclaimer"`
	DueDate    time.Time       `json:"due_date"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewPlan contains information needed to create a new PaymentPlan.
type NewPlan struct {
	StudentID        string          `json:"user_id" validate:"required,notblank"`
	CourseID         string          `json:"course_id" validate:"required,notblank"`
	Amount           decimal.Decimal `json:"amount" validate:"gt=0"`
	Installments     int             `json:"installments" validate:"required,min=1"`
	RegistrationDate time.Time       `json:"reg_date" validate:"required"`
}

func (np *NewPlan) Validate(validate *validator.Validate) error {
	np.StudentID = core.CleanString(np.StudentID)
	np.CourseID = core.CleanString(np.CourseID)
	np.RegistrationDate = core.Date(np.RegistrationDate)
	return validate.Struct(np)
}

// NewPayment contains information needed to record a Payment against a plan.
// A non-empty IdempotencyKey makes retried recordings return the first recorded Payment.
type NewPayment struct {
	PlanID         string          `json:"payment_plan_id" validate:"required,notblank"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentDate    time.Time       `json:"payment_date" validate:"required"`
	Message        string          `json:"message"`
	Disclaimer     string          `json:"disclaimer"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.PlanID = core.CleanString(np.PlanID)
	np.PaymentDate = core.Date(np.PaymentDate)
	np.Message = core.CleanString(np.Message)
	np.Disclaimer = core.CleanString(np.Disclaimer)
	np.IdempotencyKey = core.CleanString(np.IdempotencyKey)
	return validate.Struct(np)
}

// NewInvoice contains information needed to issue an Invoice.
type NewInvoice struct {
	PlanID     string          `json:"payment_plan_id" validate:"required,notblank"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	Message    string          `json:"message,omitempty"`
	Disclaimer string          `json:"disclaimer,omitempty"`
	DueDate    time.Time       `json:"due_date" validate:"required"`
}

func (ni *NewInvoice) Validate(validate *validator.Validate) error {
	ni.PlanID = core.CleanString(ni.PlanID)
	ni.Message = core.CleanString(ni.Message)
	ni.Disclaimer = core.CleanString(ni.Disclaimer)
	ni.DueDate = core.Date(ni.DueDate)
	return validate.Struct(ni)
}

type PlanFilter struct {
	StudentID string `query:"student"`
	CourseID  string `query:"course"`
	CenterID  string `query:"center"`
}

func (qf *PlanFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.CourseID = core.CleanString(qf.CourseID)
	qf.CenterID = core.CleanString(qf.CenterID)
}

// PaymentFilter applies AND semantics on its set fields.
// Search does a case-insensitive substring match on the denormalized student
// fullname, email, phone or student number.
type PaymentFilter struct {
	StudentID string `json:"student" query:"student" validate:"omitempty,max=64"`
	PlanID    string `json:"plan" query:"plan" validate:"omitempty,max=64"`
	CenterID  string `json:"center" query:"center" validate:"omitempty,max=64"`
	CourseID  string `json:"course" query:"course" validate:"omitempty,max=64"`
	Search    string `json:"search" query:"search" validate:"omitempty,max=128"`
}

func (qf *PaymentFilter) IsEmpty() bool {
	return qf.StudentID == "" && qf.PlanID == "" && qf.CenterID == "" && qf.CourseID == "" && qf.Search == ""
}

func (qf *PaymentFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.PlanID = core.CleanString(qf.PlanID)
	qf.CenterID = core.CleanString(qf.CenterID)
	qf.CourseID = core.CleanString(qf.CourseID)
	qf.Search = core.CleanString(qf.Search)
}

// ScopedTo pins managers to their own center. Admins see every center.
func (qf PaymentFilter) ScopedTo(p principal.Principal) PaymentFilter {
	if center, ok := principal.CenterScope(p); ok {
		qf.CenterID = center
	}
	return qf
}

type InvoiceFilter struct {
	PlanID string `query:"plan"`
}

// PaymentPage is one page of ListPayments.
type PaymentPage struct {
	core.Pagination
	Records []Payment `json:"existingRecords"`
}

// PaymentLookup selects a single Payment either by ID or by (PlanID, IdempotencyKey).
type PaymentLookup struct {
	ID             string
	PlanID         string
	IdempotencyKey string
}

// Statement summarizes a plan's payment history.
type Statement struct {
	PlanID          string          `json:"payment_plan_id"`
	Amount          decimal.Decimal `json:"amount"`
	Paid            decimal.Decimal `json:"paid"`
	Signed          decimal.Decimal `json:"signed_balance"` // amount - paid; negative when overpaid
	Balance         decimal.Decimal `json:"balance"`
	IsOverpaid      bool            `json:"is_overpaid"`
	PaymentCount    int             `json:"payment_count"`
	NextPaymentDate time.Time       `json:"next_payment_date"`
}

type CleanupResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

type SweepReport struct {
	Plans    CleanupResult `json:"plans"`
	Payments CleanupResult `json:"payments"`
	Invoices CleanupResult `json:"invoices"`
}

func (r SweepReport) Deleted() int {
	return r.Plans.Deleted + r.Payments.Deleted + r.Invoices.Deleted
}
