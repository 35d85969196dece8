package mongodb

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

type (
	studentDoc struct {
		ID               string     `bson:"_id"`
		Fullname         string     `bson:"fullname"`
		Email            string     `bson:"email"`
		Phone            string     `bson:"phone"`
		CenterID         string     `bson:"center"`
		StudentNumber    string     `bson:"studentId"`
		RegistrationDate *time.Time `bson:"regDate,omitempty"`
		BirthDate        *time.Time `bson:"birthDate,omitempty"`
		PlanIDs          []string   `bson:"plan"`
		CreatedAt        time.Time  `bson:"createdAt"`
		UpdatedAt        time.Time  `bson:"updatedAt"`
	}

	courseDoc struct {
		ID        string               `bson:"_id"`
		Title     string               `bson:"title"`
		Duration  int                  `bson:"duration"`
		Amount    primitive.Decimal128 `bson:"amount"`
		CreatedAt time.Time            `bson:"createdAt"`
		UpdatedAt time.Time            `bson:"updatedAt"`
	}

	planDoc struct {
		ID               string               `bson:"_id"`
		StudentID        string               `bson:"user"`
		CourseID         string               `bson:"courseId"`
		CenterID         string               `bson:"center"`
		Amount           primitive.Decimal128 `bson:"amount"`
		Installments     int                  `bson:"installments"`
		Estimate         primitive.Decimal128 `bson:"estimate"`
		RegistrationDate time.Time            `bson:"regDate"`
		LastPaymentDate  *time.Time           `bson:"lastPaymentDate,omitempty"`
		NextPaymentDate  time.Time            `bson:"nextPaymentDate"`
		Version          int                  `bson:"version"`
		CreatedAt        time.Time            `bson:"createdAt"`
		UpdatedAt        time.Time            `bson:"updatedAt"`
	}

	snapshotDoc struct {
		Fullname      string `bson:"fullname"`
		Email         string `bson:"email"`
		Phone         string `bson:"phone"`
		StudentNumber string `bson:"studentId"`
	}

	paymentDoc struct {
		ID              string               `bson:"_id"`
		StudentID       string               `bson:"user"`
		PlanID          string               `bson:"paymentPlanId"`
		CenterID        string               `bson:"center"`
		CourseID        string               `bson:"courseId"`
		Amount          primitive.Decimal128 `bson:"amount"`
		PaymentDate     time.Time            `bson:"paymentDate"`
		LastPaymentDate time.Time            `bson:"lastPaymentDate"`
		Message         string               `bson:"message"`
		Disclaimer      string               `bson:"disclaimer"`
		IdempotencyKey  string               `bson:"idempotencyKey,omitempty"`
		Student         snapshotDoc          `bson:"student"`
		CreatedAt       time.Time            `bson:"createdAt"`
	}

	invoiceDoc struct {
		ID         string               `bson:"_id"`
		PlanID     string               `bson:"paymentPlanId"`
		Amount     primitive.Decimal128 `bson:"amount"`
		Message    string               `bson:"message"`
		Disclaimer string               `bson:"disclaimer"`
		DueDate    time.Time            `bson:"dueDate"`
		CreatedAt  time.Time            `bson:"createdAt"`
	}
)

// maxDecimal128Digits is the significand precision of a BSON decimal.
const maxDecimal128Digits = 34

// toDecimal128 rounds d half away from zero to the digits a BSON decimal holds.
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	if extra := d.NumDigits() - maxDecimal128Digits; extra > 0 {
		d = d.Round(-d.Exponent() - int32(extra))
	}
	d128, ok := primitive.ParseDecimal128FromBigInt(d.Coefficient(), int(d.Exponent()))
	if !ok {
		return primitive.Decimal128{}, errors.Errorf("%s is out of the decimal128 range", d)
	}
	return d128, nil
}

func fromDecimal128(d primitive.Decimal128) decimal.Decimal {
	res, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero
	}
	return res
}

func datePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := core.Date(t)
	return &d
}

func fromDatePtr(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return core.Date(*t)
}

// mongo keeps millisecond precision
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func newStudentDoc(std billing.Student) studentDoc {
	planIDs := std.PlanIDs
	if planIDs == nil {
		planIDs = []string{}
	}
	return studentDoc{
		ID:               std.ID,
		Fullname:         std.Fullname,
		Email:            std.Email,
		Phone:            std.Phone,
		CenterID:         std.CenterID,
		StudentNumber:    std.StudentNumber,
		RegistrationDate: datePtr(std.RegistrationDate),
		BirthDate:        datePtr(std.BirthDate),
		PlanIDs:          append([]string(nil), planIDs...),
		CreatedAt:        stamp(std.CreatedAt),
		UpdatedAt:        stamp(std.UpdatedAt),
	}
}

func (doc studentDoc) toStudent() billing.Student {
	return billing.Student{
		ID:               doc.ID,
		Fullname:         doc.Fullname,
		Email:            doc.Email,
		Phone:            doc.Phone,
		CenterID:         doc.CenterID,
		StudentNumber:    doc.StudentNumber,
		RegistrationDate: fromDatePtr(doc.RegistrationDate),
		BirthDate:        fromDatePtr(doc.BirthDate),
		PlanIDs:          doc.PlanIDs,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
}

func newCourseDoc(course billing.Course) (courseDoc, error) {
	amount, err := toDecimal128(course.Amount)
	if err != nil {
		return courseDoc{}, errors.Wrap(err, "course amount")
	}
	return courseDoc{
		ID:        course.ID,
		Title:     course.Title,
		Duration:  course.Duration,
		Amount:    amount,
		CreatedAt: stamp(course.CreatedAt),
		UpdatedAt: stamp(course.UpdatedAt),
	}, nil
}

func (doc courseDoc) toCourse() billing.Course {
	return billing.Course{
		ID:        doc.ID,
		Title:     doc.Title,
		Duration:  doc.Duration,
		Amount:    fromDecimal128(doc.Amount),
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

func newPlanDoc(plan billing.PaymentPlan) (planDoc, error) {
	amount, err := toDecimal128(plan.Amount)
	if err != nil {
		return planDoc{}, errors.Wrap(err, "plan amount")
	}
	estimate, err := toDecimal128(plan.Estimate)
	if err != nil {
		return planDoc{}, errors.Wrap(err, "plan estimate")
	}
	return planDoc{
		ID:               plan.ID,
		StudentID:        plan.StudentID,
		CourseID:         plan.CourseID,
		CenterID:         plan.CenterID,
		Amount:           amount,
		Installments:     plan.Installments,
		Estimate:         estimate,
		RegistrationDate: core.Date(plan.RegistrationDate),
		LastPaymentDate:  datePtr(plan.LastPaymentDate),
		NextPaymentDate:  core.Date(plan.NextPaymentDate),
		Version:          plan.Version,
		CreatedAt:        stamp(plan.CreatedAt),
		UpdatedAt:        stamp(plan.UpdatedAt),
	}, nil
}

func (doc planDoc) toPlan() billing.PaymentPlan {
	return billing.PaymentPlan{
		ID:               doc.ID,
		StudentID:        doc.StudentID,
		CourseID:         doc.CourseID,
		CenterID:         doc.CenterID,
		Amount:           fromDecimal128(doc.Amount),
		Installments:     doc.Installments,
		Estimate:         fromDecimal128(doc.Estimate),
		RegistrationDate: core.Date(doc.RegistrationDate.UTC()),
		LastPaymentDate:  fromDatePtr(doc.LastPaymentDate),
		NextPaymentDate:  core.Date(doc.NextPaymentDate.UTC()),
		Version:          doc.Version,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
}

func newPaymentDoc(pmt billing.Payment) (paymentDoc, error) {
	amount, err := toDecimal128(pmt.Amount)
	if err != nil {
		return paymentDoc{}, errors.Wrap(err, "payment amount")
	}
	return paymentDoc{
		ID:              pmt.ID,
		StudentID:       pmt.StudentID,
		PlanID:          pmt.PlanID,
		CenterID:        pmt.CenterID,
		CourseID:        pmt.CourseID,
		Amount:          amount,
		PaymentDate:     core.Date(pmt.PaymentDate),
		LastPaymentDate: core.Date(pmt.LastPaymentDate),
		Message:         pmt.Message,
		Disclaimer:      pmt.Disclaimer,
		IdempotencyKey:  pmt.IdempotencyKey,
		Student: snapshotDoc{
			Fullname:      pmt.Student.Fullname,
			Email:         pmt.Student.Email,
			Phone:         pmt.Student.Phone,
			StudentNumber: pmt.Student.StudentNumber,
		},
		CreatedAt: stamp(pmt.CreatedAt),
	}, nil
}

func (doc paymentDoc) toPayment() billing.Payment {
	return billing.Payment{
		ID:              doc.ID,
		StudentID:       doc.StudentID,
		PlanID:          doc.PlanID,
		CenterID:        doc.CenterID,
		CourseID:        doc.CourseID,
		Amount:          fromDecimal128(doc.Amount),
		PaymentDate:     core.Date(doc.PaymentDate.UTC()),
		LastPaymentDate: core.Date(doc.LastPaymentDate.UTC()),
		Message:         doc.Message,
		Disclaimer:      doc.Disclaimer,
		IdempotencyKey:  doc.IdempotencyKey,
		Student: billing.StudentSnapshot{
			Fullname:      doc.Student.Fullname,
			Email:         doc.Student.Email,
			Phone:         doc.Student.Phone,
			StudentNumber: doc.Student.StudentNumber,
		},
		CreatedAt: doc.CreatedAt.UTC(),
	}
}

func newInvoiceDoc(inv billing.Invoice) (invoiceDoc, error) {
	amount, err := toDecimal128(inv.Amount)
	if err != nil {
		return invoiceDoc{}, errors.Wrap(err, "invoice amount")
	}
	return invoiceDoc{
		ID:         inv.ID,
		PlanID:     inv.PlanID,
		Amount:     amount,
		Message:    inv.Message,
		Disclaimer: inv.Disclaimer,
		DueDate:    core.Date(inv.DueDate),
		CreatedAt:  stamp(inv.CreatedAt),
	}, nil
}

func (doc invoiceDoc) toInvoice() billing.Invoice {
	return billing.Invoice{
		ID:         doc.ID,
		PlanID:     doc.PlanID,
		Amount:     fromDecimal128(doc.Amount),
		Message:    doc.Message,
		Disclaimer: doc.Disclaimer,
		DueDate:    core.Date(doc.DueDate.UTC()),
		CreatedAt:  doc.CreatedAt.UTC(),
	}
}
