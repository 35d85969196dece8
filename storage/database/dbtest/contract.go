// Package dbtest holds the behaviour every billing.Repository implementation must share.
package dbtest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

// RepositorySuite runs the repository contract against the repository returned by Open.
// Reset, when set, is called before each test to empty the store.
type RepositorySuite struct {
	suite.Suite
	Open  func() billing.Repository
	Reset func()

	ctx  context.Context
	repo billing.Repository
}

func (s *RepositorySuite) SetupTest() {
	if s.Reset != nil {
		s.Reset()
	}
	s.ctx = context.Background()
	s.repo = s.Open()
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *RepositorySuite) newStudent(fullname, email string) billing.Student {
	now := time.Now().UTC().Truncate(time.Millisecond)
	std, err := s.repo.CreateStudent(s.ctx, billing.Student{
		Fullname:         fullname,
		Email:            email,
		Phone:            "+243 81 000 0000",
		CenterID:         "center-1",
		StudentNumber:    "STD-" + fullname,
		RegistrationDate: date(2024, time.January, 1),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	s.Require().NoError(err)
	return std
}

func (s *RepositorySuite) newPlan(std billing.Student, amount int64) billing.PaymentPlan {
	now := time.Now().UTC().Truncate(time.Millisecond)
	plan, err := s.repo.CreatePlan(s.ctx, billing.PaymentPlan{
		StudentID:        std.ID,
		CourseID:         "course-1",
		CenterID:         std.CenterID,
		Amount:           decimal.NewFromInt(amount),
		Installments:     4,
		Estimate:         decimal.NewFromInt(amount / 4),
		RegistrationDate: date(2024, time.January, 1),
		NextPaymentDate:  date(2024, time.April, 1),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	s.Require().NoError(err)
	return plan
}

func (s *RepositorySuite) newPayment(plan billing.PaymentPlan, std billing.Student, paid time.Time, key string) billing.Payment {
	pmt, err := s.repo.CreatePayment(s.ctx, billing.Payment{
		StudentID:       plan.StudentID,
		PlanID:          plan.ID,
		CenterID:        plan.CenterID,
		CourseID:        plan.CourseID,
		Amount:          decimal.NewFromInt(100),
		PaymentDate:     paid,
		LastPaymentDate: plan.NextPaymentDate,
		IdempotencyKey:  key,
		Student:         std.Snapshot(),
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	})
	s.Require().NoError(err)
	return pmt
}

func (s *RepositorySuite) TestStudents() {
	std := s.newStudent("Awe", "awe@test.cd")
	s.NotEmpty(std.ID)

	got, err := s.repo.GetStudent(s.ctx, std.ID)
	s.Require().NoError(err)
	s.Equal(std.Fullname, got.Fullname)
	s.Equal(std.RegistrationDate, got.RegistrationDate)
	s.True(got.BirthDate.IsZero())

	s.Require().NoError(s.repo.AddStudentPlan(s.ctx, std.ID, "plan-1"))
	s.Require().NoError(s.repo.AddStudentPlan(s.ctx, std.ID, "plan-1"))
	got, err = s.repo.GetStudent(s.ctx, std.ID)
	s.Require().NoError(err)
	s.Equal([]string{"plan-1"}, got.PlanIDs)

	s.ErrorIs(s.repo.AddStudentPlan(s.ctx, "missing", "plan-1"), billing.ErrStudentNotFound)

	n, err := s.repo.DeleteStudentsByID(s.ctx, std.ID, "missing")
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.repo.GetStudent(s.ctx, std.ID)
	s.ErrorIs(err, billing.ErrStudentNotFound)
	s.True(core.IsNotFound(err))
}

func (s *RepositorySuite) TestCourses() {
	course, err := s.repo.CreateCourse(s.ctx, billing.Course{Title: "Go", Duration: 12, Amount: decimal.NewFromInt(4000)})
	s.Require().NoError(err)

	got, err := s.repo.GetCourse(s.ctx, course.ID)
	s.Require().NoError(err)
	s.Equal(12, got.Duration)
	s.True(got.Amount.Equal(decimal.NewFromInt(4000)))

	_, err = s.repo.GetCourse(s.ctx, "missing")
	s.ErrorIs(err, billing.ErrCourseNotFound)
}

func (s *RepositorySuite) TestPlans() {
	awe := s.newStudent("Awe", "awe@test.cd")
	mdr := s.newStudent("Mdr", "mdr@test.cd")
	plan := s.newPlan(awe, 4000)
	s.newPlan(mdr, 2000)
	s.Equal(1, plan.Version)

	got, err := s.repo.GetPlan(s.ctx, plan.ID)
	s.Require().NoError(err)
	s.True(got.Amount.Equal(plan.Amount))
	s.Equal(date(2024, time.April, 1), got.NextPaymentDate)
	s.False(got.HasPayments())

	plans, err := s.repo.QueryPlans(s.ctx, billing.PlanFilter{StudentID: awe.ID})
	s.Require().NoError(err)
	s.Len(plans, 1)
	plans, err = s.repo.QueryPlans(s.ctx, billing.PlanFilter{})
	s.Require().NoError(err)
	s.Len(plans, 2)

	_, err = s.repo.GetPlan(s.ctx, "missing")
	s.ErrorIs(err, billing.ErrPlanNotFound)
}

func (s *RepositorySuite) TestUpdatePlanChecksVersion() {
	plan := s.newPlan(s.newStudent("Awe", "awe@test.cd"), 4000)

	stale := plan
	plan.NextPaymentDate = date(2024, time.May, 1)
	plan.LastPaymentDate = date(2024, time.March, 28)
	updated, err := s.repo.UpdatePlan(s.ctx, plan)
	s.Require().NoError(err)
	s.Equal(2, updated.Version)
	s.Equal(date(2024, time.May, 1), updated.NextPaymentDate)
	s.Equal(date(2024, time.March, 28), updated.LastPaymentDate)

	stale.NextPaymentDate = date(2030, time.January, 1)
	_, err = s.repo.UpdatePlan(s.ctx, stale)
	s.ErrorIs(err, billing.ErrVersionConflict)

	got, err := s.repo.GetPlan(s.ctx, plan.ID)
	s.Require().NoError(err)
	s.Equal(date(2024, time.May, 1), got.NextPaymentDate)

	_, err = s.repo.UpdatePlan(s.ctx, billing.PaymentPlan{ID: "missing", Version: 1})
	s.ErrorIs(err, billing.ErrPlanNotFound)
}

func (s *RepositorySuite) TestPaymentsOrderingAndPaging() {
	awe := s.newStudent("Awe Kabamba", "awe@test.cd")
	mdr := s.newStudent("Mdr Lol", "mdr@test.cd")
	awePlan := s.newPlan(awe, 4000)
	mdrPlan := s.newPlan(mdr, 4000)

	first := s.newPayment(awePlan, awe, date(2024, time.February, 1), "")
	third := s.newPayment(awePlan, awe, date(2024, time.April, 1), "")
	second := s.newPayment(awePlan, awe, date(2024, time.March, 1), "")
	s.newPayment(mdrPlan, mdr, date(2024, time.March, 15), "")
	s.newPayment(mdrPlan, mdr, date(2024, time.May, 1), "")

	payments, total, err := s.repo.QueryPayments(s.ctx, billing.PaymentFilter{PlanID: awePlan.ID}, core.PageRequest{})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Equal([]string{third.ID, second.ID, first.ID}, ids(payments))

	payments, total, err = s.repo.QueryPayments(s.ctx, billing.PaymentFilter{}, core.NewPageRequest(3, 2))
	s.Require().NoError(err)
	s.Equal(5, total)
	s.Equal([]string{first.ID}, ids(payments))

	payments, total, err = s.repo.QueryPayments(s.ctx, billing.PaymentFilter{Search: "KABAMBA"}, core.PageRequest{})
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Len(payments, 3)

	_, total, err = s.repo.QueryPayments(s.ctx, billing.PaymentFilter{Search: "mdr@"}, core.PageRequest{})
	s.Require().NoError(err)
	s.Equal(2, total)

	_, total, err = s.repo.QueryPayments(s.ctx, billing.PaymentFilter{Search: "100%"}, core.PageRequest{})
	s.Require().NoError(err)
	s.Zero(total)
}

func (s *RepositorySuite) TestGetPayment() {
	std := s.newStudent("Awe", "awe@test.cd")
	plan := s.newPlan(std, 4000)
	pmt := s.newPayment(plan, std, date(2024, time.February, 1), "key-1")

	got, err := s.repo.GetPayment(s.ctx, billing.PaymentLookup{ID: pmt.ID})
	s.Require().NoError(err)
	s.Equal(std.Fullname, got.Student.Fullname)
	s.True(got.Amount.Equal(decimal.NewFromInt(100)))

	got, err = s.repo.GetPayment(s.ctx, billing.PaymentLookup{PlanID: plan.ID, IdempotencyKey: "key-1"})
	s.Require().NoError(err)
	s.Equal(pmt.ID, got.ID)

	for _, lookup := range []billing.PaymentLookup{
		{},
		{ID: "missing"},
		{PlanID: plan.ID, IdempotencyKey: "key-2"},
		{PlanID: "other", IdempotencyKey: "key-1"},
	} {
		_, err = s.repo.GetPayment(s.ctx, lookup)
		s.ErrorIs(err, billing.ErrPaymentNotFound, "lookup %+v", lookup)
	}
}

func (s *RepositorySuite) TestDuplicateInserts() {
	std := s.newStudent("Awe", "awe@test.cd")
	_, err := s.repo.CreateStudent(s.ctx, std)
	s.ErrorIs(err, billing.ErrDuplicateRecord)
	s.True(core.IsStorage(err))
	s.NotErrorIs(err, billing.ErrVersionConflict)

	course, err := s.repo.CreateCourse(s.ctx, billing.Course{ID: "course-1", Title: "Go", Duration: 12, Amount: decimal.NewFromInt(4000)})
	s.Require().NoError(err)
	_, err = s.repo.CreateCourse(s.ctx, course)
	s.ErrorIs(err, billing.ErrDuplicateRecord)

	inv := billing.Invoice{ID: "invoice-1", PlanID: "plan-1", Amount: decimal.NewFromInt(10), DueDate: date(2024, time.April, 1), CreatedAt: time.Now().UTC()}
	_, err = s.repo.CreateInvoice(s.ctx, inv)
	s.Require().NoError(err)
	_, err = s.repo.CreateInvoice(s.ctx, inv)
	s.ErrorIs(err, billing.ErrDuplicateRecord)
	s.NotErrorIs(err, billing.ErrVersionConflict)

	// a taken idempotency key is a lost race, not a duplicate
	plan := s.newPlan(std, 4000)
	pmt := s.newPayment(plan, std, date(2024, time.February, 1), "key-1")
	pmt.ID = ""
	_, err = s.repo.CreatePayment(s.ctx, pmt)
	s.ErrorIs(err, billing.ErrVersionConflict)
	s.False(core.IsStorage(err))
}

func (s *RepositorySuite) TestInvoices() {
	inv, err := s.repo.CreateInvoice(s.ctx, billing.Invoice{
		PlanID:     "plan-1",
		Amount:     decimal.NewFromInt(1000),
		Message:    "April installment",
		Disclaimer: "Late payments are charged",
		DueDate:    date(2024, time.April, 1),
		CreatedAt:  time.Now().UTC(),
	})
	s.Require().NoError(err)

	got, err := s.repo.GetInvoice(s.ctx, inv.ID)
	s.Require().NoError(err)
	s.Equal(inv.Message, got.Message)
	s.Equal(date(2024, time.April, 1), got.DueDate)

	invoices, err := s.repo.QueryInvoices(s.ctx, billing.InvoiceFilter{PlanID: "plan-1"})
	s.Require().NoError(err)
	s.Len(invoices, 1)
	invoices, err = s.repo.QueryInvoices(s.ctx, billing.InvoiceFilter{PlanID: "plan-2"})
	s.Require().NoError(err)
	s.Empty(invoices)

	n, err := s.repo.DeleteInvoicesByID(s.ctx, inv.ID)
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = s.repo.GetInvoice(s.ctx, inv.ID)
	s.ErrorIs(err, billing.ErrInvoiceNotFound)

	n, err = s.repo.DeleteInvoicesByID(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RepositorySuite) TestWithinTxRollsBack() {
	errBoom := errors.New("boom")
	var created billing.Student

	err := s.repo.WithinTx(s.ctx, func(tx billing.Repository) error {
		var err error
		created, err = tx.CreateStudent(s.ctx, billing.Student{Fullname: "Ghost", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		if _, err = tx.GetStudent(s.ctx, created.ID); err != nil {
			return err
		}
		return errBoom
	})
	s.ErrorIs(err, errBoom)

	_, err = s.repo.GetStudent(s.ctx, created.ID)
	s.ErrorIs(err, billing.ErrStudentNotFound)
}

func (s *RepositorySuite) TestWithinTxCommits() {
	var created billing.Student
	err := s.repo.WithinTx(s.ctx, func(tx billing.Repository) error {
		var err error
		created, err = tx.CreateStudent(s.ctx, billing.Student{Fullname: "Awe", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		// nested transactions join the running one
		return tx.WithinTx(s.ctx, func(tx billing.Repository) error {
			return tx.AddStudentPlan(s.ctx, created.ID, "plan-1")
		})
	})
	s.Require().NoError(err)

	got, err := s.repo.GetStudent(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal([]string{"plan-1"}, got.PlanIDs)
}

func ids(payments []billing.Payment) []string {
	res := make([]string, 0, len(payments))
	for _, pmt := range payments {
		res = append(res, pmt.ID)
	}
	return res
}
