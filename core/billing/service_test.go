package billing_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	emailsvc "github.com/trezcool/bursar/services/email"
	inmemdb "github.com/trezcool/bursar/storage/database/inmem"
	testutil "github.com/trezcool/bursar/tests"
)

var ctx = context.Background()

type fixture struct {
	repo   billing.Repository
	svc    *billing.Service
	logger *testutil.Logger
	std    billing.Student
	course billing.Course
	plan   billing.PaymentPlan
}

// newFixture creates a 12-month course worth 4000 paid in 4 installments from 2024-01-01.
func newFixture(t *testing.T) *fixture {
	f := &fixture{
		repo:   inmemdb.NewBillingRepository(inmemdb.Open()),
		logger: &testutil.Logger{},
	}
	f.svc = testutil.NewService(f.repo, f.logger, nil)
	f.std = testutil.CreateStudent(t, f.repo, "Jean Kabamba", "jean@kabamba.cd", "center-1")
	f.course = testutil.CreateCourse(t, f.repo, "Go 101", 12, 4000)
	f.plan = testutil.CreatePlan(t, f.svc, f.std, f.course, 4000, 4, testutil.Date(2024, time.January, 1))
	return f
}

func TestService_CreatePlan(t *testing.T) {
	f := newFixture(t)

	assert.NotEmpty(t, f.plan.ID)
	assert.Equal(t, f.std.ID, f.plan.StudentID)
	assert.Equal(t, f.course.ID, f.plan.CourseID)
	assert.Equal(t, "center-1", f.plan.CenterID)
	assert.True(t, decimal.NewFromInt(1000).Equal(f.plan.Estimate), "estimate = %s", f.plan.Estimate)
	assert.Equal(t, testutil.Date(2024, time.April, 1), f.plan.NextPaymentDate)
	assert.True(t, f.plan.LastPaymentDate.IsZero())
	assert.False(t, f.plan.HasPayments())

	std, err := f.repo.GetStudent(ctx, f.std.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.plan.ID}, std.PlanIDs)

	got, err := f.svc.GetPlan(ctx, " "+f.plan.ID+" ")
	require.NoError(t, err)
	assert.Equal(t, f.plan.ID, got.ID)

	plans, err := f.svc.QueryPlans(ctx, billing.PlanFilter{StudentID: f.std.ID})
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestService_CreatePlan_gapsPolicy(t *testing.T) {
	repo := inmemdb.NewBillingRepository(inmemdb.Open())
	svc := testutil.NewService(repo, &testutil.Logger{}, nil, billing.Options{IntervalPolicy: billing.GapsBetweenInstallments})
	std := testutil.CreateStudent(t, repo, "Jean Kabamba", "jean@kabamba.cd", "center-1")
	course := testutil.CreateCourse(t, repo, "Go 101", 12, 4000)

	plan := testutil.CreatePlan(t, svc, std, course, 4000, 4, testutil.Date(2024, time.January, 1))
	assert.Equal(t, testutil.Date(2024, time.May, 1), plan.NextPaymentDate)
}

func TestService_CreatePlan_errors(t *testing.T) {
	f := newFixture(t)
	noDuration := testutil.CreateCourse(t, f.repo, "Orientation", 0, 100)
	regDate := testutil.Date(2024, time.January, 1)

	tests := []struct {
		name      string
		np        billing.NewPlan
		wantErr   error
		wantValid bool
	}{
		{
			name:      "missing student",
			np:        billing.NewPlan{CourseID: f.course.ID, Amount: decimal.NewFromInt(100), Installments: 1, RegistrationDate: regDate},
			wantValid: true,
		},
		{
			name:      "zero installments",
			np:        billing.NewPlan{StudentID: f.std.ID, CourseID: f.course.ID, Amount: decimal.NewFromInt(100), RegistrationDate: regDate},
			wantValid: true,
		},
		{
			name:      "zero amount",
			np:        billing.NewPlan{StudentID: f.std.ID, CourseID: f.course.ID, Installments: 2, RegistrationDate: regDate},
			wantValid: true,
		},
		{
			name:      "course without duration",
			np:        billing.NewPlan{StudentID: f.std.ID, CourseID: noDuration.ID, Amount: decimal.NewFromInt(100), Installments: 2, RegistrationDate: regDate},
			wantValid: true,
		},
		{
			name:    "unknown student",
			np:      billing.NewPlan{StudentID: "nope", CourseID: f.course.ID, Amount: decimal.NewFromInt(100), Installments: 2, RegistrationDate: regDate},
			wantErr: billing.ErrStudentNotFound,
		},
		{
			name:    "unknown course",
			np:      billing.NewPlan{StudentID: f.std.ID, CourseID: "nope", Amount: decimal.NewFromInt(100), Installments: 2, RegistrationDate: regDate},
			wantErr: billing.ErrCourseNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreatePlan(ctx, tt.np)
			require.Error(t, err)
			if tt.wantValid {
				assert.True(t, core.IsValidation(err), "got %v", err)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	// failed creations leave nothing behind
	plans, err := f.svc.QueryPlans(ctx, billing.PlanFilter{})
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestService_RecordPayment(t *testing.T) {
	f := newFixture(t)

	first := testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 3))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, f.plan.ID, first.PlanID)
	assert.Equal(t, f.std.ID, first.StudentID)
	assert.Equal(t, "center-1", first.CenterID)
	assert.Equal(t, f.course.ID, first.CourseID)
	assert.Equal(t, testutil.Date(2024, time.April, 1), first.LastPaymentDate)
	assert.Equal(t, "Jean Kabamba", first.Student.Fullname)
	assert.Equal(t, f.std.StudentNumber, first.Student.StudentNumber)

	plan, err := f.svc.GetPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, time.May, 1), plan.NextPaymentDate)
	assert.Equal(t, testutil.Date(2024, time.April, 3), plan.LastPaymentDate)
	assert.True(t, plan.HasPayments())

	second := testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 28))
	assert.Equal(t, testutil.Date(2024, time.May, 1), second.LastPaymentDate)

	plan, err = f.svc.GetPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, time.June, 1), plan.NextPaymentDate)
	assert.Equal(t, testutil.Date(2024, time.April, 28), plan.LastPaymentDate)

	got, err := f.svc.GetPayment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestService_RecordPayment_errors(t *testing.T) {
	f := newFixture(t)
	paid := testutil.Date(2024, time.April, 3)

	tests := []struct {
		name      string
		np        billing.NewPayment
		wantErr   error
		wantValid bool
	}{
		{name: "missing plan", np: billing.NewPayment{Amount: decimal.NewFromInt(10), PaymentDate: paid}, wantValid: true},
		{name: "zero amount", np: billing.NewPayment{PlanID: f.plan.ID, PaymentDate: paid}, wantValid: true},
		{name: "negative amount", np: billing.NewPayment{PlanID: f.plan.ID, Amount: decimal.NewFromInt(-10), PaymentDate: paid}, wantValid: true},
		{name: "missing date", np: billing.NewPayment{PlanID: f.plan.ID, Amount: decimal.NewFromInt(10)}, wantValid: true},
		{
			name:      "idempotency key too long",
			np:        billing.NewPayment{PlanID: f.plan.ID, Amount: decimal.NewFromInt(10), PaymentDate: paid, IdempotencyKey: strings.Repeat("k", 129)},
			wantValid: true,
		},
		{name: "unknown plan", np: billing.NewPayment{PlanID: "nope", Amount: decimal.NewFromInt(10), PaymentDate: paid}, wantErr: billing.ErrPlanNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordPayment(ctx, tt.np)
			require.Error(t, err)
			if tt.wantValid {
				assert.True(t, core.IsValidation(err), "got %v", err)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	plan, err := f.svc.GetPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, f.plan.NextPaymentDate, plan.NextPaymentDate)
	assert.Equal(t, f.plan.Version, plan.Version)
}

func TestService_RecordPayment_idempotencyKey(t *testing.T) {
	f := newFixture(t)
	np := billing.NewPayment{
		PlanID:         f.plan.ID,
		Amount:         decimal.NewFromInt(1000),
		PaymentDate:    testutil.Date(2024, time.April, 3),
		IdempotencyKey: "receipt-0001",
	}

	first, err := f.svc.RecordPayment(ctx, np)
	require.NoError(t, err)
	again, err := f.svc.RecordPayment(ctx, np)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	page, err := f.svc.ListPayments(ctx, billing.PaymentFilter{PlanID: f.plan.ID}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)

	plan, err := f.svc.GetPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, time.May, 1), plan.NextPaymentDate)

	// the key is scoped to its plan
	other := testutil.CreatePlan(t, f.svc, f.std, f.course, 4000, 4, testutil.Date(2024, time.January, 1))
	np.PlanID = other.ID
	elsewhere, err := f.svc.RecordPayment(ctx, np)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, elsewhere.ID)
}

func TestService_RecordPayment_concurrent(t *testing.T) {
	f := newFixture(t)
	const n = 6

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			_, err := f.svc.RecordPayment(ctx, billing.NewPayment{
				PlanID:      f.plan.ID,
				Amount:      decimal.NewFromInt(500),
				PaymentDate: testutil.Date(2024, time.April, day),
			})
			errs <- err
		}(i + 1)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	plan, err := f.svc.GetPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, time.October, 1), plan.NextPaymentDate)

	page, err := f.svc.ListPayments(ctx, billing.PaymentFilter{PlanID: f.plan.ID}, 1, 100)
	require.NoError(t, err)
	assert.Len(t, page.Records, n)

	// every payment saw a distinct due date
	dues := make(map[time.Time]bool)
	for _, pmt := range page.Records {
		dues[pmt.LastPaymentDate] = true
	}
	assert.Len(t, dues, n)
}

// conflictRepo fails the first `conflicts` plan updates with ErrVersionConflict.
type conflictRepo struct {
	billing.Repository
	mu        *sync.Mutex
	conflicts *int
}

func newConflictRepo(repo billing.Repository, conflicts int) *conflictRepo {
	return &conflictRepo{Repository: repo, mu: new(sync.Mutex), conflicts: &conflicts}
}

func (r *conflictRepo) WithinTx(ctx context.Context, fn func(tx billing.Repository) error) error {
	return r.Repository.WithinTx(ctx, func(tx billing.Repository) error {
		return fn(&conflictRepo{Repository: tx, mu: r.mu, conflicts: r.conflicts})
	})
}

func (r *conflictRepo) UpdatePlan(ctx context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	r.mu.Lock()
	if *r.conflicts > 0 {
		*r.conflicts--
		r.mu.Unlock()
		return billing.PaymentPlan{}, billing.ErrVersionConflict
	}
	r.mu.Unlock()
	return r.Repository.UpdatePlan(ctx, plan)
}

func TestService_RecordPayment_retriesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		conflicts int
		wantErr   bool
	}{
		{name: "no conflict", attempts: 3},
		{name: "wins on the last attempt", attempts: 3, conflicts: 2},
		{name: "gives up", attempts: 2, conflicts: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newFixture(t)
			logger := &testutil.Logger{}
			svc := testutil.NewService(newConflictRepo(base.repo, tt.conflicts), logger, nil, billing.Options{MaxRecordAttempts: tt.attempts})

			_, err := svc.RecordPayment(ctx, billing.NewPayment{
				PlanID:      base.plan.ID,
				Amount:      decimal.NewFromInt(1000),
				PaymentDate: testutil.Date(2024, time.April, 3),
			})
			assert.Equal(t, tt.conflicts, logger.Count("warn"))

			page, lerr := svc.ListPayments(ctx, billing.PaymentFilter{PlanID: base.plan.ID}, 1, 10)
			require.NoError(t, lerr)
			plan, perr := svc.GetPlan(ctx, base.plan.ID)
			require.NoError(t, perr)

			if tt.wantErr {
				assert.ErrorIs(t, err, billing.ErrVersionConflict)
				assert.Empty(t, page.Records, "a lost race must not leave its payment behind")
				assert.Equal(t, testutil.Date(2024, time.April, 1), plan.NextPaymentDate)
				return
			}
			require.NoError(t, err)
			assert.Len(t, page.Records, 1)
			assert.Equal(t, testutil.Date(2024, time.May, 1), plan.NextPaymentDate)
		})
	}
}

func TestService_RecordPayment_orphanPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.DeleteStudentsByID(ctx, f.std.ID)
	require.NoError(t, err)

	pmt := testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 3))
	assert.Equal(t, billing.StudentSnapshot{}, pmt.Student)
	assert.Equal(t, 1, f.logger.Count("warn"))
}

func TestService_GetPlanBalance(t *testing.T) {
	f := newFixture(t)

	balance, err := f.svc.GetPlanBalance(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "no payments yet: got %s", balance)

	testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 1))
	testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.May, 1))

	for i := 0; i < 3; i++ {
		balance, err = f.svc.GetPlanBalance(ctx, f.plan.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(2000).Equal(balance), "got %s", balance)
	}

	testutil.RecordPayment(t, f.svc, f.plan, 2500, testutil.Date(2024, time.June, 1))
	balance, err = f.svc.GetPlanBalance(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500).Equal(balance), "overpaid: got %s", balance)

	stmt, err := f.svc.GetPlanStatement(ctx, f.plan.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4500).Equal(stmt.Paid))
	assert.True(t, decimal.NewFromInt(-500).Equal(stmt.Signed))
	assert.True(t, stmt.IsOverpaid)
	assert.Equal(t, 3, stmt.PaymentCount)
	assert.Equal(t, testutil.Date(2024, time.July, 1), stmt.NextPaymentDate)

	_, err = f.svc.GetPlanBalance(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestBalance(t *testing.T) {
	plan := billing.PaymentPlan{Amount: decimal.NewFromInt(4000)}
	pay := func(amounts ...int64) []billing.Payment {
		payments := make([]billing.Payment, 0, len(amounts))
		for _, a := range amounts {
			payments = append(payments, billing.Payment{Amount: decimal.NewFromInt(a)})
		}
		return payments
	}

	tests := []struct {
		name     string
		payments []billing.Payment
		want     int64
	}{
		{name: "no payments", want: 0},
		{name: "partially paid", payments: pay(1000, 1000), want: 2000},
		{name: "fully paid", payments: pay(1000, 1000, 2000), want: 0},
		{name: "overpaid", payments: pay(2000, 2500), want: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.Balance(plan, tt.payments)
			assert.True(t, decimal.NewFromInt(tt.want).Equal(got), "got %s, want %d", got, tt.want)
		})
	}
}

func TestService_ListPayments(t *testing.T) {
	f := newFixture(t)
	other := testutil.CreateStudent(t, f.repo, "Marie Tshala", "mdr@tshala.cd", "center-2")
	otherPlan := testutil.CreatePlan(t, f.svc, other, f.course, 4000, 4, testutil.Date(2024, time.January, 1))

	for m := time.January; m <= time.May; m++ {
		testutil.RecordPayment(t, f.svc, f.plan, 100, testutil.Date(2024, m, 10))
	}
	testutil.RecordPayment(t, f.svc, otherPlan, 100, testutil.Date(2024, time.March, 15))

	t.Run("pages", func(t *testing.T) {
		tests := []struct {
			page     int
			wantLen  int
			wantNext bool
			wantPrev bool
			wantDate time.Time
		}{
			{page: 1, wantLen: 2, wantNext: true, wantDate: testutil.Date(2024, time.May, 10)},
			{page: 2, wantLen: 2, wantNext: true, wantPrev: true, wantDate: testutil.Date(2024, time.March, 10)},
			{page: 3, wantLen: 1, wantPrev: true, wantDate: testutil.Date(2024, time.January, 10)},
			{page: 4, wantLen: 0, wantPrev: true},
		}
		for _, tt := range tests {
			res, err := f.svc.ListPayments(ctx, billing.PaymentFilter{PlanID: f.plan.ID}, tt.page, 2)
			require.NoError(t, err)
			assert.Equal(t, 5, res.TotalDocuments)
			assert.Equal(t, 3, res.TotalPages)
			assert.Equal(t, tt.page, res.CurrentPage)
			assert.Equal(t, tt.wantNext, res.HasNextPage, "page %d", tt.page)
			assert.Equal(t, tt.wantPrev, res.HasPreviousPage, "page %d", tt.page)
			require.Len(t, res.Records, tt.wantLen, "page %d", tt.page)
			assert.NotNil(t, res.Records)
			if tt.wantLen > 0 {
				assert.Equal(t, tt.wantDate, res.Records[0].PaymentDate, "page %d", tt.page)
			}
		}
	})

	t.Run("page sizes", func(t *testing.T) {
		tests := []struct {
			name         string
			page         int
			pageSize     int
			wantPage     int
			wantPageSize int
		}{
			{name: "non-positive page", page: 0, pageSize: 2, wantPage: 1, wantPageSize: 2},
			{name: "default page size", page: 1, pageSize: 0, wantPage: 1, wantPageSize: 10},
			{name: "capped page size", page: 1, pageSize: 1000, wantPage: 1, wantPageSize: 10},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res, err := f.svc.ListPayments(ctx, billing.PaymentFilter{}, tt.page, tt.pageSize)
				require.NoError(t, err)
				assert.Equal(t, tt.wantPage, res.CurrentPage)
				assert.Equal(t, (6+tt.wantPageSize-1)/tt.wantPageSize, res.TotalPages)
			})
		}
	})

	t.Run("filters", func(t *testing.T) {
		tests := []struct {
			name   string
			filter billing.PaymentFilter
			want   int
		}{
			{name: "everything", want: 6},
			{name: "by student", filter: billing.PaymentFilter{StudentID: other.ID}, want: 1},
			{name: "by center", filter: billing.PaymentFilter{CenterID: "center-1"}, want: 5},
			{name: "by course", filter: billing.PaymentFilter{CourseID: f.course.ID}, want: 6},
			{name: "by fullname", filter: billing.PaymentFilter{Search: "  KABAMBA "}, want: 5},
			{name: "by email", filter: billing.PaymentFilter{Search: "mdr@"}, want: 1},
			{name: "and semantics", filter: billing.PaymentFilter{CenterID: "center-2", Search: "kabamba"}, want: 0},
			{name: "wildcards are literal", filter: billing.PaymentFilter{Search: "%"}, want: 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res, err := f.svc.ListPayments(ctx, tt.filter, 1, 100)
				require.NoError(t, err)
				assert.Equal(t, tt.want, res.TotalDocuments)
				assert.Len(t, res.Records, tt.want)
			})
		}
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, err := f.svc.ListPayments(ctx, billing.PaymentFilter{Search: strings.Repeat("x", 129)}, 1, 10)
		assert.True(t, core.IsValidation(err), "got %v", err)
	})
}

func TestService_GetPayment_notFound(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "   ", "nope"} {
		_, err := f.svc.GetPayment(ctx, id)
		assert.ErrorIs(t, err, billing.ErrPaymentNotFound, "id %q", id)
		assert.True(t, core.IsNotFound(err))
	}
}

func TestService_DeleteStudent(t *testing.T) {
	f := newFixture(t)
	second := testutil.CreatePlan(t, f.svc, f.std, f.course, 2000, 2, testutil.Date(2024, time.February, 1))
	testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 1))
	testutil.RecordPayment(t, f.svc, second, 1000, testutil.Date(2024, time.August, 1))
	inv := createInvoice(t, f.svc, f.plan.ID)

	other := testutil.CreateStudent(t, f.repo, "Marie Tshala", "mdr@tshala.cd", "center-1")
	otherPlan := testutil.CreatePlan(t, f.svc, other, f.course, 4000, 4, testutil.Date(2024, time.January, 1))
	otherPmt := testutil.RecordPayment(t, f.svc, otherPlan, 1000, testutil.Date(2024, time.April, 1))
	otherInv := createInvoice(t, f.svc, otherPlan.ID)

	require.NoError(t, f.svc.DeleteStudent(ctx, f.std.ID))

	_, err := f.repo.GetStudent(ctx, f.std.ID)
	assert.ErrorIs(t, err, billing.ErrStudentNotFound)
	plans, err := f.svc.QueryPlans(ctx, billing.PlanFilter{StudentID: f.std.ID})
	require.NoError(t, err)
	assert.Empty(t, plans)
	page, err := f.svc.ListPayments(ctx, billing.PaymentFilter{}, 1, 100)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, otherPmt.ID, page.Records[0].ID)
	_, err = f.svc.GetInvoice(ctx, inv.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	_, err = f.svc.GetPlan(ctx, otherPlan.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetInvoice(ctx, otherInv.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteStudent(ctx, f.std.ID), billing.ErrStudentNotFound)
}

func createInvoice(t *testing.T, svc *billing.Service, planID string) billing.Invoice {
	inv, err := svc.CreateInvoice(ctx, billing.NewInvoice{
		PlanID:     planID,
		Amount:     decimal.NewFromInt(1000),
		Message:    "Second installment",
		Disclaimer: "Late payments may suspend access to classes.",
		DueDate:    testutil.Date(2024, time.May, 1),
	})
	require.NoError(t, err)
	return inv
}

func TestService_Invoices(t *testing.T) {
	f := newFixture(t)
	conf := &core.Config{AppName: "Bursar", DefaultFromEmail: "noreply@bursar.test"}
	mailSvc := emailsvc.NewConsoleServiceMock(f.logger, conf)
	svc := testutil.NewService(f.repo, f.logger, mailSvc)

	inv := createInvoice(t, svc, f.plan.ID)
	assert.NotEmpty(t, inv.ID)
	assert.False(t, inv.CreatedAt.IsZero())

	sent := mailSvc.SentMessages()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].To, 1)
	assert.Equal(t, "jean@kabamba.cd", sent[0].To[0].Address)
	assert.Equal(t, "Invoice due 2024-05-01", sent[0].Subject)
	assert.Contains(t, sent[0].TextContent, "Hello Jean Kabamba")
	assert.Contains(t, sent[0].TextContent, "1000.00")
	assert.Contains(t, sent[0].TextContent, "Late payments may suspend access to classes.")

	got, err := svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)

	invoices, err := svc.QueryInvoices(ctx, billing.InvoiceFilter{PlanID: f.plan.ID})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)

	require.NoError(t, svc.DeleteInvoice(ctx, inv.ID))
	assert.ErrorIs(t, svc.DeleteInvoice(ctx, inv.ID), billing.ErrInvoiceNotFound)

	t.Run("student without email", func(t *testing.T) {
		silent := testutil.CreateStudent(t, f.repo, "Paul Mbuyi", "", "center-1")
		plan := testutil.CreatePlan(t, svc, silent, f.course, 4000, 4, testutil.Date(2024, time.January, 1))
		before := f.logger.Count("info")

		createInvoice(t, svc, plan.ID)
		assert.Len(t, mailSvc.SentMessages(), 1)
		assert.Equal(t, before+1, f.logger.Count("info"))
	})

	t.Run("without message or disclaimer", func(t *testing.T) {
		inv, err := svc.CreateInvoice(ctx, billing.NewInvoice{
			PlanID:  f.plan.ID,
			Amount:  decimal.NewFromInt(1000),
			DueDate: testutil.Date(2024, time.May, 1),
		})
		require.NoError(t, err)
		assert.Empty(t, inv.Message)
		assert.Empty(t, inv.Disclaimer)

		sent := mailSvc.SentMessages()
		text := sent[len(sent)-1].TextContent
		assert.Contains(t, text, "It is due on 2024-05-01.")
		assert.NotContains(t, text, "\n\n\n")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := svc.CreateInvoice(ctx, billing.NewInvoice{PlanID: f.plan.ID, Amount: decimal.NewFromInt(10)})
		assert.True(t, core.IsValidation(err), "got %v", err)
	})
}

// failingDeleteRepo fails to delete the payments listed in failIDs.
type failingDeleteRepo struct {
	billing.Repository
	failIDs map[string]bool
}

func (r *failingDeleteRepo) DeletePaymentsByID(ctx context.Context, ids ...string) (int, error) {
	for _, id := range ids {
		if r.failIDs[id] {
			return 0, errors.New("disk full")
		}
	}
	return r.Repository.DeletePaymentsByID(ctx, ids...)
}

// orphans leaves f with one orphaned plan holding two payments and an invoice,
// plus one invoice pointing at no plan at all.
func orphans(t *testing.T, f *fixture) (orphanPlan billing.PaymentPlan, orphanPayments []billing.Payment) {
	testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 1))
	createInvoice(t, f.svc, f.plan.ID)

	gone := testutil.CreateStudent(t, f.repo, "Marie Tshala", "mdr@tshala.cd", "center-1")
	orphanPlan = testutil.CreatePlan(t, f.svc, gone, f.course, 4000, 4, testutil.Date(2024, time.January, 1))
	orphanPayments = []billing.Payment{
		testutil.RecordPayment(t, f.svc, orphanPlan, 1000, testutil.Date(2024, time.April, 1)),
		testutil.RecordPayment(t, f.svc, orphanPlan, 1000, testutil.Date(2024, time.May, 1)),
	}
	createInvoice(t, f.svc, orphanPlan.ID)
	_, err := f.repo.DeleteStudentsByID(ctx, gone.ID)
	require.NoError(t, err)

	_, err = f.repo.CreateInvoice(ctx, billing.Invoice{PlanID: "deleted-plan", Amount: decimal.NewFromInt(10), DueDate: testutil.Date(2024, time.May, 1)})
	require.NoError(t, err)
	return orphanPlan, orphanPayments
}

func TestService_Sweep(t *testing.T) {
	f := newFixture(t)
	orphanPlan, _ := orphans(t, f)

	report, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.CleanupResult{Scanned: 2, Deleted: 1}, report.Plans)
	assert.Equal(t, billing.CleanupResult{Scanned: 3, Deleted: 2}, report.Payments)
	assert.Equal(t, billing.CleanupResult{Scanned: 3, Deleted: 2}, report.Invoices)
	assert.Equal(t, 5, report.Deleted())
	assert.Equal(t, 3, f.logger.Count("info"))

	_, err = f.svc.GetPlan(ctx, orphanPlan.ID)
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)

	// nothing left to collect
	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Deleted())

	page, err := f.svc.ListPayments(ctx, billing.PaymentFilter{}, 1, 100)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, f.plan.ID, page.Records[0].PlanID)
	invoices, err := f.svc.QueryInvoices(ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, f.plan.ID, invoices[0].PlanID)
}

// hookRepo runs the before* hooks once, ahead of the matching listing.
type hookRepo struct {
	billing.Repository
	beforeQueryPlans    func()
	beforeQueryPayments func()
}

func (r *hookRepo) QueryPlans(ctx context.Context, filter billing.PlanFilter) ([]billing.PaymentPlan, error) {
	if hook := r.beforeQueryPlans; hook != nil {
		r.beforeQueryPlans = nil
		hook()
	}
	return r.Repository.QueryPlans(ctx, filter)
}

func (r *hookRepo) QueryPayments(ctx context.Context, filter billing.PaymentFilter, page core.PageRequest) ([]billing.Payment, int, error) {
	if hook := r.beforeQueryPayments; hook != nil {
		r.beforeQueryPayments = nil
		hook()
	}
	return r.Repository.QueryPayments(ctx, filter, page)
}

func TestService_Cleanup_recordsCreatedMidSweep(t *testing.T) {
	t.Run("plans", func(t *testing.T) {
		f := newFixture(t)
		var late billing.PaymentPlan
		repo := &hookRepo{Repository: f.repo, beforeQueryPlans: func() {
			std := testutil.CreateStudent(t, f.repo, "Paul Mbuyi", "paul@mbuyi.cd", "center-1")
			late = testutil.CreatePlan(t, f.svc, std, f.course, 2000, 2, testutil.Date(2024, time.February, 1))
		}}
		svc := testutil.NewService(repo, f.logger, nil)

		res, err := svc.CleanupOrphanedPlans(ctx)
		require.NoError(t, err)
		assert.Equal(t, billing.CleanupResult{Scanned: 2}, res)
		_, err = svc.GetPlan(ctx, late.ID)
		assert.NoError(t, err)
	})

	t.Run("payments", func(t *testing.T) {
		f := newFixture(t)
		var late billing.Payment
		repo := &hookRepo{Repository: f.repo, beforeQueryPayments: func() {
			std := testutil.CreateStudent(t, f.repo, "Paul Mbuyi", "paul@mbuyi.cd", "center-1")
			plan := testutil.CreatePlan(t, f.svc, std, f.course, 2000, 2, testutil.Date(2024, time.February, 1))
			late = testutil.RecordPayment(t, f.svc, plan, 1000, testutil.Date(2024, time.March, 1))
		}}
		svc := testutil.NewService(repo, f.logger, nil)

		res, err := svc.CleanupOrphanedPayments(ctx)
		require.NoError(t, err)
		assert.Equal(t, billing.CleanupResult{Scanned: 1}, res)
		_, err = svc.GetPayment(ctx, late.ID)
		assert.NoError(t, err)
	})
}

func TestService_Sweep_deleteFailures(t *testing.T) {
	f := newFixture(t)
	_, payments := orphans(t, f)

	logger := &testutil.Logger{}
	repo := &failingDeleteRepo{Repository: f.repo, failIDs: map[string]bool{payments[0].ID: true}}
	svc := testutil.NewService(repo, logger, nil)

	report, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.CleanupResult{Scanned: 3, Deleted: 1, Failed: 1}, report.Payments)
	assert.Equal(t, 2, report.Invoices.Deleted)
	assert.Equal(t, 1, logger.Count("error"))

	_, err = svc.GetPayment(ctx, payments[0].ID)
	assert.NoError(t, err, "the failed payment stays for the next sweep")
	_, err = svc.GetPayment(ctx, payments[1].ID)
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}

func TestService_clock(t *testing.T) {
	now := time.Date(2024, time.March, 10, 14, 0, 0, 0, time.UTC)
	defer billing.SetNow(now)()

	f := newFixture(t)
	assert.Equal(t, now, f.plan.CreatedAt)

	pmt := testutil.RecordPayment(t, f.svc, f.plan, 1000, testutil.Date(2024, time.April, 1))
	assert.Equal(t, now, pmt.CreatedAt)
}
