package inmemdb

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

type billingRepository struct {
	db   *DB
	inTx bool
}

var _ billing.Repository = (*billingRepository)(nil)

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{db: db}
}

func (repo *billingRepository) read(fn func(t *tables) error) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return fn(&repo.db.tables)
}

func (repo *billingRepository) write(fn func(t *tables) error) error {
	if !repo.inTx {
		repo.db.txMutex.Lock()
		defer repo.db.txMutex.Unlock()
	}
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	return fn(&repo.db.tables)
}

func (repo *billingRepository) WithinTx(ctx context.Context, fn func(tx billing.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}

	repo.db.txMutex.Lock()
	defer repo.db.txMutex.Unlock()

	repo.db.mutex.RLock()
	snapshot := repo.db.tables.clone()
	repo.db.mutex.RUnlock()

	err := ctx.Err()
	if err == nil {
		err = fn(&billingRepository{db: repo.db, inTx: true})
	}
	if err != nil {
		repo.db.mutex.Lock()
		repo.db.tables = snapshot
		repo.db.mutex.Unlock()
		return err
	}
	return nil
}

// Students

func (repo *billingRepository) CreateStudent(_ context.Context, std billing.Student) (billing.Student, error) {
	std = copyStudent(std)
	if std.ID == "" {
		std.ID = uuid.NewString()
	}
	err := repo.write(func(t *tables) error {
		return insertRow(t.students, std.ID, copyStudent(std), "students")
	})
	return std, err
}

func (repo *billingRepository) GetStudent(_ context.Context, id string) (billing.Student, error) {
	var std billing.Student
	err := repo.read(func(t *tables) error {
		row, ok := t.students[id]
		if !ok {
			return billing.ErrStudentNotFound
		}
		std = copyStudent(*row)
		return nil
	})
	return std, err
}

func (repo *billingRepository) QueryStudents(_ context.Context) ([]billing.Student, error) {
	var students []billing.Student
	err := repo.read(func(t *tables) error {
		students = make([]billing.Student, 0, len(t.students))
		for _, row := range t.students {
			students = append(students, copyStudent(*row))
		}
		return nil
	})
	slices.SortFunc(students, func(a, b billing.Student) int { return strings.Compare(a.ID, b.ID) })
	return students, err
}

func (repo *billingRepository) AddStudentPlan(_ context.Context, studentID, planID string) error {
	return repo.write(func(t *tables) error {
		row, ok := t.students[studentID]
		if !ok {
			return billing.ErrStudentNotFound
		}
		if !row.HasPlan(planID) {
			row.PlanIDs = append(row.PlanIDs, planID)
		}
		return nil
	})
}

func (repo *billingRepository) DeleteStudentsByID(_ context.Context, ids ...string) (int, error) {
	var n int
	err := repo.write(func(t *tables) error {
		n = deleteRows(t.students, ids)
		return nil
	})
	return n, err
}

// Courses

func (repo *billingRepository) CreateCourse(_ context.Context, course billing.Course) (billing.Course, error) {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	err := repo.write(func(t *tables) error {
		return insertRow(t.courses, course.ID, course, "courses")
	})
	return course, err
}

func (repo *billingRepository) GetCourse(_ context.Context, id string) (billing.Course, error) {
	var course billing.Course
	err := repo.read(func(t *tables) error {
		row, ok := t.courses[id]
		if !ok {
			return billing.ErrCourseNotFound
		}
		course = *row
		return nil
	})
	return course, err
}

// Payment plans

func (repo *billingRepository) CreatePlan(_ context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.Version = 1
	err := repo.write(func(t *tables) error {
		return insertRow(t.plans, plan.ID, plan, "payment plans")
	})
	return plan, err
}

func (repo *billingRepository) GetPlan(_ context.Context, id string) (billing.PaymentPlan, error) {
	var plan billing.PaymentPlan
	err := repo.read(func(t *tables) error {
		row, ok := t.plans[id]
		if !ok {
			return billing.ErrPlanNotFound
		}
		plan = *row
		return nil
	})
	return plan, err
}

func (repo *billingRepository) QueryPlans(_ context.Context, filter billing.PlanFilter) ([]billing.PaymentPlan, error) {
	var plans []billing.PaymentPlan
	err := repo.read(func(t *tables) error {
		plans = make([]billing.PaymentPlan, 0, len(t.plans))
		for _, row := range t.plans {
			if matchPlan(*row, filter) {
				plans = append(plans, *row)
			}
		}
		return nil
	})
	slices.SortFunc(plans, func(a, b billing.PaymentPlan) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return plans, err
}

func matchPlan(plan billing.PaymentPlan, filter billing.PlanFilter) bool {
	return (filter.StudentID == "" || plan.StudentID == filter.StudentID) &&
		(filter.CourseID == "" || plan.CourseID == filter.CourseID) &&
		(filter.CenterID == "" || plan.CenterID == filter.CenterID)
}

func (repo *billingRepository) UpdatePlan(_ context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	err := repo.write(func(t *tables) error {
		row, ok := t.plans[plan.ID]
		if !ok {
			return billing.ErrPlanNotFound
		}
		if row.Version != plan.Version {
			return billing.ErrVersionConflict
		}

		// StudentID and CourseID are immutable
		plan.StudentID = row.StudentID
		plan.CourseID = row.CourseID
		plan.CreatedAt = row.CreatedAt
		plan.Version++
		*row = plan
		return nil
	})
	if err != nil {
		return billing.PaymentPlan{}, err
	}
	return plan, nil
}

func (repo *billingRepository) DeletePlansByID(_ context.Context, ids ...string) (int, error) {
	var n int
	err := repo.write(func(t *tables) error {
		n = deleteRows(t.plans, ids)
		return nil
	})
	return n, err
}

// Payments

func (repo *billingRepository) CreatePayment(_ context.Context, pmt billing.Payment) (billing.Payment, error) {
	if pmt.ID == "" {
		pmt.ID = uuid.NewString()
	}
	err := repo.write(func(t *tables) error {
		if pmt.IdempotencyKey != "" {
			for _, row := range t.payments {
				if row.PlanID == pmt.PlanID && row.IdempotencyKey == pmt.IdempotencyKey {
					return errors.Wrap(billing.ErrVersionConflict, "idempotency key")
				}
			}
		}
		return insertRow(t.payments, pmt.ID, pmt, "payments")
	})
	return pmt, err
}

func (repo *billingRepository) GetPayment(_ context.Context, lookup billing.PaymentLookup) (billing.Payment, error) {
	var pmt billing.Payment
	err := repo.read(func(t *tables) error {
		if lookup.ID != "" {
			if row, ok := t.payments[lookup.ID]; ok {
				pmt = *row
				return nil
			}
			return billing.ErrPaymentNotFound
		}
		if lookup.IdempotencyKey == "" {
			return billing.ErrPaymentNotFound
		}
		for _, row := range t.payments {
			if row.PlanID == lookup.PlanID && row.IdempotencyKey == lookup.IdempotencyKey {
				pmt = *row
				return nil
			}
		}
		return billing.ErrPaymentNotFound
	})
	return pmt, err
}

func (repo *billingRepository) QueryPayments(_ context.Context, filter billing.PaymentFilter, page core.PageRequest) ([]billing.Payment, int, error) {
	var payments []billing.Payment
	err := repo.read(func(t *tables) error {
		search := strings.ToLower(filter.Search)
		payments = make([]billing.Payment, 0, len(t.payments))
		for _, row := range t.payments {
			if matchPayment(*row, filter, search) {
				payments = append(payments, *row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	slices.SortFunc(payments, comparePayments)
	total := len(payments)
	start, end := page.Window(total)
	return payments[start:end], total, nil
}

func matchPayment(pmt billing.Payment, filter billing.PaymentFilter, search string) bool {
	if (filter.StudentID != "" && pmt.StudentID != filter.StudentID) ||
		(filter.PlanID != "" && pmt.PlanID != filter.PlanID) ||
		(filter.CenterID != "" && pmt.CenterID != filter.CenterID) ||
		(filter.CourseID != "" && pmt.CourseID != filter.CourseID) {
		return false
	}
	if search == "" {
		return true
	}
	return lo.SomeBy(
		[]string{pmt.Student.Fullname, pmt.Student.Email, pmt.Student.Phone, pmt.Student.StudentNumber},
		func(field string) bool { return strings.Contains(strings.ToLower(field), search) },
	)
}

// comparePayments orders by PaymentDate DESC, CreatedAt DESC, ID ASC.
func comparePayments(a, b billing.Payment) int {
	if c := b.PaymentDate.Compare(a.PaymentDate); c != 0 {
		return c
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func (repo *billingRepository) DeletePaymentsByID(_ context.Context, ids ...string) (int, error) {
	var n int
	err := repo.write(func(t *tables) error {
		n = deleteRows(t.payments, ids)
		return nil
	})
	return n, err
}

// Invoices

func (repo *billingRepository) CreateInvoice(_ context.Context, inv billing.Invoice) (billing.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	err := repo.write(func(t *tables) error {
		return insertRow(t.invoices, inv.ID, inv, "invoices")
	})
	return inv, err
}

func (repo *billingRepository) GetInvoice(_ context.Context, id string) (billing.Invoice, error) {
	var inv billing.Invoice
	err := repo.read(func(t *tables) error {
		row, ok := t.invoices[id]
		if !ok {
			return billing.ErrInvoiceNotFound
		}
		inv = *row
		return nil
	})
	return inv, err
}

func (repo *billingRepository) QueryInvoices(_ context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	var invoices []billing.Invoice
	err := repo.read(func(t *tables) error {
		invoices = make([]billing.Invoice, 0, len(t.invoices))
		for _, row := range t.invoices {
			if filter.PlanID == "" || row.PlanID == filter.PlanID {
				invoices = append(invoices, *row)
			}
		}
		return nil
	})
	slices.SortFunc(invoices, func(a, b billing.Invoice) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return invoices, err
}

func (repo *billingRepository) DeleteInvoicesByID(_ context.Context, ids ...string) (int, error) {
	var n int
	err := repo.write(func(t *tables) error {
		n = deleteRows(t.invoices, ids)
		return nil
	})
	return n, err
}

func insertRow[T any](table map[string]*T, id string, row T, name string) error {
	if _, ok := table[id]; ok {
		return core.NewStorageError(errors.Wrap(billing.ErrDuplicateRecord, id), "inserting into "+name)
	}
	table[id] = &row
	return nil
}

func deleteRows[T any](table map[string]*T, ids []string) int {
	var n int
	for _, id := range ids {
		if _, ok := table[id]; ok {
			delete(table, id)
			n++
		}
	}
	return n
}
