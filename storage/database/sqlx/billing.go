package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

const (
	studentColumns = "id, fullname, email, phone, center_id, student_number, registration_date, birth_date, plan_ids, created_at, updated_at"
	courseColumns  = "id, title, duration, amount, created_at, updated_at"
	planColumns    = "id, student_id, course_id, center_id, amount, installments, estimate, registration_date, last_payment_date, next_payment_date, version, created_at, updated_at"
	paymentColumns = "id, student_id, plan_id, center_id, course_id, amount, payment_date, last_payment_date, message, disclaimer, idempotency_key, student_fullname, student_email, student_phone, student_number, created_at"
	invoiceColumns = "id, plan_id, amount, message, disclaimer, due_date, created_at"

	uniqueViolation  = "23505"
	idempotencyIndex = "payments_idempotency_key_idx"
)

var paymentOrdering = []core.DBOrdering{
	{Field: "payment_date", Ascending: false},
	{Field: "created_at", Ascending: false},
	{Field: "id", Ascending: true},
}

type billingRepository struct {
	db   *sqlx.DB
	ext  sqlx.ExtContext // db, or the running transaction
	inTx bool
}

var _ billing.Repository = (*billingRepository)(nil)

func NewBillingRepository(db *sqlx.DB) billing.Repository {
	return &billingRepository{db: db, ext: db}
}

// trapNoRowsErr maps sql.ErrNoRows to notFound and any other failure to a StorageError.
func trapNoRowsErr(err, notFound error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return core.NewStorageError(err, op)
}

func namedColumns(columns string) string {
	return ":" + strings.ReplaceAll(columns, ", ", ", :")
}

func (repo *billingRepository) WithinTx(ctx context.Context, fn func(tx billing.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.NewStorageError(err, "beginning transaction")
	}
	if err = fn(&billingRepository{db: repo.db, ext: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return core.NewStorageError(tx.Commit(), "committing transaction")
}

func (repo *billingRepository) insert(ctx context.Context, table, columns string, row interface{}) error {
	q := "INSERT INTO " + table + " (" + columns + ") VALUES (" + namedColumns(columns) + ")"
	if _, err := sqlx.NamedExecContext(ctx, repo.ext, q, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == idempotencyIndex {
				// a concurrent recording holds the key; the retry returns it
				return errors.Wrap(billing.ErrVersionConflict, pqErr.Constraint)
			}
			return core.NewStorageError(errors.Wrap(billing.ErrDuplicateRecord, pqErr.Constraint), "inserting into "+table)
		}
		return core.NewStorageError(err, "inserting into "+table)
	}
	return nil
}

func (repo *billingRepository) deleteByID(ctx context.Context, table string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.ext.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, core.NewStorageError(err, "deleting from "+table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewStorageError(err, "deleting from "+table)
	}
	return int(n), nil
}

// Students

func (repo *billingRepository) CreateStudent(ctx context.Context, std billing.Student) (billing.Student, error) {
	if std.ID == "" {
		std.ID = uuid.NewString()
	}
	row := newStudentRow(std)
	if err := repo.insert(ctx, "students", studentColumns, row); err != nil {
		return billing.Student{}, err
	}
	return row.toStudent(), nil
}

func (repo *billingRepository) GetStudent(ctx context.Context, id string) (billing.Student, error) {
	var row studentRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, "SELECT "+studentColumns+" FROM students WHERE id = $1", id); err != nil {
		return billing.Student{}, trapNoRowsErr(err, billing.ErrStudentNotFound, "selecting student")
	}
	return row.toStudent(), nil
}

func (repo *billingRepository) QueryStudents(ctx context.Context) ([]billing.Student, error) {
	var rows []studentRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, "SELECT "+studentColumns+" FROM students ORDER BY id"); err != nil {
		return nil, core.NewStorageError(err, "selecting students")
	}
	students := make([]billing.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toStudent())
	}
	return students, nil
}

func (repo *billingRepository) AddStudentPlan(ctx context.Context, studentID, planID string) error {
	res, err := repo.ext.ExecContext(
		ctx,
		`UPDATE students SET plan_ids = array_append(plan_ids, $2::text), updated_at = now()
		WHERE id = $1 AND NOT ($2::text = ANY(plan_ids))`,
		studentID, planID,
	)
	if err != nil {
		return core.NewStorageError(err, "updating student plans")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// either unknown, or already attached
		if _, err = repo.GetStudent(ctx, studentID); err != nil {
			return err
		}
	}
	return nil
}

func (repo *billingRepository) DeleteStudentsByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, "students", ids)
}

// Courses

func (repo *billingRepository) CreateCourse(ctx context.Context, course billing.Course) (billing.Course, error) {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	row := newCourseRow(course)
	if err := repo.insert(ctx, "courses", courseColumns, row); err != nil {
		return billing.Course{}, err
	}
	return row.toCourse(), nil
}

func (repo *billingRepository) GetCourse(ctx context.Context, id string) (billing.Course, error) {
	var row courseRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, "SELECT "+courseColumns+" FROM courses WHERE id = $1", id); err != nil {
		return billing.Course{}, trapNoRowsErr(err, billing.ErrCourseNotFound, "selecting course")
	}
	return row.toCourse(), nil
}

// Payment plans

func (repo *billingRepository) CreatePlan(ctx context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.Version = 1
	row := newPlanRow(plan)
	if err := repo.insert(ctx, "payment_plans", planColumns, row); err != nil {
		return billing.PaymentPlan{}, err
	}
	return row.toPlan(), nil
}

func (repo *billingRepository) GetPlan(ctx context.Context, id string) (billing.PaymentPlan, error) {
	var row planRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, "SELECT "+planColumns+" FROM payment_plans WHERE id = $1", id); err != nil {
		return billing.PaymentPlan{}, trapNoRowsErr(err, billing.ErrPlanNotFound, "selecting payment plan")
	}
	return row.toPlan(), nil
}

func (repo *billingRepository) QueryPlans(ctx context.Context, filter billing.PlanFilter) ([]billing.PaymentPlan, error) {
	var where whereClause
	where.eq("student_id", filter.StudentID)
	where.eq("course_id", filter.CourseID)
	where.eq("center_id", filter.CenterID)

	var rows []planRow
	q := "SELECT " + planColumns + " FROM payment_plans" + where.String() + " ORDER BY created_at, id"
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, where.args...); err != nil {
		return nil, core.NewStorageError(err, "selecting payment plans")
	}
	plans := make([]billing.PaymentPlan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, row.toPlan())
	}
	return plans, nil
}

func (repo *billingRepository) UpdatePlan(ctx context.Context, plan billing.PaymentPlan) (billing.PaymentPlan, error) {
	row := newPlanRow(plan)
	res, err := sqlx.NamedExecContext(ctx, repo.ext, `UPDATE payment_plans SET
		center_id = :center_id,
		amount = :amount,
		installments = :installments,
		estimate = :estimate,
		registration_date = :registration_date,
		last_payment_date = :last_payment_date,
		next_payment_date = :next_payment_date,
		version = version + 1,
		updated_at = :updated_at
	WHERE id = :id AND version = :version`, row)
	if err != nil {
		return billing.PaymentPlan{}, core.NewStorageError(err, "updating payment plan")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return billing.PaymentPlan{}, core.NewStorageError(err, "updating payment plan")
	}
	if n == 0 {
		if _, err = repo.GetPlan(ctx, plan.ID); err != nil {
			return billing.PaymentPlan{}, err
		}
		return billing.PaymentPlan{}, billing.ErrVersionConflict
	}
	return repo.GetPlan(ctx, plan.ID)
}

func (repo *billingRepository) DeletePlansByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, "payment_plans", ids)
}

// Payments

func (repo *billingRepository) CreatePayment(ctx context.Context, pmt billing.Payment) (billing.Payment, error) {
	if pmt.ID == "" {
		pmt.ID = uuid.NewString()
	}
	row := newPaymentRow(pmt)
	if err := repo.insert(ctx, "payments", paymentColumns, row); err != nil {
		return billing.Payment{}, err
	}
	return row.toPayment(), nil
}

func (repo *billingRepository) GetPayment(ctx context.Context, lookup billing.PaymentLookup) (billing.Payment, error) {
	var (
		q    = "SELECT " + paymentColumns + " FROM payments "
		args []interface{}
	)
	switch {
	case lookup.ID != "":
		q += "WHERE id = $1"
		args = append(args, lookup.ID)
	case lookup.IdempotencyKey != "":
		q += "WHERE plan_id = $1 AND idempotency_key = $2"
		args = append(args, lookup.PlanID, lookup.IdempotencyKey)
	default:
		return billing.Payment{}, billing.ErrPaymentNotFound
	}

	var row paymentRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, q, args...); err != nil {
		return billing.Payment{}, trapNoRowsErr(err, billing.ErrPaymentNotFound, "selecting payment")
	}
	return row.toPayment(), nil
}

func (repo *billingRepository) QueryPayments(ctx context.Context, filter billing.PaymentFilter, page core.PageRequest) ([]billing.Payment, int, error) {
	var where whereClause
	where.eq("student_id", filter.StudentID)
	where.eq("plan_id", filter.PlanID)
	where.eq("center_id", filter.CenterID)
	where.eq("course_id", filter.CourseID)
	where.search(filter.Search, "student_fullname", "student_email", "student_phone", "student_number")

	var total int
	if err := sqlx.GetContext(ctx, repo.ext, &total, "SELECT COUNT(*) FROM payments"+where.String(), where.args...); err != nil {
		return nil, 0, core.NewStorageError(err, "counting payments")
	}

	q := "SELECT " + paymentColumns + " FROM payments" + where.String() + " ORDER BY " + core.JoinOrderings(paymentOrdering)
	args := where.args
	if page.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(page.Limit)
	}
	if page.Skip > 0 {
		q += " OFFSET " + strconv.Itoa(page.Skip)
	}

	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, args...); err != nil {
		return nil, 0, core.NewStorageError(err, "selecting payments")
	}
	payments := make([]billing.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, row.toPayment())
	}
	return payments, total, nil
}

func (repo *billingRepository) DeletePaymentsByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, "payments", ids)
}

// Invoices

func (repo *billingRepository) CreateInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	row := newInvoiceRow(inv)
	if err := repo.insert(ctx, "invoices", invoiceColumns, row); err != nil {
		return billing.Invoice{}, err
	}
	return row.toInvoice(), nil
}

func (repo *billingRepository) GetInvoice(ctx context.Context, id string) (billing.Invoice, error) {
	var row invoiceRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", id); err != nil {
		return billing.Invoice{}, trapNoRowsErr(err, billing.ErrInvoiceNotFound, "selecting invoice")
	}
	return row.toInvoice(), nil
}

func (repo *billingRepository) QueryInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	var where whereClause
	where.eq("plan_id", filter.PlanID)

	var rows []invoiceRow
	q := "SELECT " + invoiceColumns + " FROM invoices" + where.String() + " ORDER BY due_date, id"
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, where.args...); err != nil {
		return nil, core.NewStorageError(err, "selecting invoices")
	}
	invoices := make([]billing.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, row.toInvoice())
	}
	return invoices, nil
}

func (repo *billingRepository) DeleteInvoicesByID(ctx context.Context, ids ...string) (int, error) {
	return repo.deleteByID(ctx, "invoices", ids)
}
