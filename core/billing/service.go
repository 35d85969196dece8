package billing

import (
	"context"
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
)

var (
	// errors
	ErrStudentNotFound = core.NewNotFoundError("student")
	ErrCourseNotFound  = core.NewNotFoundError("course")
	ErrPlanNotFound    = core.NewNotFoundError("payment plan")
	ErrPaymentNotFound = core.NewNotFoundError("payment")
	ErrInvoiceNotFound = core.NewNotFoundError("invoice")
	ErrVersionConflict = errors.New("payment plan was modified concurrently")
	ErrDuplicateRecord = errors.New("record already exists")
)

type (
	Repository interface {
		CreateStudent(ctx context.Context, std Student) (Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context) ([]Student, error)
		AddStudentPlan(ctx context.Context, studentID, planID string) error
		DeleteStudentsByID(ctx context.Context, ids ...string) (int, error)

		CreateCourse(ctx context.Context, course Course) (Course, error)
		GetCourse(ctx context.Context, id string) (Course, error)

		CreatePlan(ctx context.Context, plan PaymentPlan) (PaymentPlan, error)
		GetPlan(ctx context.Context, id string) (PaymentPlan, error)
		QueryPlans(ctx context.Context, filter PlanFilter) ([]PaymentPlan, error)
		// UpdatePlan saves plan only if plan.Version matches the stored version, and bumps it.
		// It returns ErrVersionConflict otherwise.
		UpdatePlan(ctx context.Context, plan PaymentPlan) (PaymentPlan, error)
		DeletePlansByID(ctx context.Context, ids ...string) (int, error)

		CreatePayment(ctx context.Context, pmt Payment) (Payment, error)
		GetPayment(ctx context.Context, lookup PaymentLookup) (Payment, error)
		// QueryPayments applies AND operation on available PaymentFilter fields and returns the
		// requested page ordered by PaymentDate DESC, CreatedAt DESC, ID ASC, along with the
		// number of payments matching filter.
		QueryPayments(ctx context.Context, filter PaymentFilter, page core.PageRequest) ([]Payment, int, error)
		DeletePaymentsByID(ctx context.Context, ids ...string) (int, error)

		CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
		GetInvoice(ctx context.Context, id string) (Invoice, error)
		QueryInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
		DeleteInvoicesByID(ctx context.Context, ids ...string) (int, error)

		// WithinTx runs fn against a transactional view of the repository.
		// Nothing fn wrote is kept when it returns an error.
		WithinTx(ctx context.Context, fn func(tx Repository) error) error
	}

	Options struct {
		IntervalPolicy    IntervalPolicy
		MaxRecordAttempts int
		DefaultPageSize   int
		MaxPageSize       int
	}

	Deps struct {
		Repo       Repository
		Validate   *validator.Validate
		Translator ut.Translator
		Logger     core.Logger
		MailSvc    core.EmailService // optional
		Options    Options
	}

	Service struct {
		repo       Repository
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
		mailSvc    core.EmailService
		opts       Options
	}
)

func NewOptions(conf core.BillingConfig) (Options, error) {
	policy, err := ParseIntervalPolicy(conf.IntervalPolicy)
	if err != nil {
		return Options{}, errors.Wrap(err, "billing.intervalPolicy")
	}
	return Options{
		IntervalPolicy:    policy,
		MaxRecordAttempts: conf.MaxRecordAttempts,
		DefaultPageSize:   conf.DefaultPageSize,
		MaxPageSize:       conf.MaxPageSize,
	}.withDefaults(), nil
}

func (o Options) withDefaults() Options {
	if o.MaxRecordAttempts < 1 {
		o.MaxRecordAttempts = 1
	}
	if o.DefaultPageSize < 1 {
		o.DefaultPageSize = 10
	}
	if o.MaxPageSize < o.DefaultPageSize {
		o.MaxPageSize = o.DefaultPageSize
	}
	return o
}

func NewService(deps Deps) *Service {
	return &Service{
		repo:       deps.Repo,
		validate:   deps.Validate,
		translator: deps.Translator,
		logger:     deps.Logger,
		mailSvc:    deps.MailSvc,
		opts:       deps.Options.withDefaults(),
	}
}

func (svc *Service) validationErr(err error) error {
	return core.TranslateValidationErrors(err, svc.translator)
}

func (svc *Service) CreatePlan(ctx context.Context, np NewPlan) (PaymentPlan, error) {
	if err := np.Validate(svc.validate); err != nil {
		return PaymentPlan{}, svc.validationErr(err)
	}

	var plan PaymentPlan
	err := svc.repo.WithinTx(ctx, func(tx Repository) error {
		std, err := tx.GetStudent(ctx, np.StudentID)
		if err != nil {
			return err
		}
		course, err := tx.GetCourse(ctx, np.CourseID)
		if err != nil {
			return err
		}
		if course.Duration <= 0 {
			return core.NewValidationError(nil, core.FieldError{
				Field: "course_id",
				Error: "the course has no duration to schedule installments over",
			})
		}

		estimate, err := EstimateInstallment(np.Amount, np.Installments)
		if err != nil {
			return err
		}
		next, err := NextPaymentDate(svc.opts.IntervalPolicy, course.Duration, np.Installments, np.RegistrationDate)
		if err != nil {
			return err
		}

		now := nowFunc().UTC()
		plan, err = tx.CreatePlan(ctx, PaymentPlan{
			StudentID:        std.ID,
			CourseID:         course.ID,
			CenterID:         std.CenterID,
			Amount:           np.Amount,
			Installments:     np.Installments,
			Estimate:         estimate,
			RegistrationDate: np.RegistrationDate,
			NextPaymentDate:  next,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return errors.Wrap(err, "inserting payment plan")
		}
		return errors.Wrap(tx.AddStudentPlan(ctx, std.ID, plan.ID), "attaching payment plan")
	})
	if err != nil {
		return PaymentPlan{}, err
	}
	return plan, nil
}

func (svc *Service) GetPlan(ctx context.Context, id string) (PaymentPlan, error) {
	return svc.repo.GetPlan(ctx, core.CleanString(id))
}

func (svc *Service) QueryPlans(ctx context.Context, filter PlanFilter) ([]PaymentPlan, error) {
	filter.Clean()
	return svc.repo.QueryPlans(ctx, filter)
}

// RecordPayment appends a payment to the plan's ledger and advances its schedule by one month.
// Concurrent recordings on the same plan are retried until one of them wins the plan update.
func (svc *Service) RecordPayment(ctx context.Context, np NewPayment) (Payment, error) {
	if err := np.Validate(svc.validate); err != nil {
		return Payment{}, svc.validationErr(err)
	}

	var (
		pmt Payment
		err error
	)
	for attempt := 1; attempt <= svc.opts.MaxRecordAttempts; attempt++ {
		pmt, err = svc.recordPayment(ctx, np)
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
		svc.logger.Warn(fmt.Sprintf("recording payment: plan %s changed concurrently (attempt %d/%d)", np.PlanID, attempt, svc.opts.MaxRecordAttempts))
	}
	if err != nil {
		return Payment{}, err
	}
	return pmt, nil
}

func (svc *Service) recordPayment(ctx context.Context, np NewPayment) (Payment, error) {
	var pmt Payment
	err := svc.repo.WithinTx(ctx, func(tx Repository) error {
		plan, err := tx.GetPlan(ctx, np.PlanID)
		if err != nil {
			return err
		}

		if np.IdempotencyKey != "" {
			existing, err := tx.GetPayment(ctx, PaymentLookup{PlanID: plan.ID, IdempotencyKey: np.IdempotencyKey})
			if err == nil {
				pmt = existing
				return nil
			}
			if !errors.Is(err, ErrPaymentNotFound) {
				return err
			}
		}

		var snapshot StudentSnapshot
		std, err := tx.GetStudent(ctx, plan.StudentID)
		switch {
		case err == nil:
			snapshot = std.Snapshot()
		case errors.Is(err, ErrStudentNotFound):
			svc.logger.Warn(fmt.Sprintf("recording payment: plan %s has no student %s", plan.ID, plan.StudentID))
		default:
			return err
		}

		due := plan.NextPaymentDate
		if due.IsZero() {
			due = np.PaymentDate
		}

		now := nowFunc().UTC()
		pmt, err = tx.CreatePayment(ctx, Payment{
			StudentID:       plan.StudentID,
			PlanID:          plan.ID,
			CenterID:        plan.CenterID,
			CourseID:        plan.CourseID,
			Amount:          np.Amount,
			PaymentDate:     np.PaymentDate,
			LastPaymentDate: due,
			Message:         np.Message,
			Disclaimer:      np.Disclaimer,
			IdempotencyKey:  np.IdempotencyKey,
			Student:         snapshot,
			CreatedAt:       now,
		})
		if err != nil {
			return errors.Wrap(err, "inserting payment")
		}

		plan.LastPaymentDate = np.PaymentDate
		plan.NextPaymentDate = AdvanceSchedule(due)
		plan.UpdatedAt = now
		_, err = tx.UpdatePlan(ctx, plan)
		return errors.Wrap(err, "advancing payment plan")
	})
	if err != nil {
		return Payment{}, err
	}
	return pmt, nil
}

// ListPayments returns one page of the payment ledger, newest payments first.
func (svc *Service) ListPayments(ctx context.Context, filter PaymentFilter, page, pageSize int) (PaymentPage, error) {
	filter.Clean()
	if err := svc.validate.Struct(filter); err != nil {
		return PaymentPage{}, svc.validationErr(err)
	}

	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = svc.opts.DefaultPageSize
	case pageSize > svc.opts.MaxPageSize:
		pageSize = svc.opts.MaxPageSize
	}

	records, total, err := svc.repo.QueryPayments(ctx, filter, core.NewPageRequest(page, pageSize))
	if err != nil {
		return PaymentPage{}, errors.Wrap(err, "querying payments")
	}
	if records == nil {
		records = []Payment{}
	}
	return PaymentPage{
		Pagination: core.NewPagination(total, page, pageSize),
		Records:    records,
	}, nil
}

func (svc *Service) GetPayment(ctx context.Context, id string) (Payment, error) {
	id = core.CleanString(id)
	if id == "" {
		return Payment{}, ErrPaymentNotFound
	}
	return svc.repo.GetPayment(ctx, PaymentLookup{ID: id})
}

// DeleteStudent removes the student along with every plan, payment and invoice attached to it.
func (svc *Service) DeleteStudent(ctx context.Context, studentID string) error {
	return svc.repo.WithinTx(ctx, func(tx Repository) error {
		std, err := tx.GetStudent(ctx, core.CleanString(studentID))
		if err != nil {
			return err
		}

		plans, err := tx.QueryPlans(ctx, PlanFilter{StudentID: std.ID})
		if err != nil {
			return errors.Wrap(err, "querying payment plans")
		}
		payments, _, err := tx.QueryPayments(ctx, PaymentFilter{StudentID: std.ID}, core.PageRequest{})
		if err != nil {
			return errors.Wrap(err, "querying payments")
		}
		if _, err = tx.DeletePaymentsByID(ctx, paymentIDs(payments)...); err != nil {
			return errors.Wrap(err, "deleting payments")
		}

		for _, plan := range plans {
			invoices, err := tx.QueryInvoices(ctx, InvoiceFilter{PlanID: plan.ID})
			if err != nil {
				return errors.Wrap(err, "querying invoices")
			}
			if _, err = tx.DeleteInvoicesByID(ctx, invoiceIDs(invoices)...); err != nil {
				return errors.Wrap(err, "deleting invoices")
			}
		}

		if _, err = tx.DeletePlansByID(ctx, planIDs(plans)...); err != nil {
			return errors.Wrap(err, "deleting payment plans")
		}
		_, err = tx.DeleteStudentsByID(ctx, std.ID)
		return errors.Wrap(err, "deleting student")
	})
}
