package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	inmemdb "github.com/trezcool/bursar/storage/database/inmem"
)

func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func CreateStudent(t *testing.T, repo billing.Repository, fullname, email, centerID string, regDate ...time.Time) billing.Student {
	tstamp := time.Now().UTC()
	std := billing.Student{
		Fullname:      fullname,
		Email:         email,
		Phone:         "+243 81 000 0000",
		CenterID:      centerID,
		StudentNumber: fmt.Sprintf("STD-%d", tstamp.UnixNano()),
		CreatedAt:     tstamp,
		UpdatedAt:     tstamp,
	}
	if len(regDate) > 0 {
		std.RegistrationDate = regDate[0]
	}
	std, err := repo.CreateStudent(context.Background(), std)
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return std
}

func CreateCourse(t *testing.T, repo billing.Repository, title string, duration int, amount int64) billing.Course {
	tstamp := time.Now().UTC()
	course, err := repo.CreateCourse(context.Background(), billing.Course{
		Title:     title,
		Duration:  duration,
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	return course
}

func CreatePlan(t *testing.T, svc *billing.Service, std billing.Student, course billing.Course, amount int64, installments int, regDate time.Time) billing.PaymentPlan {
	plan, err := svc.CreatePlan(context.Background(), billing.NewPlan{
		StudentID:        std.ID,
		CourseID:         course.ID,
		Amount:           decimal.NewFromInt(amount),
		Installments:     installments,
		RegistrationDate: regDate,
	})
	if err != nil {
		t.Fatalf("createPlan() failed: %v", err)
	}
	return plan
}

func RecordPayment(t *testing.T, svc *billing.Service, plan billing.PaymentPlan, amount int64, paid time.Time) billing.Payment {
	pmt, err := svc.RecordPayment(context.Background(), billing.NewPayment{
		PlanID:      plan.ID,
		Amount:      decimal.NewFromInt(amount),
		PaymentDate: paid,
	})
	if err != nil {
		t.Fatalf("recordPayment() failed: %v", err)
	}
	return pmt
}

// NewValidator returns a validator with the core and billing rules registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	billing.InitValidators(validate, translator)
	return validate, translator
}

// NewService wires a billing.Service on top of a fresh in-memory repository.
func NewService(repo billing.Repository, logger core.Logger, mailSvc core.EmailService, opts ...billing.Options) *billing.Service {
	if repo == nil {
		repo = inmemdb.NewBillingRepository(inmemdb.Open())
	}
	var options billing.Options
	if len(opts) > 0 {
		options = opts[0]
	}
	validate, translator := NewValidator()
	return billing.NewService(billing.Deps{
		Repo:       repo,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
		MailSvc:    mailSvc,
		Options:    options,
	})
}

// Logger records every entry it is given.
type Logger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Count returns the number of entries logged at level.
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for _, e := range l.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }
