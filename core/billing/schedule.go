package billing

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
)

const DateLayout = "2006-01-02"

var (
	nowFunc = time.Now // mockable

	// errors
	ErrDivisionByZero        = errors.New("installments must not be zero")
	ErrUnknownIntervalPolicy = errors.New("unknown interval policy")
)

// IntervalPolicy decides how a course's duration is spread across its installments.
type IntervalPolicy int

const (
	// EvenPeriods treats the installment count as the number of equal periods: duration / installments.
	EvenPeriods IntervalPolicy = iota
	// GapsBetweenInstallments puts the first installment at time 0 and spreads the
	// duration over the gaps between installments: duration / (installments - 1).
	GapsBetweenInstallments
)

func ParseIntervalPolicy(s string) (IntervalPolicy, error) {
	switch core.CleanString(s, true /* lower */) {
	case "", "even-periods", "even":
		return EvenPeriods, nil
	case "gaps", "gaps-between-installments":
		return GapsBetweenInstallments, nil
	}
	return EvenPeriods, errors.Wrapf(ErrUnknownIntervalPolicy, "%q", s)
}

func (p IntervalPolicy) String() string {
	if p == GapsBetweenInstallments {
		return "gaps"
	}
	return "even-periods"
}

// Interval returns the number of months between two installments.
// With GapsBetweenInstallments a single installment falls due after the whole duration.
func (p IntervalPolicy) Interval(durationMonths, installments int) (float64, error) {
	if err := checkInstallments(installments); err != nil {
		return 0, err
	}
	divisor := installments
	if p == GapsBetweenInstallments {
		divisor = max(installments-1, 1)
	}
	return float64(durationMonths) / float64(divisor), nil
}

func checkInstallments(installments int) error {
	if installments == 0 {
		return ErrDivisionByZero
	}
	if installments < 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "installments", Error: "installments must be at least 1"})
	}
	return nil
}

// EstimateInstallment returns amount / installments without rounding.
func EstimateInstallment(amount decimal.Decimal, installments int) (decimal.Decimal, error) {
	if err := checkInstallments(installments); err != nil {
		return decimal.Zero, err
	}
	return amount.Div(decimal.NewFromInt(int64(installments))), nil
}

// NextPaymentDate projects the next due date one interval after anchor.
// A zero anchor means today. The result is always strictly after the anchor.
func NextPaymentDate(policy IntervalPolicy, durationMonths, installments int, anchor time.Time) (time.Time, error) {
	interval, err := policy.Interval(durationMonths, installments)
	if err != nil {
		return time.Time{}, err
	}
	if anchor.IsZero() {
		anchor = nowFunc()
	}
	anchor = core.Date(anchor)

	next := AddMonths(anchor, interval)
	if !next.After(anchor) {
		next = anchor.AddDate(0, 0, 1)
	}
	return next, nil
}

// AdvanceSchedule moves a due date forward by one calendar month.
func AdvanceSchedule(due time.Time) time.Time {
	return addCalendarMonths(core.Date(due), 1)
}

// AddMonths adds a possibly fractional number of calendar months to t.
// Whole months keep the day of month, clamped to the end of shorter months (Jan 31 + 1 = Feb 28|29).
// The fraction is converted to days of the month reached, rounded to the nearest day.
func AddMonths(t time.Time, months float64) time.Time {
	whole := math.Floor(months)
	frac := months - whole

	res := addCalendarMonths(t, int(whole))
	if frac > 0 {
		days := math.Round(frac * float64(daysIn(res.Year(), res.Month())))
		res = res.AddDate(0, 0, int(days))
	}
	return res
}

func addCalendarMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing date %q", s)
	}
	return t, nil
}
