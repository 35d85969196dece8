package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

// sweeper is the cron job collecting orphaned billing records.
type sweeper struct {
	svc     *billing.Service
	logger  core.Logger
	timeout time.Duration
}

var _ cron.Job = (*sweeper)(nil)

func newSweeper(svc *billing.Service, logger core.Logger, conf core.SweeperConfig) *sweeper {
	return &sweeper{svc: svc, logger: logger, timeout: conf.Timeout}
}

func (s *sweeper) Run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	report, err := s.svc.Sweep(ctx)
	if err != nil {
		s.logger.Error(fmt.Sprintf("sweep failed: %v", err), err)
		return
	}
	s.logger.Info(fmt.Sprintf(
		"sweep done in %s: %d plan(s), %d payment(s), %d invoice(s) deleted; %d failure(s)",
		time.Since(start).Round(time.Millisecond),
		report.Plans.Deleted, report.Payments.Deleted, report.Invoices.Deleted,
		report.Plans.Failed+report.Payments.Failed+report.Invoices.Failed,
	))
}

// newScheduler runs job on the standard 5-field cron spec, never overlapping two runs.
func newScheduler(spec string, job cron.Job, logger core.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddJob(spec, job); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts a core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: " + msg + formatKeysAndValues(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(fmt.Sprintf("cron: %s: %v%s", msg, err, formatKeysAndValues(keysAndValues)), err)
}

func formatKeysAndValues(kvs []interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kvs); i += 2 {
		b.WriteString(", ")
		if i+1 < len(kvs) {
			_, _ = fmt.Fprintf(&b, "%v=%v", kvs[i], kvs[i+1])
		} else {
			_, _ = fmt.Fprintf(&b, "%v", kvs[i])
		}
	}
	return b.String()
}
