package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	inmemdb "github.com/trezcool/bursar/storage/database/inmem"
	testutil "github.com/trezcool/bursar/tests"
)

func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewBillingRepository(inmemdb.Open())
	logger := &testutil.Logger{}
	svc := testutil.NewService(repo, logger, nil)

	std := testutil.CreateStudent(t, repo, "Jean Kabamba", "jean@kabamba.cd", "center-1")
	course := testutil.CreateCourse(t, repo, "Go 101", 12, 4000)
	plan := testutil.CreatePlan(t, svc, std, course, 4000, 4, testutil.Date(2024, time.January, 1))
	testutil.RecordPayment(t, svc, plan, 1000, testutil.Date(2024, time.April, 1))
	_, err := repo.DeleteStudentsByID(ctx, std.ID)
	require.NoError(t, err)

	(&sweeper{svc: svc, logger: logger, timeout: time.Minute}).Run()

	_, err = svc.GetPlan(ctx, plan.ID)
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)

	last := logger.Entries[len(logger.Entries)-1]
	assert.Equal(t, "info", last.Level)
	assert.Contains(t, last.Msg, "1 plan(s), 1 payment(s), 0 invoice(s) deleted; 0 failure(s)")
}

type failingRepo struct {
	billing.Repository
}

func (failingRepo) QueryStudents(context.Context) ([]billing.Student, error) {
	return nil, errors.New("connection reset")
}

func TestSweeper_Run_failure(t *testing.T) {
	logger := &testutil.Logger{}
	svc := testutil.NewService(failingRepo{inmemdb.NewBillingRepository(inmemdb.Open())}, logger, nil)

	(&sweeper{svc: svc, logger: logger}).Run()

	require.Equal(t, 1, logger.Count("error"))
	assert.Contains(t, logger.Entries[0].Msg, "sweep failed: sweeping payment plans: querying students: connection reset")
	assert.Zero(t, logger.Count("info"))
}

// stalledRepo blocks plan listings until the caller gives up.
type stalledRepo struct {
	billing.Repository
}

func (stalledRepo) QueryPlans(ctx context.Context, _ billing.PlanFilter) ([]billing.PaymentPlan, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSweeper_Run_timeout(t *testing.T) {
	logger := &testutil.Logger{}
	svc := testutil.NewService(stalledRepo{inmemdb.NewBillingRepository(inmemdb.Open())}, logger, nil)

	s := newSweeper(svc, logger, core.SweeperConfig{Schedule: "@every 1h", Timeout: 20 * time.Millisecond})
	require.Equal(t, 20*time.Millisecond, s.timeout)

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not honour the sweeper timeout")
	}

	require.Equal(t, 1, logger.Count("error"))
	assert.Contains(t, logger.Entries[0].Msg, "context deadline exceeded")
}

func TestNewScheduler(t *testing.T) {
	logger := &testutil.Logger{}
	job := &sweeper{svc: testutil.NewService(nil, logger, nil), logger: logger}

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{spec: "15 2 * * *"},
		{spec: "@every 1h"},
		{spec: "*/5 * * * *"},
		{spec: "15 2 * *", wantErr: true},
		{spec: "lol", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			c, err := newScheduler(tt.spec, job, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.Entries(), 1)
		})
	}
}

func TestCronLogger(t *testing.T) {
	logger := &testutil.Logger{}
	cl := cronLogger{logger}

	cl.Info("wake", "now", "2024-04-01", "entries", 1)
	cl.Error(errors.New("boom"), "panic", "stack")

	require.Len(t, logger.Entries, 2)
	assert.Equal(t, "debug", logger.Entries[0].Level)
	assert.Equal(t, "cron: wake, now=2024-04-01, entries=1", logger.Entries[0].Msg)
	assert.Equal(t, "error", logger.Entries[1].Level)
	assert.True(t, strings.HasPrefix(logger.Entries[1].Msg, "cron: panic: boom, stack"))
}
