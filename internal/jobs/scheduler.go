package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/watchearn/backend/internal/logging"
)

// Schedule holds cron specs for each job. An empty spec disables the job.
type Schedule struct {
	EvaluateDay string
	Settlement  string
	Reconcile   string
}

// Scheduler runs the jobs on cron schedules in the engagement time zone.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler registers the jobs. Overlapping runs of the same job are
// skipped and panics are recovered.
func NewScheduler(runner *Runner, schedule Schedule, loc *time.Location, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{JobEvaluateDay, schedule.EvaluateDay, func(ctx context.Context) error {
			_, err := runner.EvaluateDay(ctx)
			return err
		}},
		{JobSettlement, schedule.Settlement, func(ctx context.Context) error {
			_, err := runner.Settle(ctx)
			return err
		}},
		{JobReconcile, schedule.Reconcile, func(ctx context.Context) error {
			_, err := runner.Reconcile(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		name, run := job.name, job.run
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx := logging.WithLogger(s.ctx, logger.With(slog.String("job", name)))
			_ = run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, job.spec, err)
		}
	}
	return s, nil
}

// Len reports how many jobs are scheduled.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", slog.Int("jobs", s.Len()))
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx expires, after
// which running jobs are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
