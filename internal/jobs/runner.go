package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/payouts"
)

// Job names used in logs and metrics.
const (
	JobEvaluateDay = "evaluate_day"
	JobSettlement  = "settlement"
	JobReconcile   = "reconcile"
)

// DayEvaluator finalises past days for every user.
type DayEvaluator interface {
	EvaluateAll(ctx context.Context, now time.Time) (engagement.Summary, error)
}

// BatchOpener moves pending payout requests into a settlement batch.
type BatchOpener interface {
	OpenBatch(ctx context.Context) (payouts.Batch, error)
}

// BatchExporter hands a batch to the external settlement process.
type BatchExporter interface {
	Export(ctx context.Context, batch payouts.Batch) (string, error)
}

// Reconciler compares cached balances with the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]models.BalanceDrift, error)
}

// Runner executes the periodic jobs. The CLI and the scheduler share it.
type Runner struct {
	Evaluator  DayEvaluator
	Batches    BatchOpener
	Exporter   BatchExporter
	Reconciler Reconciler
	Metrics    *metrics.Metrics
	NowFunc    func() time.Time
}

// SettlementResult describes one settlement run.
type SettlementResult struct {
	Batch    payouts.Batch
	Location string
}

func (r *Runner) now() time.Time {
	if r.NowFunc != nil {
		return r.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) track(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	ctx, span := logging.StartSpan(ctx, "jobs."+job, slog.String("job", job))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.Metrics.JobRun(job, err, time.Since(start))
	span.Fail(err)
	return err
}

// EvaluateDay finalises every user's past days.
func (r *Runner) EvaluateDay(ctx context.Context) (engagement.Summary, error) {
	var summary engagement.Summary
	err := r.track(ctx, JobEvaluateDay, func(ctx context.Context) error {
		var err error
		summary, err = r.Evaluator.EvaluateAll(ctx, r.now())
		if err == nil && summary.Failed > 0 {
			err = fmt.Errorf("%d users failed evaluation", summary.Failed)
		}
		return err
	})
	return summary, err
}

// Settle opens a payout batch and exports it. An export failure leaves the
// batch in processing.
func (r *Runner) Settle(ctx context.Context) (SettlementResult, error) {
	var result SettlementResult
	err := r.track(ctx, JobSettlement, func(ctx context.Context) error {
		batch, err := r.Batches.OpenBatch(ctx)
		if err != nil {
			return fmt.Errorf("open batch: %w", err)
		}
		result.Batch = batch
		if r.Exporter == nil || len(batch.Requests) == 0 {
			return nil
		}
		location, err := r.Exporter.Export(ctx, batch)
		if err != nil {
			return fmt.Errorf("export batch %s: %w", batch.ID, err)
		}
		result.Location = location
		logging.FromContext(ctx).Info("settlement batch exported",
			slog.String("batch_id", batch.ID),
			slog.String("location", location),
		)
		return nil
	})
	return result, err
}

// Reconcile checks every cached balance against the ledger.
func (r *Runner) Reconcile(ctx context.Context) ([]models.BalanceDrift, error) {
	var drifts []models.BalanceDrift
	err := r.track(ctx, JobReconcile, func(ctx context.Context) error {
		var err error
		drifts, err = r.Reconciler.Reconcile(ctx)
		return err
	})
	return drifts, err
}
