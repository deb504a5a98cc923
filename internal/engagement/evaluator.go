package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

const evaluateBatchSize = 500

// DayOf returns the calendar day t falls on in loc, as midnight UTC so it can
// be stored in a DATE column and compared directly.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Policy holds the engagement rules.
type Policy struct {
	TargetMinutes int
	MissThreshold int
	Location      *time.Location
}

// DefaultPolicy is an eight hour (480 minute) daily target with suspension after three misses, in UTC.
func DefaultPolicy() Policy {
	return Policy{TargetMinutes: 480, MissThreshold: 3, Location: time.UTC}
}

// Evaluator aggregates daily watch time and finalises past days into the
// account standing.
type Evaluator struct {
	Store   repositories.Store
	Policy  Policy
	Metrics *metrics.Metrics
}

// NewEvaluator constructs an evaluator with the given policy.
func NewEvaluator(store repositories.Store, policy Policy, m *metrics.Metrics) *Evaluator {
	if policy.TargetMinutes <= 0 {
		policy.TargetMinutes = DefaultPolicy().TargetMinutes
	}
	if policy.MissThreshold <= 0 {
		policy.MissThreshold = DefaultPolicy().MissThreshold
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &Evaluator{Store: store, Policy: policy, Metrics: m}
}

// Today returns the current engagement day for now.
func (e *Evaluator) Today(now time.Time) time.Time {
	return DayOf(now, e.Policy.Location)
}

// RecordWatchTx adds seconds of accepted playback to the day containing now.
func (e *Evaluator) RecordWatchTx(ctx context.Context, tx repositories.Tx, userID string, now time.Time, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	if err := tx.AddWatchTime(ctx, userID, e.Today(now), seconds, e.Policy.TargetMinutes); err != nil {
		return fmt.Errorf("record watch time: %w", err)
	}
	return nil
}

// Evaluate finalises every day between the user's last evaluated day and
// today, exclusive, and persists the resulting standing.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, now time.Time) (models.User, error) {
	var user models.User
	err := e.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		locked, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		user, err = e.EvaluateTx(ctx, tx, locked, now)
		return err
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// EvaluateTx is Evaluate for a user row already locked by tx.
func (e *Evaluator) EvaluateTx(ctx context.Context, tx repositories.Tx, user models.User, now time.Time) (models.User, error) {
	today := e.Today(now)
	yesterday := today.AddDate(0, 0, -1)
	if !user.EvaluatedThrough.Before(yesterday) && !user.EvaluatedThrough.IsZero() {
		return user, nil
	}

	logger := logging.FromContext(ctx)
	day := user.EvaluatedThrough.AddDate(0, 0, 1)
	if user.EvaluatedThrough.IsZero() {
		day = DayOf(user.CreatedAt, e.Policy.Location)
	}

	for ; day.Before(today); day = day.AddDate(0, 0, 1) {
		record, err := tx.GetDailyRecord(ctx, user.ID, day)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			record = models.DailyEngagementRecord{UserID: user.ID, Day: day, TargetMinutes: e.Policy.TargetMinutes}
		case err != nil:
			return models.User{}, fmt.Errorf("load engagement for %s: %w", day.Format(time.DateOnly), err)
		}
		if record.FinalizedAt != nil {
			continue
		}
		if record.TargetMinutes <= 0 {
			record.TargetMinutes = e.Policy.TargetMinutes
		}

		met := record.WatchedMinutes() >= record.TargetMinutes
		finalizedAt := now
		record.MetTarget = &met
		record.FinalizedAt = &finalizedAt
		if err := tx.SaveDailyRecord(ctx, record); err != nil {
			return models.User{}, fmt.Errorf("finalize engagement for %s: %w", day.Format(time.DateOnly), err)
		}

		if applyDay(&user, met, e.Policy.MissThreshold, now) {
			e.Metrics.Suspended()
			logger.Warn("account suspended",
				slog.String("user_id", user.ID),
				slog.String("day", day.Format(time.DateOnly)),
				slog.Int("suspension_count", user.SuspensionCount),
			)
		}
	}

	user.EvaluatedThrough = yesterday
	user.UpdatedAt = now
	if err := tx.UpdateStanding(ctx, user); err != nil {
		return models.User{}, fmt.Errorf("update standing: %w", err)
	}
	return user, nil
}

// Summary reports the outcome of a day-boundary run.
type Summary struct {
	Evaluated int
	Suspended int
	Failed    int
}

// EvaluateAll evaluates every user whose standing is behind yesterday.
func (e *Evaluator) EvaluateAll(ctx context.Context, now time.Time) (Summary, error) {
	ctx, span := logging.StartSpan(ctx, "engagement.evaluate_all")
	defer span.End()
	logger := logging.FromContext(ctx)

	yesterday := e.Today(now).AddDate(0, 0, -1)
	attempted := make(map[string]bool)
	var summary Summary

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var ids []string
		err := e.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			var err error
			ids, err = tx.ListUsersEvaluatedBefore(ctx, yesterday, evaluateBatchSize)
			return err
		})
		if err != nil {
			return summary, fmt.Errorf("list users pending evaluation: %w", err)
		}

		progressed := false
		for _, id := range ids {
			if attempted[id] {
				continue
			}
			attempted[id] = true
			progressed = true

			user, err := e.Evaluate(ctx, id, now)
			if err != nil {
				summary.Failed++
				logger.Error("evaluate user", slog.String("user_id", id), slog.Any("error", err))
				continue
			}
			summary.Evaluated++
			if user.AccountStatus == models.AccountSuspended && user.SuspendedAt != nil && user.SuspendedAt.Equal(now) {
				summary.Suspended++
			}
		}
		if !progressed {
			break
		}
	}

	logger.Info("engagement evaluation finished",
		slog.Int("evaluated", summary.Evaluated),
		slog.Int("suspended", summary.Suspended),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

// DailyStatus summarises the current day for a user.
type DailyStatus struct {
	Day            time.Time
	WatchedSeconds float64
	WatchedMinutes int
	TargetMinutes  int
	MetTarget      bool
	Standing       Standing
}

// Daily evaluates any pending days and returns today's progress.
func (e *Evaluator) Daily(ctx context.Context, userID string, now time.Time) (DailyStatus, error) {
	user, err := e.Evaluate(ctx, userID, now)
	if err != nil {
		return DailyStatus{}, err
	}

	today := e.Today(now)
	record := models.DailyEngagementRecord{UserID: userID, Day: today, TargetMinutes: e.Policy.TargetMinutes}
	err = e.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		stored, err := tx.GetDailyRecord(ctx, userID, today)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		record = stored
		return nil
	})
	if err != nil {
		return DailyStatus{}, fmt.Errorf("load today's engagement: %w", err)
	}

	return DailyStatus{
		Day:            today,
		WatchedSeconds: record.WatchedSeconds,
		WatchedMinutes: record.WatchedMinutes(),
		TargetMinutes:  record.TargetMinutes,
		MetTarget:      record.WatchedMinutes() >= record.TargetMinutes,
		Standing:       standingOf(user, e.Policy.MissThreshold),
	}, nil
}

// Standing evaluates any pending days and returns the account standing.
func (e *Evaluator) Standing(ctx context.Context, userID string, now time.Time) (Standing, error) {
	user, err := e.Evaluate(ctx, userID, now)
	if err != nil {
		return Standing{}, err
	}
	return standingOf(user, e.Policy.MissThreshold), nil
}
