package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrInvalidVideoDuration indicates a catalog entry without a playable length.
	ErrInvalidVideoDuration = errors.New("video duration must be positive")
	// ErrInvalidPosition indicates a negative or non-finite playback position.
	ErrInvalidPosition = errors.New("invalid playback position")
	// ErrIncompleteWatch indicates completion was requested before enough was watched.
	ErrIncompleteWatch = errors.New("video not watched to completion")
	// ErrVideoNotFound indicates the video is not in the catalog.
	ErrVideoNotFound = errors.New("video not found")
	// ErrSessionNotFound indicates no progress has been recorded for the pair.
	ErrSessionNotFound = errors.New("watch session not found")
)

// Rules bound how far a progress report may move the playback cursor.
type Rules struct {
	// ForwardSlack is added to the wall-clock time since the last accepted report.
	ForwardSlack time.Duration
	// MaxReportInterval caps the elapsed time credited between two reports.
	MaxReportInterval time.Duration
	// BackwardTolerance is how far behind the cursor a report may land.
	BackwardTolerance time.Duration
	// CompletionTolerance is how far short of the end a video counts as watched.
	CompletionTolerance time.Duration
}

// DefaultRules returns the production anti-seek settings.
func DefaultRules() Rules {
	return Rules{
		ForwardSlack:        2 * time.Second,
		MaxReportInterval:   30 * time.Second,
		BackwardTolerance:   5 * time.Second,
		CompletionTolerance: 10 * time.Second,
	}
}

// Progress is the outcome of a progress report.
type Progress struct {
	Accepted          bool
	CorrectedPosition float64
	WatchedSeconds    float64
	Completed         bool
}

// Completion is the outcome of a completion request.
type Completion struct {
	Credited        bool
	AlreadyCredited bool
	Entry           models.EarningsEntry
	Balance         decimal.Decimal
}

// Tracker enforces watch progress rules and pays out completed videos.
type Tracker struct {
	Store     repositories.Store
	Ledger    *ledger.Ledger
	Evaluator *engagement.Evaluator
	Metrics   *metrics.Metrics
	Rules     Rules
	NowFunc   func() time.Time
}

// NewTracker constructs a tracker with the default rules.
func NewTracker(store repositories.Store, l *ledger.Ledger, evaluator *engagement.Evaluator, m *metrics.Metrics) *Tracker {
	return &Tracker{Store: store, Ledger: l, Evaluator: evaluator, Metrics: m, Rules: DefaultRules()}
}

func (t *Tracker) now() time.Time {
	if t.NowFunc != nil {
		return t.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// lockActive locks the user row for the mutating transaction and refuses
// suspended accounts.
func (t *Tracker) lockActive(ctx context.Context, tx repositories.Tx, userID string) (models.User, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if err := engagement.RequireActive(user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (t *Tracker) sessionFor(ctx context.Context, tx repositories.Tx, userID, videoID string, now time.Time, started bool) (models.WatchSession, error) {
	session, err := tx.GetWatchSession(ctx, userID, videoID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.WatchSession{}, fmt.Errorf("load watch session: %w", err)
	}

	video, err := tx.GetVideo(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.WatchSession{}, ErrVideoNotFound
		}
		return models.WatchSession{}, fmt.Errorf("load video: %w", err)
	}
	if !(video.DurationSeconds > 0) {
		return models.WatchSession{}, ErrInvalidVideoDuration
	}

	session = models.WatchSession{
		UserID:               userID,
		VideoID:              videoID,
		VideoDurationSeconds: video.DurationSeconds,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if started {
		// An explicit start anchors the clock for the first heartbeat.
		session.LastReportAt = &now
	}
	if err := tx.CreateWatchSession(ctx, session); err != nil {
		return models.WatchSession{}, fmt.Errorf("create watch session: %w", err)
	}
	return session, nil
}

// StartSession opens, or returns the existing, session for the pair.
func (t *Tracker) StartSession(ctx context.Context, userID, videoID string) (models.WatchSession, error) {
	now := t.now()
	if _, err := t.Evaluator.Evaluate(ctx, userID, now); err != nil {
		return models.WatchSession{}, err
	}

	var session models.WatchSession
	err := t.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if _, err := t.lockActive(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		session, err = t.sessionFor(ctx, tx, userID, videoID, now, true)
		return err
	})
	if err != nil {
		return models.WatchSession{}, err
	}
	return session, nil
}

// ReportProgress applies a playback heartbeat. Reports that skip ahead of
// real time or jump backwards are rejected with the last valid position.
func (t *Tracker) ReportProgress(ctx context.Context, userID, videoID string, position float64) (Progress, error) {
	if math.IsNaN(position) || math.IsInf(position, 0) || position < 0 {
		return Progress{}, ErrInvalidPosition
	}

	now := t.now()
	if _, err := t.Evaluator.Evaluate(ctx, userID, now); err != nil {
		return Progress{}, err
	}

	var (
		progress Progress
		outcome  string
	)
	err := t.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if _, err := t.lockActive(ctx, tx, userID); err != nil {
			return err
		}
		session, err := t.sessionFor(ctx, tx, userID, videoID, now, false)
		if err != nil {
			return err
		}

		if session.IsEarningCredited {
			outcome = "credited"
			progress = Progress{
				CorrectedPosition: session.LastValidPosition,
				WatchedSeconds:    session.WatchedSeconds,
				Completed:         true,
			}
			return nil
		}

		var accepted bool
		accepted, outcome = t.judge(session, position, now)
		if !accepted {
			progress = Progress{
				CorrectedPosition: session.LastValidPosition,
				WatchedSeconds:    session.WatchedSeconds,
				Completed:         session.IsCompleted,
			}
			return nil
		}

		position = math.Min(position, session.VideoDurationSeconds)
		delta := position - session.LastValidPosition
		session.LastValidPosition = position
		session.WatchedSeconds = math.Max(session.WatchedSeconds, position)
		session.LastReportAt = &now
		session.UpdatedAt = now
		if err := tx.UpdateWatchSession(ctx, session); err != nil {
			return fmt.Errorf("update watch session: %w", err)
		}
		if delta > 0 {
			if err := t.Evaluator.RecordWatchTx(ctx, tx, userID, now, delta); err != nil {
				return err
			}
		}

		progress = Progress{
			Accepted:          true,
			CorrectedPosition: position,
			WatchedSeconds:    session.WatchedSeconds,
			Completed:         session.IsCompleted,
		}
		return nil
	})
	if err != nil {
		return Progress{}, err
	}

	t.Metrics.ProgressReport(outcome)
	if outcome == "rejected_forward" || outcome == "rejected_backward" {
		logging.FromContext(ctx).Warn("progress report rejected",
			slog.String("user_id", userID),
			slog.String("video_id", videoID),
			slog.String("reason", outcome),
			slog.Float64("position", position),
			slog.Float64("last_valid_position", progress.CorrectedPosition),
		)
	}
	return progress, nil
}

func (t *Tracker) judge(session models.WatchSession, position float64, now time.Time) (bool, string) {
	var elapsed time.Duration
	if session.LastReportAt != nil {
		elapsed = now.Sub(*session.LastReportAt)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > t.Rules.MaxReportInterval {
			elapsed = t.Rules.MaxReportInterval
		}
	}

	maxForward := session.LastValidPosition + (elapsed + t.Rules.ForwardSlack).Seconds()
	if position > maxForward {
		return false, "rejected_forward"
	}
	if position < session.LastValidPosition-t.Rules.BackwardTolerance.Seconds() {
		return false, "rejected_backward"
	}
	return true, "accepted"
}

// CompleteSession credits the video's earning once the user has watched it
// to the end. Repeated calls return the credited state.
func (t *Tracker) CompleteSession(ctx context.Context, userID, videoID string) (Completion, error) {
	now := t.now()
	if _, err := t.Evaluator.Evaluate(ctx, userID, now); err != nil {
		return Completion{}, err
	}

	var completion Completion
	err := t.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		session, err := tx.GetWatchSession(ctx, userID, videoID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("load watch session: %w", err)
		}
		if session.IsEarningCredited {
			completion = Completion{AlreadyCredited: true, Balance: user.Balance}
			return nil
		}
		if err := engagement.RequireActive(user); err != nil {
			return err
		}

		threshold := session.VideoDurationSeconds - t.Rules.CompletionTolerance.Seconds()
		if session.WatchedSeconds < threshold {
			return ErrIncompleteWatch
		}

		video, err := tx.GetVideo(ctx, videoID)
		if err != nil {
			return fmt.Errorf("load video: %w", err)
		}

		entry, balance, err := t.Ledger.CreditTx(ctx, tx, userID, models.EarningVideo, video.EarningAmount, videoID)
		switch {
		case errors.Is(err, ledger.ErrDuplicateCredit):
			completion = Completion{AlreadyCredited: true, Balance: user.Balance}
		case err != nil:
			return err
		default:
			completion = Completion{Credited: true, Entry: entry, Balance: balance}
		}

		session.IsCompleted = true
		session.IsEarningCredited = true
		session.UpdatedAt = now
		if err := tx.UpdateWatchSession(ctx, session); err != nil {
			return fmt.Errorf("update watch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Completion{}, err
	}

	if completion.Credited {
		logging.FromContext(ctx).Info("video earning credited",
			slog.String("user_id", userID),
			slog.String("video_id", videoID),
			slog.String("amount", completion.Entry.Amount.String()),
		)
	}
	return completion, nil
}
