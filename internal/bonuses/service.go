package bonuses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrAlreadyClaimed indicates the bonus for this source was already paid.
	ErrAlreadyClaimed = errors.New("bonus already claimed")
	// ErrBonusDisabled indicates the hourly bonus amount is not configured.
	ErrBonusDisabled = errors.New("hourly bonus is disabled")
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskInactive indicates the task no longer pays.
	ErrTaskInactive = errors.New("task is not active")
)

// Claim is a paid bonus.
type Claim struct {
	Entry   models.EarningsEntry
	Balance decimal.Decimal
}

// Service pays hourly and task bonuses through the ledger.
type Service struct {
	Store        repositories.Store
	Ledger       *ledger.Ledger
	Evaluator    *engagement.Evaluator
	HourlyAmount decimal.Decimal
	NowFunc      func() time.Time
}

// NewService constructs the bonus service.
func NewService(store repositories.Store, l *ledger.Ledger, evaluator *engagement.Evaluator, hourly decimal.Decimal) *Service {
	return &Service{Store: store, Ledger: l, Evaluator: evaluator, HourlyAmount: hourly}
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// HourBucket identifies the hour containing now in loc.
func HourBucket(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02T15")
}

// ClaimHourly pays the hourly bonus once per local clock hour.
func (s *Service) ClaimHourly(ctx context.Context, userID string) (Claim, error) {
	if !s.HourlyAmount.IsPositive() {
		return Claim{}, ErrBonusDisabled
	}
	now := s.now()
	bucket := HourBucket(now, s.Evaluator.Policy.Location)
	return s.credit(ctx, userID, now, func(ctx context.Context, tx repositories.Tx) (models.EarningType, decimal.Decimal, string, error) {
		return models.EarningHourlyBonus, s.HourlyAmount, bucket, nil
	})
}

// CompleteTask pays a task's reward once per user.
func (s *Service) CompleteTask(ctx context.Context, userID, taskID string) (Claim, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Claim{}, ErrTaskNotFound
	}
	return s.credit(ctx, userID, s.now(), func(ctx context.Context, tx repositories.Tx) (models.EarningType, decimal.Decimal, string, error) {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return "", decimal.Zero, "", ErrTaskNotFound
			}
			return "", decimal.Zero, "", err
		}
		if !task.Active {
			return "", decimal.Zero, "", ErrTaskInactive
		}
		return models.EarningTask, task.RewardAmount, task.ID, nil
	})
}

type creditSource func(ctx context.Context, tx repositories.Tx) (models.EarningType, decimal.Decimal, string, error)

func (s *Service) credit(ctx context.Context, userID string, now time.Time, source creditSource) (Claim, error) {
	if _, err := s.Evaluator.Evaluate(ctx, userID, now); err != nil {
		return Claim{}, err
	}

	var claim Claim
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := engagement.RequireActive(user); err != nil {
			return err
		}
		typ, amount, ref, err := source(ctx, tx)
		if err != nil {
			return err
		}
		entry, balance, err := s.Ledger.CreditTx(ctx, tx, userID, typ, amount, ref)
		if err != nil {
			if errors.Is(err, ledger.ErrDuplicateCredit) {
				return fmt.Errorf("%w: %w", ErrAlreadyClaimed, err)
			}
			return err
		}
		claim = Claim{Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}

	logging.FromContext(ctx).Info("bonus credited",
		slog.String("user_id", userID),
		slog.String("type", string(claim.Entry.Type)),
		slog.String("source_ref", claim.Entry.SourceRef),
		slog.String("amount", claim.Entry.Amount.String()),
	)
	return claim, nil
}
