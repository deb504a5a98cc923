package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/kyc"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrInvalidAmount indicates a non-positive payout amount.
	ErrInvalidAmount = errors.New("payout amount must be positive")
	// ErrBelowMinimum indicates an amount under the configured minimum.
	ErrBelowMinimum = errors.New("payout amount below minimum")
	// ErrOutstandingRequest indicates a pending or processing request already exists.
	ErrOutstandingRequest = errors.New("a payout request is already outstanding")
	// ErrInsufficientBalance indicates the amount exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPayoutNotFound indicates an unknown payout id.
	ErrPayoutNotFound = errors.New("payout request not found")
	// ErrInvalidTransition indicates the payout cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid payout status transition")
)

// ReasonInsufficientAtSettlement is recorded when a completion would overdraw.
const ReasonInsufficientAtSettlement = "insufficient balance at settlement"

// Workflow accepts withdrawal requests and drives them through settlement.
type Workflow struct {
	Store     repositories.Store
	Evaluator *engagement.Evaluator
	Metrics   *metrics.Metrics
	MinAmount decimal.Decimal
	NowFunc   func() time.Time
}

// NewWorkflow constructs a payout workflow.
func NewWorkflow(store repositories.Store, evaluator *engagement.Evaluator, m *metrics.Metrics, minAmount decimal.Decimal) *Workflow {
	return &Workflow{Store: store, Evaluator: evaluator, Metrics: m, MinAmount: minAmount}
}

func (w *Workflow) now() time.Time {
	if w.NowFunc != nil {
		return w.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// RequestPayout records a pending withdrawal. Nothing is debited until the
// request completes.
func (w *Workflow) RequestPayout(ctx context.Context, userID string, amount decimal.Decimal) (models.PayoutRequest, error) {
	if !amount.IsPositive() {
		return models.PayoutRequest{}, ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return models.PayoutRequest{}, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount)
	}
	if w.MinAmount.IsPositive() && amount.LessThan(w.MinAmount) {
		return models.PayoutRequest{}, fmt.Errorf("%w of %s", ErrBelowMinimum, w.MinAmount.StringFixed(2))
	}

	now := w.now()
	if _, err := w.Evaluator.Evaluate(ctx, userID, now); err != nil {
		return models.PayoutRequest{}, err
	}

	var payout models.PayoutRequest
	err := w.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := engagement.RequireActive(user); err != nil {
			return err
		}
		if err := kyc.Check(user); err != nil {
			return err
		}
		outstanding, err := tx.HasOutstandingPayout(ctx, userID)
		if err != nil {
			return err
		}
		if outstanding {
			return ErrOutstandingRequest
		}
		if user.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		payout = models.PayoutRequest{
			ID:          uuid.NewString(),
			UserID:      userID,
			Amount:      amount,
			Status:      models.PayoutPending,
			RequestedAt: now,
		}
		if err := tx.InsertPayout(ctx, payout); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return ErrOutstandingRequest
			}
			return fmt.Errorf("insert payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	w.Metrics.PayoutTransition(string(models.PayoutPending))
	logging.FromContext(ctx).Info("payout requested",
		slog.String("user_id", userID),
		slog.String("payout_id", payout.ID),
		slog.String("amount", amount.String()),
	)
	return payout, nil
}

// History returns the user's requests, newest first.
func (w *Workflow) History(ctx context.Context, userID string) ([]models.PayoutRequest, error) {
	var payouts []models.PayoutRequest
	err := w.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		payouts, err = tx.ListPayouts(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// Batch is a set of requests handed to the external settlement process.
type Batch struct {
	ID       string
	OpenedAt time.Time
	Requests []models.PayoutRequest
}

// Total sums the batch amounts.
func (b Batch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range b.Requests {
		total = total.Add(r.Amount)
	}
	return total
}

// OpenBatch moves every pending request to processing under a new batch id.
func (w *Workflow) OpenBatch(ctx context.Context) (Batch, error) {
	now := w.now()
	batch := Batch{ID: now.Format("20060102T150405Z") + "-" + uuid.NewString()[:8], OpenedAt: now}

	err := w.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		pending, err := tx.ListPayoutsByStatus(ctx, models.PayoutPending)
		if err != nil {
			return err
		}
		batch.Requests = batch.Requests[:0]
		for _, payout := range pending {
			payout.Status = models.PayoutProcessing
			payout.BatchID = batch.ID
			if err := tx.UpdatePayout(ctx, payout); err != nil {
				return fmt.Errorf("mark payout %s processing: %w", payout.ID, err)
			}
			batch.Requests = append(batch.Requests, payout)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}

	for range batch.Requests {
		w.Metrics.PayoutTransition(string(models.PayoutProcessing))
	}
	logging.FromContext(ctx).Info("payout batch opened",
		slog.String("batch_id", batch.ID),
		slog.Int("requests", len(batch.Requests)),
		slog.String("total", batch.Total().String()),
	)
	return batch, nil
}

// Complete marks a processing request as paid and debits the balance in the
// same transaction. A request that would overdraw is failed instead.
func (w *Workflow) Complete(ctx context.Context, payoutID string) (models.PayoutRequest, error) {
	return w.transition(ctx, payoutID, models.PayoutCompleted, "")
}

// Fail marks a processing request as failed. The balance is untouched.
func (w *Workflow) Fail(ctx context.Context, payoutID, reason string) (models.PayoutRequest, error) {
	return w.transition(ctx, payoutID, models.PayoutFailed, reason)
}

// Decline rejects a pending or processing request. The balance is untouched.
func (w *Workflow) Decline(ctx context.Context, payoutID, reason string) (models.PayoutRequest, error) {
	return w.transition(ctx, payoutID, models.PayoutDeclined, reason)
}

func allowed(from, to models.PayoutStatus) bool {
	switch to {
	case models.PayoutCompleted, models.PayoutFailed:
		return from == models.PayoutProcessing
	case models.PayoutDeclined:
		return from == models.PayoutPending || from == models.PayoutProcessing
	}
	return false
}

func (w *Workflow) transition(ctx context.Context, payoutID string, to models.PayoutStatus, reason string) (models.PayoutRequest, error) {
	now := w.now()
	reason = strings.TrimSpace(reason)

	var (
		payout  models.PayoutRequest
		changed bool
	)
	err := w.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		changed = false
		var err error
		payout, err = tx.GetPayout(ctx, payoutID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrPayoutNotFound
			}
			return err
		}
		if payout.Status == to {
			return nil
		}
		if !allowed(payout.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, payout.Status, to)
		}

		target, why := to, reason
		if to == models.PayoutCompleted {
			user, err := tx.LockUser(ctx, payout.UserID)
			if err != nil {
				return err
			}
			if user.Balance.LessThan(payout.Amount) {
				target, why = models.PayoutFailed, ReasonInsufficientAtSettlement
			} else if _, err := tx.AdjustBalance(ctx, payout.UserID, payout.Amount.Neg()); err != nil {
				return fmt.Errorf("debit balance: %w", err)
			}
		}

		payout.Status = target
		payout.Reason = why
		payout.ProcessedAt = &now
		if err := tx.UpdatePayout(ctx, payout); err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return models.PayoutRequest{}, err
	}

	if changed {
		w.Metrics.PayoutTransition(string(payout.Status))
		logging.FromContext(ctx).Info("payout settled",
			slog.String("payout_id", payout.ID),
			slog.String("user_id", payout.UserID),
			slog.String("status", string(payout.Status)),
			slog.String("reason", payout.Reason),
		)
	}
	return payout, nil
}

// Outcome is one settlement instruction from the external payment process.
type Outcome struct {
	PayoutID string
	Status   models.PayoutStatus
	Reason   string
}

// Result is the applied state of one settlement instruction.
type Result struct {
	Payout models.PayoutRequest
	Err    error
}

// Settle applies a list of settlement outcomes independently.
func (w *Workflow) Settle(ctx context.Context, outcomes []Outcome) []Result {
	results := make([]Result, 0, len(outcomes))
	for _, o := range outcomes {
		var (
			payout models.PayoutRequest
			err    error
		)
		switch o.Status {
		case models.PayoutCompleted:
			payout, err = w.Complete(ctx, o.PayoutID)
		case models.PayoutFailed:
			payout, err = w.Fail(ctx, o.PayoutID, o.Reason)
		case models.PayoutDeclined:
			payout, err = w.Decline(ctx, o.PayoutID, o.Reason)
		default:
			err = fmt.Errorf("%w: cannot settle to %q", ErrInvalidTransition, o.Status)
		}
		results = append(results, Result{Payout: payout, Err: err})
	}
	return results
}
