package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrDuplicateCredit indicates the (user, type, source) triple was already credited.
	ErrDuplicateCredit = errors.New("earning already credited for source")
	// ErrInvalidAmount indicates a non-positive credit amount.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidEarningType indicates an unknown earning type.
	ErrInvalidEarningType = errors.New("unknown earning type")
	// ErrMissingSourceRef indicates a credit without a source reference.
	ErrMissingSourceRef = errors.New("source reference is required")
	// ErrBalanceDrift indicates cached balances disagree with the ledger.
	ErrBalanceDrift = errors.New("cached balance drifted from ledger")
)

// DefaultHistoryLimit bounds History when the caller does not.
const DefaultHistoryLimit = 50

// Ledger appends earnings entries and keeps the cached balance in step.
type Ledger struct {
	Store   repositories.Store
	Metrics *metrics.Metrics
	NowFunc func() time.Time
}

// New constructs a ledger over the given store.
func New(store repositories.Store, m *metrics.Metrics) *Ledger {
	return &Ledger{Store: store, Metrics: m}
}

func (l *Ledger) now() time.Time {
	if l.NowFunc != nil {
		return l.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// Credit records an earning and increments the balance in one transaction.
func (l *Ledger) Credit(ctx context.Context, userID string, typ models.EarningType, amount decimal.Decimal, sourceRef string) (models.EarningsEntry, error) {
	var entry models.EarningsEntry
	err := l.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		entry, _, err = l.CreditTx(ctx, tx, userID, typ, amount, sourceRef)
		return err
	})
	if err != nil {
		return models.EarningsEntry{}, err
	}
	return entry, nil
}

// CreditTx records an earning inside the caller's transaction and returns the
// entry along with the new balance. A repeated source yields ErrDuplicateCredit
// and leaves the transaction usable.
func (l *Ledger) CreditTx(ctx context.Context, tx repositories.Tx, userID string, typ models.EarningType, amount decimal.Decimal, sourceRef string) (models.EarningsEntry, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return models.EarningsEntry{}, decimal.Zero, ErrInvalidAmount
	}
	if !typ.Valid() {
		return models.EarningsEntry{}, decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidEarningType, typ)
	}
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return models.EarningsEntry{}, decimal.Zero, ErrMissingSourceRef
	}

	entry := models.EarningsEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		SourceRef: sourceRef,
		CreatedAt: l.now(),
	}
	if err := tx.InsertEarning(ctx, entry); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			l.Metrics.DuplicateCredit(string(typ))
			logging.FromContext(ctx).Warn("duplicate credit refused",
				slog.String("user_id", userID),
				slog.String("type", string(typ)),
				slog.String("source_ref", sourceRef),
			)
			return models.EarningsEntry{}, decimal.Zero, ErrDuplicateCredit
		}
		return models.EarningsEntry{}, decimal.Zero, fmt.Errorf("insert earning: %w", err)
	}

	balance, err := tx.AdjustBalance(ctx, userID, amount)
	if err != nil {
		return models.EarningsEntry{}, decimal.Zero, fmt.Errorf("increment balance: %w", err)
	}

	l.Metrics.CreditRecorded(string(typ), amount)
	return entry, balance, nil
}

// SumEntries totals a user's ledger. A nil type sums every type.
func (l *Ledger) SumEntries(ctx context.Context, userID string, typ *models.EarningType) (decimal.Decimal, error) {
	var filter models.EarningType
	if typ != nil {
		filter = *typ
	}
	var total decimal.Decimal
	err := l.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		total, err = tx.SumEarnings(ctx, userID, filter)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum earnings: %w", err)
	}
	return total, nil
}

// Statement is a user's balance with their most recent ledger entries.
type Statement struct {
	Balance     decimal.Decimal
	TotalEarned decimal.Decimal
	Entries     []models.EarningsEntry
}

// History returns the user's balance, lifetime earnings and recent entries.
func (l *Ledger) History(ctx context.Context, userID string, limit int) (Statement, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultHistoryLimit
	}
	var statement Statement
	err := l.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		total, err := tx.SumEarnings(ctx, userID, "")
		if err != nil {
			return err
		}
		entries, err := tx.ListEarnings(ctx, userID, limit)
		if err != nil {
			return err
		}
		statement = Statement{Balance: user.Balance, TotalEarned: total, Entries: entries}
		return nil
	})
	if err != nil {
		return Statement{}, err
	}
	return statement, nil
}

// Reconcile compares every cached balance against the ledger total minus
// completed payouts. Drift is reported, never corrected.
func (l *Ledger) Reconcile(ctx context.Context) ([]models.BalanceDrift, error) {
	ctx, span := logging.StartSpan(ctx, "ledger.reconcile")
	defer span.End()
	logger := logging.FromContext(ctx)

	var drifts []models.BalanceDrift
	err := l.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		drifts, err = tx.ListBalanceDrift(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list balance drift: %w", err)
	}

	total := decimal.Zero
	for _, d := range drifts {
		total = total.Add(d.Delta().Abs())
		logger.Error("balance drift detected",
			slog.String("user_id", d.UserID),
			slog.String("cached_balance", d.CachedBalance.String()),
			slog.String("ledger_sum", d.LedgerSum.String()),
			slog.String("completed_payouts", d.CompletedPayouts.String()),
			slog.String("delta", d.Delta().String()),
		)
	}
	l.Metrics.BalanceDrift(len(drifts), total)

	if len(drifts) > 0 {
		err := fmt.Errorf("%w: %d users", ErrBalanceDrift, len(drifts))
		span.Fail(err)
		return drifts, err
	}
	return nil, nil
}
