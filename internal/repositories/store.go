package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/models"
)

// Store runs units of work atomically. Every balance-affecting decision must be
// made inside a single InTx call so it observes and writes a consistent state.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	UserTx
	CatalogTx
	SessionTx
	LedgerTx
	EngagementTx
	PayoutTx
	ReactivationTx
}

// UserTx covers the users table, including the cached balance.
type UserTx interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, userID string) (models.User, error)
	// LockUser loads the user row and holds a write lock on it until the
	// transaction ends.
	LockUser(ctx context.Context, userID string) (models.User, error)
	FindUserByReferralCode(ctx context.Context, code string) (models.User, error)
	UpdateStanding(ctx context.Context, user models.User) error
	UpdateVerification(ctx context.Context, user models.User) error
	// AdjustBalance adds delta to the cached balance and returns the new value.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	ListUsersEvaluatedBefore(ctx context.Context, day time.Time, limit int) ([]string, error)
}

// CatalogTx covers videos and tasks.
type CatalogTx interface {
	CreateVideo(ctx context.Context, video models.Video) error
	GetVideo(ctx context.Context, videoID string) (models.Video, error)
	GetTask(ctx context.Context, taskID string) (models.Task, error)
}

// SessionTx covers watch sessions.
type SessionTx interface {
	// GetWatchSession loads and locks the session row.
	GetWatchSession(ctx context.Context, userID, videoID string) (models.WatchSession, error)
	CreateWatchSession(ctx context.Context, session models.WatchSession) error
	UpdateWatchSession(ctx context.Context, session models.WatchSession) error
}

// LedgerTx covers the append-only earnings ledger.
type LedgerTx interface {
	// InsertEarning returns ErrConflict when (user, type, source ref) already exists.
	InsertEarning(ctx context.Context, entry models.EarningsEntry) error
	// SumEarnings totals entries for the user; an empty type sums every type.
	SumEarnings(ctx context.Context, userID string, typ models.EarningType) (decimal.Decimal, error)
	ListEarnings(ctx context.Context, userID string, limit int) ([]models.EarningsEntry, error)
	ListBalanceDrift(ctx context.Context) ([]models.BalanceDrift, error)
}

// EngagementTx covers daily engagement records.
type EngagementTx interface {
	AddWatchTime(ctx context.Context, userID string, day time.Time, seconds float64, targetMinutes int) error
	GetDailyRecord(ctx context.Context, userID string, day time.Time) (models.DailyEngagementRecord, error)
	SaveDailyRecord(ctx context.Context, record models.DailyEngagementRecord) error
}

// PayoutTx covers withdrawal requests.
type PayoutTx interface {
	// InsertPayout returns ErrConflict if the user already has an outstanding request.
	InsertPayout(ctx context.Context, payout models.PayoutRequest) error
	GetPayout(ctx context.Context, payoutID string) (models.PayoutRequest, error)
	UpdatePayout(ctx context.Context, payout models.PayoutRequest) error
	HasOutstandingPayout(ctx context.Context, userID string) (bool, error)
	ListPayouts(ctx context.Context, userID string) ([]models.PayoutRequest, error)
	ListPayoutsByStatus(ctx context.Context, status models.PayoutStatus) ([]models.PayoutRequest, error)
	SumCompletedPayouts(ctx context.Context, userID string) (decimal.Decimal, error)
}

// ReactivationTx covers reactivation payment orders.
type ReactivationTx interface {
	InsertReactivationOrder(ctx context.Context, order models.ReactivationOrder) error
	// GetReactivationOrder loads and locks the order by its gateway order id.
	GetReactivationOrder(ctx context.Context, orderID string) (models.ReactivationOrder, error)
	UpdateReactivationOrder(ctx context.Context, order models.ReactivationOrder) error
}
