package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/bonuses"
	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/gateway"
	"github.com/watchearn/backend/internal/jobs"
	"github.com/watchearn/backend/internal/kyc"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/payouts"
	"github.com/watchearn/backend/internal/reactivation"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/videos"
	"github.com/watchearn/backend/internal/watch"
)

// WatchService tracks playback and pays completed videos.
type WatchService interface {
	StartSession(ctx context.Context, userID, videoID string) (models.WatchSession, error)
	ReportProgress(ctx context.Context, userID, videoID string, position float64) (watch.Progress, error)
	CompleteSession(ctx context.Context, userID, videoID string) (watch.Completion, error)
}

// PayoutService accepts and settles withdrawal requests.
type PayoutService interface {
	RequestPayout(ctx context.Context, userID string, amount decimal.Decimal) (models.PayoutRequest, error)
	History(ctx context.Context, userID string) ([]models.PayoutRequest, error)
	Settle(ctx context.Context, outcomes []payouts.Outcome) []payouts.Result
}

// SettlementRunner opens and exports a payout batch.
type SettlementRunner interface {
	Settle(ctx context.Context) (jobs.SettlementResult, error)
}

// EarningsService reads the ledger.
type EarningsService interface {
	History(ctx context.Context, userID string, limit int) (ledger.Statement, error)
	Reconcile(ctx context.Context) ([]models.BalanceDrift, error)
}

// ReactivationService lifts suspensions against a paid fee.
type ReactivationService interface {
	Initiate(ctx context.Context, userID string) (reactivation.Initiation, error)
	VerifyForUser(ctx context.Context, userID, orderID string) (reactivation.Verification, error)
	HandleCallback(ctx context.Context, event gateway.WebhookEvent) (reactivation.Verification, error)
}

// EngagementService reports daily progress and account standing.
type EngagementService interface {
	Daily(ctx context.Context, userID string, now time.Time) (engagement.DailyStatus, error)
	Standing(ctx context.Context, userID string, now time.Time) (engagement.Standing, error)
}

// BonusService pays hourly and task bonuses.
type BonusService interface {
	ClaimHourly(ctx context.Context, userID string) (bonuses.Claim, error)
	CompleteTask(ctx context.Context, userID, taskID string) (bonuses.Claim, error)
}

// Registrar creates users.
type Registrar interface {
	Register(ctx context.Context, req referrals.NewUser) (models.User, error)
}

// PayoutGate answers payout eligibility questions.
type PayoutGate interface {
	CanRequestPayout(ctx context.Context, userID string) (bool, error)
}

// KYCReviewer applies verification decisions.
type KYCReviewer interface {
	Apply(ctx context.Context, userID string, decision kyc.Decision) (models.User, error)
}

// VideoImporter adds catalog entries.
type VideoImporter interface {
	Import(ctx context.Context, req videos.ImportRequest) (models.Video, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
