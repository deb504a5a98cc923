package handlers

import (
	"net/http"
	"time"

	"github.com/watchearn/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	watch := WatchHandler{Watch: deps.Watch, Limiter: deps.ProgressLimiter}
	payouts := PayoutHandler{Payouts: deps.Payouts, Limiter: deps.PayoutLimiter}
	earnings := EarningsHandler{Earnings: deps.Earnings}
	reactivation := ReactivationHandler{Reactivation: deps.Reactivation, WebhookSecret: deps.WebhookSecret}
	account := AccountHandler{Engagement: deps.Engagement, Eligibility: deps.Eligibility, NowFunc: deps.NowFunc}
	bonuses := BonusHandler{Bonuses: deps.Bonuses}
	internal := InternalHandler{
		Users:      deps.Users,
		KYC:        deps.KYC,
		Payouts:    deps.Payouts,
		Settlement: deps.Settlement,
		Videos:     deps.Videos,
		Earnings:   deps.Earnings,
	}

	user := func(h http.HandlerFunc) http.Handler { return middleware.Identity(h) }
	adminAuth := middleware.AdminAuth(deps.AdminToken)
	admin := func(h http.HandlerFunc) http.Handler { return adminAuth(h) }

	mux.HandleFunc("/healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	mux.Handle("/api/v1/watch/start", user(watch.Start))
	mux.Handle("/api/v1/watch/progress", user(watch.Progress))
	mux.Handle("/api/v1/watch/complete", user(watch.Complete))
	mux.Handle("/api/v1/payouts", user(payouts.Handle))
	mux.Handle("/api/v1/earnings", user(earnings.History))
	mux.Handle("/api/v1/reactivation", user(reactivation.Initiate))
	mux.Handle("/api/v1/reactivation/verify", user(reactivation.Verify))
	mux.Handle("/api/v1/engagement/today", user(account.Today))
	mux.Handle("/api/v1/account/status", user(account.Status))
	mux.Handle("/api/v1/bonuses/hourly", user(bonuses.Hourly))
	mux.Handle("/api/v1/tasks/complete", user(bonuses.CompleteTask))

	// Authenticated by signature, not by the identity layer.
	mux.HandleFunc("/api/v1/webhooks/payments", reactivation.Webhook)

	mux.Handle("/internal/v1/users", admin(internal.RegisterUser))
	mux.Handle("/internal/v1/kyc/decisions", admin(internal.KYCDecision))
	mux.Handle("/internal/v1/payouts/batch", admin(internal.OpenBatch))
	mux.Handle("/internal/v1/payouts/settle", admin(internal.Settle))
	mux.Handle("/internal/v1/videos", admin(internal.ImportVideo))
	mux.Handle("/internal/v1/reconciliation", admin(internal.Reconciliation))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	DB           HealthChecker
	Watch        WatchService
	Payouts      PayoutService
	Settlement   SettlementRunner
	Earnings     EarningsService
	Reactivation ReactivationService
	Engagement   EngagementService
	Bonuses      BonusService
	Users        Registrar
	KYC          KYCReviewer
	Eligibility  PayoutGate
	Videos       VideoImporter
	Metrics      http.Handler

	ProgressLimiter RateLimiter
	PayoutLimiter   RateLimiter

	AdminToken    string
	WebhookSecret string
	NowFunc       func() time.Time
}
