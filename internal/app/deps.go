package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/watchearn/backend/internal/bonuses"
	"github.com/watchearn/backend/internal/config"
	"github.com/watchearn/backend/internal/db"
	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/gateway"
	"github.com/watchearn/backend/internal/handlers"
	"github.com/watchearn/backend/internal/jobs"
	"github.com/watchearn/backend/internal/kyc"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/middleware"
	"github.com/watchearn/backend/internal/payouts"
	"github.com/watchearn/backend/internal/reactivation"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/repositories"
	"github.com/watchearn/backend/internal/storage"
	"github.com/watchearn/backend/internal/videos"
	"github.com/watchearn/backend/internal/watch"
)

const limiterIdleTTL = 10 * time.Minute

// services holds the domain services shared by the HTTP server and the CLI jobs.
type services struct {
	store     repositories.Store
	ledger    *ledger.Ledger
	evaluator *engagement.Evaluator
	tracker   *watch.Tracker
	payouts   *payouts.Workflow
	referrals *referrals.Service
	reviewer  *kyc.Reviewer
	gate      *kyc.Gate
	bonuses   *bonuses.Service
	importer  *videos.Importer
	flow      *reactivation.Flow
	runner    *jobs.Runner
}

// buildServices wires the domain services on top of a store. The settlement
// exporter is only configured when a bucket is set.
func buildServices(ctx context.Context, store repositories.Store, cfg config.Config, m *metrics.Metrics) (*services, error) {
	policy := engagement.Policy{
		TargetMinutes: cfg.DailyTargetMinutes,
		MissThreshold: cfg.MissThreshold,
		Location:      cfg.Location,
	}

	l := ledger.New(store, m)
	evaluator := engagement.NewEvaluator(store, policy, m)
	refs := referrals.NewService(store, l, evaluator, cfg.ReferralBonus, cfg.SignupBonus)
	workflow := payouts.NewWorkflow(store, evaluator, m, cfg.MinPayout)

	metadata := videos.NewCachingProvider(videos.NewYTDLPProvider(cfg.YTDLPPath, cfg.YTDLPTimeout), cfg.MetadataCacheTTL)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIKey:     cfg.GatewayAPIKey,
		Timeout:    cfg.GatewayTimeout,
		MaxElapsed: cfg.GatewayMaxElapsed,
	}, m)
	flow := reactivation.NewFlow(store, gw, evaluator, m, cfg.ReactivationFee, cfg.Currency)
	flow.GatewayTimeout = cfg.GatewayTimeout

	runner := &jobs.Runner{
		Evaluator:  evaluator,
		Batches:    workflow,
		Reconciler: l,
		Metrics:    m,
	}
	if strings.TrimSpace(cfg.SettlementBucket) != "" {
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:   cfg.SettlementBucket,
			Region:   cfg.SettlementRegion,
			Endpoint: cfg.SettlementEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("configure settlement storage: %w", err)
		}
		runner.Exporter = &payouts.BatchExporter{Uploader: s3, Prefix: cfg.SettlementPrefix}
	}

	return &services{
		store:     store,
		ledger:    l,
		evaluator: evaluator,
		tracker:   watch.NewTracker(store, l, evaluator, m),
		payouts:   workflow,
		referrals: refs,
		reviewer:  kyc.NewReviewer(store, refs),
		gate:      kyc.NewGate(store),
		bonuses:   bonuses.NewService(store, l, evaluator, cfg.HourlyBonus),
		importer:  videos.NewImporter(store, metadata),
		flow:      flow,
		runner:    runner,
	}, nil
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, reg *prometheus.Registry) (handlers.Dependencies, *services, error) {
	svc, err := buildServices(ctx, repositories.NewPostgresStore(pool), cfg, metrics.New(reg))
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	deps := handlers.Dependencies{
		DB:           pool,
		Watch:        svc.tracker,
		Payouts:      svc.payouts,
		Settlement:   svc.runner,
		Earnings:     svc.ledger,
		Reactivation: svc.flow,
		Engagement:   svc.evaluator,
		Bonuses:      svc.bonuses,
		Users:        svc.referrals,
		KYC:          svc.reviewer,
		Eligibility:  svc.gate,
		Videos:       svc.importer,
		Metrics:      metrics.Handler(reg),

		ProgressLimiter: middleware.NewKeyedRateLimiter(cfg.ProgressRateLimit, cfg.ProgressRateBurst, limiterIdleTTL),
		PayoutLimiter:   middleware.NewKeyedRateLimiter(cfg.PayoutRateLimit, cfg.PayoutRateBurst, limiterIdleTTL),

		AdminToken:    cfg.AdminToken,
		WebhookSecret: cfg.GatewayWebhookSecret,
	}
	return deps, svc, nil
}
