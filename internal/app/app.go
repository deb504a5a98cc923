package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/config"
	"github.com/watchearn/backend/internal/db"
	"github.com/watchearn/backend/internal/handlers"
	"github.com/watchearn/backend/internal/httpserver"
	"github.com/watchearn/backend/internal/jobs"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/middleware"
	"github.com/watchearn/backend/internal/repositories"
	"github.com/watchearn/backend/internal/videos"
)

const usage = "expected command: serve, migrate, seed, import-video, evaluate-day, settle, or reconcile"

// Run bootstraps the WatchEarn backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	case "import-video":
		return runImportVideo(ctx, args[1:])
	case "evaluate-day", "settle", "reconcile":
		return runJob(ctx, args[0])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func setup(ctx context.Context) (config.Config, *slog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, pool, nil
}

func serve(ctx context.Context) error {
	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.AdminToken == "" {
		logger.Warn("WATCHEARN_ADMIN_TOKEN is empty, internal api disabled")
	}
	if cfg.GatewayWebhookSecret == "" {
		logger.Warn("WATCHEARN_GATEWAY_WEBHOOK_SECRET is empty, payment callbacks will be rejected")
	}

	deps, svc, err := buildDependencies(ctx, pool, cfg, metrics.NewRegistry())
	if err != nil {
		return err
	}

	scheduler, err := jobs.NewScheduler(svc.runner, jobs.Schedule{
		EvaluateDay: cfg.ScheduleDaily,
		Settlement:  cfg.ScheduleSettlement,
		Reconcile:   cfg.ScheduleReconcile,
	}, cfg.Location, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	handler := middleware.RequestLogger(logger)(mux)

	srv := httpserver.New(cfg.AppPort, handler)

	logger.Info("starting http server", "port", cfg.AppPort, "timezone", cfg.Location.String())

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.Start()
	}()
	scheduler.Start()

	// ctx is cancelled by SIGINT/SIGTERM in main.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", slog.Any("cause", context.Cause(ctx)))
	case err := <-listenErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop cleanly", "error", err)
	}
	return runErr
}

// runJob executes one periodic job immediately. Exit status reflects the job
// outcome so the CLI can be driven by an external scheduler.
func runJob(ctx context.Context, name string) error {
	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := buildServices(ctx, repositories.NewPostgresStore(pool), cfg, nil)
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, logger.With("job", name))

	switch name {
	case "evaluate-day":
		summary, err := svc.runner.EvaluateDay(ctx)
		fmt.Printf("evaluated %d users, suspended %d, failed %d\n", summary.Evaluated, summary.Suspended, summary.Failed)
		return err
	case "settle":
		result, err := svc.runner.Settle(ctx)
		fmt.Printf("batch %s: %d requests totalling %s\n", result.Batch.ID, len(result.Batch.Requests), result.Batch.Total().StringFixed(2))
		if result.Location != "" {
			fmt.Printf("exported to %s\n", result.Location)
		}
		return err
	default:
		drifts, err := svc.runner.Reconcile(ctx)
		for _, d := range drifts {
			fmt.Printf("drift user=%s cached=%s expected=%s delta=%s\n", d.UserID, d.CachedBalance, d.Expected(), d.Delta())
		}
		return err
	}
}

func runImportVideo(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: import-video <url> <earning-amount>")
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("parse earning amount: %w", err)
	}

	cfg, _, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := buildServices(ctx, repositories.NewPostgresStore(pool), cfg, nil)
	if err != nil {
		return err
	}
	video, err := svc.importer.Import(ctx, videos.ImportRequest{URL: args[0], EarningAmount: amount})
	if err != nil {
		return err
	}
	fmt.Printf("imported video %s (%q, %.0fs) paying %s\n", video.ID, video.Title, video.DurationSeconds, video.EarningAmount.StringFixed(2))
	return nil
}
