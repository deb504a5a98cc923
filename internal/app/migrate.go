package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	migrationAttempts     = 3
	migrationFirstBackoff = 100 * time.Millisecond
	migrationMaxBackoff   = 3 * time.Second
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type migrationFile struct {
	name string
	path string
}

func runMigrations(ctx context.Context, args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "up", "status":
	case "down":
		return errors.New("down migrations are not supported; the ledger is append-only")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	dir, err := filepath.Abs(cfg.MigrationDir)
	if err != nil {
		return fmt.Errorf("resolve migrations directory: %w", err)
	}
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	if command == "status" {
		return printMigrationStatus(os.Stdout, files, applied)
	}

	pending := 0
	for _, file := range files {
		if applied[file.name] {
			continue
		}
		sql, err := os.ReadFile(file.path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file.name, err)
		}
		if err := applyMigrationWithRetry(ctx, logger, conn, file.name, string(sql)); err != nil {
			return err
		}
		logger.Info("migration applied", slog.String("migration", file.name))
		pending++
	}
	if pending == 0 {
		logger.Info("schema is up to date", slog.Int("migrations", len(files)))
	}
	return nil
}

func migrationFiles(dir string) ([]migrationFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(paths) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("read migrations directory: %w", err)
		}
	}
	sort.Strings(paths)

	files := make([]migrationFile, 0, len(paths))
	for _, p := range paths {
		files = append(files, migrationFile{name: filepath.Base(p), path: p})
	}
	return files, nil
}

func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, _ := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func printMigrationStatus(out io.Writer, files []migrationFile, applied map[string]bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATE")
	for _, file := range files {
		state := "pending"
		if applied[file.name] {
			state = "applied"
		}
		fmt.Fprintf(tw, "%s\t%s\n", file.name, state)
	}
	return tw.Flush()
}

func applyMigrationWithRetry(ctx context.Context, logger *slog.Logger, conn *pgxpool.Conn, name, sql string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = migrationFirstBackoff
	policy.MaxInterval = migrationMaxBackoff

	apply := func() error {
		err := applyMigration(ctx, conn, name, sql)
		if err != nil && !shouldRetryMigration(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("transient migration failure, retrying",
			slog.String("migration", name),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}
	return backoff.RetryNotify(apply, backoff.WithContext(backoff.WithMaxRetries(policy, migrationAttempts-1), ctx), notify)
}

// applyMigration runs the file and records it in one serializable transaction.
func applyMigration(ctx context.Context, conn *pgxpool.Conn, name, sql string) error {
	return pgx.BeginTxFunc(ctx, conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		return nil
	})
}

func shouldRetryMigration(err error) bool {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, pgx.ErrTxClosed):
		return true
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return true
		}
	}
	return false
}

func runSeed(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: seed <name>")
	}

	cfg, logger, pool, err := setup(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	dir, err := filepath.Abs(cfg.SeedDir)
	if err != nil {
		return fmt.Errorf("resolve seed directory: %w", err)
	}
	name := args[0]
	if filepath.Ext(name) != ".sql" {
		name += "_seed.sql"
	}
	sql, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read seed %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply seed %s: %w", name, err)
	}
	logger.Info("seed applied", slog.String("seed", name))
	return nil
}
