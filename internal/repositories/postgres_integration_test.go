package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresStore_UserBalanceAndStanding(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)
	store := NewPostgresStore(testPool)

	user := createTestUser(t, store, "alice@example.com", "")

	err := store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateUser(ctx, newTestUser("alice@example.com", ""))
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	var balance decimal.Decimal
	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		balance, err = tx.AdjustBalance(ctx, user.ID, decimal.RequireFromString("12.50"))
		return err
	})
	if err != nil {
		t.Fatalf("adjust balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected balance 12.50, got %s", balance)
	}

	suspendedAt := time.Now().UTC().Truncate(time.Millisecond)
	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockUser(ctx, user.ID)
		if err != nil {
			return err
		}
		locked.AccountStatus = models.AccountSuspended
		locked.SuspensionReason = "missed daily target"
		locked.SuspendedAt = &suspendedAt
		locked.SuspensionCount = 1
		locked.UpdatedAt = suspendedAt
		return tx.UpdateStanding(ctx, locked)
	})
	if err != nil {
		t.Fatalf("update standing: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		fetched, err := tx.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if fetched.AccountStatus != models.AccountSuspended || fetched.SuspensionCount != 1 {
			t.Fatalf("unexpected standing: %+v", fetched)
		}
		if fetched.SuspendedAt == nil || !timesClose(*fetched.SuspendedAt, suspendedAt, time.Millisecond) {
			t.Fatalf("expected suspended_at to persist, got %v", fetched.SuspendedAt)
		}
		if !fetched.Balance.Equal(decimal.RequireFromString("12.5")) {
			t.Fatalf("expected balance to persist, got %s", fetched.Balance)
		}
		byCode, err := tx.FindUserByReferralCode(ctx, user.ReferralCode)
		if err != nil {
			return err
		}
		if byCode.ID != user.ID {
			t.Fatalf("expected referral lookup to find %s, got %s", user.ID, byCode.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back user: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetUser(ctx, uuid.NewString())
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
}

func TestPostgresStore_EarningsAreUniquePerSource(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)
	store := NewPostgresStore(testPool)
	user := createTestUser(t, store, "bob@example.com", "")

	entry := models.EarningsEntry{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Type:      models.EarningVideo,
		Amount:    decimal.RequireFromString("0.75"),
		SourceRef: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertEarning(ctx, entry) }); err != nil {
		t.Fatalf("insert earning: %v", err)
	}

	dup := entry
	dup.ID = uuid.NewString()
	err := store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertEarning(ctx, dup) })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate source, got %v", err)
	}

	bonus := entry
	bonus.ID = uuid.NewString()
	bonus.Type = models.EarningSignupBonus
	bonus.Amount = decimal.RequireFromString("1.00")
	if err := store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertEarning(ctx, bonus) }); err != nil {
		t.Fatalf("insert bonus: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		total, err := tx.SumEarnings(ctx, user.ID, "")
		if err != nil {
			return err
		}
		if !total.Equal(decimal.RequireFromString("1.75")) {
			t.Fatalf("expected total 1.75, got %s", total)
		}
		videoTotal, err := tx.SumEarnings(ctx, user.ID, models.EarningVideo)
		if err != nil {
			return err
		}
		if !videoTotal.Equal(decimal.RequireFromString("0.75")) {
			t.Fatalf("expected video total 0.75, got %s", videoTotal)
		}
		entries, err := tx.ListEarnings(ctx, user.ID, 10)
		if err != nil {
			return err
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		drift, err := tx.ListBalanceDrift(ctx)
		if err != nil {
			return err
		}
		if len(drift) != 1 || drift[0].UserID != user.ID {
			t.Fatalf("expected drift for %s since balance was never adjusted, got %+v", user.ID, drift)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
}

func TestPostgresStore_SingleOutstandingPayout(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)
	store := NewPostgresStore(testPool)
	user := createTestUser(t, store, "carol@example.com", "")

	first := models.PayoutRequest{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Amount:      decimal.RequireFromString("10"),
		Status:      models.PayoutPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertPayout(ctx, first) }); err != nil {
		t.Fatalf("insert payout: %v", err)
	}

	second := first
	second.ID = uuid.NewString()
	err := store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertPayout(ctx, second) })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second outstanding payout, got %v", err)
	}

	processedAt := time.Now().UTC()
	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		payout, err := tx.GetPayout(ctx, first.ID)
		if err != nil {
			return err
		}
		payout.Status = models.PayoutCompleted
		payout.ProcessedAt = &processedAt
		payout.BatchID = "batch-1"
		return tx.UpdatePayout(ctx, payout)
	})
	if err != nil {
		t.Fatalf("complete payout: %v", err)
	}

	if err := store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertPayout(ctx, second) }); err != nil {
		t.Fatalf("expected new request after completion, got %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		paid, err := tx.SumCompletedPayouts(ctx, user.ID)
		if err != nil {
			return err
		}
		if !paid.Equal(decimal.RequireFromString("10")) {
			t.Fatalf("expected completed total 10, got %s", paid)
		}
		pending, err := tx.ListPayoutsByStatus(ctx, models.PayoutPending)
		if err != nil {
			return err
		}
		if len(pending) != 1 || pending[0].ID != second.ID {
			t.Fatalf("unexpected pending payouts: %+v", pending)
		}
		all, err := tx.ListPayouts(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 payouts, got %d", len(all))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read payouts: %v", err)
	}
}

func TestPostgresStore_DailyEngagementAccumulates(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)
	store := NewPostgresStore(testPool)
	user := createTestUser(t, store, "dave@example.com", "")
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.AddWatchTime(ctx, user.ID, day, 45, 30)
		})
		if err != nil {
			t.Fatalf("add watch time: %v", err)
		}
	}

	met := false
	finalizedAt := time.Now().UTC()
	err := store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, err := tx.GetDailyRecord(ctx, user.ID, day)
		if err != nil {
			return err
		}
		if record.WatchedSeconds != 135 || record.TargetMinutes != 30 {
			t.Fatalf("unexpected record: %+v", record)
		}
		record.MetTarget = &met
		record.FinalizedAt = &finalizedAt
		return tx.SaveDailyRecord(ctx, record)
	})
	if err != nil {
		t.Fatalf("finalize record: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, err := tx.GetDailyRecord(ctx, user.ID, day)
		if err != nil {
			return err
		}
		if record.MetTarget == nil || *record.MetTarget || record.FinalizedAt == nil {
			t.Fatalf("expected finalized miss, got %+v", record)
		}
		_, err = tx.GetDailyRecord(ctx, user.ID, day.AddDate(0, 0, 1))
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for untouched day, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
}

func TestPostgresStore_WatchSessionAndReactivationOrder(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)
	store := NewPostgresStore(testPool)
	user := createTestUser(t, store, "erin@example.com", "")

	video := models.Video{
		ID:              uuid.NewString(),
		Title:           "Intro",
		SourceURL:       "https://videos.example.com/intro",
		DurationSeconds: 120,
		EarningAmount:   decimal.RequireFromString("0.50"),
		CreatedAt:       time.Now().UTC(),
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	session := models.WatchSession{
		UserID:               user.ID,
		VideoID:              video.ID,
		VideoDurationSeconds: 120,
		WatchedSeconds:       12,
		LastValidPosition:    12,
		LastReportAt:         &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	order := models.ReactivationOrder{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		OrderID:    "order-123",
		Amount:     decimal.RequireFromString("5"),
		Status:     models.ReactivationCreated,
		Episode:    1,
		PaymentURL: "https://pay.example.com/order-123",
		CreatedAt:  now,
	}

	err := store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateVideo(ctx, video); err != nil {
			return err
		}
		if err := tx.CreateWatchSession(ctx, session); err != nil {
			return err
		}
		return tx.InsertReactivationOrder(ctx, order)
	})
	if err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetWatchSession(ctx, user.ID, video.ID)
		if err != nil {
			return err
		}
		if got.LastReportAt == nil || !timesClose(*got.LastReportAt, now, time.Millisecond) {
			t.Fatalf("unexpected last report: %v", got.LastReportAt)
		}
		got.IsCompleted = true
		got.IsEarningCredited = true
		if err := tx.UpdateWatchSession(ctx, got); err != nil {
			return err
		}

		stored, err := tx.GetReactivationOrder(ctx, order.OrderID)
		if err != nil {
			return err
		}
		stored.Status = models.ReactivationVerified
		stored.VerifiedAt = &now
		return tx.UpdateReactivationOrder(ctx, stored)
	})
	if err != nil {
		t.Fatalf("update rows: %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetWatchSession(ctx, user.ID, video.ID)
		if err != nil {
			return err
		}
		if !got.IsEarningCredited {
			t.Fatalf("expected credited session")
		}
		stored, err := tx.GetReactivationOrder(ctx, order.OrderID)
		if err != nil {
			return err
		}
		if stored.Status != models.ReactivationVerified || stored.Episode != 1 || stored.VerifiedAt == nil {
			t.Fatalf("unexpected order: %+v", stored)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `TRUNCATE TABLE reactivation_orders, payout_requests, daily_engagement,
        earnings_entries, watch_sessions, tasks, videos, users CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func newTestUser(email, referredBy string) models.User {
	now := time.Now().UTC()
	return models.User{
		ID:                 uuid.NewString(),
		Email:              email,
		VerificationStatus: models.VerificationPending,
		KYCStatus:          models.KYCNotSubmitted,
		AccountStatus:      models.AccountActive,
		EvaluatedThrough:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		ReferralCode:       uuid.NewString()[:8],
		ReferredBy:         referredBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func createTestUser(t *testing.T, store Store, email, referredBy string) models.User {
	t.Helper()
	user := newTestUser(email, referredBy)
	err := store.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
