package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

func seedUser(t *testing.T, store repositories.Store, id string) {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	err := store.InTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		return tx.CreateUser(ctx, models.User{
			ID:                 id,
			Email:              id + "@example.com",
			VerificationStatus: models.VerificationPending,
			KYCStatus:          models.KYCNotSubmitted,
			AccountStatus:      models.AccountActive,
			EvaluatedThrough:   now.Truncate(24 * time.Hour),
			ReferralCode:       "code-" + id,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestCreditIncrementsBalance(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	l := New(store, nil)

	entry, err := l.Credit(context.Background(), "u1", models.EarningVideo, decimal.RequireFromString("0.50"), "video-1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.ID == "" || entry.Type != models.EarningVideo {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	statement, err := l.History(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !statement.Balance.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected balance 0.50, got %s", statement.Balance)
	}
	if len(statement.Entries) != 1 || !statement.TotalEarned.Equal(statement.Balance) {
		t.Fatalf("unexpected statement: %+v", statement)
	}
}

func TestCreditRejectsDuplicateSource(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	l := New(store, nil)
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", models.EarningReferral, decimal.NewFromInt(2), "u2"); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if _, err := l.Credit(ctx, "u1", models.EarningReferral, decimal.NewFromInt(2), "u2"); !errors.Is(err, ErrDuplicateCredit) {
		t.Fatalf("expected ErrDuplicateCredit, got %v", err)
	}
	// Same source under another type is a different credit.
	if _, err := l.Credit(ctx, "u1", models.EarningTask, decimal.NewFromInt(1), "u2"); err != nil {
		t.Fatalf("credit under other type: %v", err)
	}

	total, err := l.SumEntries(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected total 3, got %s", total)
	}
	referral := models.EarningReferral
	only, err := l.SumEntries(ctx, "u1", &referral)
	if err != nil {
		t.Fatalf("sum referral: %v", err)
	}
	if !only.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected referral total 2, got %s", only)
	}
}

func TestCreditValidation(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	l := New(store, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		typ    models.EarningType
		amount decimal.Decimal
		source string
		want   error
	}{
		{name: "zero amount", typ: models.EarningTask, amount: decimal.Zero, source: "t", want: ErrInvalidAmount},
		{name: "negative amount", typ: models.EarningTask, amount: decimal.NewFromInt(-1), source: "t", want: ErrInvalidAmount},
		{name: "unknown type", typ: "lottery", amount: decimal.NewFromInt(1), source: "t", want: ErrInvalidEarningType},
		{name: "blank source", typ: models.EarningTask, amount: decimal.NewFromInt(1), source: "  ", want: ErrMissingSourceRef},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Credit(ctx, "u1", tc.typ, tc.amount, tc.source); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConcurrentCreditsForSameSourcePayOnce(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	l := New(store, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Credit(context.Background(), "u1", models.EarningVideo, decimal.NewFromInt(1), "video-9")
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, ErrDuplicateCredit) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one credit, got %d", success)
	}
	drifts, err := l.Reconcile(context.Background())
	if err != nil || len(drifts) != 0 {
		t.Fatalf("expected no drift, got %v (%v)", drifts, err)
	}
}

func TestReconcileReportsDrift(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	seedUser(t, store, "u2")
	l := New(store, nil)
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", models.EarningTask, decimal.NewFromInt(4), "t1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		_, err := tx.AdjustBalance(ctx, "u2", decimal.NewFromInt(7))
		return err
	})
	if err != nil {
		t.Fatalf("tamper balance: %v", err)
	}

	drifts, err := l.Reconcile(ctx)
	if !errors.Is(err, ErrBalanceDrift) {
		t.Fatalf("expected ErrBalanceDrift, got %v", err)
	}
	if len(drifts) != 1 || drifts[0].UserID != "u2" || !drifts[0].Delta().Equal(decimal.NewFromInt(7)) {
		t.Fatalf("unexpected drift rows: %+v", drifts)
	}
}
