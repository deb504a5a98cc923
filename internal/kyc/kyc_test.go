package kyc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/repositories"
)

func TestCheck(t *testing.T) {
	cases := []struct {
		name string
		user models.User
		want error
	}{
		{name: "nothing", user: models.User{VerificationStatus: models.VerificationPending, KYCStatus: models.KYCNotSubmitted}, want: ErrNotVerified},
		{name: "fee only", user: models.User{VerificationStatus: models.VerificationPending, KYCStatus: models.KYCSubmitted, KYCFeePaid: true}, want: ErrNotVerified},
		{name: "verified without fee", user: models.User{VerificationStatus: models.VerificationVerified}, want: ErrFeeNotPaid},
		{name: "verified with fee", user: models.User{VerificationStatus: models.VerificationVerified, KYCFeePaid: true}},
		{name: "kyc approved with fee", user: models.User{VerificationStatus: models.VerificationRejected, KYCStatus: models.KYCApproved, KYCFeePaid: true}},
		{name: "kyc approved without fee", user: models.User{KYCStatus: models.KYCApproved}, want: ErrFeeNotPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Check(tc.user); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

type stubCreditor struct {
	calls []string
	err   error
}

func (s *stubCreditor) CreditReferral(_ context.Context, referredUserID string) error {
	s.calls = append(s.calls, referredUserID)
	return s.err
}

func seedUser(t *testing.T, store repositories.Store, id string) {
	t.Helper()
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	err := store.InTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		return tx.CreateUser(ctx, models.User{
			ID:                 id,
			Email:              id + "@example.com",
			VerificationStatus: models.VerificationPending,
			KYCStatus:          models.KYCNotSubmitted,
			AccountStatus:      models.AccountActive,
			EvaluatedThrough:   now,
			ReferralCode:       "code-" + id,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestReviewerAppliesDecisionAndCreditsReferral(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	creditor := &stubCreditor{}
	reviewer := NewReviewer(store, creditor)
	gate := NewGate(store)
	ctx := context.Background()

	paid := true
	if _, err := reviewer.Apply(ctx, "u1", Decision{FeePaid: &paid}); err != nil {
		t.Fatalf("apply fee: %v", err)
	}
	if len(creditor.calls) != 0 {
		t.Fatalf("expected no referral credit before verification")
	}
	ok, err := gate.CanRequestPayout(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("expected gate closed before verification, got %v (%v)", ok, err)
	}

	verified := models.VerificationVerified
	user, err := reviewer.Apply(ctx, "u1", Decision{VerificationStatus: &verified})
	if err != nil {
		t.Fatalf("apply verification: %v", err)
	}
	if user.VerificationStatus != models.VerificationVerified || !user.KYCFeePaid {
		t.Fatalf("unexpected user after decisions: %+v", user)
	}
	if len(creditor.calls) != 1 || creditor.calls[0] != "u1" {
		t.Fatalf("expected referral credit for u1, got %v", creditor.calls)
	}

	ok, err = gate.CanRequestPayout(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected gate open, got %v (%v)", ok, err)
	}
}

func TestReviewerRejectsInvalidDecisions(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	reviewer := NewReviewer(store, nil)

	if _, err := reviewer.Apply(context.Background(), "u1", Decision{}); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision for empty decision, got %v", err)
	}
	bogus := models.KYCStatus("maybe")
	if _, err := reviewer.Apply(context.Background(), "u1", Decision{KYCStatus: &bogus}); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision for unknown status, got %v", err)
	}
	approved := models.KYCApproved
	if _, err := reviewer.Apply(context.Background(), "nobody", Decision{KYCStatus: &approved}); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReviewerWithholdsSelfReferralWithoutFailing(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	creditor := &stubCreditor{err: referrals.ErrSelfReferral}
	reviewer := NewReviewer(store, creditor)

	verified := models.VerificationVerified
	user, err := reviewer.Apply(context.Background(), "u1", Decision{VerificationStatus: &verified})
	if err != nil {
		t.Fatalf("expected self referral to be handled, got %v", err)
	}
	if user.VerificationStatus != models.VerificationVerified || len(creditor.calls) != 1 {
		t.Fatalf("unexpected result %+v calls=%v", user, creditor.calls)
	}
}

func TestReviewerReportsCreditFailure(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedUser(t, store, "u1")
	boom := errors.New("ledger unavailable")
	reviewer := NewReviewer(store, &stubCreditor{err: boom})

	verified := models.VerificationVerified
	user, err := reviewer.Apply(context.Background(), "u1", Decision{VerificationStatus: &verified})
	if !errors.Is(err, boom) {
		t.Fatalf("expected credit failure, got %v", err)
	}
	if user.VerificationStatus != models.VerificationVerified {
		t.Fatalf("expected committed decision to be returned, got %+v", user)
	}
}
