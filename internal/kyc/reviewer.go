package kyc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/repositories"
)

// ErrInvalidDecision indicates an unknown status or an empty decision.
var ErrInvalidDecision = errors.New("invalid verification decision")

// Decision is an event from the verification or document review process.
// Nil fields are left unchanged.
type Decision struct {
	VerificationStatus *models.VerificationStatus
	KYCStatus          *models.KYCStatus
	FeePaid            *bool
}

func (d Decision) validate() error {
	if d.VerificationStatus == nil && d.KYCStatus == nil && d.FeePaid == nil {
		return fmt.Errorf("%w: nothing to apply", ErrInvalidDecision)
	}
	if d.VerificationStatus != nil {
		switch *d.VerificationStatus {
		case models.VerificationPending, models.VerificationVerified, models.VerificationRejected:
		default:
			return fmt.Errorf("%w: verification status %q", ErrInvalidDecision, *d.VerificationStatus)
		}
	}
	if d.KYCStatus != nil {
		switch *d.KYCStatus {
		case models.KYCNotSubmitted, models.KYCSubmitted, models.KYCApproved, models.KYCRejected:
		default:
			return fmt.Errorf("%w: kyc status %q", ErrInvalidDecision, *d.KYCStatus)
		}
	}
	return nil
}

// ReferralCreditor pays the referrer of a newly verified user.
type ReferralCreditor interface {
	CreditReferral(ctx context.Context, referredUserID string) error
}

// Reviewer applies verification decisions to users.
type Reviewer struct {
	Store     repositories.Store
	Referrals ReferralCreditor
	NowFunc   func() time.Time
}

// NewReviewer constructs a reviewer. referrals may be nil.
func NewReviewer(store repositories.Store, referrals ReferralCreditor) *Reviewer {
	return &Reviewer{Store: store, Referrals: referrals}
}

// Apply records the decision and, when it leaves the user verified, credits
// their referrer.
func (r *Reviewer) Apply(ctx context.Context, userID string, decision Decision) (models.User, error) {
	if err := decision.validate(); err != nil {
		return models.User{}, err
	}

	now := time.Now().UTC()
	if r.NowFunc != nil {
		now = r.NowFunc().UTC()
	}

	var user models.User
	err := r.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		locked, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if decision.VerificationStatus != nil {
			locked.VerificationStatus = *decision.VerificationStatus
		}
		if decision.KYCStatus != nil {
			locked.KYCStatus = *decision.KYCStatus
		}
		if decision.FeePaid != nil {
			locked.KYCFeePaid = *decision.FeePaid
		}
		locked.UpdatedAt = now
		if err := tx.UpdateVerification(ctx, locked); err != nil {
			return err
		}
		user = locked
		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	logger := logging.FromContext(ctx)
	logger.Info("verification decision applied",
		slog.String("user_id", userID),
		slog.String("verification_status", string(user.VerificationStatus)),
		slog.String("kyc_status", string(user.KYCStatus)),
		slog.Bool("fee_paid", user.KYCFeePaid),
	)

	// Crediting is idempotent, so a replayed decision retries a failed credit.
	// The decision is already committed; a self-referral is logged and dropped.
	if user.VerificationStatus == models.VerificationVerified && r.Referrals != nil {
		err := r.Referrals.CreditReferral(ctx, userID)
		switch {
		case errors.Is(err, referrals.ErrSelfReferral):
			logger.Warn("referral bonus withheld", slog.String("user_id", userID), slog.Any("error", err))
		case err != nil:
			return user, fmt.Errorf("credit referral: %w", err)
		}
	}
	return user, nil
}
