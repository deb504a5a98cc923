package kyc

import (
	"context"
	"errors"
	"fmt"

	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrNotVerified indicates neither verification track has succeeded.
	ErrNotVerified = errors.New("identity verification required")
	// ErrFeeNotPaid indicates the verification fee is outstanding.
	ErrFeeNotPaid = errors.New("verification fee not paid")
)

// Check reports why a user may not request a payout, or nil when eligible.
// Either a verified identity or an approved KYC review is accepted, and the
// fee must be paid in both cases.
func Check(user models.User) error {
	verified := user.VerificationStatus == models.VerificationVerified || user.KYCStatus == models.KYCApproved
	if !verified {
		return ErrNotVerified
	}
	if !user.KYCFeePaid {
		return ErrFeeNotPaid
	}
	return nil
}

// Gate answers payout eligibility questions without modifying anything.
type Gate struct {
	Store repositories.Store
}

// NewGate constructs a gate over the given store.
func NewGate(store repositories.Store) *Gate {
	return &Gate{Store: store}
}

// CanRequestPayout reports whether the user passes the verification gate.
func (g *Gate) CanRequestPayout(ctx context.Context, userID string) (bool, error) {
	var user models.User
	err := g.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return Check(user) == nil, nil
}
