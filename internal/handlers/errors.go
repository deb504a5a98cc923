package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/watchearn/backend/internal/bonuses"
	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/gateway"
	"github.com/watchearn/backend/internal/kyc"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/payouts"
	"github.com/watchearn/backend/internal/reactivation"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/repositories"
	"github.com/watchearn/backend/internal/videos"
	"github.com/watchearn/backend/internal/watch"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order; wrapped errors match their first entry.
var errorMappings = []errorMapping{
	{bonuses.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{bonuses.ErrBonusDisabled, http.StatusNotFound, "bonus_disabled"},
	{bonuses.ErrTaskNotFound, http.StatusNotFound, "task_not_found"},
	{bonuses.ErrTaskInactive, http.StatusConflict, "task_inactive"},

	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrDuplicateCredit, http.StatusConflict, "duplicate_credit"},
	{ledger.ErrBalanceDrift, http.StatusInternalServerError, "balance_drift"},

	{watch.ErrInvalidPosition, http.StatusBadRequest, "invalid_position"},
	{watch.ErrInvalidVideoDuration, http.StatusUnprocessableEntity, "invalid_video_duration"},
	{watch.ErrIncompleteWatch, http.StatusConflict, "incomplete_watch"},
	{watch.ErrVideoNotFound, http.StatusNotFound, "video_not_found"},
	{watch.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},

	{engagement.ErrAccountSuspended, http.StatusForbidden, "account_suspended"},

	{kyc.ErrNotVerified, http.StatusForbidden, "not_verified"},
	{kyc.ErrFeeNotPaid, http.StatusForbidden, "kyc_fee_unpaid"},
	{kyc.ErrInvalidDecision, http.StatusBadRequest, "invalid_decision"},

	{payouts.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{payouts.ErrBelowMinimum, http.StatusUnprocessableEntity, "below_minimum"},
	{payouts.ErrOutstandingRequest, http.StatusConflict, "payout_outstanding"},
	{payouts.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{payouts.ErrPayoutNotFound, http.StatusNotFound, "payout_not_found"},
	{payouts.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},

	{reactivation.ErrNotSuspended, http.StatusConflict, "not_suspended"},
	{reactivation.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
	{reactivation.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{reactivation.ErrNotOrderOwner, http.StatusNotFound, "order_not_found"},
	{gateway.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{gateway.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},

	{referrals.ErrSelfReferral, http.StatusConflict, "self_referral"},
	{referrals.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{referrals.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{referrals.ErrEmailTaken, http.StatusConflict, "email_taken"},

	{videos.ErrInvalidDuration, http.StatusUnprocessableEntity, "invalid_video_duration"},
	{videos.ErrInvalidEarningAmount, http.StatusBadRequest, "invalid_amount"},
	{videos.ErrInvalidURL, http.StatusBadRequest, "invalid_url"},
	{videos.ErrAlreadyImported, http.StatusConflict, "already_imported"},
	{videos.ErrProviderUnavailable, http.StatusBadGateway, "metadata_unavailable"},

	{repositories.ErrNotFound, http.StatusNotFound, "not_found"},
	{repositories.ErrConflict, http.StatusConflict, "conflict"},
	{repositories.ErrNegativeBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
