package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/kyc"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/payouts"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/videos"
)

// InternalHandler serves operator and upstream-service endpoints.
type InternalHandler struct {
	Users      Registrar
	KYC        KYCReviewer
	Payouts    PayoutService
	Settlement SettlementRunner
	Videos     VideoImporter
	Earnings   EarningsService
}

type registerRequest struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

type userResponse struct {
	ID                 string          `json:"id"`
	Email              string          `json:"email"`
	Balance            decimal.Decimal `json:"balance"`
	VerificationStatus string          `json:"verification_status"`
	KYCStatus          string          `json:"kyc_status"`
	KYCFeePaid         bool            `json:"kyc_fee_paid"`
	AccountStatus      string          `json:"account_status"`
	ReferralCode       string          `json:"referral_code"`
	ReferredBy         string          `json:"referred_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Balance:            u.Balance,
		VerificationStatus: string(u.VerificationStatus),
		KYCStatus:          string(u.KYCStatus),
		KYCFeePaid:         u.KYCFeePaid,
		AccountStatus:      string(u.AccountStatus),
		ReferralCode:       u.ReferralCode,
		ReferredBy:         u.ReferredBy,
		CreatedAt:          u.CreatedAt,
	}
}

// RegisterUser handles POST /internal/v1/users.
func (h InternalHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	user, err := h.Users.Register(ctx, referrals.NewUser{ID: req.ID, Email: req.Email, ReferralCode: req.ReferralCode})
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, newUserResponse(user))
}

type kycDecisionRequest struct {
	UserID             string                     `json:"user_id"`
	VerificationStatus *models.VerificationStatus `json:"verification_status,omitempty"`
	KYCStatus          *models.KYCStatus          `json:"kyc_status,omitempty"`
	FeePaid            *bool                      `json:"fee_paid,omitempty"`
}

// KYCDecision handles POST /internal/v1/kyc/decisions.
func (h InternalHandler) KYCDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req kycDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		respondError(ctx, w, http.StatusBadRequest, "user_id is required", "invalid_request")
		return
	}

	user, err := h.KYC.Apply(ctx, req.UserID, kyc.Decision{
		VerificationStatus: req.VerificationStatus,
		KYCStatus:          req.KYCStatus,
		FeePaid:            req.FeePaid,
	})
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newUserResponse(user))
}

type batchResponse struct {
	BatchID  string           `json:"batch_id"`
	OpenedAt time.Time        `json:"opened_at"`
	Requests []payoutResponse `json:"requests"`
	Total    decimal.Decimal  `json:"total"`
	Location string           `json:"location,omitempty"`
}

// OpenBatch handles POST /internal/v1/payouts/batch.
func (h InternalHandler) OpenBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	result, err := h.Settlement.Settle(ctx)
	if err != nil && result.Batch.ID == "" {
		respondDomainError(ctx, w, err)
		return
	}
	resp := batchResponse{
		BatchID:  result.Batch.ID,
		OpenedAt: result.Batch.OpenedAt,
		Requests: make([]payoutResponse, 0, len(result.Batch.Requests)),
		Total:    result.Batch.Total(),
		Location: result.Location,
	}
	for _, p := range result.Batch.Requests {
		resp.Requests = append(resp.Requests, newPayoutResponse(p))
	}
	if err != nil {
		// The batch is open but its export failed; report both.
		respondJSON(ctx, w, http.StatusBadGateway, map[string]any{
			"error": err.Error(),
			"code":  "export_failed",
			"batch": resp,
		})
		return
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

type settleRequest struct {
	Outcomes []struct {
		PayoutID string `json:"payout_id"`
		Status   string `json:"status"`
		Reason   string `json:"reason"`
	} `json:"outcomes"`
}

type settleResult struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// Settle handles POST /internal/v1/payouts/settle. Each outcome is applied
// independently and reported in order.
func (h InternalHandler) Settle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	if len(req.Outcomes) == 0 {
		respondError(ctx, w, http.StatusBadRequest, "outcomes are required", "invalid_request")
		return
	}

	outcomes := make([]payouts.Outcome, 0, len(req.Outcomes))
	for _, o := range req.Outcomes {
		outcomes = append(outcomes, payouts.Outcome{
			PayoutID: strings.TrimSpace(o.PayoutID),
			Status:   models.PayoutStatus(strings.TrimSpace(o.Status)),
			Reason:   o.Reason,
		})
	}

	results := h.Payouts.Settle(ctx, outcomes)
	out := make([]settleResult, 0, len(results))
	for i, res := range results {
		item := settleResult{PayoutID: outcomes[i].PayoutID}
		if res.Err != nil {
			_, item.Code = classify(res.Err)
			item.Error = res.Err.Error()
		} else {
			item.Status = string(res.Payout.Status)
		}
		out = append(out, item)
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"results": out})
}

type importVideoRequest struct {
	URL             string          `json:"url"`
	EarningAmount   decimal.Decimal `json:"earning_amount"`
	Title           string          `json:"title,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
}

type videoResponse struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	SourceURL       string          `json:"source_url"`
	DurationSeconds float64         `json:"duration_seconds"`
	EarningAmount   decimal.Decimal `json:"earning_amount"`
}

// ImportVideo handles POST /internal/v1/videos.
func (h InternalHandler) ImportVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req importVideoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	video, err := h.Videos.Import(ctx, videos.ImportRequest{
		URL:             req.URL,
		EarningAmount:   req.EarningAmount,
		Title:           req.Title,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, videoResponse{
		ID:              video.ID,
		Title:           video.Title,
		SourceURL:       video.SourceURL,
		DurationSeconds: video.DurationSeconds,
		EarningAmount:   video.EarningAmount,
	})
}

type driftResponse struct {
	UserID           string          `json:"user_id"`
	CachedBalance    decimal.Decimal `json:"cached_balance"`
	LedgerSum        decimal.Decimal `json:"ledger_sum"`
	CompletedPayouts decimal.Decimal `json:"completed_payouts"`
	Delta            decimal.Decimal `json:"delta"`
}

// Reconciliation handles GET /internal/v1/reconciliation.
func (h InternalHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()

	drifts, err := h.Earnings.Reconcile(ctx)
	if err != nil && !errors.Is(err, ledger.ErrBalanceDrift) {
		respondDomainError(ctx, w, err)
		return
	}
	rows := make([]driftResponse, 0, len(drifts))
	for _, d := range drifts {
		rows = append(rows, driftResponse{
			UserID:           d.UserID,
			CachedBalance:    d.CachedBalance,
			LedgerSum:        d.LedgerSum,
			CompletedPayouts: d.CompletedPayouts,
			Delta:            d.Delta(),
		})
	}
	if err != nil {
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"code":  "balance_drift",
			"drift": rows,
		})
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"drift": rows})
}
