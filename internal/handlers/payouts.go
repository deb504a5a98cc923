package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/models"
)

// PayoutHandler exposes withdrawal requests to users.
type PayoutHandler struct {
	Payouts PayoutService
	Limiter RateLimiter
}

type payoutRequestBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type payoutResponse struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

func newPayoutResponse(p models.PayoutRequest) payoutResponse {
	return payoutResponse{
		ID:          p.ID,
		Amount:      p.Amount,
		Status:      string(p.Status),
		RequestedAt: p.RequestedAt,
		ProcessedAt: p.ProcessedAt,
		Reason:      p.Reason,
	}
}

// Handle dispatches /api/v1/payouts by method.
func (h PayoutHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.history(w, r)
	case http.MethodPost:
		h.request(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h PayoutHandler) request(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !allowRequest(h.Limiter, r, "payouts") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many payout requests", "rate_limited")
		return
	}

	var body payoutRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}

	payout, err := h.Payouts.RequestPayout(ctx, logging.UserIDFromContext(ctx), body.Amount)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, newPayoutResponse(payout))
}

func (h PayoutHandler) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.Payouts.History(ctx, logging.UserIDFromContext(ctx))
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	out := make([]payoutResponse, 0, len(list))
	for _, p := range list {
		out = append(out, newPayoutResponse(p))
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"payouts": out})
}
