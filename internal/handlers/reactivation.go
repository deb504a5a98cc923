package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/gateway"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/reactivation"
)

// ReactivationHandler exposes the suspension payment flow and the gateway callback.
type ReactivationHandler struct {
	Reactivation  ReactivationService
	WebhookSecret string
}

type initiationResponse struct {
	OrderID    string          `json:"order_id"`
	PaymentURL string          `json:"payment_url"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

type verifyRequest struct {
	OrderID string `json:"order_id"`
}

type verificationResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	Success     bool   `json:"success"`
	Reactivated bool   `json:"reactivated"`
}

func newVerificationResponse(v reactivation.Verification) verificationResponse {
	return verificationResponse{
		OrderID:     v.OrderID,
		Status:      string(v.Status),
		Success:     v.Success,
		Reactivated: v.Reactivated,
	}
}

// Initiate handles POST /api/v1/reactivation.
func (h ReactivationHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	init, err := h.Reactivation.Initiate(ctx, logging.UserIDFromContext(ctx))
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, initiationResponse{
		OrderID:    init.OrderID,
		PaymentURL: init.PaymentURL,
		Amount:     init.Amount,
		Currency:   init.Currency,
	})
}

// Verify handles POST /api/v1/reactivation/verify.
func (h ReactivationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		respondError(ctx, w, http.StatusBadRequest, "order_id is required", "invalid_request")
		return
	}

	result, err := h.Reactivation.VerifyForUser(ctx, logging.UserIDFromContext(ctx), req.OrderID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newVerificationResponse(result))
}

// Webhook handles POST /api/v1/webhooks/payments. A 502 asks the gateway to
// deliver the callback again.
func (h ReactivationHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "unreadable body", "invalid_payload")
		return
	}
	event, err := gateway.ParseWebhook(h.WebhookSecret, body, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	logger := logging.FromContext(ctx).With("order_id", event.OrderID)
	ctx = logging.WithLogger(ctx, logger)
	result, err := h.Reactivation.HandleCallback(ctx, event)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newVerificationResponse(result))
}
