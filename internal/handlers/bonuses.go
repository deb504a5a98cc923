package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/bonuses"
	"github.com/watchearn/backend/internal/logging"
)

// BonusHandler exposes hourly and task bonuses.
type BonusHandler struct {
	Bonuses BonusService
}

type taskRequest struct {
	TaskID string `json:"task_id"`
}

type claimResponse struct {
	Type      string          `json:"type"`
	SourceRef string          `json:"source_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
}

func newClaimResponse(c bonuses.Claim) claimResponse {
	return claimResponse{
		Type:      string(c.Entry.Type),
		SourceRef: c.Entry.SourceRef,
		Amount:    c.Entry.Amount,
		Balance:   c.Balance,
	}
}

// Hourly handles POST /api/v1/bonuses/hourly.
func (h BonusHandler) Hourly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	claim, err := h.Bonuses.ClaimHourly(ctx, logging.UserIDFromContext(ctx))
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, newClaimResponse(claim))
}

// CompleteTask handles POST /api/v1/tasks/complete.
func (h BonusHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req taskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	req.TaskID = strings.TrimSpace(req.TaskID)
	if req.TaskID == "" {
		respondError(ctx, w, http.StatusBadRequest, "task_id is required", "invalid_request")
		return
	}

	claim, err := h.Bonuses.CompleteTask(ctx, logging.UserIDFromContext(ctx), req.TaskID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, newClaimResponse(claim))
}
