package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/logging"
)

// EarningsHandler exposes the user's ledger.
type EarningsHandler struct {
	Earnings EarningsService
}

type earningResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	SourceRef string          `json:"source_ref"`
	CreatedAt time.Time       `json:"created_at"`
}

type statementResponse struct {
	Balance     decimal.Decimal   `json:"balance"`
	TotalEarned decimal.Decimal   `json:"total_earned"`
	Entries     []earningResponse `json:"entries"`
}

// History handles GET /api/v1/earnings.
func (h EarningsHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(ctx, w, http.StatusBadRequest, "limit must be a positive integer", "invalid_request")
			return
		}
		limit = n
	}

	statement, err := h.Earnings.History(ctx, logging.UserIDFromContext(ctx), limit)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	resp := statementResponse{
		Balance:     statement.Balance,
		TotalEarned: statement.TotalEarned,
		Entries:     make([]earningResponse, 0, len(statement.Entries)),
	}
	for _, e := range statement.Entries {
		resp.Entries = append(resp.Entries, earningResponse{
			ID:        e.ID,
			Type:      string(e.Type),
			Amount:    e.Amount,
			SourceRef: e.SourceRef,
			CreatedAt: e.CreatedAt,
		})
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}
