package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/watchearn/backend/internal/logging"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler reports whether the ledger database is reachable. A failed
// ping answers 503 so load balancers stop routing writes here.
type HealthHandler struct {
	DB HealthChecker
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	payload := map[string]string{
		"status":   "ok",
		"database": "skipped",
	}
	status := http.StatusOK

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Error("database health check failed", "error", err)
			payload["status"] = "degraded"
			payload["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			payload["database"] = "ok"
		}
	}

	respondJSON(r.Context(), w, status, payload)
}
