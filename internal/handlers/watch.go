package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/models"
)

// WatchHandler exposes the playback endpoints.
type WatchHandler struct {
	Watch   WatchService
	Limiter RateLimiter
}

type watchRequest struct {
	VideoID  string   `json:"video_id"`
	Position *float64 `json:"position,omitempty"`
}

type sessionResponse struct {
	VideoID              string     `json:"video_id"`
	VideoDurationSeconds float64    `json:"video_duration_seconds"`
	WatchedSeconds       float64    `json:"watched_seconds"`
	LastValidPosition    float64    `json:"last_valid_position"`
	LastReportAt         *time.Time `json:"last_report_at,omitempty"`
	Completed            bool       `json:"completed"`
	Credited             bool       `json:"credited"`
}

type progressResponse struct {
	Accepted          bool    `json:"accepted"`
	CorrectedPosition float64 `json:"corrected_position"`
	WatchedSeconds    float64 `json:"watched_seconds"`
	Completed         bool    `json:"completed"`
}

type completionResponse struct {
	Credited        bool             `json:"credited"`
	AlreadyCredited bool             `json:"already_credited"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
}

func newSessionResponse(s models.WatchSession) sessionResponse {
	return sessionResponse{
		VideoID:              s.VideoID,
		VideoDurationSeconds: s.VideoDurationSeconds,
		WatchedSeconds:       s.WatchedSeconds,
		LastValidPosition:    s.LastValidPosition,
		LastReportAt:         s.LastReportAt,
		Completed:            s.IsCompleted,
		Credited:             s.IsEarningCredited,
	}
}

func (h WatchHandler) decode(w http.ResponseWriter, r *http.Request) (watchRequest, bool) {
	var req watchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(r.Context(), w, http.StatusBadRequest, err.Error(), "invalid_request")
		return req, false
	}
	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "video_id is required", "invalid_request")
		return req, false
	}
	return req, true
}

// Start handles POST /api/v1/watch/start.
func (h WatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	session, err := h.Watch.StartSession(ctx, logging.UserIDFromContext(ctx), req.VideoID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newSessionResponse(session))
}

// Progress handles POST /api/v1/watch/progress. Rejected reports still answer
// 200 with the position the client should resume from.
func (h WatchHandler) Progress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	if !allowRequest(h.Limiter, r, "progress") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many progress reports", "rate_limited")
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Position == nil {
		respondError(ctx, w, http.StatusBadRequest, "position is required", "invalid_request")
		return
	}

	progress, err := h.Watch.ReportProgress(ctx, logging.UserIDFromContext(ctx), req.VideoID, *req.Position)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, progressResponse{
		Accepted:          progress.Accepted,
		CorrectedPosition: progress.CorrectedPosition,
		WatchedSeconds:    progress.WatchedSeconds,
		Completed:         progress.Completed,
	})
}

// Complete handles POST /api/v1/watch/complete.
func (h WatchHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	completion, err := h.Watch.CompleteSession(ctx, logging.UserIDFromContext(ctx), req.VideoID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	resp := completionResponse{Credited: completion.Credited, AlreadyCredited: completion.AlreadyCredited}
	if completion.Credited {
		amount, balance := completion.Entry.Amount, completion.Balance
		resp.Amount, resp.Balance = &amount, &balance
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}
