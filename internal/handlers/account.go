package handlers

import (
	"net/http"
	"time"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/logging"
)

// AccountHandler reports engagement progress and account standing.
type AccountHandler struct {
	Engagement  EngagementService
	Eligibility PayoutGate
	NowFunc     func() time.Time
}

type standingResponse struct {
	Status                  string     `json:"status"`
	ConsecutiveTargetMisses int        `json:"consecutive_target_misses"`
	MissThreshold           int        `json:"miss_threshold"`
	SuspensionReason        string     `json:"suspension_reason,omitempty"`
	SuspendedAt             *time.Time `json:"suspended_at,omitempty"`
	SuspensionCount         int        `json:"suspension_count"`
	EvaluatedThrough        string     `json:"evaluated_through"`
	PayoutEligible          *bool      `json:"payout_eligible,omitempty"`
}

type dailyResponse struct {
	Day            string           `json:"day"`
	WatchedSeconds float64          `json:"watched_seconds"`
	WatchedMinutes int              `json:"watched_minutes"`
	TargetMinutes  int              `json:"target_minutes"`
	MetTarget      bool             `json:"met_target"`
	Standing       standingResponse `json:"standing"`
}

func newStandingResponse(s engagement.Standing) standingResponse {
	return standingResponse{
		Status:                  string(s.Status),
		ConsecutiveTargetMisses: s.ConsecutiveTargetMisses,
		MissThreshold:           s.MissThreshold,
		SuspensionReason:        s.SuspensionReason,
		SuspendedAt:             s.SuspendedAt,
		SuspensionCount:         s.SuspensionCount,
		EvaluatedThrough:        s.EvaluatedThrough.Format(time.DateOnly),
	}
}

func (h AccountHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now()
}

// Today handles GET /api/v1/engagement/today.
func (h AccountHandler) Today(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	status, err := h.Engagement.Daily(ctx, logging.UserIDFromContext(ctx), h.now())
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, dailyResponse{
		Day:            status.Day.Format(time.DateOnly),
		WatchedSeconds: status.WatchedSeconds,
		WatchedMinutes: status.WatchedMinutes,
		TargetMinutes:  status.TargetMinutes,
		MetTarget:      status.MetTarget,
		Standing:       newStandingResponse(status.Standing),
	})
}

// Status handles GET /api/v1/account/status.
func (h AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	standing, err := h.Engagement.Standing(ctx, logging.UserIDFromContext(ctx), h.now())
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	resp := newStandingResponse(standing)
	if h.Eligibility != nil {
		eligible, err := h.Eligibility.CanRequestPayout(ctx, logging.UserIDFromContext(ctx))
		if err != nil {
			respondDomainError(ctx, w, err)
			return
		}
		resp.PayoutEligible = &eligible
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}
