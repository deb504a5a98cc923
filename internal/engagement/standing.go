package engagement

import (
	"errors"
	"time"

	"github.com/watchearn/backend/internal/models"
)

// ErrAccountSuspended is returned by every earning mutation for a suspended user.
var ErrAccountSuspended = errors.New("account is suspended")

// SuspensionReasonMissedTarget is recorded when the miss streak reaches the threshold.
const SuspensionReasonMissedTarget = "missed daily engagement target"

// RequireActive guards earning mutations. Call it on the row locked by the
// mutating transaction.
func RequireActive(user models.User) error {
	if user.AccountStatus == models.AccountSuspended {
		return ErrAccountSuspended
	}
	return nil
}

// applyDay folds one finalised day into the user's standing and reports
// whether the day caused a suspension.
func applyDay(user *models.User, met bool, threshold int, now time.Time) bool {
	if met {
		user.ConsecutiveTargetMisses = 0
		return false
	}

	switch user.AccountStatus {
	case models.AccountActive:
		user.ConsecutiveTargetMisses++
		if user.ConsecutiveTargetMisses < threshold {
			return false
		}
		suspendedAt := now
		user.AccountStatus = models.AccountSuspended
		user.SuspensionReason = SuspensionReasonMissedTarget
		user.SuspendedAt = &suspendedAt
		user.SuspensionCount++
		user.ConsecutiveTargetMisses = 0
		return true
	case models.AccountSuspended:
		// Only a verified reactivation leaves this state.
		return false
	}
	return false
}

// Reactivate is the only suspended to active transition. Today is treated as
// already evaluated so the rest of the reactivation day cannot count as a miss.
func Reactivate(user *models.User, today, now time.Time) bool {
	if user.AccountStatus != models.AccountSuspended {
		return false
	}
	user.AccountStatus = models.AccountActive
	user.SuspensionReason = ""
	user.SuspendedAt = nil
	user.ConsecutiveTargetMisses = 0
	if user.EvaluatedThrough.Before(today) {
		user.EvaluatedThrough = today
	}
	user.UpdatedAt = now
	return true
}

// Standing summarises a user's account state.
type Standing struct {
	UserID                  string
	Status                  models.AccountStatus
	ConsecutiveTargetMisses int
	MissThreshold           int
	SuspensionReason        string
	SuspendedAt             *time.Time
	SuspensionCount         int
	EvaluatedThrough        time.Time
}

func standingOf(user models.User, threshold int) Standing {
	return Standing{
		UserID:                  user.ID,
		Status:                  user.AccountStatus,
		ConsecutiveTargetMisses: user.ConsecutiveTargetMisses,
		MissThreshold:           threshold,
		SuspensionReason:        user.SuspensionReason,
		SuspendedAt:             user.SuspendedAt,
		SuspensionCount:         user.SuspensionCount,
		EvaluatedThrough:        user.EvaluatedThrough,
	}
}
