package planner

import (
	"time"

	"github.com/jaakkos/koanctl/internal/domain"
)

// AvailablePercent estimates the fraction of the session's quota still
// available, with a 10% safety margin folded in so the planner starts
// backing off before the worker CLI actually rejects a request.
func AvailablePercent(usage domain.UsageState, maxMissionsPerSession int, now time.Time) float64 {
	if maxMissionsPerSession <= 0 {
		return 1.0
	}
	if !usage.EstimatedResetAt.IsZero() && !now.Before(usage.EstimatedResetAt) {
		return 1.0
	}
	used := float64(usage.MissionCount) / float64(maxMissionsPerSession)
	available := 1.0 - used
	available -= 0.10 // safety margin
	if available < 0 {
		return 0
	}
	if available > 1 {
		return 1
	}
	return available
}

// RecordMissionRun increments the usage state's mission count, initializing
// SessionStart on first use.
func RecordMissionRun(usage domain.UsageState, now time.Time) domain.UsageState {
	if usage.SessionStart.IsZero() {
		usage.SessionStart = now
	}
	usage.MissionCount++
	return usage
}

// ResetIfDue clears the session's counters once the estimated reset time
// has passed, starting a fresh session.
func ResetIfDue(usage domain.UsageState, now time.Time) domain.UsageState {
	if usage.EstimatedResetAt.IsZero() || now.Before(usage.EstimatedResetAt) {
		return usage
	}
	return domain.UsageState{SessionStart: now}
}
