package loop

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/signalfile"
)

// pauseAction is what the pause handler wants the caller to do next.
type pauseAction int

const (
	pauseActionContinue pauseAction = iota
	pauseActionStop
	pauseActionRestart
)

// pauseSleepStep is the granularity of the pause handler's wait, so it can
// notice resume/restart/stop promptly.
const pauseSleepStep = 5 * time.Second

// pauseSleepTotal bounds how long one call to pauseHandler blocks before
// returning control to the iteration loop for another pass.
const pauseSleepTotal = 5 * time.Minute

// createPause writes the pause and pause-reason signal files together.
func (l *Loop) createPause(reason domain.PauseReason, resumeAt time.Time, note string) error {
	if err := signalfile.Set(l.Paths.Pause); err != nil {
		return fmt.Errorf("loop: set pause signal: %w", err)
	}
	return signalfile.WritePauseReason(l.Paths.PauseReason, domain.PauseState{
		Reason:   reason,
		ResumeAt: resumeAt,
		Note:     note,
	})
}

// pauseHandler writes paused status, checks the auto-resume condition, and
// otherwise spends up to pauseSleepTotal idling (occasionally running a
// contemplative session) before returning control to the caller.
func (l *Loop) pauseHandler(ctx context.Context) pauseAction {
	_ = signalfile.WriteText(l.Paths.Status, "paused")

	state, ok := signalfile.ReadPauseReason(l.Paths.PauseReason)
	if ok && signalfile.IsResumable(state, time.Now()) {
		l.resumeFromPause(state)
		return pauseActionContinue
	}

	inFocus := l.Focus != nil && l.Focus.Remaining > 0
	if !inFocus && l.Rand.Float64() < 0.5 {
		l.runContemplative(ctx, l.lastProject)
	}

	elapsed := time.Duration(0)
	for elapsed < pauseSleepTotal {
		select {
		case <-ctx.Done():
			return pauseActionStop
		case <-time.After(pauseSleepStep):
		}
		elapsed += pauseSleepStep

		if signalfile.IsSet(l.Paths.Stop) {
			return pauseActionStop
		}
		if info, err := os.Stat(l.Paths.Restart); err == nil && info.ModTime().After(l.startTime) {
			return pauseActionRestart
		}
		if !signalfile.IsSet(l.Paths.Pause) {
			return pauseActionContinue
		}
		if state, ok := signalfile.ReadPauseReason(l.Paths.PauseReason); ok && signalfile.IsResumable(state, time.Now()) {
			l.resumeFromPause(state)
			return pauseActionContinue
		}
	}
	return pauseActionContinue
}

// resumeFromPause clears the pause signals and resets usage session
// counters so a stale usage estimate does not trigger an immediate
// re-pause.
func (l *Loop) resumeFromPause(state domain.PauseState) {
	_ = signalfile.Clear(l.Paths.Pause)
	_ = signalfile.Clear(l.Paths.PauseReason)
	l.usage = domain.UsageState{SessionStart: time.Now()}
	_ = l.saveUsage(l.usage)
	l.notify(fmt.Sprintf("▶️ resumed (was paused: %s)", state.Reason))
}
