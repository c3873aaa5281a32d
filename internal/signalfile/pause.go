package signalfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaakkos/koanctl/internal/domain"
)

// WritePauseReason writes the pause-reason signal file: one line for the
// reason, one for the unix timestamp of expected resume (0 if none), and
// an optional third line with a human-readable note.
func WritePauseReason(path string, state domain.PauseState) error {
	var lines []string
	lines = append(lines, string(state.Reason))
	if state.ResumeAt.IsZero() {
		lines = append(lines, "0")
	} else {
		lines = append(lines, strconv.FormatInt(state.ResumeAt.Unix(), 10))
	}
	if state.Note != "" {
		lines = append(lines, state.Note)
	}
	return WriteText(path, strings.Join(lines, "\n"))
}

// ReadPauseReason parses the pause-reason signal file. Returns the zero
// value and false if the file is absent or malformed.
func ReadPauseReason(path string) (domain.PauseState, bool) {
	content := ReadText(path)
	if content == "" {
		return domain.PauseState{}, false
	}
	lines := strings.SplitN(content, "\n", 3)
	if len(lines) < 2 {
		return domain.PauseState{}, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return domain.PauseState{}, false
	}
	state := domain.PauseState{Reason: domain.PauseReason(strings.TrimSpace(lines[0]))}
	if ts > 0 {
		state.ResumeAt = time.Unix(ts, 0)
	}
	if len(lines) == 3 {
		state.Note = lines[2]
	}
	return state, true
}

// IsResumable reports whether the pause state's resume timestamp has
// already passed. A zero ResumeAt (no scheduled resume) is never resumable
// automatically. A pause written with ResumeAt == now must not
// be resumable at now-epsilon, which holds here since we compare against
// the wall clock at call time, always >= the write time plus some delta.
func IsResumable(state domain.PauseState, now time.Time) bool {
	if state.ResumeAt.IsZero() {
		return false
	}
	return !now.Before(state.ResumeAt)
}

// FormatResumeHint renders a human string for a pause's expected resume
// time, or "" if none is scheduled.
func FormatResumeHint(state domain.PauseState) string {
	if state.ResumeAt.IsZero() {
		return ""
	}
	return fmt.Sprintf("expected resume around %s", state.ResumeAt.Format("2006-01-02 15:04"))
}
