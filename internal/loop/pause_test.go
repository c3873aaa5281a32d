package loop

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/signalfile"
)

// S4 — quota-pause timestamp is future.
func TestScenario_QuotaPauseTimestampIsFuture(t *testing.T) {
	root := t.TempDir()
	l := &Loop{Paths: signalfile.NewPaths(root)}

	before := time.Now()
	resetAt := before.Add(defaultQuotaResetWindow)
	if err := l.createPause(domain.PauseReasonQuota, resetAt, "quota exhausted"); err != nil {
		t.Fatalf("createPause: %v", err)
	}

	if !signalfile.IsSet(l.Paths.Pause) {
		t.Fatal("expected pause signal to be set")
	}

	state, ok := signalfile.ReadPauseReason(l.Paths.PauseReason)
	if !ok {
		t.Fatal("expected a readable pause-reason file")
	}
	if state.Reason != domain.PauseReasonQuota {
		t.Errorf("Reason = %q, want quota", state.Reason)
	}

	wantAt := before.Add(5 * time.Hour)
	delta := state.ResumeAt.Sub(wantAt)
	if delta < -time.Second || delta > time.Second {
		t.Errorf("ResumeAt = %v, want within 1s of %v", state.ResumeAt, wantAt)
	}
}

func TestPausePath(t *testing.T) {
	root := t.TempDir()
	l := &Loop{Paths: signalfile.NewPaths(root)}
	if l.Paths.Pause != filepath.Join(root, ".koan-pause") {
		t.Errorf("Pause path = %q", l.Paths.Pause)
	}
}
