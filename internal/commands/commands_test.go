package commands

import (
	"path/filepath"
	"testing"

	"github.com/jaakkos/koanctl/internal/chathistory"
	"github.com/jaakkos/koanctl/internal/config"
	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/missions"
	"github.com/jaakkos/koanctl/internal/signalfile"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	dir := t.TempDir()
	store := missions.NewStore(filepath.Join(dir, "missions.md"))
	if _, err := store.Mutate(func(string) (string, any, error) {
		return missions.DefaultSkeleton, nil, nil
	}); err != nil {
		t.Fatalf("seed missions: %v", err)
	}
	return &Context{
		Cfg:      &config.Config{Root: dir, Projects: []config.Project{{Name: "koan", Path: dir}}},
		Paths:    signalfile.NewPaths(dir),
		Missions: store,
		History:  chathistory.Open(filepath.Join(dir, "telegram-history.jsonl")),
	}
}

func TestHandleStop_SetsSignal(t *testing.T) {
	ctx := newTestContext(t)
	if _, err := handleStop(ctx, ""); err != nil {
		t.Fatalf("handleStop: %v", err)
	}
	if !signalfile.IsSet(ctx.Paths.Stop) {
		t.Fatal("expected stop signal to be set")
	}
}

func TestHandlePause_RefusesWhenAlreadyPaused(t *testing.T) {
	ctx := newTestContext(t)
	if _, err := handlePause(ctx, ""); err != nil {
		t.Fatalf("first pause: %v", err)
	}
	reply, err := handlePause(ctx, "")
	if err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if reply != "Already paused." {
		t.Errorf("reply = %q, want already-paused message", reply)
	}
}

func TestHandleResume_ReportsQuotaReason(t *testing.T) {
	ctx := newTestContext(t)
	if err := signalfile.Set(ctx.Paths.Pause); err != nil {
		t.Fatalf("set pause: %v", err)
	}
	if err := signalfile.WritePauseReason(ctx.Paths.PauseReason, domain.PauseState{Reason: domain.PauseReasonQuota}); err != nil {
		t.Fatalf("write pause reason: %v", err)
	}

	reply, err := handleResume(ctx, "")
	if err != nil {
		t.Fatalf("handleResume: %v", err)
	}
	if reply == "Resumed." {
		t.Error("expected reply to mention the quota reason")
	}
	if signalfile.IsSet(ctx.Paths.Pause) {
		t.Error("expected pause signal cleared")
	}
}

func TestHandleMission_QueuesEntry(t *testing.T) {
	ctx := newTestContext(t)
	reply, err := handleMission(ctx, "fix the login flow")
	if err != nil {
		t.Fatalf("handleMission: %v", err)
	}
	if reply != "Mission queued." {
		t.Errorf("reply = %q", reply)
	}
	content, err := ctx.Missions.Read()
	if err != nil {
		t.Fatalf("read missions: %v", err)
	}
	sections := missions.ParseSections(content)
	if len(sections["pending"]) != 1 {
		t.Fatalf("expected 1 pending mission, got %d", len(sections["pending"]))
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	ctx := newTestContext(t)
	_, ok, err := Dispatch(ctx, "nonexistent", "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown command")
	}
}
