package bridge

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaakkos/koanctl/internal/commands"
	"github.com/jaakkos/koanctl/internal/outbox"
	"github.com/jaakkos/koanctl/internal/skills"
	"github.com/jaakkos/koanctl/internal/worker"
)

func newTestBridge(t *testing.T, registry skills.Registry) *Bridge {
	t.Helper()
	dir := t.TempDir()
	return &Bridge{
		Outbox:      outbox.New(filepath.Join(dir, "outbox.md")),
		Cmds:        &commands.Context{},
		SkillRunner: registry,
		workerSt:    worker.NewSignalState(),
		instanceDir: dir,
		Logger:      log.New(io.Discard, "", 0),
	}
}

func readOutbox(t *testing.T, b *Bridge) string {
	t.Helper()
	data, err := os.ReadFile(b.Outbox.Path)
	if err != nil {
		return ""
	}
	return string(data)
}

func TestHandleMessage_IdeaFallsBackToSkillRunner(t *testing.T) {
	b := newTestBridge(t, skills.Registry{"idea": {"echo"}})
	b.handleMessage(context.Background(), "/idea dark mode toggle")

	got := readOutbox(t, b)
	if got != "/idea done.\n" {
		t.Errorf("outbox = %q, want %q", got, "/idea done.\n")
	}
}

func TestHandleMessage_ReflectFallsBackToSkillRunner(t *testing.T) {
	b := newTestBridge(t, skills.Registry{"reflect": {"echo"}})
	b.handleMessage(context.Background(), "/reflect on yesterday")

	got := readOutbox(t, b)
	if got != "/reflect done.\n" {
		t.Errorf("outbox = %q, want %q", got, "/reflect done.\n")
	}
}

func TestHandleMessage_SkillShapedCommandWithNoRunnerReportsError(t *testing.T) {
	b := newTestBridge(t, skills.Registry{})
	b.handleMessage(context.Background(), "/idea dark mode toggle")

	got := readOutbox(t, b)
	if got == "" {
		t.Fatal("expected an outbox reply")
	}
	if got == "/idea done.\n" {
		t.Errorf("expected an error reply for an unregistered skill, got success")
	}
}

func TestHandleSkillCommand_NonSkillShapedTextRepliesUnknown(t *testing.T) {
	b := newTestBridge(t, skills.Registry{})
	b.handleSkillCommand(context.Background(), "", "")

	got := readOutbox(t, b)
	if got != "unknown command: /\n" {
		t.Errorf("outbox = %q, want %q", got, "unknown command: /\n")
	}
}
