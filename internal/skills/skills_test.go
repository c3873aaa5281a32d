package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaakkos/koanctl/internal/worker"
)

func TestLooksLikeSkill(t *testing.T) {
	cases := []struct {
		text   string
		name   string
		wantOk bool
	}{
		{"/reflect on yesterday's run", "reflect", true},
		{"  /idea add dark mode", "idea", true},
		{"implement dark mode", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		name, ok := LooksLikeSkill(c.text)
		if ok != c.wantOk || name != c.name {
			t.Errorf("LooksLikeSkill(%q) = (%q, %v), want (%q, %v)", c.text, name, ok, c.name, c.wantOk)
		}
	}
}

func TestDispatch_NoRunnerFails(t *testing.T) {
	dir := t.TempDir()
	matched, _, err := Dispatch(context.Background(), worker.NewSignalState(), Registry{}, "/reflect today", dir,
		filepath.Join(dir, "out.log"), filepath.Join(dir, "err.log"))
	if !matched {
		t.Fatal("expected matched=true for a skill-shaped mission with no runner")
	}
	if !errors.Is(err, ErrNoRunner) {
		t.Errorf("err = %v, want ErrNoRunner", err)
	}
}

func TestDispatch_NonSkillMissionDoesNotMatch(t *testing.T) {
	dir := t.TempDir()
	matched, _, err := Dispatch(context.Background(), worker.NewSignalState(), Registry{}, "implement dark mode", dir,
		filepath.Join(dir, "out.log"), filepath.Join(dir, "err.log"))
	if matched {
		t.Fatal("expected matched=false for a non-skill mission")
	}
	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestDispatch_RunsRegisteredRunner(t *testing.T) {
	dir := t.TempDir()
	registry := Registry{"reflect": {"echo"}}
	matched, res, err := Dispatch(context.Background(), worker.NewSignalState(), registry, "/reflect today", dir,
		filepath.Join(dir, "out.log"), filepath.Join(dir, "err.log"))
	if !matched {
		t.Fatal("expected matched=true")
	}
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	data, readErr := os.ReadFile(filepath.Join(dir, "out.log"))
	if readErr != nil {
		t.Fatalf("read stdout: %v", readErr)
	}
	if string(data) == "" {
		t.Error("expected echo output in stdout file")
	}
}
