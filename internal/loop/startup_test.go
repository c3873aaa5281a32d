package loop

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/jaakkos/koanctl/internal/config"
)

func TestValidateEnvironment_MissingRootIsConfigError(t *testing.T) {
	l := &Loop{Cfg: &config.Config{}, Logger: log.New(io.Discard, "", 0)}
	err := l.validateEnvironment()
	if err == nil {
		t.Fatal("expected an error for a missing root")
	}
	if !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want wrapped ErrConfig", err)
	}
}

func TestRun_AbortsImmediatelyOnConfigError(t *testing.T) {
	l := &Loop{
		Cfg: &config.Config{
			Root: "",
			Loop: &config.LoopConfig{MaxMainCrashes: 5},
		},
		Logger: log.New(io.Discard, "", 0),
	}

	start := time.Now()
	code := l.Run(context.Background())
	elapsed := time.Since(start)

	if code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Run took %v, want an immediate abort with no crash backoff", elapsed)
	}
}
