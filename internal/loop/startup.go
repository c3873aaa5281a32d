package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jaakkos/koanctl/internal/signalfile"
)

// ErrConfig wraps a fatal misconfiguration found during startup validation
// (missing root directory, etc). It is distinct from a process crash: Run
// aborts immediately with exit 1 on ErrConfig instead of spending a
// crash-retry cycle on it.
var ErrConfig = errors.New("loop: configuration error")

// Startup validates the environment, acquires the run PID file, clears a
// stale stop signal left by a previous session, writes initial project
// state, and runs every registered startup collaborator. Collaborator
// failures are logged and do not abort startup.
func (l *Loop) Startup(ctx context.Context) error {
	if err := l.validateEnvironment(); err != nil {
		return err
	}

	lock, err := signalfile.AcquirePIDFile(l.Cfg.Root, "run")
	if err != nil {
		return fmt.Errorf("loop: startup: %w", err)
	}
	l.pidLock = lock

	if err := signalfile.Clear(l.Paths.Stop); err != nil {
		l.logf("clear stale stop signal: %v", err)
	}

	l.startTime = time.Now()
	l.usage = l.loadUsage()
	_ = signalfile.WriteText(l.Paths.Status, "starting")
	if l.lastProject == "" && len(l.Cfg.Projects) > 0 {
		l.lastProject = l.Cfg.Projects[0].Name
	}
	_ = signalfile.WriteText(l.Paths.Project, l.lastProject)

	h := l.WorkerState.EnterPhase("startup")
	defer h.Exit()

	for _, c := range l.Collaborators {
		if err := c.Run(ctx, l); err != nil {
			l.logf("startup collaborator %q failed: %v", c.Name, err)
		}
	}

	l.notify(fmt.Sprintf("koan loop started (pid %d)", os.Getpid()))
	return nil
}

// Shutdown releases the run PID file and closes the dedup history
// database. Safe to call even if Startup failed partway through.
func (l *Loop) Shutdown() {
	if l.pidLock != nil {
		l.pidLock.Release()
	}
	if l.History != nil {
		_ = l.History.Close()
	}
}

func (l *Loop) validateEnvironment() error {
	if l.Cfg.Root == "" {
		return fmt.Errorf("%w: no koan root configured", ErrConfig)
	}
	if info, err := os.Stat(l.Cfg.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: koan root %s does not exist", ErrConfig, l.Cfg.Root)
	}
	if err := os.MkdirAll(l.instanceDir, 0o755); err != nil {
		return fmt.Errorf("%w: instance directory %s: %w", ErrConfig, l.instanceDir, err)
	}
	return nil
}
