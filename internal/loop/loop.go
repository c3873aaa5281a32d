// Package loop implements the agent loop: the top-level scheduler that
// plans each iteration, spawns the worker CLI under double-tap interrupt
// protection, runs the post-mission pipeline, and recovers from both
// iteration-level and process-level crashes with bounded backoff.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jaakkos/koanctl/internal/config"
	"github.com/jaakkos/koanctl/internal/dedupe"
	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/fsutil"
	"github.com/jaakkos/koanctl/internal/gitsync"
	"github.com/jaakkos/koanctl/internal/missions"
	"github.com/jaakkos/koanctl/internal/outbox"
	"github.com/jaakkos/koanctl/internal/planner"
	"github.com/jaakkos/koanctl/internal/signalfile"
	"github.com/jaakkos/koanctl/internal/skills"
	"github.com/jaakkos/koanctl/internal/worker"
)

// RestartExitCode is returned by Run when the restart signal file asks the
// process-level wrapper to re-exec.
const RestartExitCode = 42

// Collaborator is one of the best-effort startup checks (crash recovery,
// sanity checks, memory cleanup, health checks, self-reflection trigger,
// git sync, daily report, morning ritual). A failing collaborator is
// logged and does not block startup.
type Collaborator struct {
	Name string
	Run  func(ctx context.Context, l *Loop) error
}

// QuotaPredicate inspects a worker invocation's combined stdout+stderr and
// reports whether it signals quota exhaustion. The concrete phrases a
// worker CLI uses for this are opaque to the core, hence the injection
// point.
type QuotaPredicate func(combinedOutput string) bool

// SchedulePredicate reports whether now falls inside allowed working
// hours; nil means "always allowed".
type SchedulePredicate func(now time.Time) bool

// Loop owns every piece of shared state the agent loop reads or writes,
// wired together once at startup and reused across iterations.
type Loop struct {
	Cfg   *config.Config
	Paths signalfile.Paths

	Missions *missions.Store
	Outbox   *outbox.Outbox
	Journal  *outbox.Journal
	History  *dedupe.History
	Sender   outbox.Sender

	WorkerState *worker.SignalState
	Watcher     *MissionWatcher
	Repos       map[string]*gitsync.Repo
	SkillRunner skills.Registry

	QuotaExceeded QuotaPredicate
	Schedule      SchedulePredicate
	Focus         *planner.FocusState

	Collaborators []Collaborator

	Logger *log.Logger
	Rand   *rand.Rand

	instanceDir       string
	usagePath         string
	startTime         time.Time
	lastProject       string
	runNumber         int
	consecutiveErrors int
	runsSinceSync     int
	usage             domain.UsageState
	pidLock           *signalfile.PIDLock
}

// New wires a Loop from cfg and opens the mission-attempt history
// database, creating the instance directory and database file if needed.
// Call Startup to acquire locks and run collaborators.
func New(cfg *config.Config) (*Loop, error) {
	instanceDir := filepath.Join(cfg.Root, cfg.Instance)

	repos := make(map[string]*gitsync.Repo, len(cfg.Projects))
	for _, p := range cfg.Projects {
		repos[p.Name] = gitsync.New(p.Path)
	}

	l := &Loop{
		Cfg:           cfg,
		Paths:         signalfile.NewPaths(cfg.Root),
		Missions:      missions.NewStore(filepath.Join(instanceDir, "missions.md")),
		Outbox:        outbox.New(filepath.Join(instanceDir, "outbox.md")),
		Journal:       outbox.NewJournal(filepath.Join(instanceDir, "journal")),
		WorkerState:   worker.NewSignalState(),
		Watcher:       NewMissionWatcher(filepath.Join(instanceDir, "missions.md")),
		Repos:         repos,
		SkillRunner:   cfg.Skills,
		QuotaExceeded: defaultQuotaPredicate,
		Logger:        log.New(os.Stderr, "koan-loop: ", log.LstdFlags),
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		instanceDir:   instanceDir,
		usagePath:     filepath.Join(instanceDir, "usage_state.json"),
	}

	history, err := dedupe.Open(filepath.Join(instanceDir, "mission_history.db"))
	if err != nil {
		return nil, fmt.Errorf("loop: open mission history: %w", err)
	}
	l.History = history

	return l, nil
}

func (l *Loop) logf(format string, args ...any) {
	l.Logger.Printf(format, args...)
}

// notify appends message to the outbox for the bridge to relay, logging
// (but not failing the caller) on error.
func (l *Loop) notify(message string) {
	if err := l.Outbox.Append(message); err != nil {
		l.logf("notify: append outbox: %v", err)
	}
}

func (l *Loop) loadUsage() domain.UsageState {
	data, err := os.ReadFile(l.usagePath)
	if err != nil {
		return domain.UsageState{}
	}
	var u domain.UsageState
	if err := json.Unmarshal(data, &u); err != nil {
		return domain.UsageState{}
	}
	return u
}

func (l *Loop) saveUsage(u domain.UsageState) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("loop: marshal usage state: %w", err)
	}
	return fsutil.AtomicWrite(l.usagePath, data, 0o644)
}

// projectNames returns the configured project roster in order.
func (l *Loop) projectNames() []string {
	names := make([]string, len(l.Cfg.Projects))
	for i, p := range l.Cfg.Projects {
		names[i] = p.Name
	}
	return names
}

func (l *Loop) projectPath(name string) string {
	if p, ok := l.Cfg.ProjectByName(name); ok {
		return p.Path
	}
	return l.Cfg.Root
}

// Run is the process-level wrapper: it re-enters RunInner whenever it
// exits with RestartExitCode, and applies bounded backoff across crashes
// up to Cfg.Loop.MaxMainCrashes. It returns the exit code the process
// should use.
func (l *Loop) Run(ctx context.Context) int {
	crashes := 0
	for {
		code, err := l.runInnerRecovered(ctx)
		if err == nil {
			if code == RestartExitCode {
				l.logf("restart requested, re-entering inner loop")
				continue
			}
			return code
		}

		if errors.Is(err, ErrConfig) {
			l.logf("aborting at startup: %v", err)
			return 1
		}

		crashes++
		l.logf("main loop crashed (%d/%d): %v", crashes, l.Cfg.Loop.MaxMainCrashes, err)
		if crashes >= l.Cfg.Loop.MaxMainCrashes {
			l.logf("giving up after %d main crashes", crashes)
			return 1
		}
		backoff := time.Duration(min(10*crashes, 60)) * time.Second
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(backoff):
		}
	}
}

// runInnerRecovered runs RunInner, converting a panic into an error so Run
// can apply the same crash-counting backoff it applies to an ordinary
// returned error.
func (l *Loop) runInnerRecovered(ctx context.Context) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.RunInner(ctx)
}
