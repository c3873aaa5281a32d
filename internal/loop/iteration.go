package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/koanctl/internal/dedupe"
	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/planner"
	"github.com/jaakkos/koanctl/internal/signalfile"
	"github.com/jaakkos/koanctl/internal/skills"
	"github.com/jaakkos/koanctl/internal/worker"
)

// iterationOutcome tells RunInner whether to keep looping, stop cleanly,
// or restart with RestartExitCode.
type iterationOutcome int

const (
	outcomeContinue iterationOutcome = iota
	outcomeStop
	outcomeRestart
)

// RunInner is the supervised scheduling loop: Startup, then iterate until
// stop/restart is requested or ctx is cancelled. Reaching
// MaxConsecutiveErrors pauses the loop rather than ending it.
func (l *Loop) RunInner(ctx context.Context) (int, error) {
	if err := l.Startup(ctx); err != nil {
		return 1, err
	}
	defer l.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return 0, nil
		default:
		}

		outcome, err := l.runIterationRecovered(ctx)
		switch outcome {
		case outcomeStop:
			return 0, nil
		case outcomeRestart:
			return RestartExitCode, nil
		}
		if err != nil {
			return 1, err
		}
	}
}

// runIterationRecovered wraps runIteration with the iteration-level crash
// recovery policy: log, notify on the 1st and every 5th error, pause after
// MaxConsecutiveErrors, otherwise back off and keep looping.
func (l *Loop) runIterationRecovered(ctx context.Context) (iterationOutcome, error) {
	outcome, err := l.safeRunIteration(ctx)
	if err == nil {
		l.consecutiveErrors = 0
		return outcome, nil
	}

	l.consecutiveErrors++
	n := l.consecutiveErrors
	l.logf("iteration %d failed (%d consecutive): %v", l.runNumber, n, err)
	_ = signalfile.WriteText(l.Paths.Status, fmt.Sprintf("error: %v", err))

	if n == 1 || n%5 == 0 {
		l.notify(fmt.Sprintf("⚠️ iteration error (%d consecutive): %v", n, err))
	}

	if n >= l.Cfg.Loop.MaxConsecutiveErrors {
		l.notify(fmt.Sprintf("pausing after %d consecutive errors", n))
		if perr := l.createPause(domain.PauseReasonErrors, time.Time{}, "too many consecutive errors"); perr != nil {
			l.logf("create pause after errors: %v", perr)
		}
		return outcomeContinue, nil
	}

	backoff := time.Duration(min(10*n, 300)) * time.Second
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
	return outcomeContinue, nil
}

func (l *Loop) safeRunIteration(ctx context.Context) (outcome iterationOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.runIteration(ctx)
}

func (l *Loop) runIteration(ctx context.Context) (iterationOutcome, error) {
	if signalfile.IsSet(l.Paths.Stop) {
		l.notify("stopping: stop signal received")
		return outcomeStop, nil
	}

	if info, err := os.Stat(l.Paths.Restart); err == nil && info.ModTime().After(l.startTime) {
		l.notify("restarting: restart signal received")
		return outcomeRestart, nil
	}

	if signalfile.IsSet(l.Paths.Pause) {
		action := l.pauseHandler(ctx)
		switch action {
		case pauseActionStop:
			return outcomeStop, nil
		case pauseActionRestart:
			return outcomeRestart, nil
		}
		return outcomeContinue, nil
	}

	l.runNumber++
	l.usage = planner.ResetIfDue(l.usage, time.Now())

	content, err := l.Missions.Read()
	if err != nil {
		return outcomeContinue, fmt.Errorf("read missions: %w", err)
	}

	decision := planner.Plan(planner.Input{
		Now:               time.Now(),
		RunNumber:         l.runNumber,
		MaxRunsPerIter:    l.Cfg.Loop.MaxRunsPerIteration,
		Projects:          l.projectNames(),
		LastProject:       l.lastProject,
		MissionsContent:   content,
		Usage:             l.usage,
		MaxMissionsPerRun: l.Cfg.Loop.MaxRunsPerIteration,
		Focus:             l.Focus,
		Schedule:          planner.SchedulePredicate(l.Schedule),
		Rand:              l.Rand,
	})

	if len(decision.DisplayLines) > 0 {
		_ = signalfile.WriteText(l.Paths.Status, strings.Join(decision.DisplayLines, " | "))
	}

	switch decision.Kind {
	case planner.KindError:
		return outcomeContinue, fmt.Errorf("planner: %s", decision.ErrorMessage)

	case planner.KindContemplative:
		l.runContemplative(ctx, decision.Project)
		l.sleepInterruptibly(ctx, l.iterationInterval())
		return outcomeContinue, nil

	case planner.KindFocusWait:
		l.sleepInterruptibly(ctx, decision.WaitRemaining)
		return outcomeContinue, nil

	case planner.KindScheduleWait:
		l.sleepInterruptibly(ctx, l.iterationInterval())
		return outcomeContinue, nil

	case planner.KindWaitPause:
		l.runContemplative(ctx, l.lastProject)
		resetAt := time.Now().Add(l.quotaResetWindow())
		if err := l.createPause(domain.PauseReasonQuota, resetAt, "quota exhausted"); err != nil {
			l.logf("create quota pause: %v", err)
		}
		l.notify(fmt.Sprintf("⏸ pausing for quota, resuming around %s", resetAt.Format(time.RFC3339)))
		return outcomeContinue, nil

	case planner.KindMission, planner.KindAutonomous:
		l.runMissionOrAutonomous(ctx, decision)
		if l.runNumber >= l.Cfg.Loop.MaxRunsPerIteration {
			l.runEveningRitual(ctx)
			if err := l.createPause(domain.PauseReasonMaxRuns, time.Time{}, "run ceiling reached"); err != nil {
				l.logf("create max-runs pause: %v", err)
			}
		}
		return outcomeContinue, nil
	}

	return outcomeContinue, nil
}

// runMissionOrAutonomous is the main per-iteration path: dedup guard,
// optional skill dispatch, mission start, worker invocation, finalize,
// post-mission pipeline.
func (l *Loop) runMissionOrAutonomous(ctx context.Context, decision planner.Decision) {
	l.lastProject = decision.Project
	title := decision.MissionTitle
	if decision.Kind == planner.KindAutonomous {
		title = fmt.Sprintf("[project:%s] autonomous %s session", decision.Project, decision.AutonomousMode)
	}

	if decision.Kind == planner.KindMission {
		attempts, err := l.History.RecordAttempt(title)
		if err != nil {
			l.logf("dedup record attempt: %v", err)
		} else if attempts > dedupe.DefaultMaxAttempts {
			l.failMission(title, "exceeded retry limit")
			l.commitInstanceDir()
			return
		}
	}

	cwd := l.projectPath(decision.Project)
	stdoutPath := filepath.Join(l.instanceDir, "journal", "last-worker-stdout.log")
	stderrPath := filepath.Join(l.instanceDir, "journal", "last-worker-stderr.log")

	if decision.Kind == planner.KindMission {
		matched, result, err := skills.Dispatch(ctx, l.WorkerState, l.SkillRunner, title, cwd, stdoutPath, stderrPath)
		if matched {
			l.finalizeSkillMission(title, result, err)
			l.commitInstanceDir()
			return
		}
	}

	if decision.Kind == planner.KindMission {
		if err := l.Missions.StartMission(title); err != nil {
			l.logf("start mission: %v", err)
		}
	}
	if err := l.Journal.StartPending(title); err != nil {
		l.logf("start pending journal: %v", err)
	}

	h := l.WorkerState.EnterPhase("worker")
	runCtx, cancel := context.WithTimeout(ctx, l.Cfg.WorkerTimeout())
	result, err := RunWorker(runCtx, l, decision, cwd, stdoutPath, stderrPath)
	cancel()
	h.Exit()

	success := err == nil && result.ExitCode == 0 && !result.Aborted
	if decision.Kind == planner.KindMission {
		if success {
			_ = l.Missions.CompleteMission(title)
		} else {
			l.failMission(title, fmt.Sprintf("exit %d", result.ExitCode))
		}
	}

	l.postMissionPipeline(ctx, decision, cwd, stdoutPath, stderrPath, success)
}

// RunWorker builds and executes the worker command for decision. Declared
// as a package-level var so tests can stub it without a real worker CLI.
var RunWorker = defaultRunWorker

func defaultRunWorker(ctx context.Context, l *Loop, decision planner.Decision, cwd, stdoutPath, stderrPath string) (worker.Result, error) {
	cmd := append([]string{}, l.Cfg.Worker.Command...)
	prompt := decision.MissionTitle
	if decision.Kind == planner.KindAutonomous {
		prompt = fmt.Sprintf("autonomous %s session for %s, focus: %s", decision.AutonomousMode, decision.Project, decision.FocusArea)
	}
	cmd = append(cmd, prompt)
	return runWorkerCmd(ctx, l, cmd, cwd, stdoutPath, stderrPath)
}

func (l *Loop) failMission(title, reason string) {
	if err := l.Missions.FailMission(title); err != nil {
		l.logf("fail mission: %v", err)
	}
	l.notify(fmt.Sprintf("❌ %s (%s)", title, reason))
}

func (l *Loop) finalizeSkillMission(title string, result worker.Result, err error) {
	if err == nil && result.ExitCode == 0 {
		if serr := l.Missions.CompleteMission(title); serr != nil {
			l.logf("complete skill mission: %v", serr)
		}
		l.notify(fmt.Sprintf("✅ %s", title))
		return
	}
	reason := "skill dispatch failed"
	if err != nil {
		reason = err.Error()
	}
	l.failMission(title, reason)
}

// postMissionPipeline refreshes the usage estimate, archives pending.md,
// checks for quota exhaustion (pausing with a future reset time if so),
// runs an optional reflection, checks for auto-merge, notifies the
// result, and commits the instance directory.
func (l *Loop) postMissionPipeline(ctx context.Context, decision planner.Decision, cwd, stdoutPath, stderrPath string, success bool) {
	l.usage = planner.RecordMissionRun(l.usage, time.Now())
	if err := l.saveUsage(l.usage); err != nil {
		l.logf("save usage state: %v", err)
	}

	if _, err := l.Journal.ArchivePending(decision.Project); err != nil {
		l.logf("archive pending journal: %v", err)
	}

	if l.QuotaExceeded != nil && l.quotaExceededInOutput(stdoutPath, stderrPath) {
		resetAt := time.Now().Add(l.quotaResetWindow())
		if err := l.createPause(domain.PauseReasonQuota, resetAt, "quota exhausted mid-mission"); err != nil {
			l.logf("create quota pause: %v", err)
		}
		l.notify(fmt.Sprintf("⏸ quota exhausted, resuming around %s", resetAt.Format(time.RFC3339)))
		l.commitInstanceDir()
		return
	}

	if l.Rand.Float64() < reflectionChance {
		l.runContemplative(ctx, decision.Project)
	}

	if repo, ok := l.Repos[decision.Project]; ok && l.Cfg.GitSync != nil && l.Cfg.GitSync.Enabled {
		if results, err := repo.AutoMerge(l.Cfg.GitSync.AutoMergePrefix, "main"); err != nil {
			l.logf("auto-merge %s: %v", decision.Project, err)
		} else {
			for _, r := range results {
				if r.Error != nil {
					l.logf("auto-merge branch %s: %v", r.Branch, r.Error)
				}
			}
		}
	}

	if success {
		l.notify(fmt.Sprintf("✅ %s", decision.MissionTitle))
	} else {
		l.notify(fmt.Sprintf("❌ %s", decision.MissionTitle))
	}

	l.commitInstanceDir()

	l.runsSinceSync++
	if l.Cfg.GitSync != nil && l.Cfg.GitSync.Enabled && l.runsSinceSync >= l.Cfg.GitSync.SyncIntervalRuns {
		l.runsSinceSync = 0
		l.syncAllProjects()
	}
}

// quotaExceededInOutput scans the worker's combined stdout+stderr with the
// injected QuotaPredicate.
func (l *Loop) quotaExceededInOutput(stdoutPath, stderrPath string) bool {
	out, _ := os.ReadFile(stdoutPath)
	errOut, _ := os.ReadFile(stderrPath)
	return l.QuotaExceeded(string(out) + "\n" + string(errOut))
}

func (l *Loop) syncAllProjects() {
	for name, repo := range l.Repos {
		if err := repo.Sync(l.Cfg.GitSync.RemoteName); err != nil {
			l.logf("git sync %s: %v", name, err)
		}
	}
}

func (l *Loop) commitInstanceDir() {
	repo := gitsyncRepoFor(l.instanceDir)
	if repo == nil || !repo.IsRepo() {
		return
	}
	if err := repo.CommitAll(fmt.Sprintf("koan: instance state %s", time.Now().UTC().Format(time.RFC3339))); err != nil {
		l.logf("commit instance dir: %v", err)
	}
}

func (l *Loop) runContemplative(ctx context.Context, project string) {
	if project == "" {
		return
	}
	cwd := l.projectPath(project)
	stdoutPath := filepath.Join(l.instanceDir, "journal", "contemplative-stdout.log")
	stderrPath := filepath.Join(l.instanceDir, "journal", "contemplative-stderr.log")

	h := l.WorkerState.EnterPhase("contemplative")
	runCtx, cancel := context.WithTimeout(ctx, contemplativeTimeout)
	cmd := append([]string{}, l.Cfg.Worker.Command...)
	cmd = append(cmd, fmt.Sprintf("read-only reflection session for %s", project))
	if _, err := runWorkerCmd(runCtx, l, cmd, cwd, stdoutPath, stderrPath); err != nil {
		l.logf("contemplative session: %v", err)
	}
	cancel()
	h.Exit()

	if _, err := l.Journal.ArchivePending(project); err != nil {
		l.logf("archive contemplative pending: %v", err)
	}
}

func (l *Loop) runEveningRitual(ctx context.Context) {
	for _, c := range l.Collaborators {
		if c.Name != "evening_ritual" {
			continue
		}
		if err := c.Run(ctx, l); err != nil {
			l.logf("evening ritual: %v", err)
		}
	}
}

// sleepInterruptibly sleeps up to d, waking early on stop/restart/pause or
// a new pending mission.
func (l *Loop) sleepInterruptibly(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if signalfile.IsSet(l.Paths.Stop) || signalfile.IsSet(l.Paths.Restart) || signalfile.IsSet(l.Paths.Pause) {
			return
		}
		tick := remaining
		if tick > 5*time.Second {
			tick = 5 * time.Second
		}
		if l.Watcher.WaitForChangeOrTimeout(ctx, tick) {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (l *Loop) iterationInterval() time.Duration {
	if l.Cfg.Loop.BackoffBaseSeconds > 0 {
		return time.Duration(l.Cfg.Loop.BackoffBaseSeconds) * time.Second
	}
	return 30 * time.Second
}

func (l *Loop) quotaResetWindow() time.Duration {
	return defaultQuotaResetWindow
}

const (
	contemplativeTimeout    = 10 * time.Minute
	reflectionChance        = 0.1
	defaultQuotaResetWindow = 5 * time.Hour
)
