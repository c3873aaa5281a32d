// Package worker runs the worker CLI as a child process, isolated from the
// supervisor's own interrupt handling via a process group, and implements
// the double-tap Ctrl-C pattern: the first interrupt during a protected
// phase only warns, a second within a short window aborts the child.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// AbortTimeout is how long a second interrupt has to arrive after the
// first one for it to count as a confirmed abort.
const AbortTimeout = 10 * time.Second

// killGrace is how long Terminate is given to take effect before Kill.
const killGrace = 5 * time.Second

// SignalState tracks whether a protected phase is active and, if so, the
// timestamp of the first interrupt seen during it. One SignalState is
// shared by an entire agent-loop process.
type SignalState struct {
	mu          sync.Mutex
	phase       string
	taskRunning bool
	firstCtrlC  time.Time
	proc        *os.Process
}

// NewSignalState returns an idle SignalState.
func NewSignalState() *SignalState {
	return &SignalState{}
}

// Phase returns the current phase name, or "" outside any protected scope.
func (s *SignalState) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ActivePID returns the PID of the currently running worker child, or 0 if
// none is running.
func (s *SignalState) ActivePID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid
}

// handle is returned by EnterPhase; call Exit to restore the prior phase.
type handle struct {
	state    *SignalState
	prevPhase string
	prevRunning bool
}

// EnterPhase marks name as the active protected phase and returns a handle
// whose Exit restores the previous phase. Nested phases are supported: the
// outer phase resumes when the inner one exits.
func (s *SignalState) EnterPhase(name string) *handle {
	s.mu.Lock()
	h := &handle{state: s, prevPhase: s.phase, prevRunning: s.taskRunning}
	s.phase = name
	s.taskRunning = true
	s.firstCtrlC = time.Time{}
	s.mu.Unlock()
	return h
}

// Exit restores the phase active before EnterPhase was called.
func (h *handle) Exit() {
	h.state.mu.Lock()
	h.state.phase = h.prevPhase
	h.state.taskRunning = h.prevRunning
	h.state.firstCtrlC = time.Time{}
	h.state.mu.Unlock()
}

// OnInterrupt is the supervisor's SIGINT handler body. Outside any
// protected phase it returns abort=true immediately. Inside one, the first
// call warns (abort=false, warning≠""); a second call within AbortTimeout
// confirms the abort. The caller is responsible for cancelling the context
// passed to Run when abort is true; Run itself does the terminate-then-kill
// escalation against the worker child process.
func (s *SignalState) OnInterrupt() (abort bool, warning string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.taskRunning {
		return true, ""
	}

	now := time.Now()
	if !s.firstCtrlC.IsZero() && now.Sub(s.firstCtrlC) <= AbortTimeout {
		s.firstCtrlC = time.Time{}
		s.taskRunning = false
		return true, ""
	}

	s.firstCtrlC = now
	hint := ""
	if s.phase != "" {
		hint = fmt.Sprintf(" (%s)", s.phase)
	}
	return false, fmt.Sprintf("Press Ctrl-C again within %ds to abort%s.", int(AbortTimeout.Seconds()), hint)
}

// Result is what Run returns about a completed (or aborted) child.
type Result struct {
	ExitCode int
	Aborted  bool
}

// Run spawns cmd[0] with args cmd[1:] in cwd, redirecting stdin from
// /dev/null and stdout/stderr to the files at stdoutPath/stderrPath
// (truncated). The child runs in its own process group so a SIGINT
// delivered to the supervisor's terminal does not also reach it; the
// supervisor instead relays an intentional abort via SignalState.
func Run(ctx context.Context, state *SignalState, cmd []string, cwd, stdoutPath, stderrPath string) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("worker: empty command")
	}

	outFile, err := os.Create(stdoutPath)
	if err != nil {
		return Result{}, fmt.Errorf("worker: create stdout file: %w", err)
	}
	defer outFile.Close()

	errFile, err := os.Create(stderrPath)
	if err != nil {
		return Result{}, fmt.Errorf("worker: create stderr file: %w", err)
	}
	defer errFile.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return Result{}, fmt.Errorf("worker: open devnull: %w", err)
	}
	defer devNull.Close()

	c := exec.Command(cmd[0], cmd[1:]...)
	c.Dir = cwd
	c.Stdin = devNull
	c.Stdout = outFile
	c.Stderr = errFile
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return Result{}, fmt.Errorf("worker: start: %w", err)
	}

	state.mu.Lock()
	state.proc = c.Process
	state.mu.Unlock()
	defer func() {
		state.mu.Lock()
		state.proc = nil
		state.mu.Unlock()
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- c.Wait() }()

	select {
	case err := <-waitErr:
		return resultFromWaitErr(c, err), nil
	case <-ctx.Done():
		_ = c.Process.Signal(syscall.SIGTERM)
		select {
		case <-waitErr:
		case <-time.After(killGrace):
			_ = c.Process.Kill()
			<-waitErr
		}
		return Result{Aborted: true, ExitCode: -1}, ctx.Err()
	}
}

func resultFromWaitErr(c *exec.Cmd, err error) Result {
	if err == nil {
		return Result{ExitCode: 0}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return Result{ExitCode: exitErr.ExitCode()}
	}
	return Result{ExitCode: -1}
}
