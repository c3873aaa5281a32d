// Package commands implements the bridge's slash-command handlers: all of
// them are local, reading or mutating state files without spawning the
// worker synchronously.
package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jaakkos/koanctl/internal/chathistory"
	"github.com/jaakkos/koanctl/internal/config"
	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/missions"
	"github.com/jaakkos/koanctl/internal/signalfile"
)

// Context bundles everything a handler needs. The bridge constructs one at
// startup and reuses it for every dispatched command.
type Context struct {
	Cfg      *config.Config
	Paths    signalfile.Paths
	Missions *missions.Store
	History  *chathistory.History

	// OllamaAlive reports local-model liveness for /ping; when nil, /ping
	// omits the local model line. RunnerAlive is not read by /ping, which
	// checks the run PID file instead.
	RunnerAlive func() bool
	OllamaAlive func() bool
}

// Handler runs a single command and returns the chat reply.
type Handler func(ctx *Context, args string) (string, error)

// Table maps command names (without the leading slash) to their handler.
// /idea and /reflect are deliberately absent: the bridge delegates them to
// skills.Dispatch, which reads or modifies the Ideas section or the shared
// journal through a registered skill runner rather than a handler here.
var Table = map[string]Handler{
	"stop":    handleStop,
	"pause":   handlePause,
	"resume":  handleResume,
	"status":  handleStatus,
	"ping":    handlePing,
	"usage":   handleUsage,
	"help":    handleHelp,
	"verbose": handleVerbose,
	"silent":  handleSilent,
	"chat":    handleChat,
	"mission": handleMission,
}

// Dispatch runs the handler registered for name, if any. ok is false when
// no handler is registered, in which case the caller should fall back to
// whatever it does for unknown commands.
func Dispatch(ctx *Context, name, args string) (reply string, ok bool, err error) {
	h, found := Table[strings.ToLower(name)]
	if !found {
		return "", false, nil
	}
	reply, err = h(ctx, args)
	return reply, true, err
}

func handleStop(ctx *Context, _ string) (string, error) {
	if err := signalfile.Set(ctx.Paths.Stop); err != nil {
		return "", fmt.Errorf("commands: stop: %w", err)
	}
	return "Stopping at the end of the current iteration.", nil
}

func handlePause(ctx *Context, _ string) (string, error) {
	if signalfile.IsSet(ctx.Paths.Pause) {
		return "Already paused.", nil
	}
	if err := signalfile.Set(ctx.Paths.Pause); err != nil {
		return "", fmt.Errorf("commands: pause: %w", err)
	}
	_ = signalfile.WritePauseReason(ctx.Paths.PauseReason, domain.PauseState{Reason: domain.PauseReasonManual})
	return "Paused.", nil
}

func handleResume(ctx *Context, _ string) (string, error) {
	state, hadReason := signalfile.ReadPauseReason(ctx.Paths.PauseReason)
	if err := signalfile.Clear(ctx.Paths.Pause); err != nil {
		return "", fmt.Errorf("commands: resume: %w", err)
	}
	_ = signalfile.Clear(ctx.Paths.PauseReason)

	if hadReason && (state.Reason == domain.PauseReasonQuota || state.Reason == domain.PauseReasonMaxRuns) {
		return fmt.Sprintf("Resumed (was paused: %s).", state.Reason), nil
	}
	return "Resumed.", nil
}

func handleStatus(ctx *Context, _ string) (string, error) {
	content, err := ctx.Missions.Read()
	if err != nil {
		return "", fmt.Errorf("commands: status: read missions: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", signalfile.ReadText(ctx.Paths.Status))

	if signalfile.IsSet(ctx.Paths.Pause) {
		if state, ok := signalfile.ReadPauseReason(ctx.Paths.PauseReason); ok {
			fmt.Fprintf(&b, "Paused: %s %s\n", state.Reason, signalfile.FormatResumeHint(state))
		} else {
			b.WriteString("Paused.\n")
		}
	}

	grouped := missions.GroupByProject(content)
	projects := make([]string, 0, len(grouped))
	for p := range grouped {
		projects = append(projects, p)
	}
	sort.Strings(projects)

	for _, p := range projects {
		sections := grouped[p]
		fmt.Fprintf(&b, "\n[%s]\n", p)
		writeFirstFew(&b, "pending", sections["pending"])
		writeFirstFew(&b, "in progress", sections["in_progress"])
	}

	return b.String(), nil
}

func writeFirstFew(b *strings.Builder, label string, items []string) {
	const maxShown = 3
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "  %s (%d):\n", label, len(items))
	for i, item := range items {
		if i >= maxShown {
			fmt.Fprintf(b, "    ... and %d more\n", len(items)-maxShown)
			break
		}
		fmt.Fprintf(b, "    - %s\n", missions.CleanMissionDisplay(item, 80))
	}
}

func handlePing(ctx *Context, _ string) (string, error) {
	emoji := func(alive bool) string {
		if alive {
			return "🟢"
		}
		return "🔴"
	}

	var b strings.Builder
	runnerPID := signalfile.CheckPIDFile(ctx.Cfg.Root, "run")
	bridgePID := signalfile.CheckPIDFile(ctx.Cfg.Root, "awake")
	fmt.Fprintf(&b, "%s runner\n", emoji(runnerPID != 0))
	fmt.Fprintf(&b, "%s bridge\n", emoji(bridgePID != 0))
	if ctx.OllamaAlive != nil {
		fmt.Fprintf(&b, "%s local model\n", emoji(ctx.OllamaAlive()))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func handleUsage(ctx *Context, _ string) (string, error) {
	content, err := ctx.Missions.Read()
	if err != nil {
		return "", fmt.Errorf("commands: usage: read missions: %w", err)
	}
	sections := missions.ParseSections(content)
	return fmt.Sprintf("Pending: %d\nIn progress: %d\nDone: %d\nFailed: %d",
		len(sections["pending"]), len(sections["in_progress"]), len(sections["done"]), len(sections["failed"])), nil
}

const helpText = `Commands:
/stop - stop after the current iteration
/pause, /resume - pause or resume the runner
/status - current state by project
/ping - process liveness
/usage - usage summary
/verbose, /silent - toggle verbose notifications
/chat <text> - talk without creating a mission
/mission <text> - enqueue a mission explicitly
/idea <text>, /reflect <text> - delegated to skill handlers`

func handleHelp(_ *Context, _ string) (string, error) {
	return helpText, nil
}

func handleVerbose(ctx *Context, _ string) (string, error) {
	if err := signalfile.Set(ctx.Paths.Verbose); err != nil {
		return "", fmt.Errorf("commands: verbose: %w", err)
	}
	return "Verbose mode on.", nil
}

func handleSilent(ctx *Context, _ string) (string, error) {
	if err := signalfile.Clear(ctx.Paths.Verbose); err != nil {
		return "", fmt.Errorf("commands: silent: %w", err)
	}
	return "Verbose mode off.", nil
}

func handleChat(ctx *Context, args string) (string, error) {
	text := strings.TrimSpace(args)
	if text == "" {
		return "Usage: /chat <text>", nil
	}
	if err := ctx.History.Save("user", text); err != nil {
		return "", fmt.Errorf("commands: chat: save history: %w", err)
	}
	return "", nil // the caller enqueues the background chat worker
}

func handleMission(ctx *Context, args string) (string, error) {
	text := strings.TrimSpace(args)
	if text == "" {
		return "Usage: /mission <text>", nil
	}

	tag := missions.ExtractProjectTag("- " + text)
	if tag == domain.DefaultProject && len(ctx.Cfg.Projects) > 1 {
		names := make([]string, len(ctx.Cfg.Projects))
		for i, p := range ctx.Cfg.Projects {
			names[i] = p.Name
		}
		return fmt.Sprintf("Ambiguous project. Known projects: %s", strings.Join(names, ", ")), nil
	}

	urgent, cleaned := missions.ExtractNowFlag(text)
	if err := ctx.Missions.InsertMission("- "+cleaned, urgent); err != nil {
		return "", fmt.Errorf("commands: mission: insert: %w", err)
	}
	return "Mission queued.", nil
}
