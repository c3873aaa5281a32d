// Package skills recognizes slash-command missions and dispatches them to a
// short-timeout subprocess runner instead of the full worker invocation,
// bypassing the LLM entirely for mechanical operations.
package skills

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jaakkos/koanctl/internal/worker"
)

// ErrNoRunner is returned by Dispatch when a mission looks like a skill
// invocation (leads with a recognized slash-command shape) but no runner is
// registered for that command name. The caller must fail the mission
// outright rather than falling back to the normal worker path.
var ErrNoRunner = errors.New("skills: no runner registered for this command")

var commandPattern = regexp.MustCompile(`^/([a-zA-Z][\w-]*)\b`)

// LooksLikeSkill reports whether missionText opens with a slash-command
// shape, returning the bare command name (without the leading slash).
func LooksLikeSkill(missionText string) (name string, ok bool) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(missionText))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Registry maps a command name (without leading slash) to the subprocess
// argv that runs it; the mission text is appended as the final argument.
type Registry map[string][]string

// Dispatch inspects missionText and, if it opens with a recognized
// slash-command shape, runs the matching registered runner. matched is true
// whenever the text looks like a skill invocation at all, independent of
// whether a runner was found — the caller must not fall through to the
// normal worker path in either case.
func Dispatch(ctx context.Context, state *worker.SignalState, registry Registry, missionText, cwd, stdoutPath, stderrPath string) (matched bool, result worker.Result, err error) {
	name, ok := LooksLikeSkill(missionText)
	if !ok {
		return false, worker.Result{}, nil
	}

	cmdTemplate, found := registry[name]
	if !found || len(cmdTemplate) == 0 {
		return true, worker.Result{}, fmt.Errorf("%w: /%s", ErrNoRunner, name)
	}

	argv := make([]string, 0, len(cmdTemplate)+1)
	argv = append(argv, cmdTemplate...)
	argv = append(argv, missionText)

	res, err := worker.Run(ctx, state, argv, cwd, stdoutPath, stderrPath)
	return true, res, err
}
