package loop

import (
	"context"
	"strings"

	"github.com/jaakkos/koanctl/internal/gitsync"
	"github.com/jaakkos/koanctl/internal/worker"
)

// defaultQuotaPredicate is a conservative fallback for recognizing quota
// exhaustion in worker output; a real deployment should supply a predicate
// tuned to its specific worker CLI's wording.
func defaultQuotaPredicate(combinedOutput string) bool {
	lower := strings.ToLower(combinedOutput)
	phrases := []string{
		"usage limit",
		"quota",
		"rate limit",
	}
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// runWorkerCmd executes cmd under l's shared SignalState, the single choke
// point double-tap interrupt protection flows through.
func runWorkerCmd(ctx context.Context, l *Loop, cmd []string, cwd, stdoutPath, stderrPath string) (worker.Result, error) {
	return worker.Run(ctx, l.WorkerState, cmd, cwd, stdoutPath, stderrPath)
}

// gitsyncRepoFor returns a Repo for an arbitrary directory, used for
// committing the instance directory itself (which is not necessarily one
// of the configured project repos).
func gitsyncRepoFor(dir string) *gitsync.Repo {
	return gitsync.New(dir)
}
