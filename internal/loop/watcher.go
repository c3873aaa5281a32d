package loop

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	watchDebounce     = 200 * time.Millisecond
	watchPollFallback = 2 * time.Second
)

// MissionWatcher lets the loop's interruptible sleep wake early when
// missions.md changes, instead of always sleeping the full interval. It
// prefers fsnotify and falls back to polling mtime if the watch can't be
// established (e.g. the directory doesn't exist yet).
type MissionWatcher struct {
	path string
}

// NewMissionWatcher returns a watcher for the missions file at path.
func NewMissionWatcher(path string) *MissionWatcher {
	return &MissionWatcher{path: path}
}

// WaitForChangeOrTimeout blocks until missions.md is written to, ctx is
// cancelled, or timeout elapses. It reports whether it woke because of a
// file change (as opposed to the timeout or cancellation).
func (w *MissionWatcher) WaitForChangeOrTimeout(ctx context.Context, timeout time.Duration) bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w.pollFallback(ctx, timeout)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	name := filepath.Base(w.path)
	if err := watcher.Add(dir); err != nil {
		return w.pollFallback(ctx, timeout)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case ev, ok := <-watcher.Events:
			if !ok {
				return w.pollFallback(ctx, timeout)
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = true
			debounce.Reset(watchDebounce)
		case <-debounce.C:
			if pending {
				return true
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return w.pollFallback(ctx, timeout)
			}
		}
	}
}

func (w *MissionWatcher) pollFallback(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var lastMod time.Time
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(watchPollFallback)
	defer ticker.Stop()
	for {
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err == nil && info.ModTime().After(lastMod) {
				return true
			}
		}
	}
}
