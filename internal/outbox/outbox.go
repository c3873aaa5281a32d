// Package outbox implements the line-buffered message queue the agent loop
// uses to hand asynchronous notifications to the bridge, and the per-project
// daily journal the worker's progress gets archived into.
package outbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/koanctl/internal/fsutil"
)

// Sender delivers a flushed outbox message to the outside world (the
// chat API). A failed send leaves the outbox content in place for retry.
type Sender func(content string) error

// Outbox is a single line-buffered markdown file guarded by a sibling lock
// file, read-send-truncate under the lock so a flush and a concurrent
// append never interleave.
type Outbox struct {
	Path     string
	LockPath string
}

// New returns an Outbox backed by path, using path+".lock" for the
// advisory lock.
func New(path string) *Outbox {
	return &Outbox{Path: path, LockPath: path + ".lock"}
}

// Append appends a message to the outbox under the exclusive lock.
func (o *Outbox) Append(message string) error {
	lock, err := fsutil.AcquireExclusive(o.LockPath)
	if err != nil {
		return fmt.Errorf("outbox: acquire lock: %w", err)
	}
	defer lock.Release()

	f, err := os.OpenFile(o.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("outbox: open %s: %w", o.Path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strings.TrimRight(message, "\n") + "\n"); err != nil {
		return fmt.Errorf("outbox: append: %w", err)
	}
	return nil
}

// Flush reads the outbox under the lock, hands its trimmed content to
// sender, and only truncates the file on a successful send. An empty
// outbox is a no-op. A lock held by another process is reported via
// fsutil's errBusy-style false return, and the caller should simply skip
// this cycle.
func (o *Outbox) Flush(sender Sender) (sent bool, err error) {
	lock, acquired, err := fsutil.TryAcquireExclusive(o.LockPath)
	if err != nil {
		return false, fmt.Errorf("outbox: acquire lock: %w", err)
	}
	if !acquired {
		return false, nil
	}
	defer lock.Release()

	data, err := os.ReadFile(o.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("outbox: read %s: %w", o.Path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return false, nil
	}

	if err := sender(content); err != nil {
		return false, fmt.Errorf("outbox: send: %w", err)
	}

	if err := os.Truncate(o.Path, 0); err != nil {
		return false, fmt.Errorf("outbox: truncate %s: %w", o.Path, err)
	}
	return true, nil
}

// Journal is the append-only per-day, per-project activity log rooted at a
// directory (typically "<instance>/journal").
type Journal struct {
	Root     string
	LockPath string
}

// NewJournal returns a Journal rooted at root, sharing a single lock file
// for all daily/project appends.
func NewJournal(root string) *Journal {
	return &Journal{Root: root, LockPath: filepath.Join(root, ".lock")}
}

// dailyPath returns journal/<YYYY-MM-DD>/<project>.md for the given time.
func (j *Journal) dailyPath(project string, at time.Time) string {
	day := at.Format("2006-01-02")
	return filepath.Join(j.Root, day, project+".md")
}

// Append ensures today's project journal file exists and appends content
// plus a trailing newline to it, under the journal's exclusive lock.
func (j *Journal) Append(project, content string, at time.Time) error {
	lock, err := fsutil.AcquireExclusive(j.LockPath)
	if err != nil {
		return fmt.Errorf("journal: acquire lock: %w", err)
	}
	defer lock.Release()

	path := j.dailyPath(project, at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strings.TrimRight(content, "\n") + "\n"); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// PendingPath returns the live-progress scratchpad path, journal/pending.md.
func (j *Journal) PendingPath() string {
	return filepath.Join(j.Root, "pending.md")
}

// StartPending creates journal/pending.md with a header line naming the
// mission in progress, overwriting any stale leftover from a crash.
func (j *Journal) StartPending(missionTitle string) error {
	header := fmt.Sprintf("# %s\nstarted %s\n", missionTitle, time.Now().UTC().Format(time.RFC3339))
	return fsutil.AtomicWrite(j.PendingPath(), []byte(header), 0o644)
}

// AppendPending adds a timestamped progress line to pending.md, the
// convention the worker uses to report incremental status.
func (j *Journal) AppendPending(line string) error {
	f, err := os.OpenFile(j.PendingPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open pending: %w", err)
	}
	defer f.Close()
	stamp := time.Now().UTC().Format("15:04:05")
	_, err = f.WriteString(fmt.Sprintf("[%s] %s\n", stamp, strings.TrimRight(line, "\n")))
	return err
}

// ArchivePending moves pending.md's content into today's project journal
// and removes it. Returns (archived=false, nil) if pending.md does not
// exist — the worker cleaned up after itself. Safe to call unconditionally
// from the post-mission pipeline.
func (j *Journal) ArchivePending(project string) (archived bool, err error) {
	data, err := os.ReadFile(j.PendingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("journal: read pending: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		_ = os.Remove(j.PendingPath())
		return false, nil
	}
	if err := j.Append(project, content, time.Now()); err != nil {
		return false, err
	}
	if err := os.Remove(j.PendingPath()); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("journal: remove pending: %w", err)
	}
	return true, nil
}

// Latest returns the whole journal for project on the given date (all
// entries, trimmed), or "" if none exists.
func (j *Journal) Latest(project string, at time.Time) string {
	data, err := os.ReadFile(j.dailyPath(project, at))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
