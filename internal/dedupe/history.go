// Package dedupe tracks how many times a mission's canonical text has been
// attempted, so the agent loop can fail a mission outright instead of
// retrying it forever, backed by an embedded SQLite database.
package dedupe

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS mission_attempts (
	canonical_text TEXT PRIMARY KEY,
	attempts       INTEGER NOT NULL DEFAULT 0,
	first_seen     TEXT NOT NULL,
	last_seen      TEXT NOT NULL
);
`

// DefaultMaxAttempts is the attempt count at which a mission is treated as
// stuck and should be failed without invoking the worker again.
const DefaultMaxAttempts = 3

// History is the attempt-count store for one instance's mission history.
type History struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures
// its schema exists.
func Open(path string) (*History, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("dedupe: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("dedupe: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dedupe: schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

// canonicalize reduces mission text to a comparison key: trimmed,
// lower-cased, collapsed whitespace, first line only. Bracket tags like
// "[project:x]" are kept, so the same text under another tag is a
// different key.
func canonicalize(title string) string {
	title = strings.TrimSpace(title)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.ToLower(title)
	return strings.Join(strings.Fields(title), " ")
}

// RecordAttempt increments and returns the attempt count for a mission's
// canonical text, creating the row on first sight.
func (h *History) RecordAttempt(missionTitle string) (int, error) {
	key := canonicalize(missionTitle)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := h.db.Exec(`
		INSERT INTO mission_attempts (canonical_text, attempts, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(canonical_text) DO UPDATE SET
			attempts = attempts + 1,
			last_seen = excluded.last_seen
	`, key, now, now)
	if err != nil {
		return 0, fmt.Errorf("dedupe: record attempt: %w", err)
	}

	var attempts int
	if err := h.db.QueryRow(`SELECT attempts FROM mission_attempts WHERE canonical_text = ?`, key).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("dedupe: read attempts: %w", err)
	}
	return attempts, nil
}

// AttemptCount returns the current attempt count for a mission's canonical
// text without incrementing it, or 0 if never attempted.
func (h *History) AttemptCount(missionTitle string) (int, error) {
	key := canonicalize(missionTitle)
	var attempts int
	err := h.db.QueryRow(`SELECT attempts FROM mission_attempts WHERE canonical_text = ?`, key).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dedupe: read attempts: %w", err)
	}
	return attempts, nil
}

// ShouldSkip reports whether missionTitle has reached maxAttempts prior
// attempts and should be failed without another worker invocation.
func (h *History) ShouldSkip(missionTitle string, maxAttempts int) (bool, error) {
	count, err := h.AttemptCount(missionTitle)
	if err != nil {
		return false, err
	}
	return count >= maxAttempts, nil
}

// Reset clears the attempt counter for a mission's canonical text.
func (h *History) Reset(missionTitle string) error {
	key := canonicalize(missionTitle)
	_, err := h.db.Exec(`DELETE FROM mission_attempts WHERE canonical_text = ?`, key)
	if err != nil {
		return fmt.Errorf("dedupe: reset: %w", err)
	}
	return nil
}
