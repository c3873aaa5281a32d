// Package chathistory persists the bridge's chat conversation as a
// newline-delimited JSON file, capped at startup by keeping only the most
// recent messages. Compaction is by count only; messages are not grouped or
// summarized by topic.
package chathistory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/fsutil"
)

// MaxMessages is the usual cap callers pass to Recent.
const MaxMessages = 10

// CompactKeep is how many of the most recent messages survive a startup
// compaction; everything older is dropped.
const CompactKeep = 40

// History appends to and reads a chat_history.jsonl-style file.
type History struct {
	path string
}

// Open returns a History backed by path. The file is created lazily on
// first Save.
func Open(path string) *History {
	return &History{path: path}
}

// Save appends one message, tagged with the current time.
func (h *History) Save(role, text string) error {
	return h.saveAt(role, text, time.Now())
}

func (h *History) saveAt(role, text string, at time.Time) error {
	msg := domain.ChatMessage{Role: role, Text: text, TS: at.Unix()}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chathistory: marshal: %w", err)
	}

	lock, err := fsutil.AcquireExclusive(h.path + ".lock")
	if err != nil {
		return fmt.Errorf("chathistory: lock: %w", err)
	}
	defer lock.Release()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("chathistory: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("chathistory: write: %w", err)
	}
	return nil
}

// Recent returns up to max of the most recent messages, oldest first.
func (h *History) Recent(max int) ([]domain.ChatMessage, error) {
	all, err := h.readAll()
	if err != nil {
		return nil, err
	}
	if max <= 0 || len(all) <= max {
		return all, nil
	}
	return all[len(all)-max:], nil
}

func (h *History) readAll() ([]domain.ChatMessage, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chathistory: open: %w", err)
	}
	defer f.Close()

	var messages []domain.ChatMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue // a malformed line never blocks the whole history
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("chathistory: scan: %w", err)
	}
	return messages, nil
}

// FormatConversation renders messages as a simple role-prefixed transcript
// suitable for dropping into a worker prompt's context section.
func FormatConversation(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

// Compact rewrites the history file down to the most recent CompactKeep
// messages, returning how many older messages were dropped. Intended to run
// once at bridge startup, per message "avoid context bleed across
// sessions".
func (h *History) Compact() (int, error) {
	all, err := h.readAll()
	if err != nil {
		return 0, err
	}
	if len(all) <= CompactKeep {
		return 0, nil
	}

	kept := all[len(all)-CompactKeep:]
	dropped := len(all) - len(kept)

	var b strings.Builder
	for _, m := range kept {
		line, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("chathistory: marshal during compaction: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	if err := fsutil.AtomicWrite(h.path, []byte(b.String()), 0o644); err != nil {
		return 0, fmt.Errorf("chathistory: write compacted file: %w", err)
	}
	return dropped, nil
}
