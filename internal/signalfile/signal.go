// Package signalfile implements boolean signal files written with atomic
// publication, and PID files with either advisory-lock or PID-liveness
// based ownership.
package signalfile

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jaakkos/koanctl/internal/fsutil"
)

// Set creates the named signal file (test-and-set boolean on). Safe to call
// when it already exists.
func Set(path string) error {
	return fsutil.AtomicWrite(path, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), 0o644)
}

// Clear removes the named signal file. A missing file is not an error
// (create/delete races on a boolean signal file are harmless).
func Clear(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsSet reports whether the named signal file is present.
func IsSet(path string) bool {
	return fsutil.Exists(path)
}

// WriteText writes free-text content to path via atomic rename (status,
// project, heartbeat, daily-report, quota-reset files: "last-writer-wins
// text files").
func WriteText(path, content string) error {
	return fsutil.AtomicWrite(path, []byte(content), 0o644)
}

// ReadText reads the content of a signal text file, or "" if absent.
func ReadText(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\n")
}

// TouchHeartbeat writes the current time to path, advancing its mtime (used
// by the bridge's liveness contract).
func TouchHeartbeat(path string) error {
	return WriteText(path, time.Now().UTC().Format(time.RFC3339))
}
