package signalfile

import "path/filepath"

// Paths collects the conventional signal-file names under a koan root
// directory, so the loop and bridge agree on where to look without
// hard-coding strings at each call site.
type Paths struct {
	Stop        string
	Pause       string
	PauseReason string
	Restart     string
	Status      string
	Project     string
	Verbose     string
	Heartbeat   string
	DailyReport string
	QuotaReset  string
}

// NewPaths returns the conventional signal-file paths rooted at root.
func NewPaths(root string) Paths {
	named := func(name string) string { return filepath.Join(root, name) }
	return Paths{
		Stop:        named(".koan-stop"),
		Pause:       named(".koan-pause"),
		PauseReason: named(".koan-pause-reason"),
		Restart:     named(".koan-restart"),
		Status:      named(".koan-status"),
		Project:     named(".koan-project"),
		Verbose:     named(".koan-verbose"),
		Heartbeat:   named(".koan-heartbeat"),
		DailyReport: named(".koan-daily-report"),
		QuotaReset:  named(".koan-quota-reset"),
	}
}
