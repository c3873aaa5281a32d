// Package missions implements parsing and mutation of the structured
// missions.md markdown format, working directly over []string lines the
// way a line-based config parser would.
package missions

import "strings"

// DefaultSkeleton is the canonical empty missions.md content.
const DefaultSkeleton = "# Missions\n\n## Ideas\n\n## Pending\n\n## In Progress\n\n## Done\n\n## Failed\n"

// Normalize collapses runs of blank lines to at most one, strips trailing
// blank lines, and ensures the content ends with exactly one newline.
// Normalize is idempotent: Normalize(Normalize(t)) == Normalize(t).
func Normalize(content string) string {
	lines := splitLines(content)
	result := make([]string, 0, len(lines))
	prevBlank := false
	for _, line := range lines {
		blank := strings.TrimSpace(line) == ""
		if blank && prevBlank {
			continue
		}
		result = append(result, line)
		prevBlank = blank
	}
	for len(result) > 0 && strings.TrimSpace(result[len(result)-1]) == "" {
		result = result[:len(result)-1]
	}
	if len(result) == 0 {
		return ""
	}
	return strings.Join(result, "\n") + "\n"
}

// splitLines splits on "\n" without the trailing-empty-element surprise of
// strings.Split on content that doesn't end in "\n" vs does; both forms are
// handled uniformly by operating on the Split result directly (trailing ""
// from a final "\n" is harmless — it's blank and gets collapsed/stripped by
// Normalize, and callers that walk lines skip blanks anyway).
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
