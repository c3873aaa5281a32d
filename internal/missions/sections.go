package missions

import (
	"regexp"
	"strings"
)

// sectionAliases normalizes a "## " header into a canonical section key.
// Accepts French and English variants. (The "project"/"projet" spellings
// are handled by the project tag regexes below, not by this map.)
var sectionAliases = map[string]string{
	"en attente":  "pending",
	"pending":     "pending",
	"en cours":    "in_progress",
	"in progress": "in_progress",
	"in_progress": "in_progress",
	"terminées":   "done",
	"terminés":    "done",
	"done":        "done",
	"completed":   "done",
	"failed":      "failed",
}

// ClassifySection returns the canonical section key for a "## " header's
// text, or "" if unrecognized. The Ideas section is intentionally absent
// from this table — ideas are a sibling backlog, never picked by the loop.
func ClassifySection(headerText string) string {
	return sectionAliases[strings.ToLower(strings.TrimSpace(headerText))]
}

var projectTagRe = regexp.MustCompile(`(?i)\[(?:project|projet):([a-zA-Z0-9_-]+)\]`)
var projectSubheaderRe = regexp.MustCompile(`(?i)###\s+projec?t\s*:\s*([a-zA-Z0-9_-]+)`)

// ExtractProjectTag returns the project name encoded in a mission line or
// block: an inline "[project:NAME]" tag always wins over a surrounding
// "### project:NAME" sub-header; absence of both yields "default".
func ExtractProjectTag(line string) string {
	if m := projectTagRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := projectSubheaderRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return "default"
}

// ParseSections parses missions.md content into {pending, in_progress,
// done, failed} -> []string (one entry per mission block, continuation
// lines joined with "\n"). Code-fenced blocks never count as section
// headers or item starts, so a literal "## Pending" inside a fenced block
// does not start a new section.
func ParseSections(content string) map[string][]string {
	sections := map[string][]string{
		"pending":     {},
		"in_progress": {},
		"done":        {},
		"failed":      {},
	}
	var current string
	var block []string
	inFence := false

	flush := func() {
		if len(block) > 0 && current != "" {
			sections[current] = append(sections[current], strings.Join(block, "\n"))
			block = nil
		}
	}

	for _, line := range splitLines(content) {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			inFence = !inFence
			appendToCurrent(sections, current, &block, line)
			continue
		}
		if inFence {
			appendToCurrent(sections, current, &block, line)
			continue
		}

		if strings.HasPrefix(stripped, "## ") {
			flush()
			current = ClassifySection(stripped[3:])
			continue
		}

		if current == "" {
			continue
		}

		switch {
		case strings.HasPrefix(stripped, "### "):
			flush()
			block = []string{line}
		case len(block) > 0:
			if stripped == "" {
				flush()
			} else {
				block = append(block, line)
			}
		case strings.HasPrefix(stripped, "- "):
			sections[current] = append(sections[current], stripped)
		case stripped != "" && !strings.HasPrefix(stripped, "#"):
			if n := len(sections[current]); n > 0 {
				sections[current][n-1] += "\n" + line
			}
		}
	}
	flush()
	return sections
}

// appendToCurrent attaches a fenced/continuation line to the block in
// progress, or to the last appended item if no block is open yet.
func appendToCurrent(sections map[string][]string, current string, block *[]string, line string) {
	if current == "" {
		return
	}
	if len(*block) > 0 {
		*block = append(*block, line)
		return
	}
	if n := len(sections[current]); n > 0 {
		sections[current][n-1] += "\n" + line
	}
}

// ParseIdeas returns the items of the "## Ideas" section, same continuation
// rules as ParseSections. Ideas are never a key in ParseSections's result.
func ParseIdeas(content string) []string {
	var ideas []string
	inIdeas := false
	for _, line := range splitLines(content) {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "## ") {
			if strings.EqualFold(strings.TrimSpace(stripped[3:]), "ideas") {
				inIdeas = true
			} else if inIdeas {
				break
			}
			continue
		}
		if !inIdeas {
			continue
		}
		if strings.HasPrefix(stripped, "- ") {
			ideas = append(ideas, stripped)
		} else if stripped != "" && !strings.HasPrefix(stripped, "#") && len(ideas) > 0 {
			ideas[len(ideas)-1] += "\n" + line
		}
	}
	return ideas
}

// sectionBound is a half-open [Start, End) line-index range for one section.
type sectionBound struct {
	Start, End int
}

// findSectionBoundaries locates the line-index span of each canonical
// section: Start is the "## " header line, End is the next header line (or
// len(lines)).
func findSectionBoundaries(lines []string) map[string]sectionBound {
	type hit struct {
		key string
		at  int
	}
	var order []hit
	for i, line := range lines {
		stripped := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(stripped, "## ") {
			if key := ClassifySection(stripped[3:]); key != "" {
				order = append(order, hit{key, i})
			}
		}
	}
	bounds := make(map[string]sectionBound, len(order))
	for i, h := range order {
		end := len(lines)
		if i+1 < len(order) {
			end = order[i+1].at
		}
		bounds[h.key] = sectionBound{Start: h.at, End: end}
	}
	return bounds
}

// CleanMissionDisplay strips the leading "- ", rewrites an inline project
// tag into a bracketed prefix, shows only the first line of a multi-line
// mission, and truncates to maxLength with a trailing "...".
func CleanMissionDisplay(text string, maxLength int) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimPrefix(text, "- ")
	if m := projectTagRe.FindStringSubmatch(text); m != nil {
		text = projectTagRe.ReplaceAllString(text, "")
		text = strings.TrimSpace(text)
		text = "[" + m[1] + "] " + text
	}
	if len(text) > maxLength {
		text = text[:maxLength-3] + "..."
	}
	return text
}

// ExtractNowFlag reports whether "--now" appears among the first five
// whitespace-separated words of text, returning the urgency flag and the
// text with the first "--now" occurrence removed.
func ExtractNowFlag(text string) (urgent bool, cleaned string) {
	words := strings.Fields(text)
	limit := 5
	if len(words) < limit {
		limit = len(words)
	}
	for _, w := range words[:limit] {
		if w == "--now" {
			urgent = true
			break
		}
	}
	if !urgent {
		return false, text
	}
	out := make([]string, 0, len(words))
	removed := false
	for _, w := range words {
		if !removed && w == "--now" {
			removed = true
			continue
		}
		out = append(out, w)
	}
	return true, strings.Join(out, " ")
}
