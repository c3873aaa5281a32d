package missions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoMatch is returned when a mutation's needle/identifier matches no item.
var ErrNoMatch = errors.New("missions: no matching item")

// nowFunc is overridable in tests for deterministic timestamps.
var nowFunc = time.Now

// InsertMission inserts entry into the Pending section: at the top when
// urgent, at the bottom (FIFO) otherwise. Creates the Pending section if
// absent.
func InsertMission(content string, entry string, urgent bool) string {
	if content == "" {
		content = DefaultSkeleton
	}
	if urgent {
		for _, marker := range []string{"## Pending", "## En attente"} {
			if idx := strings.Index(content, marker); idx >= 0 {
				pos := idx + len(marker)
				for pos < len(content) && content[pos] == '\n' {
					pos++
				}
				content = content[:pos] + "\n" + entry + "\n" + content[pos:]
				return Normalize(content)
			}
		}
		return Normalize(content + "\n## Pending\n\n" + entry + "\n")
	}

	lines := splitLines(content)
	inPending := false
	lastContentLine := -1
	pendingHeaderLine := -1
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		low := strings.ToLower(stripped)
		if low == "## pending" || low == "## en attente" {
			inPending = true
			pendingHeaderLine = i
			continue
		}
		if inPending && strings.HasPrefix(stripped, "## ") {
			break
		}
		if inPending && (strings.HasPrefix(stripped, "- ") || (stripped != "" && !strings.HasPrefix(stripped, "#") && lastContentLine != -1)) {
			lastContentLine = i
		}
	}
	if pendingHeaderLine == -1 {
		return Normalize(content + "\n## Pending\n\n" + entry + "\n")
	}
	insertAfter := pendingHeaderLine
	if lastContentLine != -1 {
		insertAfter = lastContentLine
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insertAfter+1]...)
	out = append(out, entry)
	out = append(out, lines[insertAfter+1:]...)
	return Normalize(strings.Join(out, "\n"))
}

// InsertIdea appends entry to the bottom of the Ideas section, creating the
// section (right after the "# Missions" title) if absent.
func InsertIdea(content string, entry string) string {
	if content == "" {
		content = DefaultSkeleton
	}
	lines := splitLines(content)
	inIdeas := false
	lastIdeaLine := -1
	ideasHeaderLine := -1
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.EqualFold(stripped, "## ideas") {
			inIdeas = true
			ideasHeaderLine = i
			continue
		}
		if inIdeas && strings.HasPrefix(stripped, "## ") {
			break
		}
		if inIdeas && (strings.HasPrefix(stripped, "- ") || (stripped != "" && !strings.HasPrefix(stripped, "#") && lastIdeaLine != -1)) {
			lastIdeaLine = i
		}
	}
	if ideasHeaderLine != -1 {
		insertAfter := ideasHeaderLine
		if lastIdeaLine != -1 {
			insertAfter = lastIdeaLine
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:insertAfter+1]...)
		out = append(out, entry)
		out = append(out, lines[insertAfter+1:]...)
		return Normalize(strings.Join(out, "\n"))
	}

	if idx := strings.Index(content, "# Missions"); idx >= 0 {
		pos := idx + len("# Missions")
		for pos < len(content) && content[pos] == '\n' {
			pos++
		}
		content = content[:pos] + "\n## Ideas\n\n" + entry + "\n\n" + content[pos:]
	} else {
		content = "# Missions\n\n## Ideas\n\n" + entry + "\n\n" + content
	}
	return Normalize(content)
}

// ExtractNextPending returns the first Pending mission block, optionally
// filtered by project (inline tag wins, then sub-header context, untagged
// matches anything), or "" if none match.
func ExtractNextPending(content string, project string) string {
	lines := splitLines(content)
	inPending := false
	subheaderProject := ""
	i := 0
	for i < len(lines) {
		line := lines[i]
		stripped := strings.TrimSpace(line)
		low := strings.ToLower(stripped)

		if strings.HasPrefix(low, "## ") {
			key := ClassifySection(low[3:])
			if key == "pending" {
				inPending = true
				subheaderProject = ""
			} else if inPending {
				break
			}
			i++
			continue
		}
		if !inPending {
			i++
			continue
		}
		if strings.HasPrefix(low, "### ") {
			if m := projectSubheaderRe.FindStringSubmatch(stripped); m != nil {
				subheaderProject = strings.ToLower(m[1])
			} else {
				subheaderProject = ""
			}
			i++
			continue
		}
		if !strings.HasPrefix(stripped, "- ") {
			i++
			continue
		}
		if project != "" {
			if m := projectTagRe.FindStringSubmatch(line); m != nil {
				if !strings.EqualFold(m[1], project) {
					i++
					continue
				}
			} else if subheaderProject != "" {
				if subheaderProject != strings.ToLower(project) {
					i++
					continue
				}
			}
		}
		// Found the first matching item — collect continuation lines.
		block := []string{stripped}
		i++
		inFence := false
		for i < len(lines) {
			cont := lines[i]
			contStripped := strings.TrimSpace(cont)
			if strings.HasPrefix(contStripped, "```") {
				inFence = !inFence
				block = append(block, cont)
				i++
				continue
			}
			if inFence {
				block = append(block, cont)
				i++
				continue
			}
			if strings.HasPrefix(contStripped, "- ") || strings.HasPrefix(contStripped, "## ") || strings.HasPrefix(contStripped, "### ") {
				break
			}
			if contStripped == "" {
				break
			}
			block = append(block, cont)
			i++
		}
		return strings.Join(block, "\n")
	}
	return ""
}

// findItemExtent returns the exclusive end index of the "- " item (and its
// continuation lines) starting at itemStart, bounded by sectionEnd.
func findItemExtent(lines []string, itemStart, sectionEnd int) int {
	end := itemStart + 1
	for j := itemStart + 1; j < sectionEnd; j++ {
		stripped := strings.TrimSpace(lines[j])
		if stripped == "" || strings.HasPrefix(stripped, "- ") || strings.HasPrefix(stripped, "#") {
			break
		}
		end = j + 1
	}
	return end
}

func spliceItem(lines []string, start, end int) (content string, removed string) {
	removed = strings.Join(lines[start:end], "\n")
	out := make([]string, 0, len(lines)-(end-start))
	out = append(out, lines[:start]...)
	out = append(out, lines[end:]...)
	return Normalize(strings.Join(out, "\n")), removed
}

// removeItemByText removes the first "- " item containing needle from the
// given section, scanning raw lines (so "### project:X" sub-headers never
// cause index mismatches against ParseSections output).
func removeItemByText(content, needle, sectionKey string) (updated string, removed string, ok bool) {
	lines := splitLines(content)
	bounds := findSectionBoundaries(lines)
	b, present := bounds[sectionKey]
	if !present {
		return content, "", false
	}
	for i := b.Start + 1; i < b.End; i++ {
		stripped := strings.TrimSpace(lines[i])
		if strings.HasPrefix(stripped, "- ") && strings.Contains(stripped, needle) {
			c, r := spliceItem(lines, i, findItemExtent(lines, i, b.End))
			return c, r, true
		}
	}
	return content, "", false
}

func insertAtSectionTop(content, sectionKey, header, entry string) string {
	lines := splitLines(content)
	bounds := findSectionBoundaries(lines)
	if b, ok := bounds[sectionKey]; ok {
		insertAt := b.Start + 1
		for insertAt < b.End && strings.TrimSpace(lines[insertAt]) == "" {
			insertAt++
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:insertAt]...)
		out = append(out, entry)
		out = append(out, lines[insertAt:]...)
		return Normalize(strings.Join(out, "\n"))
	}
	return Normalize(content + "\n## " + header + "\n\n" + entry + "\n")
}

func timestamp() string {
	return nowFunc().Format("2006-01-02 15:04")
}

func displayOf(removed string) string {
	removed = strings.TrimSpace(removed)
	return strings.TrimPrefix(removed, "- ")
}

// flushInProgressToDone moves every In Progress mission to Done with a
// timestamp. Enforces the at-most-one-In-Progress rule before a
// new mission starts.
func flushInProgressToDone(content string) string {
	sections := ParseSections(content)
	stale := sections["in_progress"]
	for _, item := range stale {
		firstLine := item
		if idx := strings.IndexByte(item, '\n'); idx >= 0 {
			firstLine = item[:idx]
		}
		firstLine = strings.TrimPrefix(strings.TrimSpace(firstLine), "- ")
		content = moveInProgressToDone(content, firstLine)
	}
	return content
}

func moveInProgressToDone(content, needle string) string {
	updated, removed, ok := removeItemByText(content, needle, "in_progress")
	if !ok {
		return content
	}
	entry := fmt.Sprintf("- %s ✅ (%s)", displayOf(removed), timestamp())
	return insertAtSectionTop(updated, "done", "Done", entry)
}

// StartMission moves the first Pending item whose text contains needle to
// the top of In Progress, stripped of any completion marker. Before
// inserting, all existing In Progress items are flushed to Done, so at most
// one mission is ever In Progress. No-op if needle matches nothing in
// Pending.
func StartMission(content, needle string) string {
	needle = strings.TrimSpace(needle)
	updated, removed, ok := removeItemByText(content, needle, "pending")
	if !ok {
		return content
	}
	entry := strings.TrimSpace(removed)
	if !strings.HasPrefix(entry, "- ") {
		entry = "- " + entry
	}
	firstLine, rest := entry, ""
	if idx := strings.IndexByte(entry, '\n'); idx >= 0 {
		firstLine, rest = entry[:idx], entry[idx:]
	}
	for _, marker := range []string{" ✅ (", " ❌ ("} {
		if idx := strings.LastIndex(firstLine, marker); idx >= 0 && strings.HasSuffix(firstLine, ")") {
			firstLine = firstLine[:idx]
		}
	}
	entry = firstLine + rest
	updated = flushInProgressToDone(updated)
	return insertAtSectionTop(updated, "in_progress", "In Progress", entry)
}

func moveToSection(content, needle, sectionKey, marker, header string) string {
	needle = strings.TrimSpace(needle)
	updated, removed, ok := removeItemByText(content, needle, "pending")
	if !ok {
		updated, removed, ok = removeItemByText(content, needle, "in_progress")
	}
	if !ok {
		return content
	}
	entry := fmt.Sprintf("- %s %s (%s)", displayOf(removed), marker, timestamp())
	return insertAtSectionTop(updated, sectionKey, header, entry)
}

// CompleteMission moves the mission matching needle (searching Pending
// first, then In Progress) to Done with a "✅ (timestamp)" marker. Idempotent:
// a second call with the same needle, once the item is already in Done, is
// a no-op (the needle no longer matches anything in Pending/In Progress).
func CompleteMission(content, needle string) string {
	return moveToSection(content, needle, "done", "✅", "Done")
}

// FailMission is CompleteMission's counterpart for the Failed section.
func FailMission(content, needle string) string {
	return moveToSection(content, needle, "failed", "❌", "Failed")
}

// DeleteIdea removes the 1-based idx'th idea. Returns the original content
// unchanged with ok=false if idx is out of range (boundary: idx<1 or
// idx>len(ideas) is a no-op).
func DeleteIdea(content string, idx int) (updated string, deleted string, ok bool) {
	ideas := ParseIdeas(content)
	if idx < 1 || idx > len(ideas) {
		return content, "", false
	}
	target := ideas[idx-1]

	lines := splitLines(content)
	count := 0
	inIdeas := false
	removeStart := -1
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(stripped), "## ") {
			if strings.EqualFold(strings.TrimSpace(stripped[3:]), "ideas") {
				inIdeas = true
			} else if inIdeas {
				break
			}
			continue
		}
		if inIdeas && strings.HasPrefix(stripped, "- ") {
			if removeStart != -1 {
				break
			}
			count++
			if count == idx {
				removeStart = i
			}
		} else if inIdeas && removeStart != -1 {
			if stripped != "" && !strings.HasPrefix(stripped, "#") {
				continue
			}
			break
		}
	}
	if removeStart == -1 {
		return content, "", false
	}
	removeEnd := removeStart + 1
	for j := removeStart + 1; j < len(lines); j++ {
		stripped := strings.TrimSpace(lines[j])
		if strings.HasPrefix(stripped, "- ") || strings.HasPrefix(stripped, "## ") || stripped == "" {
			break
		}
		removeEnd = j + 1
	}
	c, _ := spliceItem(lines, removeStart, removeEnd)
	return c, target, true
}

// PromoteIdea removes the 1-based idx'th idea and inserts it at the top of
// Pending (promoted ideas are treated as urgent).
func PromoteIdea(content string, idx int) (updated string, promoted string, ok bool) {
	updated, deleted, ok := DeleteIdea(content, idx)
	if !ok {
		return content, "", false
	}
	return InsertMission(updated, deleted, true), deleted, true
}

// PromoteAllIdeas promotes every idea to Pending, preserving their relative
// order. It processes from last index to first (so earlier indices stay
// valid across the loop) then reverses the result list to restore original
// order.
func PromoteAllIdeas(content string) (updated string, promoted []string) {
	ideas := ParseIdeas(content)
	if len(ideas) == 0 {
		return content, nil
	}
	updated = content
	for i := len(ideas); i >= 1; i-- {
		u, text, ok := PromoteIdea(updated, i)
		if ok {
			updated = u
			promoted = append(promoted, text)
		}
	}
	for l, r := 0, len(promoted)-1; l < r; l, r = l+1, r-1 {
		promoted[l], promoted[r] = promoted[r], promoted[l]
	}
	return updated, promoted
}

// CancelPendingMission removes a pending mission identified by a 1-based
// number or a case-insensitive substring match, returning the removed
// item's raw lines (leading "- " included). Returns ErrNoMatch if Pending is
// empty or nothing matches.
func CancelPendingMission(content, identifier string) (updated string, cancelled string, err error) {
	sections := ParseSections(content)
	pending := sections["pending"]
	if len(pending) == 0 {
		return content, "", fmt.Errorf("%w: no pending missions", ErrNoMatch)
	}
	identifier = strings.TrimSpace(identifier)

	targetIdx := -1
	if n, convErr := parsePositiveInt(identifier); convErr == nil {
		idx := n - 1
		if idx < 0 || idx >= len(pending) {
			return content, "", fmt.Errorf("%w: mission #%s not found (%d pending)", ErrNoMatch, identifier, len(pending))
		}
		targetIdx = idx
	} else {
		keyword := strings.ToLower(identifier)
		for i, item := range pending {
			if strings.Contains(strings.ToLower(item), keyword) {
				targetIdx = i
				break
			}
		}
		if targetIdx == -1 {
			return content, "", fmt.Errorf("%w: no pending mission matching %q", ErrNoMatch, identifier)
		}
	}

	lines := splitLines(content)
	bounds := findSectionBoundaries(lines)
	b, ok := bounds["pending"]
	if !ok {
		return content, "", fmt.Errorf("%w: no pending section", ErrNoMatch)
	}
	count := 0
	for i := b.Start + 1; i < b.End; i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "- ") {
			if count == targetIdx {
				c, removed := spliceItem(lines, i, findItemExtent(lines, i, b.End))
				return c, removed, nil
			}
			count++
		}
	}
	return content, "", fmt.Errorf("%w: could not locate mission in file content", ErrNoMatch)
}

func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// ReorderMission moves the position'th (1-based) Pending item to the
// target'th (1-based) position, returning its display text.
func ReorderMission(content string, position, target int) (updated string, moved string, err error) {
	lines := splitLines(content)
	bounds := findSectionBoundaries(lines)
	b, ok := bounds["pending"]
	if !ok {
		return content, "", fmt.Errorf("%w: no pending section found", ErrNoMatch)
	}

	items := collectItemRanges(lines, b.Start+1, b.End)
	if len(items) == 0 {
		return content, "", fmt.Errorf("%w: no pending missions to reorder", ErrNoMatch)
	}
	if position < 1 || position > len(items) {
		return content, "", fmt.Errorf("%w: invalid position %d, queue has %d mission(s)", ErrNoMatch, position, len(items))
	}
	if target < 1 || target > len(items) {
		return content, "", fmt.Errorf("%w: invalid target %d, queue has %d mission(s)", ErrNoMatch, target, len(items))
	}
	if position == target {
		return content, "", fmt.Errorf("%w: mission #%d is already at position %d", ErrNoMatch, position, target)
	}

	movedStart, movedEnd := items[position-1][0], items[position-1][1]
	movedLines := append([]string(nil), lines[movedStart:movedEnd]...)
	movedText := strings.Join(movedLines, "\n")

	newLines := make([]string, 0, len(lines)-(movedEnd-movedStart))
	newLines = append(newLines, lines[:movedStart]...)
	newLines = append(newLines, lines[movedEnd:]...)

	newBounds := findSectionBoundaries(newLines)
	nb := newBounds["pending"]
	newItems := collectItemRanges(newLines, nb.Start+1, nb.End)

	var insertIdx int
	switch {
	case target == 1:
		insertIdx = nb.Start + 1
		for insertIdx < nb.End && strings.TrimSpace(newLines[insertIdx]) == "" {
			insertIdx++
		}
	case target-1 < len(newItems):
		insertIdx = newItems[target-1][0]
	default:
		if len(newItems) > 0 {
			lastStart := newItems[len(newItems)-1][0]
			insertIdx = lastStart + 1
			for insertIdx < nb.End {
				ns := strings.TrimSpace(newLines[insertIdx])
				if strings.HasPrefix(ns, "- ") || strings.HasPrefix(ns, "## ") || strings.HasPrefix(ns, "### ") || ns == "" {
					break
				}
				insertIdx++
			}
		} else {
			insertIdx = nb.Start + 1
		}
	}

	result := make([]string, 0, len(newLines)+len(movedLines))
	result = append(result, newLines[:insertIdx]...)
	result = append(result, movedLines...)
	result = append(result, newLines[insertIdx:]...)

	return Normalize(strings.Join(result, "\n")), CleanMissionDisplay(movedText, 120), nil
}

// collectItemRanges walks lines[start:end) and returns the [itemStart,
// itemEnd) index pairs of each "- " item, including its continuation
// lines, within the half-open range.
func collectItemRanges(lines []string, start, end int) [][2]int {
	var items [][2]int
	i := start
	for i < end {
		stripped := strings.TrimSpace(lines[i])
		if strings.HasPrefix(stripped, "- ") {
			itemStart := i
			i++
			for i < end {
				ns := strings.TrimSpace(lines[i])
				if strings.HasPrefix(ns, "- ") || strings.HasPrefix(ns, "## ") || strings.HasPrefix(ns, "### ") || ns == "" {
					break
				}
				i++
			}
			items = append(items, [2]int{itemStart, i})
		} else {
			i++
		}
	}
	return items
}
