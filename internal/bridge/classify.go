package bridge

import (
	"regexp"
	"strings"
)

// MessageKind is the classifier's verdict for one inbound chat message.
type MessageKind int

const (
	KindDrop MessageKind = iota
	KindCommand
	KindMission
	KindChat
)

// shortMessageLimit is a message-length threshold that Classify does not
// consult: an imperative-led message of two or more words is a mission at
// any length, and a single word ("fix") is chat.
const shortMessageLimit = 200

var missionPrefixRe = regexp.MustCompile(`(?i)^mission:\s*`)
var commandRe = regexp.MustCompile(`^/([a-zA-Z][\w-]*)\b(.*)$`)

// imperativeVerbs seeds the "starts with an imperative verb" heuristic.
// Not exhaustive by design: border cases fall through to chat, and /mission
// is the documented escape hatch.
var imperativeVerbs = map[string]bool{
	"add": true, "build": true, "check": true, "clean": true, "create": true,
	"debug": true, "delete": true, "deploy": true, "document": true, "fix": true,
	"implement": true, "improve": true, "investigate": true, "migrate": true,
	"refactor": true, "remove": true, "rename": true, "review": true,
	"test": true, "update": true, "upgrade": true, "write": true,
}

// Classification is the classifier's result.
type Classification struct {
	Kind    MessageKind
	Command string // set when Kind == KindCommand
	Args    string // set when Kind == KindCommand
	Text    string // the (possibly prefix-stripped) mission/chat text
}

// Classify implements the bridge's message classifier: empty messages are
// dropped, slash-prefixed ones are commands, ones matching the mission
// heuristic (explicit prefix, or imperative-verb-led and long enough to
// carry context) become missions, everything else is chat.
func Classify(raw string) Classification {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Classification{Kind: KindDrop}
	}

	if m := commandRe.FindStringSubmatch(text); m != nil {
		return Classification{Kind: KindCommand, Command: strings.ToLower(m[1]), Args: strings.TrimSpace(m[2])}
	}

	if missionPrefixRe.MatchString(text) {
		return Classification{Kind: KindMission, Text: missionPrefixRe.ReplaceAllString(text, "")}
	}

	if looksImperative(text) {
		return Classification{Kind: KindMission, Text: text}
	}

	return Classification{Kind: KindChat, Text: text}
}

// looksImperative reports whether text's first word is a recognized
// imperative verb and the message carries more than just that single word,
// so a bare "fix" still falls through to chat per the documented
// classifier boundary case.
func looksImperative(text string) bool {
	words := strings.Fields(text)
	if len(words) < 2 {
		return false
	}
	first := strings.ToLower(strings.Trim(words[0], ".,!?"))
	return imperativeVerbs[first]
}
