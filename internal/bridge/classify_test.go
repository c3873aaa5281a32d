package bridge

import "testing"

// S5 — bridge classification.
func TestScenario_BridgeClassification(t *testing.T) {
	cases := []struct {
		input string
		want  MessageKind
	}{
		{"hello there", KindChat},
		{"mission: audit the backend", KindMission},
		{"implement dark mode now and forever after", KindMission},
		{"/stop", KindCommand},
		{"fix", KindChat},
	}

	for _, c := range cases {
		got := Classify(c.input).Kind
		if got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestClassify_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		if got := Classify(input).Kind; got != KindDrop {
			t.Errorf("Classify(%q) = %v, want KindDrop", input, got)
		}
	}
}

func TestClassify_CommandParsesArgs(t *testing.T) {
	c := Classify("/mission  fix the thing")
	if c.Kind != KindCommand {
		t.Fatalf("expected KindCommand, got %v", c.Kind)
	}
	if c.Command != "mission" {
		t.Errorf("Command = %q, want mission", c.Command)
	}
	if c.Args != "fix the thing" {
		t.Errorf("Args = %q, want %q", c.Args, "fix the thing")
	}
}

func TestClassify_MissionPrefixStripped(t *testing.T) {
	c := Classify("mission: audit the backend")
	if c.Text != "audit the backend" {
		t.Errorf("Text = %q, want %q", c.Text, "audit the backend")
	}
}

func TestClassify_BareImperativeVerbIsChat(t *testing.T) {
	for _, word := range []string{"fix", "build", "test"} {
		if got := Classify(word).Kind; got != KindChat {
			t.Errorf("Classify(%q) = %v, want KindChat (no verb context)", word, got)
		}
	}
}
