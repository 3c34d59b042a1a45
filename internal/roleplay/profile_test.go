package roleplay

import (
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/memory"
)

func TestConcatenateOrdersSections(t *testing.T) {
	in := memory.Input{
		Variables:    map[string]string{"char": "Ada", "user": "Sam"},
		SystemPrompt: "You are {{char}} talking to {{user}}.",
		BeforeSystem: []string{"world lore first"},
		AfterSystem:  []string{"Ada's personality: curious"},
	}
	got := Concatenate(in, []string{"Sam: hello", "Ada: hi"}, "Sam: what next?")

	want := "world lore first\n" +
		"You are Ada talking to Sam.\n" +
		"Ada's personality: curious\n" +
		"\n***\n" +
		"Sam: hello\nAda: hi\n" +
		"Sam: what next?"
	if got != want {
		t.Fatalf("concatenated prompt mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestConcatenateWithoutSystemPrompt(t *testing.T) {
	got := Concatenate(memory.Input{}, nil, "just the query")
	if !strings.HasSuffix(got, "***\njust the query") {
		t.Fatalf("empty input must still separate header from dialogue, got %q", got)
	}
}
