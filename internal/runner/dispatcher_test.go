package runner

import (
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/llm"
)

func TestPromptSnapshotKeepsRolesAndOrder(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "you are helpful"},
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
		{Role: llm.RoleUser, Content: "current question"},
	}
	snap := promptSnapshot(msgs)
	if len(snap) != len(msgs) {
		t.Fatalf("snapshot must keep every turn, got %d of %d", len(snap), len(msgs))
	}
	for i, m := range msgs {
		if snap[i].Role != m.Role || snap[i].Content != m.Content {
			t.Fatalf("turn %d changed: got %+v, want role %q content %q", i, snap[i], m.Role, m.Content)
		}
	}
}

func TestPromptSnapshotTruncatesImagePayloads(t *testing.T) {
	big := strings.Repeat("A", maxInlineImageChars*3)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "see attached", Images: []string{big, "tiny"}}}
	snap := promptSnapshot(msgs)
	if len(snap[0].Images) != 2 {
		t.Fatalf("every image keeps a slot, got %d", len(snap[0].Images))
	}
	if got := snap[0].Images[0]; len(got) > maxInlineImageChars+len("...[truncated]") || !strings.HasSuffix(got, "...[truncated]") {
		t.Fatalf("oversized payload must be truncated with a marker, got %d chars", len(got))
	}
	if snap[0].Images[1] != "tiny" {
		t.Fatalf("small payloads pass through untouched, got %q", snap[0].Images[1])
	}
}
