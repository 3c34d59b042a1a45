package memory

import (
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
)

func TestAssembleOrdering(t *testing.T) {
	msgs := NewAssembler().Assemble(Input{
		SystemPrompt: "You are a helpful assistant.",
		History: []store.Message{
			{Query: "first question", Answer: "first answer"},
			{Query: "second question", Answer: "second answer"},
		},
		Query: "third question",
	})

	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	want := []string{"first question", "first answer", "second question", "second answer", "third question"}
	for i, w := range want {
		if msgs[i+1].Content != w {
			t.Errorf("msgs[%d] = %q, want %q", i+1, msgs[i+1].Content, w)
		}
	}
	if last := msgs[len(msgs)-1]; last.Role != llm.RoleUser {
		t.Errorf("last message role = %q, want user", last.Role)
	}
}

func TestAssembleVariables(t *testing.T) {
	msgs := NewAssembler().Assemble(Input{
		SystemPrompt: "You are {{char}}. Stay in character.",
		Variables:    map[string]string{"char": "Ada"},
		Query:        "Hello {{char}}, I am {{unknown}}.",
	})

	if !strings.Contains(msgs[0].Content, "You are Ada.") {
		t.Errorf("system prompt not substituted: %q", msgs[0].Content)
	}
	user := msgs[len(msgs)-1].Content
	if !strings.Contains(user, "Hello Ada") {
		t.Errorf("query not substituted: %q", user)
	}
	if !strings.Contains(user, "{{unknown}}") {
		t.Errorf("unknown placeholder should stay visible: %q", user)
	}
}

func TestAssembleKnowledge(t *testing.T) {
	msgs := NewAssembler().Assemble(Input{
		SystemPrompt: "base",
		Knowledge:    "[1] doc.txt\nThe answer is 42.",
		Query:        "what is the answer?",
	})

	if !strings.Contains(msgs[0].Content, "The answer is 42.") {
		t.Errorf("knowledge missing from system prompt: %q", msgs[0].Content)
	}
	if !strings.HasPrefix(msgs[0].Content, "base") {
		t.Errorf("system prompt should come before knowledge: %q", msgs[0].Content)
	}
}

func TestAssembleAnchoredSegments(t *testing.T) {
	msgs := NewAssembler().Assemble(Input{
		SystemPrompt: "middle",
		BeforeSystem: []string{"before"},
		AfterSystem:  []string{"after"},
		Query:        "q",
	})

	sys := msgs[0].Content
	bi := strings.Index(sys, "before")
	mi := strings.Index(sys, "middle")
	ai := strings.Index(sys, "after")
	if bi < 0 || mi < 0 || ai < 0 || !(bi < mi && mi < ai) {
		t.Errorf("anchored segments out of order: %q", sys)
	}
}

func TestAssembleTrimsOldHistory(t *testing.T) {
	long := strings.Repeat("x", 400)
	in := Input{
		History: []store.Message{
			{Query: long, Answer: long},
			{Query: "recent question", Answer: "recent answer"},
		},
		Query: "now",
		// Room for the recent turn but not the long one.
		NumCtx:     200,
		NumPredict: 10,
	}
	msgs := NewAssembler().Assemble(in)

	for _, m := range msgs {
		if m.Content == long {
			t.Fatal("oldest turn should have been dropped")
		}
	}
	var found bool
	for _, m := range msgs {
		if m.Content == "recent question" {
			found = true
		}
	}
	if !found {
		t.Error("recent turn should survive trimming")
	}
	if msgs[len(msgs)-1].Content != "now" {
		t.Error("current user turn must always be sent")
	}
}

func TestAssembleNoWindowNoTrim(t *testing.T) {
	long := strings.Repeat("x", 4000)
	msgs := NewAssembler().Assemble(Input{
		History: []store.Message{{Query: long, Answer: long}},
		Query:   "q",
	})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (no trimming without a declared window)", len(msgs))
	}
}

func TestAssembleDepthInjection(t *testing.T) {
	msgs := NewAssembler().Assemble(Input{
		History: []store.Message{
			{Query: "q1", Answer: "a1"},
			{Query: "q2", Answer: "a2"},
		},
		AtDepth: []DepthInjection{{Depth: 2, Content: "injected"}},
		Query:   "q3",
	})

	// History is [q1 a1 q2 a2]; depth 2 lands before q2.
	var pos int
	for i, m := range msgs {
		if m.Content == "injected" {
			pos = i
		}
	}
	if pos == 0 {
		t.Fatal("injection missing")
	}
	if msgs[pos+1].Content != "q2" {
		t.Errorf("injection at wrong position, next = %q, want q2", msgs[pos+1].Content)
	}
	if msgs[pos].Role != llm.RoleSystem {
		t.Errorf("default injection role = %q, want system", msgs[pos].Role)
	}
}

func TestSubstituteVariablesEmpty(t *testing.T) {
	if got := SubstituteVariables("{{a}}", nil); got != "{{a}}" {
		t.Errorf("got %q, want placeholder untouched", got)
	}
}

func TestAssembleImageFiles(t *testing.T) {
	msgs := NewAssembler().Assemble(Input{
		Query: "describe this",
		Files: []store.FileRef{
			{Name: "pic.png", URL: "http://example.com/pic.png"},
			{Name: "inline.png", Data: "aGVsbG8="},
		},
	})
	user := msgs[len(msgs)-1]
	if len(user.Images) != 2 {
		t.Fatalf("got %d images, want 2", len(user.Images))
	}
	if user.Images[0] != "http://example.com/pic.png" {
		t.Errorf("url image = %q", user.Images[0])
	}
}
