package runner

import (
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/memory"
	"github.com/surveyor-ai/surveyor/internal/store"
)

func TestGeneratePromptFlattensToSingleMessage(t *testing.T) {
	in := memory.Input{
		Variables:    map[string]string{"char": "Ada", "user": "Sam"},
		SystemPrompt: "You are {{char}}.",
	}
	history := []store.Message{
		{Query: "hello", Answer: "hi there"},
		{Query: "how are you"},
	}
	msgs := generatePrompt(in, history, "tell me a story")
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Fatalf("generate mode must produce one user message, got %+v", msgs)
	}
	prompt := msgs[0].Content
	if !strings.Contains(prompt, "You are Ada.") {
		t.Fatalf("system prompt variables must be substituted, got %q", prompt)
	}
	for _, line := range []string{"Sam: hello", "Ada: hi there", "Sam: how are you"} {
		if !strings.Contains(prompt, line) {
			t.Fatalf("history turn %q missing from prompt %q", line, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "Sam: tell me a story") {
		t.Fatalf("the current query must close the prompt, got %q", prompt)
	}
	if idx := strings.Index(prompt, "***"); idx < 0 || strings.Index(prompt, "Sam: hello") < idx {
		t.Fatalf("dialogue must follow the separator, got %q", prompt)
	}
}

func TestGeneratePromptUnnamedSpeakers(t *testing.T) {
	msgs := generatePrompt(memory.Input{}, []store.Message{{Query: "q1"}}, "q2")
	if got := msgs[0].Content; !strings.Contains(got, "q1\nq2") {
		t.Fatalf("without names the turns stay bare lines, got %q", got)
	}
}
