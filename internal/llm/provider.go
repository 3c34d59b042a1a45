package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/surveyor-ai/surveyor/config"
)

// Role values mirror the chat wire protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one prompt entry. Images carry attachment references (URL or
// base64) for providers that accept them.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Images     []string   `json:"images,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is an LLM-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
	NumCtx      int
	Stop        []string
	JSONMode    bool
}

// Usage reports token accounting for a completed call.
type Usage struct {
	PromptTokens int
	OutputTokens int
}

// StreamChunk is one delta of a streaming completion. Done carries the final
// usage when the provider reports it.
type StreamChunk struct {
	Delta string
	Done  bool
	Usage Usage
}

// Completion is the result of a tool-aware generate call.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is the contract for LLM backends.
type Provider interface {
	// Generate runs a completion and returns the full content.
	Generate(ctx context.Context, model string, msgs []Message, opts Options) (string, Usage, error)

	// GenerateWithTools runs a completion offering the given tools.
	GenerateWithTools(ctx context.Context, model string, msgs []Message, tools []ToolSpec, opts Options) (Completion, error)

	// Stream runs a completion and emits deltas on the returned channel.
	Stream(ctx context.Context, model string, msgs []Message, opts Options) (<-chan StreamChunk, error)

	// Embed generates vector embeddings for the inputs.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// Speech synthesizes audio for the input text.
	Speech(ctx context.Context, model, voice, format, input string) ([]byte, error)
}

// NewProvider builds a provider from its config entry.
func NewProvider(name string, cfg config.LLMProvider) (Provider, error) {
	switch cfg.Type {
	case "openai", "":
		return newOpenAIProvider(cfg), nil
	case "ollama":
		return newOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider type %q for %s", cfg.Type, name)
	}
}

// NewFromConfig picks the first configured provider, preferring openai.
func NewFromConfig(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}
	if p, ok := cfg.Providers["openai"]; ok {
		return NewProvider("openai", p)
	}
	if p, ok := cfg.Providers["ollama"]; ok {
		return NewProvider("ollama", p)
	}
	for name, p := range cfg.Providers {
		return NewProvider(name, p)
	}
	return nil, fmt.Errorf("no llm providers configured")
}

// EstimateTokens approximates token counts as ceil(len/4), the estimator
// shared by the tool shaper and message accounting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
