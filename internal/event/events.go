package event

import (
	"encoding/json"
	"time"
)

// Type discriminates the event union carried on a task queue.
type Type string

const (
	TypeChunk          Type = "message"
	TypeAgentThought   Type = "agent_thought"
	TypePlan           Type = "plan"
	TypeInterrupt      Type = "interrupt"
	TypePing           Type = "ping"
	TypeStop           Type = "stop"
	TypeMessageEnd     Type = "message_end"
	TypeError          Type = "error"
	TypeRetrieverRes   Type = "retriever_resources"
	TypeMessageReplace Type = "message_replace"
)

// Producer source identifiers, recorded on every publish.
const (
	SourceApplicationManager = "application_manager"
	SourceLLM                = "llm"
	SourceToolCallback       = "tool_callback"
	SourceGraphNode          = "graph_node"
)

// RetrieverResource is the DTO describing one retrieved passage, surfaced in
// agent_thought metadata and in the terminal message_end frame.
type RetrieverResource struct {
	Position       int     `json:"position"`
	DocumentID     string  `json:"document_id"`
	CollectionName string  `json:"collection_name,omitempty"`
	DocumentName   string  `json:"document_name"`
	DocumentPath   string  `json:"document_path,omitempty"`
	Content        string  `json:"content"`
	Score          float64 `json:"score"`
	StartIndex     int     `json:"start_index"`
}

// PromptMessage is one role-tagged turn of the prompt that produced the
// answer, captured at message_end. Inline image payloads are truncated before
// capture.
type PromptMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// EndResult is the payload of a terminal MessageEnd event.
type EndResult struct {
	Answer         string                 `json:"answer"`
	PromptTokens   int                    `json:"prompt_tokens"`
	OutputTokens   int                    `json:"output_tokens"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	PromptMessages []PromptMessage        `json:"prompt_messages,omitempty"`
}

// Event is the tagged union placed on a task queue. Exactly the fields for
// the given Type are populated; the rest stay zero.
type Event struct {
	Type      Type
	Source    string
	Timestamp time.Time

	// TypeChunk
	Delta    string
	Metadata map[string]interface{}

	// TypeAgentThought
	ThoughtID string

	// TypePlan
	PlanJSON json.RawMessage

	// TypeInterrupt
	Interrupt json.RawMessage

	// TypeStop
	Reason string

	// TypeMessageEnd
	Result *EndResult

	// TypeError
	Err        string
	Code       int
	HTTPStatus int

	// TypeRetrieverRes
	Resources []RetrieverResource

	// TypeMessageReplace
	Replace string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeStop, TypeMessageEnd, TypeError:
		return true
	}
	return false
}

// entityCarrier is implemented by persistence-layer rows. Live rows must not
// cross a task boundary; producers pass IDs or plain DTOs instead.
type entityCarrier interface{ StoreEntity() }

func carriesEntity(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(entityCarrier); ok {
		return true
	}
	if m, ok := v.(map[string]interface{}); ok {
		for _, inner := range m {
			if carriesEntity(inner) {
				return true
			}
		}
	}
	if s, ok := v.([]interface{}); ok {
		for _, inner := range s {
			if carriesEntity(inner) {
				return true
			}
		}
	}
	return false
}
