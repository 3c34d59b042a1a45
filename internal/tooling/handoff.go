package tooling

import (
	"context"
	"encoding/json"
)

// HandoffToolName is the signal tool the coordinator binds to route a
// request into the planner.
const HandoffToolName = "handoff_to_planner"

const handoffSchema = `{
  "type": "object",
  "properties": {
    "research_topic": {"type": "string", "description": "The topic to research."},
    "locale": {"type": "string", "description": "User locale, e.g. en-US or zh-CN."}
  },
  "required": ["research_topic", "locale"]
}`

// HandoffArgs is the payload of a handoff call.
type HandoffArgs struct {
	ResearchTopic string `json:"research_topic"`
	Locale        string `json:"locale"`
}

// NewHandoffTool is signal-only: invoking it does nothing. The coordinator
// node inspects the tool call itself to decide routing.
func NewHandoffTool() Tool {
	return Tool{
		Name:        HandoffToolName,
		Description: "Hand the conversation to the planner when the request needs research. Do not answer yourself.",
		Schema:      json.RawMessage(handoffSchema),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "handed off to planner", nil
		},
	}
}
