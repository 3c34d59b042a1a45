package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step types the planner may emit.
const (
	StepResearch = "research"
	StepCode     = "code"
)

// DecomposedSentinel marks a step that was replaced by finer-grained
// sub-steps; it counts as complete and is never executed.
const DecomposedSentinel = "<decomposed>"

// Step is one unit of work in a plan. A step is complete iff ExecutionRes is
// non-empty; once complete it is never mutated except to the decomposed
// sentinel.
type Step struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	StepType     string `json:"step_type"`
	NeedSearch   bool   `json:"need_search"`
	ExecutionRes string `json:"execution_res,omitempty"`
}

// Completed reports whether the step has an execution result.
func (s Step) Completed() bool { return s.ExecutionRes != "" }

// MarkedDecomposed reports whether the proposed step carries the
// decomposition marker in its title or description.
func (s Step) MarkedDecomposed() bool {
	return strings.HasPrefix(s.Title, DecomposedSentinel) ||
		strings.HasPrefix(s.Description, DecomposedSentinel)
}

// Plan is the ordered step list the planner produces and the merger folds
// across re-plan iterations.
type Plan struct {
	Locale           string `json:"locale"`
	HasEnoughContext bool   `json:"has_enough_context"`
	Thought          string `json:"thought"`
	Title            string `json:"title"`
	Steps            []Step `json:"steps"`
}

// AllComplete reports whether every step has an execution result.
func (p *Plan) AllComplete() bool {
	for _, s := range p.Steps {
		if !s.Completed() {
			return false
		}
	}
	return true
}

// FirstPending returns the index of the first step without a result.
func (p *Plan) FirstPending() (int, bool) {
	for i, s := range p.Steps {
		if !s.Completed() {
			return i, true
		}
	}
	return 0, false
}

// JSON renders the plan for plan events and checkpoints.
func (p *Plan) JSON() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// Summary renders the plan with execution results elided, just completion
// status, for planner re-prompting.
func (p *Plan) Summary() string {
	var b strings.Builder
	for i, s := range p.Steps {
		status := "pending"
		if s.ExecutionRes == DecomposedSentinel {
			status = "decomposed"
		} else if s.Completed() {
			status = "completed"
		}
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, status, s.Title, s.Description)
	}
	return b.String()
}

// ParsePlan decodes a planner completion into a Plan, tolerating markdown
// code fences around the JSON body.
func ParsePlan(raw string) (*Plan, error) {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start > 0 {
		text = text[start:]
	}
	var p Plan
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &p, nil
}
