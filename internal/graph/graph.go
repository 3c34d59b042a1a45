package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

// Recorder captures llm and tool callback events as persisted agent
// thoughts. Implemented by the runner's callback recorder.
type Recorder interface {
	LLMStart(ctx context.Context, node string) (thoughtID string, err error)
	LLMEnd(ctx context.Context, thoughtID, content string, usage llm.Usage) error
	ToolStart(ctx context.Context, node, tool, input string) (thoughtID string, err error)
	ToolEnd(ctx context.Context, thoughtID string, resp tooling.Response) error
}

// CheckpointSaver persists graph state per conversation thread.
type CheckpointSaver interface {
	Save(ctx context.Context, conversationID, node string, state json.RawMessage) error
}

// RunContext carries the run-scoped collaborators every node needs.
type RunContext struct {
	Provider   llm.Provider
	Routing    config.LLMRoutingConfig
	Tools      *tooling.Registry
	Queue      *event.Queue
	Recorder   Recorder
	Checkpoint CheckpointSaver

	TaskID         string
	ConversationID string

	// Stopped reports the cooperative stop flag for this task. Nodes poll it
	// between transitions, per agent iteration, and per streamed delta.
	Stopped func(ctx context.Context) bool

	MaxPlanIterations       int
	MaxStepNum              int
	RecursionLimit          int
	BackgroundInvestigation bool
	AgentTools              []string
	MaxAgentIterations      int

	Logger *log.Logger
}

func (rc *RunContext) logf(format string, args ...interface{}) {
	if rc.Logger != nil {
		rc.Logger.Printf(format, args...)
	}
}

func (rc *RunContext) stopRequested(ctx context.Context) bool {
	return rc.Stopped != nil && rc.Stopped(ctx)
}

// NodeFunc is one node: inspect state, act, return a patch and a route.
type NodeFunc func(ctx context.Context, s *State, rc *RunContext) (Command, error)

// Graph is the wired node set for one strategy.
type Graph struct {
	nodes map[string]NodeFunc
}

// NewResearchGraph wires the deep-research strategy.
func NewResearchGraph() *Graph {
	return &Graph{nodes: map[string]NodeFunc{
		NodeCoordinator:     coordinatorNode,
		NodeBackgroundInves: backgroundInvestigatorNode,
		NodePlanner:         plannerNode,
		NodeHumanFeedback:   humanFeedbackNode,
		NodeResearchTeam:    researchTeamNode,
		NodeResearcher:      researcherNode,
		NodeCoder:           coderNode,
		NodeReporter:        reporterNode,
	}}
}

// Run executes from entry until GotoEnd or GotoAwait, applying each node's
// patch and checkpointing after every transition. It returns the terminal
// sentinel so callers can tell completion from an interrupt suspension. The
// transition count is hard-capped by the recursion limit; exceeding it
// surfaces the localized recursion error.
func (g *Graph) Run(ctx context.Context, entry string, s *State, rc *RunContext) (string, error) {
	node := entry
	limit := rc.RecursionLimit
	if limit <= 0 {
		limit = 25
	}
	for steps := 0; ; steps++ {
		if steps >= limit {
			return "", apperr.RecursionLimit(s.Locale, limit)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if rc.stopRequested(ctx) {
			return "", apperr.ErrTaskStopped
		}
		fn, ok := g.nodes[node]
		if !ok {
			return "", fmt.Errorf("unknown graph node %q", node)
		}
		rc.logf("node %s (step %d)", node, steps)
		cmd, err := fn(ctx, s, rc)
		if err != nil {
			if apperr.IsTaskStopped(err) {
				return "", err
			}
			return "", fmt.Errorf("node %s: %w", node, err)
		}
		cmd.apply(s)
		s.RemainingSteps = limit - steps - 1
		if rc.Checkpoint != nil {
			raw, merr := json.Marshal(s)
			if merr == nil {
				if cerr := rc.Checkpoint.Save(ctx, rc.ConversationID, node, raw); cerr != nil {
					rc.logf("checkpoint after %s failed: %v", node, cerr)
				}
			}
		}
		switch cmd.Goto {
		case GotoEnd, GotoAwait:
			return cmd.Goto, nil
		case "":
			return "", fmt.Errorf("node %s returned no route", node)
		}
		node = cmd.Goto
	}
}

// modelFor resolves the routed model for a role, falling back per config.
func modelFor(rc *RunContext, role string) string {
	r := rc.Routing
	pick := func(vals ...string) string {
		for _, v := range vals {
			if v != "" {
				return v
			}
		}
		return ""
	}
	switch role {
	case "coordinator":
		return pick(r.Coordinator, r.Fallback)
	case "planning":
		return pick(r.Planning, r.Fallback)
	case "research":
		return pick(r.Research, r.Fallback)
	case "coding":
		return pick(r.Coding, r.Research, r.Fallback)
	case "reporting":
		return pick(r.Reporting, r.Fallback)
	case "summarize":
		return pick(r.Summarize, r.Fallback)
	default:
		return r.Fallback
	}
}
