package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/graph"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

// checkpointSaver adapts the store to the graph's checkpoint contract.
type checkpointSaver struct {
	store *store.Store
}

func (c checkpointSaver) Save(ctx context.Context, conversationID, node string, state json.RawMessage) error {
	return c.store.SaveGraphCheckpoint(ctx, conversationID, node, state)
}

// runAgent drives the deep-research graph for one turn. A fresh query enters
// at the coordinator; a turn carrying plan-review feedback resumes the
// suspended thread from its checkpoint at the human feedback node.
func (d *Dispatcher) runAgent(ctx context.Context, bot store.Bot, mc store.ModelConfig, req Request, registry *tooling.Registry, q *event.Queue) error {
	gcfg := d.cfg.Graph
	rc := &graph.RunContext{
		Provider:   d.provider,
		Routing:    d.cfg.LLM.Routing,
		Tools:      registry,
		Queue:      q,
		Recorder:   NewCallbackRecorder(d.store, q, req.MessageID),
		Checkpoint: checkpointSaver{store: d.store},

		TaskID:         req.TaskID,
		ConversationID: req.ConversationID,
		Stopped: func(ctx context.Context) bool {
			return d.flags != nil && d.flags.IsStopped(ctx, req.TaskID)
		},

		MaxPlanIterations:       gcfg.MaxPlanIterations,
		MaxStepNum:              gcfg.MaxStepNum,
		RecursionLimit:          gcfg.RecursionLimitFromEnv(),
		BackgroundInvestigation: gcfg.BackgroundInvestigation,
		AgentTools:              mc.AgentTools,
		MaxAgentIterations:      mc.MaxIterations,

		Logger: d.logger,
	}

	entry := graph.NodeCoordinator
	var state *graph.State
	if req.InterruptFeedback != "" {
		resumed, err := d.resumeState(ctx, req)
		if err != nil {
			return err
		}
		state = resumed
		entry = graph.NodeHumanFeedback
	} else {
		state = &graph.State{
			Messages:         []llm.Message{{Role: llm.RoleUser, Content: req.Query}},
			ResearchTopic:    req.Query,
			AutoAcceptedPlan: req.AutoAcceptedPlan || gcfg.AutoAcceptedPlan,
		}
	}

	route, err := graph.NewResearchGraph().Run(ctx, entry, state, rc)
	if err != nil {
		return err
	}

	if route == graph.GotoAwait {
		return q.PublishMessageEnd(ctx, &event.EndResult{
			Metadata: map[string]interface{}{"awaiting_feedback": true},
		}, event.SourceGraphNode)
	}
	return q.PublishMessageEnd(ctx, &event.EndResult{
		Answer:         state.FinalAnswer,
		PromptMessages: promptSnapshot(state.Messages),
	}, event.SourceGraphNode)
}

// resumeState reloads the checkpointed graph state and injects the review
// feedback for the human feedback node to consume.
func (d *Dispatcher) resumeState(ctx context.Context, req Request) (*graph.State, error) {
	cp, ok, err := d.store.GetGraphCheckpoint(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Invalid("no plan is awaiting review in this conversation")
	}
	var state graph.State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, fmt.Errorf("decode graph checkpoint: %w", err)
	}
	state.InterruptFeedback = req.InterruptFeedback
	return &state, nil
}
