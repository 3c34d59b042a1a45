package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/telemetry"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

// CallbackRecorder persists agent thoughts as the graph's llm and tool
// callbacks fire, assigning dense positions in fire order, and surfaces each
// thought on the event queue by id.
type CallbackRecorder struct {
	store     *store.Store
	queue     *event.Queue
	messageID string

	mu     sync.Mutex
	starts map[string]time.Time
}

func NewCallbackRecorder(st *store.Store, q *event.Queue, messageID string) *CallbackRecorder {
	return &CallbackRecorder{
		store:     st,
		queue:     q,
		messageID: messageID,
		starts:    map[string]time.Time{},
	}
}

func (r *CallbackRecorder) begin(ctx context.Context, t store.AgentThought) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, err := r.store.NextThoughtPosition(ctx, r.messageID)
	if err != nil {
		return "", err
	}
	t.MessageID = r.messageID
	t.Position = pos
	created, err := r.store.CreateAgentThought(ctx, t)
	if err != nil {
		return "", err
	}
	r.starts[created.ID] = time.Now()
	if err := r.queue.PublishAgentThought(ctx, created.ID, event.SourceToolCallback); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (r *CallbackRecorder) elapsed(thoughtID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, ok := r.starts[thoughtID]
	if !ok {
		return 0
	}
	delete(r.starts, thoughtID)
	return time.Since(start).Milliseconds()
}

// LLMStart opens a thought for a model call.
func (r *CallbackRecorder) LLMStart(ctx context.Context, node string) (string, error) {
	return r.begin(ctx, store.AgentThought{
		Status:   store.ThoughtLLMStarted,
		Metadata: map[string]interface{}{"node": node},
	})
}

// LLMEnd closes an llm thought with the generated content and usage.
func (r *CallbackRecorder) LLMEnd(ctx context.Context, thoughtID, content string, usage llm.Usage) error {
	t, ok, err := r.store.GetAgentThought(ctx, thoughtID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("agent thought %s vanished before llm end", thoughtID)
	}
	t.Thought = content
	t.Status = store.ThoughtLLMEnd
	t.LatencyMs = r.elapsed(thoughtID)
	t.PromptTokens = usage.PromptTokens
	t.OutputTokens = usage.OutputTokens
	if err := r.store.UpdateAgentThought(ctx, t); err != nil {
		return err
	}
	return r.queue.PublishAgentThought(ctx, thoughtID, event.SourceToolCallback)
}

// ToolStart opens a thought for a tool invocation.
func (r *CallbackRecorder) ToolStart(ctx context.Context, node, tool, input string) (string, error) {
	return r.begin(ctx, store.AgentThought{
		Tool:      tool,
		ToolInput: input,
		Status:    store.ThoughtToolStarted,
		Metadata:  map[string]interface{}{"node": node},
	})
}

// ToolEnd closes a tool thought with the shaped response. Tool failures land
// in metadata under the error key; they never abort the run.
func (r *CallbackRecorder) ToolEnd(ctx context.Context, thoughtID string, resp tooling.Response) error {
	t, ok, err := r.store.GetAgentThought(ctx, thoughtID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("agent thought %s vanished before tool end", thoughtID)
	}
	t.Observation = resp.Content
	t.Status = store.ThoughtToolEnd
	t.LatencyMs = resp.LatencyMs
	if t.LatencyMs == 0 {
		t.LatencyMs = r.elapsed(thoughtID)
	} else {
		r.elapsed(thoughtID)
	}
	if t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
	t.Metadata["token_estimate"] = resp.TokenEstimate
	if resp.Status == tooling.StatusError {
		t.Metadata["error"] = resp.Content
	}
	telemetry.ObserveTool(t.Tool, resp.Status, float64(t.LatencyMs)/1000)
	if err := r.store.UpdateAgentThought(ctx, t); err != nil {
		return err
	}
	return r.queue.PublishAgentThought(ctx, thoughtID, event.SourceToolCallback)
}
