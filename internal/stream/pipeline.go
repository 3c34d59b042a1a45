package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/telemetry"
)

// Pipeline drains one task queue and renders its events as SSE frames. It is
// the single consumer of the queue: it accumulates the answer, tracks timing
// metrics, and persists the message when the terminal frame arrives.
type Pipeline struct {
	store  *store.Store
	queue  *event.Queue
	logger *log.Logger

	messageID      string
	conversationID string

	started    time.Time
	firstToken time.Time
	answer     strings.Builder
	metadata   map[string]interface{}
	resources  []event.RetrieverResource
	prompt     []store.PromptMessage
}

// New builds the pipeline for one chat turn. Construction time anchors the
// time-to-first-token metric.
func New(st *store.Store, q *event.Queue, conversationID, messageID string) *Pipeline {
	return &Pipeline{
		store:          st,
		queue:          q,
		logger:         log.New(log.Writer(), "[STREAM] ", log.LstdFlags),
		messageID:      messageID,
		conversationID: conversationID,
		started:        time.Now(),
		metadata:       map[string]interface{}{},
	}
}

// Run consumes the queue until a terminal event, the listen timeout, or
// context cancel, writing one data frame per event to w.
func (p *Pipeline) Run(ctx context.Context, w io.Writer) error {
	for ev := range p.queue.Listen(ctx) {
		if err := p.handle(ctx, w, ev); err != nil {
			return err
		}
		if ev.Terminal() || ev.Type == event.TypeStop {
			return nil
		}
	}
	return ctx.Err()
}

func (p *Pipeline) handle(ctx context.Context, w io.Writer, ev event.Event) error {
	switch ev.Type {
	case event.TypeChunk:
		if p.firstToken.IsZero() {
			p.firstToken = time.Now()
		}
		p.answer.WriteString(ev.Delta)
		return p.emit(w, frame{
			Event:    "message",
			Answer:   ev.Delta,
			Metadata: ev.Metadata,
		})

	case event.TypeAgentThought:
		return p.emitThought(ctx, w, ev.ThoughtID)

	case event.TypePlan:
		return p.emit(w, frame{Event: "plan", Answer: string(ev.PlanJSON)})

	case event.TypeInterrupt:
		return p.emit(w, frame{Event: "interrupt", Answer: string(ev.Interrupt)})

	case event.TypeMessageReplace:
		p.answer.Reset()
		p.answer.WriteString(ev.Replace)
		return p.emit(w, frame{Event: "message_replace", Answer: ev.Replace})

	case event.TypeRetrieverRes:
		// Not a client frame on its own: surfaced in message_end metadata.
		p.resources = append(p.resources, ev.Resources...)
		return nil

	case event.TypePing:
		return p.emit(w, frame{Event: "ping"})

	case event.TypeMessageEnd:
		return p.finalize(ctx, w, ev.Result, false, "")

	case event.TypeStop:
		return p.finalize(ctx, w, nil, true, ev.Reason)

	case event.TypeError:
		f := frame{Event: "error", Code: ev.Code, Status: ev.HTTPStatus, Message: ev.Err}
		if err := p.emit(w, f); err != nil {
			return err
		}
		return p.persist(ctx, nil, true)

	default:
		p.logger.Printf("dropping unknown event type %q", ev.Type)
		return nil
	}
}

// emitThought loads the persisted thought record and renders it. Knowledge
// retrieval thoughts carry their citations inline.
func (p *Pipeline) emitThought(ctx context.Context, w io.Writer, thoughtID string) error {
	t, ok, err := p.store.GetAgentThought(ctx, thoughtID)
	if err != nil {
		return fmt.Errorf("load agent thought: %w", err)
	}
	if !ok {
		p.logger.Printf("agent thought %s not found, skipping frame", thoughtID)
		return nil
	}
	meta := map[string]interface{}{}
	for k, v := range t.Metadata {
		meta[k] = v
	}
	if t.Tool == "knowledge_search" {
		rows, rerr := p.store.ListRetrieverResources(ctx, p.messageID)
		if rerr != nil {
			p.logger.Printf("load retriever resources: %v", rerr)
		} else if len(rows) > 0 {
			dtos := make([]event.RetrieverResource, 0, len(rows))
			for i, r := range rows {
				dtos = append(dtos, event.RetrieverResource{
					Position:       i + 1,
					DocumentID:     r.ID,
					CollectionName: r.CollectionName,
					DocumentName:   r.DocumentName,
					DocumentPath:   r.DocumentPath,
					Content:        r.Content,
					Score:          r.Score,
					StartIndex:     r.StartIndex,
				})
			}
			meta["retriever_resources"] = dtos
		}
	}
	return p.emit(w, frame{
		Event:       "agent_thought",
		ID:          t.ID,
		Position:    t.Position,
		Thought:     t.Thought,
		Tool:        t.Tool,
		ToolInput:   t.ToolInput,
		Observation: t.Observation,
		Metadata:    meta,
	})
}

func (p *Pipeline) finalize(ctx context.Context, w io.Writer, result *event.EndResult, stopped bool, reason string) error {
	finish := time.Now()
	answer := p.answer.String()
	if result != nil && result.Answer != "" {
		answer = result.Answer
		p.answer.Reset()
		p.answer.WriteString(answer)
	}

	promptTokens, outputTokens := 0, llm.EstimateTokens(answer)
	if result != nil {
		if result.PromptTokens > 0 {
			promptTokens = result.PromptTokens
		}
		if result.OutputTokens > 0 {
			outputTokens = result.OutputTokens
		}
		for k, v := range result.Metadata {
			p.metadata[k] = v
		}
		for _, pm := range result.PromptMessages {
			p.prompt = append(p.prompt, store.PromptMessage{
				Role: pm.Role, Content: pm.Content, Images: pm.Images,
			})
		}
	}

	ttft := 0.0
	speed := 0.0
	if !p.firstToken.IsZero() {
		ttft = p.firstToken.Sub(p.started).Seconds()
		if gen := finish.Sub(p.firstToken).Seconds(); gen > 0 {
			speed = float64(outputTokens) / gen
		}
		telemetry.ObserveTTFT(ttft)
		telemetry.ObserveOutputSpeed(speed)
	}
	p.metadata["ttft"] = ttft
	p.metadata["output_speed"] = speed
	p.metadata["usage"] = map[string]interface{}{
		"prompt_tokens": promptTokens,
		"output_tokens": outputTokens,
	}
	if len(p.resources) > 0 {
		p.metadata["retriever_resources"] = p.resources
	}
	if stopped && reason != "" {
		p.metadata["stop_reason"] = reason
	}

	if err := p.persistTokens(ctx, answer, promptTokens, outputTokens, stopped); err != nil {
		p.logger.Printf("persist message %s: %v", p.messageID, err)
	}
	return p.emit(w, frame{
		Event:    "message_end",
		Answer:   answer,
		Metadata: p.metadata,
	})
}

func (p *Pipeline) persist(ctx context.Context, result *event.EndResult, stopped bool) error {
	answer := p.answer.String()
	promptTokens, outputTokens := 0, llm.EstimateTokens(answer)
	if result != nil {
		promptTokens, outputTokens = result.PromptTokens, result.OutputTokens
	}
	return p.persistTokens(ctx, answer, promptTokens, outputTokens, stopped)
}

func (p *Pipeline) persistTokens(ctx context.Context, answer string, promptTokens, outputTokens int, stopped bool) error {
	if p.store == nil {
		return nil
	}
	if len(p.resources) > 0 {
		stored := make([]store.RetrieverResource, 0, len(p.resources))
		for _, r := range p.resources {
			stored = append(stored, store.RetrieverResource{
				MessageID:      p.messageID,
				CollectionName: r.CollectionName,
				DocumentName:   r.DocumentName,
				DocumentPath:   r.DocumentPath,
				Content:        r.Content,
				Score:          r.Score,
				StartIndex:     r.StartIndex,
			})
		}
		if err := p.store.AddRetrieverResources(ctx, p.messageID, stored); err != nil {
			p.logger.Printf("store retriever resources: %v", err)
		}
	}
	return p.store.FinalizeMessage(ctx, p.messageID, answer, promptTokens, outputTokens, p.metadata, p.prompt, stopped)
}

// frame is one SSE data payload.
type frame struct {
	Event          string                 `json:"event"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	ID             string                 `json:"id,omitempty"`
	Position       int                    `json:"position,omitempty"`
	Thought        string                 `json:"thought,omitempty"`
	Tool           string                 `json:"tool,omitempty"`
	ToolInput      string                 `json:"tool_input,omitempty"`
	Observation    string                 `json:"observation,omitempty"`
	Answer         string                 `json:"answer,omitempty"`
	Code           int                    `json:"code,omitempty"`
	Status         int                    `json:"status,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func (p *Pipeline) emit(w io.Writer, f frame) error {
	f.ConversationID = p.conversationID
	if f.MessageID == "" {
		f.MessageID = p.messageID
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	return nil
}
