package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/memory"
	"github.com/surveyor-ai/surveyor/internal/store"
)

// runBasic is the plain assistant pipeline: optional knowledge retrieval,
// budgeted prompt assembly, one streamed completion.
func (d *Dispatcher) runBasic(ctx context.Context, bot store.Bot, mc store.ModelConfig, req Request, q *event.Queue) error {
	history, err := d.history(ctx, req)
	if err != nil {
		return err
	}

	knowledgeText, err := d.retrieveKnowledge(ctx, req, q)
	if err != nil {
		return err
	}

	msgs := memory.NewAssembler().Assemble(memory.Input{
		SystemPrompt: bot.SystemPrompt,
		Variables:    req.Inputs,
		Knowledge:    knowledgeText,
		History:      history,
		Query:        req.Query,
		Files:        req.Files,
		NumCtx:       mc.NumCtx,
		NumPredict:   mc.NumPredict,
	})

	answer, usage, err := d.streamToQueue(ctx, req.TaskID, d.chatModel(mc), msgs, completionOptions(mc), q)
	if err != nil {
		return err
	}
	return q.PublishMessageEnd(ctx, endResult(answer, usage, msgs), event.SourceLLM)
}

// retrieveKnowledge runs the bound collection lookup for the current query and
// surfaces citations on the queue. A turn without a collection costs nothing.
func (d *Dispatcher) retrieveKnowledge(ctx context.Context, req Request, q *event.Queue) (string, error) {
	if req.CollectionID == "" || d.retriever == nil {
		return "", nil
	}
	col, ok, err := d.store.GetCollection(ctx, req.CollectionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.NotFound("collection not found")
	}
	passages, err := d.retriever.Retrieve(ctx, col, req.Query, nil)
	if err != nil {
		d.logger.Printf("knowledge retrieval failed, answering without context: %v", err)
		return "", nil
	}
	if len(passages) == 0 {
		return "", nil
	}
	resources := make([]event.RetrieverResource, len(passages))
	var b strings.Builder
	for i, p := range passages {
		resources[i] = event.RetrieverResource{
			Position:       i + 1,
			CollectionName: col.Name,
			DocumentName:   p.DocumentName,
			DocumentPath:   p.DocumentPath,
			Content:        p.Content,
			Score:          p.Score,
			StartIndex:     p.StartIndex,
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, p.DocumentName, p.Content)
	}
	if perr := q.PublishResources(ctx, resources, event.SourceToolCallback); perr != nil {
		d.logger.Printf("publish retriever resources: %v", perr)
	}
	return strings.TrimSpace(b.String()), nil
}

// streamToQueue drains one streamed completion onto the queue as chunk events
// and returns the accumulated answer. The cooperative stop flag is polled per
// delta so a user stop lands between tokens.
func (d *Dispatcher) streamToQueue(ctx context.Context, taskID, model string, msgs []llm.Message, opts llm.Options, q *event.Queue) (string, llm.Usage, error) {
	stream, err := d.provider.Stream(ctx, model, msgs, opts)
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("start completion stream: %w", err)
	}
	var answer strings.Builder
	var usage llm.Usage
	for chunk := range stream {
		if d.flags != nil && d.flags.IsStopped(ctx, taskID) {
			return answer.String(), usage, apperr.ErrTaskStopped
		}
		if chunk.Delta != "" {
			answer.WriteString(chunk.Delta)
			if perr := q.PublishChunk(ctx, chunk.Delta, nil, event.SourceLLM); perr != nil {
				return answer.String(), usage, perr
			}
		}
		if chunk.Done {
			usage = chunk.Usage
		}
	}
	if err := ctx.Err(); err != nil {
		return answer.String(), usage, err
	}
	return answer.String(), usage, nil
}

func (d *Dispatcher) chatModel(mc store.ModelConfig) string {
	if mc.Model != "" {
		return mc.Model
	}
	return d.cfg.LLM.Routing.Fallback
}

func completionOptions(mc store.ModelConfig) llm.Options {
	return llm.Options{
		Temperature: mc.Temperature,
		MaxTokens:   mc.NumPredict,
		NumCtx:      mc.NumCtx,
		Stop:        mc.Stop,
	}
}
