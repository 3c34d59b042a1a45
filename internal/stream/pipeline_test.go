package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/event"
)

func decodeFrames(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		out = append(out, f)
	}
	return out
}

func TestPipelineChunksAccumulateIntoMessageEnd(t *testing.T) {
	ctx := context.Background()
	q := event.NewQueue("task-1", nil)
	if err := q.PublishChunk(ctx, "hello ", nil, event.SourceLLM); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishChunk(ctx, "world", nil, event.SourceLLM); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishMessageEnd(ctx, &event.EndResult{PromptTokens: 12, OutputTokens: 3}, event.SourceLLM); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	p := New(nil, q, "conv-1", "msg-1")
	if err := p.Run(ctx, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames := decodeFrames(t, &buf)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0]["event"] != "message" || frames[0]["answer"] != "hello " {
		t.Fatalf("first frame must carry the delta, got %v", frames[0])
	}
	last := frames[2]
	if last["event"] != "message_end" {
		t.Fatalf("stream must end with message_end, got %v", last)
	}
	if last["answer"] != "hello world" {
		t.Fatalf("message_end must carry the accumulated answer, got %v", last["answer"])
	}
	meta := last["metadata"].(map[string]interface{})
	usage := meta["usage"].(map[string]interface{})
	if usage["prompt_tokens"].(float64) != 12 || usage["output_tokens"].(float64) != 3 {
		t.Fatalf("usage must come from the terminal event, got %v", usage)
	}
	if _, ok := meta["ttft"]; !ok {
		t.Fatalf("metadata must report ttft, got %v", meta)
	}
}

func TestPipelinePlanAndInterruptFrames(t *testing.T) {
	ctx := context.Background()
	q := event.NewQueue("task-2", nil)
	plan := json.RawMessage(`{"title":"p","steps":[]}`)
	if err := q.PublishPlan(ctx, plan, event.SourceGraphNode); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishInterrupt(ctx, json.RawMessage(`{"question":"ok?"}`), event.SourceGraphNode); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishMessageEnd(ctx, nil, event.SourceLLM); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := New(nil, q, "conv-1", "msg-1").Run(ctx, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	frames := decodeFrames(t, &buf)
	if frames[0]["event"] != "plan" || !strings.Contains(frames[0]["answer"].(string), `"title":"p"`) {
		t.Fatalf("plan frame must carry the plan json, got %v", frames[0])
	}
	if frames[1]["event"] != "interrupt" {
		t.Fatalf("interrupt frame expected, got %v", frames[1])
	}
}

func TestPipelineResourcesSurfaceAtMessageEnd(t *testing.T) {
	ctx := context.Background()
	q := event.NewQueue("task-3", nil)
	res := []event.RetrieverResource{{Position: 1, DocumentName: "doc.md", Content: "passage", Score: 0.9}}
	if err := q.PublishResources(ctx, res, event.SourceToolCallback); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishMessageEnd(ctx, &event.EndResult{Answer: "done"}, event.SourceLLM); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := New(nil, q, "conv-1", "msg-1").Run(ctx, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	frames := decodeFrames(t, &buf)
	// The resources event itself is not a client frame.
	if len(frames) != 1 {
		t.Fatalf("expected only message_end, got %d frames", len(frames))
	}
	meta := frames[0]["metadata"].(map[string]interface{})
	list, ok := meta["retriever_resources"].([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("resources must surface in message_end metadata, got %v", meta)
	}
}

func TestPipelineCarriesPromptMessagesToFinalize(t *testing.T) {
	ctx := context.Background()
	q := event.NewQueue("task-6", nil)
	end := &event.EndResult{
		Answer: "done",
		PromptMessages: []event.PromptMessage{
			{Role: "system", Content: "persona"},
			{Role: "user", Content: "question"},
		},
	}
	if err := q.PublishMessageEnd(ctx, end, event.SourceLLM); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	p := New(nil, q, "conv-1", "msg-1")
	if err := p.Run(ctx, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.prompt) != 2 {
		t.Fatalf("finalize must hold every prompt turn, got %d", len(p.prompt))
	}
	if p.prompt[0].Role != "system" || p.prompt[1].Content != "question" {
		t.Fatalf("prompt turns must keep role and content, got %+v", p.prompt)
	}
}

func TestPipelineErrorFrameCloses(t *testing.T) {
	ctx := context.Background()
	q := event.NewQueue("task-4", nil)
	if err := q.PublishError(ctx, "model unavailable", 1021, 502, event.SourceLLM); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := New(nil, q, "conv-1", "msg-1").Run(ctx, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	frames := decodeFrames(t, &buf)
	if len(frames) != 1 {
		t.Fatalf("expected a single error frame, got %d", len(frames))
	}
	f := frames[0]
	if f["event"] != "error" || f["code"].(float64) != 1021 || f["status"].(float64) != 502 {
		t.Fatalf("error frame must carry code and status, got %v", f)
	}
	if f["message"] != "model unavailable" {
		t.Fatalf("error frame must carry the message, got %v", f)
	}
}

func TestPipelineMessageReplace(t *testing.T) {
	ctx := context.Background()
	q := event.NewQueue("task-5", nil)
	if err := q.PublishChunk(ctx, "draft", nil, event.SourceLLM); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishMessageReplace(ctx, "rewritten", event.SourceLLM); err != nil {
		t.Fatal(err)
	}
	if err := q.PublishMessageEnd(ctx, nil, event.SourceLLM); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := New(nil, q, "conv-1", "msg-1").Run(ctx, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	frames := decodeFrames(t, &buf)
	last := frames[len(frames)-1]
	if last["event"] != "message_end" || last["answer"] != "rewritten" {
		t.Fatalf("replace must reset the accumulated answer, got %v", last)
	}
}
