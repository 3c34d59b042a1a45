package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/surveyor-ai/surveyor/internal/apperr"
)

type stubStop struct{ stopped bool }

func (s *stubStop) IsStopped(ctx context.Context, taskID string) bool { return s.stopped }

type fakeEntity struct{ ID string }

func (fakeEntity) StoreEntity() {}

func TestPublishOrderPreserved(t *testing.T) {
	ctx := context.Background()
	q := NewQueue("t1", nil)
	for _, delta := range []string{"a", "b", "c"} {
		if err := q.PublishChunk(ctx, delta, nil, SourceLLM); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := q.PublishMessageEnd(ctx, &EndResult{Answer: "abc"}, SourceLLM); err != nil {
		t.Fatalf("publish end: %v", err)
	}
	var got []Event
	for ev := range q.Listen(ctx) {
		got = append(got, ev)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Type != TypeChunk || got[i].Delta != want {
			t.Fatalf("event %d = %+v, want chunk %q", i, got[i], want)
		}
	}
	if got[3].Type != TypeMessageEnd {
		t.Fatalf("last event = %v, want message_end", got[3].Type)
	}
}

func TestPublishAfterTerminalFails(t *testing.T) {
	ctx := context.Background()
	q := NewQueue("t1", nil)
	if err := q.PublishStop(ctx, "user requested", SourceApplicationManager); err != nil {
		t.Fatalf("stop: %v", err)
	}
	err := q.PublishChunk(ctx, "late", nil, SourceLLM)
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestStopFlagRefusesManagerPublish(t *testing.T) {
	ctx := context.Background()
	flags := &stubStop{stopped: true}
	q := NewQueue("t1", flags)
	err := q.PublishChunk(ctx, "x", nil, SourceApplicationManager)
	if !apperr.IsTaskStopped(err) {
		t.Fatalf("expected task stopped, got %v", err)
	}
	// Other producers are not gated by the flag at publish time.
	if err := q.PublishChunk(ctx, "x", nil, SourceLLM); err != nil {
		t.Fatalf("llm publish should pass: %v", err)
	}
}

func TestEntityPayloadRejected(t *testing.T) {
	ctx := context.Background()
	q := NewQueue("t1", nil)
	err := q.PublishChunk(ctx, "x", map[string]interface{}{"row": fakeEntity{ID: "m1"}}, SourceLLM)
	if !errors.Is(err, ErrEntityPayload) {
		t.Fatalf("expected ErrEntityPayload, got %v", err)
	}
	nested := map[string]interface{}{"outer": map[string]interface{}{"row": fakeEntity{}}}
	if err := q.PublishChunk(ctx, "x", nested, SourceLLM); !errors.Is(err, ErrEntityPayload) {
		t.Fatalf("expected nested rejection, got %v", err)
	}
}

func TestListenEmitsPingWhileIdle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	q := NewQueue("t1", nil)
	ch := q.Listen(ctx)
	select {
	case ev := <-ch:
		if ev.Type != TypePing {
			t.Fatalf("expected ping, got %v", ev.Type)
		}
	case <-ctx.Done():
		t.Fatal("no ping before deadline")
	}
}

func TestErrorEventIsTerminal(t *testing.T) {
	ctx := context.Background()
	q := NewQueue("t1", nil)
	if err := q.PublishError(ctx, "boom", int(apperr.CodeInternal), 500, SourceLLM); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	var last Event
	for ev := range q.Listen(ctx) {
		last = ev
	}
	if last.Type != TypeError || last.Err != "boom" {
		t.Fatalf("terminal = %+v, want error event", last)
	}
}
