package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	resp := r.Call(context.Background(), "t1", "nope", "c1", json.RawMessage(`{}`))
	if resp.Status != StatusError {
		t.Fatalf("expected error status, got %s", resp.Status)
	}
}

func TestCallCapturesToolError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Tool{
		Name: "boom",
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("kaput")
		},
	})
	resp := r.Call(context.Background(), "t1", "boom", "c1", json.RawMessage(`{}`))
	if resp.Status != StatusError || resp.Content != "kaput" {
		t.Fatalf("expected captured error, got %+v", resp)
	}
	if resp.CallID != "c1" || resp.Tool != "boom" {
		t.Fatalf("call id and tool name must be preserved")
	}
}

func TestCallDedupesConcurrentFingerprints(t *testing.T) {
	r := NewRegistry(nil)
	var invocations int32
	r.Register(Tool{
		Name: "slow",
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			atomic.AddInt32(&invocations, 1)
			time.Sleep(50 * time.Millisecond)
			return "done", nil
		},
	})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := r.Call(context.Background(), "t1", "slow", "c", json.RawMessage(`{"b":2,"a":1}`))
			if resp.Status != StatusOK {
				t.Errorf("unexpected status %s", resp.Status)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&invocations); n != 1 {
		t.Fatalf("expected a single upstream invocation, got %d", n)
	}
}

func TestCanonicalizeOrdersKeys(t *testing.T) {
	a := canonicalize(json.RawMessage(`{"b": 2, "a": 1}`))
	b := canonicalize(json.RawMessage(`{"a":1,"b":2}`))
	if a != b {
		t.Fatalf("equivalent inputs produced different fingerprints: %q vs %q", a, b)
	}
}
