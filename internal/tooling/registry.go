package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/surveyor-ai/surveyor/internal/llm"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Tool is one registered tool descriptor.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Invoke      func(ctx context.Context, args json.RawMessage) (string, error)
}

// Response is a completed tool invocation. Failures are carried in Status and
// Content; Call never returns an error for a tool-level failure.
type Response struct {
	Tool          string `json:"tool"`
	CallID        string `json:"call_id"`
	Content       string `json:"content"`
	Status        string `json:"status"`
	TokenEstimate int    `json:"token_estimate"`
	LatencyMs     int64  `json:"latency_ms"`
}

// Registry maps tool names to descriptors and mediates every invocation:
// error capture, response shaping, and in-flight deduplication per
// (tool, canonical input) fingerprint.
type Registry struct {
	tools  map[string]Tool
	order  []string
	shaper *Shaper
	flight singleflight.Group
	logger *log.Logger
}

func NewRegistry(shaper *Shaper) *Registry {
	return &Registry{
		tools:  map[string]Tool{},
		shaper: shaper,
		logger: log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the registered tools as provider tool specs, filtered to the
// given names (all tools when names is empty).
func (r *Registry) Specs(names []string) []llm.ToolSpec {
	include := map[string]bool{}
	for _, n := range names {
		include[n] = true
	}
	var specs []llm.ToolSpec
	for _, name := range r.order {
		if len(include) > 0 && !include[name] {
			continue
		}
		t := r.tools[name]
		schema := t.Schema
		if schema == nil {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		specs = append(specs, llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: schema})
	}
	return specs
}

// Call invokes a tool and shapes its response. The taskID scopes the
// dedupe fingerprint: concurrent identical calls within one task share a
// single upstream invocation.
func (r *Registry) Call(ctx context.Context, taskID, name, callID string, args json.RawMessage) Response {
	t, ok := r.tools[name]
	if !ok {
		return Response{Tool: name, CallID: callID, Status: StatusError,
			Content: fmt.Sprintf("unknown tool %q", name)}
	}
	start := time.Now()
	key := taskID + "|" + name + "|" + canonicalize(args)
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		return t.Invoke(ctx, args)
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		r.logger.Printf("tool %s failed: %v", name, err)
		return Response{Tool: name, CallID: callID, Status: StatusError,
			Content: err.Error(), LatencyMs: latency}
	}
	content, _ := v.(string)
	if r.shaper != nil {
		content = r.shaper.Shape(ctx, name, content)
	}
	return Response{
		Tool: name, CallID: callID, Status: StatusOK, Content: content,
		TokenEstimate: llm.EstimateTokens(content), LatencyMs: latency,
	}
}

// canonicalize renders JSON arguments with sorted keys so semantically equal
// inputs produce the same fingerprint.
func canonicalize(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return canonicalValue(v)
}

func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + canonicalValue(t[k])
		}
		return out + "}"
	case []interface{}:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += canonicalValue(e)
		}
		return out + "]"
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
