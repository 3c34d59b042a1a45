package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/llm"
)

type stubSummarizer struct {
	out string
	err error
}

func (s *stubSummarizer) Summarize(ctx context.Context, instruction, content string) (string, error) {
	return s.out, s.err
}

func TestShapePassthroughAtBudget(t *testing.T) {
	s := NewShaper(100, true, true, true, &stubSummarizer{out: "summary"})
	exact := strings.Repeat("a", 400) // estimates to exactly 100 tokens
	if got := s.Shape(context.Background(), "browser", exact); got != exact {
		t.Fatalf("content at the budget must pass through untouched")
	}
}

func TestShapeSummarizeWins(t *testing.T) {
	s := NewShaper(100, true, true, true, &stubSummarizer{out: "short summary"})
	big := strings.Repeat("x", 10000)
	got := s.Shape(context.Background(), "browser", big)
	if !strings.HasPrefix(got, MarkerSummarized) {
		t.Fatalf("expected summarized marker, got %q", got[:40])
	}
	if llm.EstimateTokens(got) > 100 {
		t.Fatalf("summarized output exceeds budget")
	}
}

func TestShapeOversizedSummaryFallsThrough(t *testing.T) {
	s := NewShaper(100, true, false, true, &stubSummarizer{out: strings.Repeat("y", 10000)})
	big := strings.Repeat("x", 10000)
	got := s.Shape(context.Background(), "generic", big)
	if !strings.Contains(got, MarkerTruncated) {
		t.Fatalf("expected truncation fallback, got %q", got[:40])
	}
	if llm.EstimateTokens(got) > 101 {
		t.Fatalf("truncated output exceeds budget: %d tokens", llm.EstimateTokens(got))
	}
}

func TestShapeChunkJSONList(t *testing.T) {
	items := make([]string, 50)
	for i := range items {
		items[i] = strings.Repeat("z", 780)
	}
	raw, _ := json.Marshal(items)
	s := NewShaper(2000, false, true, false, nil)
	got := s.Shape(context.Background(), "browser", string(raw))
	if !strings.HasPrefix(got, "[CHUNKED - Showing ") {
		t.Fatalf("expected chunk marker, got %q", got[:40])
	}
	var kept, total int
	if _, err := fmt.Sscanf(got, "[CHUNKED - Showing %d/%d items]", &kept, &total); err != nil {
		t.Fatalf("marker not parseable: %v", err)
	}
	if total != 50 || kept <= 0 || kept >= 50 {
		t.Fatalf("unexpected counts %d/%d", kept, total)
	}
	if llm.EstimateTokens(got) > 2000 {
		t.Fatalf("chunked output exceeds budget: %d tokens", llm.EstimateTokens(got))
	}
	body := got[strings.Index(got, "\n")+1:]
	var parsed []string
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("chunked body is not valid JSON: %v", err)
	}
	if len(parsed) != kept {
		t.Fatalf("body has %d items, marker says %d", len(parsed), kept)
	}
}

func TestShapeChunkPlainText(t *testing.T) {
	text := strings.Repeat("the quick brown fox. ", 2000)
	s := NewShaper(500, false, true, false, nil)
	got := s.Shape(context.Background(), "generic", text)
	if !strings.HasPrefix(got, "[CHUNKED") {
		t.Fatalf("expected chunk marker, got %q", got[:40])
	}
	if llm.EstimateTokens(got) > 500 {
		t.Fatalf("chunked text exceeds budget")
	}
}

func TestShapeTruncateMarker(t *testing.T) {
	s := NewShaper(50, false, false, true, nil)
	got := s.Shape(context.Background(), "generic", strings.Repeat("x", 10000))
	if !strings.HasSuffix(got, MarkerTruncated) {
		t.Fatalf("expected truncation marker at end")
	}
}
