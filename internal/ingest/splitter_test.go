package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/internal/store"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(100, 10)
	chunks := s.Split("a short paragraph")
	if len(chunks) != 1 || chunks[0].Content != "a short paragraph" {
		t.Fatalf("short text must yield itself, got %+v", chunks)
	}
	if chunks[0].StartIndex != 0 {
		t.Fatalf("start index of first chunk must be 0, got %d", chunks[0].StartIndex)
	}
}

func TestSplitStartIndexesPointIntoSource(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 30)
	s := NewSplitter(120, 20)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	prev := -1
	for i, c := range chunks {
		got := text[c.StartIndex : c.StartIndex+len(c.Content)]
		if got != c.Content {
			t.Fatalf("chunk %d start_index does not point at its content", i)
		}
		if c.StartIndex <= prev {
			t.Fatalf("start indexes must strictly increase, got %d after %d", c.StartIndex, prev)
		}
		prev = c.StartIndex
	}
}

func TestSplitRespectsChunkSize(t *testing.T) {
	text := strings.Repeat("word ", 400)
	s := NewSplitter(100, 20)
	for i, c := range s.Split(text) {
		if len(c.Content) > 100 {
			t.Fatalf("chunk %d exceeds the chunk size: %d chars", i, len(c.Content))
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird paragraph here."
	s := NewSplitter(30, 0)
	chunks := s.Split(text)
	for i, c := range chunks {
		if strings.Contains(c.Content, "\n\n") {
			t.Fatalf("chunk %d spans a paragraph break: %q", i, c.Content)
		}
	}
	if len(chunks) != 3 {
		t.Fatalf("expected one chunk per paragraph, got %d", len(chunks))
	}
}

func TestSplitCoversWholeDocument(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&b, "sentence number %d about topic %d. ", i, i*7)
	}
	text := b.String()
	s := NewSplitter(80, 16)
	chunks := s.Split(text)
	last := chunks[len(chunks)-1]
	if last.StartIndex+len(last.Content) < len(strings.TrimSpace(text))-1 {
		t.Fatalf("final chunk must reach the end of the text, stops at %d of %d",
			last.StartIndex+len(last.Content), len(text))
	}
}

func TestSplitUnbrokenRunFallsBackToRunes(t *testing.T) {
	text := strings.Repeat("x", 250)
	s := NewSplitter(100, 10)
	chunks := s.Split(text)
	if len(chunks) < 3 {
		t.Fatalf("a separator-free run must still split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Content) > 100 {
			t.Fatalf("chunk %d exceeds size: %d", i, len(c.Content))
		}
	}
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"empty", nil, store.CollectionFinish},
		{"all failed", []string{store.PartitionFail, store.PartitionFail}, store.CollectionFail},
		{"failed and deleted", []string{store.PartitionFail, store.PartitionDelete}, store.CollectionFail},
		{"all terminal mixed", []string{store.PartitionFinish, store.PartitionFail}, store.CollectionFinish},
		{"in flight", []string{store.PartitionFinish, store.PartitionWaiting}, store.CollectionWaiting},
		{"processing", []string{store.PartitionReady}, store.CollectionWaiting},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			parts := make([]store.Partition, 0, len(c.statuses))
			for _, s := range c.statuses {
				parts = append(parts, store.Partition{Status: s})
			}
			if got := AggregateStatus(parts); got != c.want {
				t.Fatalf("AggregateStatus(%v) = %q, want %q", c.statuses, got, c.want)
			}
		})
	}
}
