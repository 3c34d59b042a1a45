package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/surveyor-ai/surveyor/internal/llm"
)

// Shaping markers prepended to compressed tool output.
const (
	MarkerSummarized = "[SUMMARIZED]"
	MarkerTruncated  = "[CONTENT TRUNCATED]"
)

// DefaultMaxResponseTokens caps tool observations fed back to the model.
const DefaultMaxResponseTokens = 4000

// Summarizer compresses text with a summarization model.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, content string) (string, error)
}

// LLMSummarizer summarizes through the configured provider.
type LLMSummarizer struct {
	Provider llm.Provider
	Model    string
}

func (s *LLMSummarizer) Summarize(ctx context.Context, instruction, content string) (string, error) {
	out, _, err := s.Provider.Generate(ctx, s.Model, []llm.Message{
		{Role: llm.RoleSystem, Content: instruction},
		{Role: llm.RoleUser, Content: content},
	}, llm.Options{Temperature: 0.1})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

// Shaper compresses over-sized tool responses. Strategies run in order
// (summarize, chunk, truncate), each gated by config; the first whose output
// fits the token budget wins. A response at or under the budget passes
// through untouched.
type Shaper struct {
	MaxTokens   int
	SummarizeOn bool
	ChunkOn     bool
	TruncateOn  bool
	summarizer  Summarizer
	logger      *log.Logger
}

func NewShaper(maxTokens int, summarizeOn, chunkOn, truncateOn bool, summarizer Summarizer) *Shaper {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxResponseTokens
	}
	return &Shaper{
		MaxTokens:   maxTokens,
		SummarizeOn: summarizeOn,
		ChunkOn:     chunkOn,
		TruncateOn:  truncateOn,
		summarizer:  summarizer,
		logger:      log.New(log.Writer(), "[SHAPER] ", log.LstdFlags),
	}
}

// Shape returns content fitting the token budget, tagged with the strategy
// marker when compression was applied. The call id and tool name are never
// altered; only the content body is rewritten.
func (s *Shaper) Shape(ctx context.Context, toolName, content string) string {
	if llm.EstimateTokens(content) <= s.MaxTokens {
		return content
	}
	if s.SummarizeOn && s.summarizer != nil {
		if out, ok := s.trySummarize(ctx, toolName, content); ok {
			return out
		}
	}
	if s.ChunkOn {
		if out, ok := s.tryChunk(content); ok {
			return out
		}
	}
	if s.TruncateOn {
		return s.truncate(content)
	}
	// All strategies disabled: fall back to a hard cut so the budget holds.
	return s.truncate(content)
}

func (s *Shaper) trySummarize(ctx context.Context, toolName, content string) (string, bool) {
	out, err := s.summarizer.Summarize(ctx, summarizeInstruction(toolName), content)
	if err != nil {
		s.logger.Printf("summarize for %s failed: %v", toolName, err)
		return "", false
	}
	tagged := MarkerSummarized + " " + out
	if llm.EstimateTokens(tagged) > s.MaxTokens {
		return "", false
	}
	return tagged, true
}

// summarizeInstruction picks the compression prompt by tool kind.
func summarizeInstruction(toolName string) string {
	switch {
	case strings.Contains(toolName, "search") || strings.Contains(toolName, "browser"):
		return "Summarize these search results. Keep every URL, title and the key facts. Be concise."
	case strings.Contains(toolName, "python") || strings.Contains(toolName, "repl") || strings.Contains(toolName, "file"):
		return "Summarize this program output or file content. Keep the structure, key values, and any errors verbatim."
	case strings.Contains(toolName, "knowledge") || strings.Contains(toolName, "query"):
		return "Summarize these retrieved passages. Keep source names, scores and the facts relevant to the query."
	default:
		return "Summarize the following content, keeping all key facts and figures. Be concise."
	}
}

func (s *Shaper) tryChunk(content string) (string, bool) {
	budget := s.MaxTokens * 4
	trimmed := strings.TrimSpace(content)

	if strings.HasPrefix(trimmed, "[") {
		if out, ok := chunkJSONList(trimmed, budget); ok {
			return out, true
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		if out, ok := chunkJSONObject(trimmed, budget); ok {
			return out, true
		}
	}
	if looksLikeCode(trimmed) {
		if out, ok := chunkCode(trimmed, budget); ok {
			return out, true
		}
	}
	return chunkText(trimmed, budget)
}

// chunkJSONList keeps the leading items that fit the character budget.
func chunkJSONList(content string, budget int) (string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return "", false
	}
	total := len(items)
	var kept []string
	used := 0
	// Reserve room for the marker line and brackets.
	reserve := 64
	for _, item := range items {
		next := used + len(item) + 1
		if next > budget-reserve {
			break
		}
		kept = append(kept, string(item))
		used = next
	}
	if len(kept) == 0 || len(kept) == total {
		return "", false
	}
	marker := fmt.Sprintf("[CHUNKED - Showing %d/%d items]", len(kept), total)
	return marker + "\n[" + strings.Join(kept, ",") + "]", true
}

// chunkJSONObject keeps the leading keys in document order.
func chunkJSONObject(content string, budget int) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(content))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return "", false
	}
	type kv struct {
		key string
		val json.RawMessage
	}
	var pairs []kv
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", false
		}
		key, ok := keyTok.(string)
		if !ok {
			return "", false
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return "", false
		}
		pairs = append(pairs, kv{key, val})
	}
	total := len(pairs)
	var kept []string
	used := 0
	reserve := 64
	for _, p := range pairs {
		kb, _ := json.Marshal(p.key)
		entry := string(kb) + ":" + string(p.val)
		next := used + len(entry) + 1
		if next > budget-reserve {
			break
		}
		kept = append(kept, entry)
		used = next
	}
	if len(kept) == 0 || len(kept) == total {
		return "", false
	}
	marker := fmt.Sprintf("[CHUNKED - Showing %d/%d keys]", len(kept), total)
	return marker + "\n{" + strings.Join(kept, ",") + "}", true
}

func looksLikeCode(content string) bool {
	lines := strings.Split(content, "\n")
	hits := 0
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "import ") || strings.HasPrefix(t, "from ") ||
			strings.HasPrefix(t, "def ") || strings.HasPrefix(t, "class ") ||
			strings.HasPrefix(t, "func ") {
			hits++
		}
	}
	return hits >= 2
}

// chunkCode keeps import/def/class signature lines plus the leading body.
func chunkCode(content string, budget int) (string, bool) {
	lines := strings.Split(content, "\n")
	var skeleton []string
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "import ") || strings.HasPrefix(t, "from ") ||
			strings.HasPrefix(t, "def ") || strings.HasPrefix(t, "class ") ||
			strings.HasPrefix(t, "func ") {
			skeleton = append(skeleton, l)
		}
	}
	marker := "[CHUNKED - code structure and head]"
	head := ""
	reserve := len(marker) + 64
	skeletonText := strings.Join(skeleton, "\n")
	remaining := budget - reserve - len(skeletonText)
	if remaining > 0 && len(content) > remaining {
		head = content[:remaining]
	}
	out := marker + "\n" + skeletonText
	if head != "" {
		out += "\n---\n" + head
	}
	if len(out) > budget {
		return "", false
	}
	return out, true
}

// chunkText keeps the head and tail with an elision marker between.
func chunkText(content string, budget int) (string, bool) {
	marker := "[CHUNKED - middle content elided]"
	reserve := len(marker) + 16
	if budget <= reserve {
		return "", false
	}
	avail := budget - reserve
	headLen := avail * 3 / 4
	tailLen := avail - headLen
	if headLen+tailLen >= len(content) {
		return "", false
	}
	return marker + "\n" + content[:headLen] + "\n...\n" + content[len(content)-tailLen:], true
}

func (s *Shaper) truncate(content string) string {
	limit := s.MaxTokens * 4
	marker := "\n" + MarkerTruncated
	if limit > len(marker) {
		limit -= len(marker)
	}
	if len(content) > limit {
		content = content[:limit]
	}
	return content + marker
}
