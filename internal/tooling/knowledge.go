package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/knowledge"
	"github.com/surveyor-ai/surveyor/internal/store"
)

const knowledgeSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "What to look up in the knowledge base."}
  },
  "required": ["query"]
}`

// ResourcePublisher receives retrieval citations before the tool returns, so
// the stream can attach them to the active agent thought.
type ResourcePublisher func(ctx context.Context, resources []event.RetrieverResource)

// NewKnowledgeSearchTool binds knowledge_search to one collection and an
// optional partition subset (the bot's attached documents).
func NewKnowledgeSearchTool(retriever *knowledge.Retriever, col store.Collection, partitionIDs []string, publish ResourcePublisher) Tool {
	return Tool{
		Name:        "knowledge_search",
		Description: fmt.Sprintf("Search the %q knowledge base for passages relevant to a query.", col.Name),
		Schema:      json.RawMessage(knowledgeSchema),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			passages, err := retriever.Retrieve(ctx, col, in.Query, partitionIDs)
			if err != nil {
				return "", err
			}
			if len(passages) == 0 {
				return "No relevant passages found.", nil
			}
			if publish != nil {
				resources := make([]event.RetrieverResource, len(passages))
				for i, p := range passages {
					resources[i] = event.RetrieverResource{
						CollectionName: col.Name,
						DocumentName:   p.DocumentName,
						DocumentPath:   p.DocumentPath,
						Content:        p.Content,
						Score:          p.Score,
						StartIndex:     p.StartIndex,
					}
				}
				publish(ctx, resources)
			}
			var b strings.Builder
			for i, p := range passages {
				fmt.Fprintf(&b, "[%d] %s (score %.3f)\n%s\n\n", i+1, p.DocumentName, p.Score, p.Content)
			}
			return strings.TrimSpace(b.String()), nil
		},
	}
}
