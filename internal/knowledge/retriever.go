package knowledge

import (
	"context"
	"fmt"
	"log"

	"github.com/surveyor-ai/surveyor/internal/store"
)

// Embedder turns text into vectors. Satisfied by the llm provider.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// Retriever answers query-time retrieval over a collection, applying the
// collection's top-k and similarity threshold. Filters restrict results to a
// bot's attached partition subset.
type Retriever struct {
	vectors  VectorStore
	embedder Embedder
	logger   *log.Logger
}

func NewRetriever(vectors VectorStore, embedder Embedder) *Retriever {
	return &Retriever{
		vectors:  vectors,
		embedder: embedder,
		logger:   log.New(log.Writer(), "[RETRIEVER] ", log.LstdFlags),
	}
}

// Retrieve embeds the query and returns passages above the collection's
// score threshold, at most top-k.
func (r *Retriever) Retrieve(ctx context.Context, col store.Collection, query string, partitionIDs []string) ([]Passage, error) {
	vecs, err := r.embedder.Embed(ctx, col.EmbeddingModel, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding model %s returned no vector", col.EmbeddingModel)
	}
	topK := col.TopK
	if topK <= 0 {
		topK = 5
	}
	hits, err := r.vectors.Search(ctx, col.Name, vecs[0], topK, partitionIDs)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", col.Name, err)
	}
	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		if col.ScoreThreshold > 0 && h.Score < col.ScoreThreshold {
			continue
		}
		p := Passage{Content: h.Content, Score: h.Score}
		if h.Metadata != nil {
			if v, ok := h.Metadata["start_index"].(float64); ok {
				p.StartIndex = int(v)
			}
			if v, ok := h.Metadata["document_path"].(string); ok {
				p.DocumentPath = v
			}
			if v, ok := h.Metadata["document_name"].(string); ok {
				p.DocumentName = v
			}
		}
		passages = append(passages, p)
	}
	r.logger.Printf("retrieved %d/%d passages from %s", len(passages), len(hits), col.Name)
	return passages, nil
}
