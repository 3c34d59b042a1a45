package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/knowledge"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/telemetry"
)

const (
	defaultBatchSize   = 20
	defaultMaxRawChars = 1_000_000
)

// Worker drains waiting partitions: read, split, embed, upsert. One worker
// processes one partition at a time; errors are recorded on the partition and
// the loop continues.
type Worker struct {
	store          *store.Store
	vectors        knowledge.VectorStore
	embedder       knowledge.Embedder
	embeddingModel string
	cfg            config.IngestConfig
	logger         *log.Logger
}

func NewWorker(st *store.Store, vectors knowledge.VectorStore, embedder knowledge.Embedder, embeddingModel string, cfg config.IngestConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRawChars <= 0 {
		cfg.MaxRawChars = defaultMaxRawChars
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Worker{
		store:          st,
		vectors:        vectors,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		cfg:            cfg,
		logger:         log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Run polls for waiting partitions until the context ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			p, ok, err := w.store.NextWaitingPartition(ctx)
			if err != nil {
				w.logger.Printf("poll waiting partitions: %v", err)
				break
			}
			if !ok {
				break
			}
			if err := w.Process(ctx, p); err != nil {
				w.logger.Printf("partition %s failed: %v", p.ID, err)
				telemetry.CountIngestedPartition(store.PartitionFail)
				if serr := w.store.SetPartitionStatus(ctx, p.ID, store.PartitionFail, err.Error()); serr != nil {
					w.logger.Printf("mark partition %s failed: %v", p.ID, serr)
				}
			} else {
				telemetry.CountIngestedPartition(store.PartitionFinish)
			}
			w.syncCollectionStatus(ctx, p.CollectionID)
		}
	}
}

// Process ingests a single partition end to end.
func (w *Worker) Process(ctx context.Context, p store.Partition) error {
	col, ok, err := w.store.GetCollection(ctx, p.CollectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("collection %s not found", p.CollectionID)
	}

	if err := w.store.SetPartitionStatus(ctx, p.ID, store.PartitionReady, ""); err != nil {
		return err
	}

	text, err := ReadFile(p.URL)
	if err != nil {
		return err
	}
	if err := w.store.UpdatePartitionProgress(ctx, p.ID, 0.1); err != nil {
		return err
	}

	// Oversized documents keep an empty raw record; the scratch collection
	// refuses them outright.
	if len(text) > w.cfg.MaxRawChars {
		if col.Name == store.TempCollectionName {
			return fmt.Errorf("document %s exceeds %d characters", p.Name, w.cfg.MaxRawChars)
		}
		if err := w.store.SetPartitionRawContent(ctx, p.ID, ""); err != nil {
			return err
		}
	} else if err := w.store.SetPartitionRawContent(ctx, p.ID, text); err != nil {
		return err
	}

	chunks := NewSplitter(col.ChunkSize, col.ChunkOverlap).Split(text)
	if len(chunks) == 0 {
		return w.store.SetPartitionStatus(ctx, p.ID, store.PartitionFinish, "")
	}

	dim, err := w.probeDimension(ctx, col.EmbeddingModel)
	if err != nil {
		return err
	}
	if err := w.vectors.EnsureCollection(ctx, col.Name, dim); err != nil {
		return err
	}
	if err := w.vectors.DeleteByPartition(ctx, col.Name, p.ID); err != nil {
		return err
	}
	if err := w.store.UpdatePartitionProgress(ctx, p.ID, 0.2); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += w.cfg.BatchSize {
		// Deleting the partition mid-flight cancels the loop at the next
		// batch boundary.
		alive, err := w.store.PartitionExists(ctx, p.ID)
		if err != nil {
			return err
		}
		if !alive {
			w.logger.Printf("partition %s deleted mid-ingest, purging vectors", p.ID)
			return w.vectors.DeleteByPartition(ctx, col.Name, p.ID)
		}

		end := start + w.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		model := col.EmbeddingModel
		if model == "" {
			model = w.embeddingModel
		}
		vectors, err := w.embedder.Embed(ctx, model, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding model returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		records := make([]knowledge.Record, len(batch))
		for i, c := range batch {
			records[i] = knowledge.Record{
				ID:          fmt.Sprintf("%s-%d", p.ID, start+i),
				Vector:      vectors[i],
				PageContent: c.Content,
				PartitionID: p.ID,
				Metadata: map[string]interface{}{
					"start_index":   c.StartIndex,
					"document_name": p.Name,
					"document_path": p.URL,
				},
			}
		}
		if err := w.vectors.Upsert(ctx, col.Name, records); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		progress := 0.2 + 0.8*float64(end)/float64(len(chunks))
		if err := w.store.UpdatePartitionProgress(ctx, p.ID, progress); err != nil {
			return err
		}
	}

	return w.store.SetPartitionStatus(ctx, p.ID, store.PartitionFinish, "")
}

// probeDimension embeds a probe string to learn the model's output width.
func (w *Worker) probeDimension(ctx context.Context, model string) (int, error) {
	if model == "" {
		model = w.embeddingModel
	}
	vecs, err := w.embedder.Embed(ctx, model, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("embedding model %s returned an empty probe vector", model)
	}
	return len(vecs[0]), nil
}

func (w *Worker) syncCollectionStatus(ctx context.Context, collectionID string) {
	parts, err := w.store.ListPartitions(ctx, collectionID)
	if err != nil {
		w.logger.Printf("list partitions for %s: %v", collectionID, err)
		return
	}
	status := AggregateStatus(parts)
	if err := w.store.SetCollectionStatus(ctx, collectionID, status); err != nil {
		w.logger.Printf("set collection %s status: %v", collectionID, err)
	}
}
