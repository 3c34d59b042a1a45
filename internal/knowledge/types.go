package knowledge

import "context"

// Record is one vector row. PartitionID tags every record so partition
// deletion can purge exactly its vectors.
type Record struct {
	ID          string
	Vector      []float32
	PageContent string
	PartitionID string
	Metadata    map[string]interface{}
}

// Hit is one search result before collection-policy filtering.
type Hit struct {
	ID          string
	Content     string
	PartitionID string
	Score       float64
	Metadata    map[string]interface{}
}

// Passage is a retrieval result surfaced to tools and citations.
type Passage struct {
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	StartIndex   int     `json:"start_index"`
	DocumentPath string  `json:"document_path"`
	DocumentName string  `json:"document_name"`
}

// VectorStore is the black-box vector index contract: collections support
// upsert, equality-filtered delete and top-k query.
type VectorStore interface {
	// EnsureCollection creates the collection and its indexes when missing.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes records, replacing rows with matching ids.
	Upsert(ctx context.Context, name string, records []Record) error

	// DeleteByPartition removes every record tagged with the partition id.
	DeleteByPartition(ctx context.Context, name, partitionID string) error

	// Search returns up to topK nearest records, optionally restricted to a
	// set of partition ids.
	Search(ctx context.Context, name string, vector []float32, topK int, partitionIDs []string) ([]Hit, error)

	// CountByPartition reports how many records carry the partition id.
	CountByPartition(ctx context.Context, name, partitionID string) (int64, error)

	// DropCollection removes the collection and all its records.
	DropCollection(ctx context.Context, name string) error
}
