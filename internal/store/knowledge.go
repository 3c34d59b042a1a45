package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Partition statuses. A partition in delete status is skipped by the
// ingestion worker and its vectors are purged.
const (
	PartitionWaiting = "waiting"
	PartitionReady   = "ready"
	PartitionFail    = "fail"
	PartitionFinish  = "finish"
	PartitionDelete  = "delete"
)

// Collection statuses mirror partition statuses at the aggregate level.
const (
	CollectionWaiting = "waiting"
	CollectionFinish  = "finish"
	CollectionFail    = "fail"
)

// TempCollectionName is the scratch collection used for ad-hoc uploads; its
// oversized documents fail instead of being stored contentless.
const TempCollectionName = "temp"

// Collection is a named vector space with its chunking and retrieval policy.
type Collection struct {
	ID                string
	WorkspaceID       string
	Name              string
	EmbeddingProvider string
	EmbeddingModel    string
	ChunkSize         int
	ChunkOverlap      int
	TopK              int
	ScoreThreshold    float64
	Folder            string
	FolderSnapshot    string
	Status            string
	CreatedAt         time.Time
}

func (Collection) StoreEntity() {}

// Partition is one file-backed subset of a collection.
type Partition struct {
	ID           string
	CollectionID string
	FileID       string
	Name         string
	URL          string
	Type         string
	RawContent   string
	Progress     float64
	Status       string
	ErrorMsg     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Partition) StoreEntity() {}

func (s *Store) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = CollectionWaiting
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO collections (id, workspace_id, name, embedding_provider, embedding_model, chunk_size,
                         chunk_overlap, top_k, score_threshold, folder, folder_snapshot, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, c.ID, c.WorkspaceID, c.Name, c.EmbeddingProvider, c.EmbeddingModel, c.ChunkSize,
		c.ChunkOverlap, c.TopK, c.ScoreThreshold, c.Folder, c.FolderSnapshot, c.Status, c.CreatedAt)
	if err != nil {
		return Collection{}, fmt.Errorf("create collection: %w", err)
	}
	return c, nil
}

const collectionColumns = `id, workspace_id, name, embedding_provider, embedding_model, chunk_size,
chunk_overlap, top_k, score_threshold, folder, folder_snapshot, status, created_at`

func scanCollection(scan func(dest ...interface{}) error) (Collection, error) {
	var c Collection
	err := scan(&c.ID, &c.WorkspaceID, &c.Name, &c.EmbeddingProvider, &c.EmbeddingModel,
		&c.ChunkSize, &c.ChunkOverlap, &c.TopK, &c.ScoreThreshold, &c.Folder, &c.FolderSnapshot,
		&c.Status, &c.CreatedAt)
	return c, err
}

func (s *Store) GetCollection(ctx context.Context, id string) (Collection, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id)
	c, err := scanCollection(row.Scan)
	if err == sql.ErrNoRows {
		return Collection{}, false, nil
	}
	if err != nil {
		return Collection{}, false, fmt.Errorf("get collection: %w", err)
	}
	return c, true, nil
}

func (s *Store) GetCollectionByName(ctx context.Context, workspaceID, name string) (Collection, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+collectionColumns+` FROM collections WHERE workspace_id = $1 AND name = $2`, workspaceID, name)
	c, err := scanCollection(row.Scan)
	if err == sql.ErrNoRows {
		return Collection{}, false, nil
	}
	if err != nil {
		return Collection{}, false, fmt.Errorf("get collection by name: %w", err)
	}
	return c, true, nil
}

func (s *Store) ListCollections(ctx context.Context, workspaceID string) ([]Collection, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+collectionColumns+` FROM collections WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()
	var out []Collection
	for rows.Next() {
		c, err := scanCollection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListFolderCollections returns collections bound to a local folder.
func (s *Store) ListFolderCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+collectionColumns+` FROM collections WHERE folder <> '' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list folder collections: %w", err)
	}
	defer rows.Close()
	var out []Collection
	for rows.Next() {
		c, err := scanCollection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCollectionStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE collections SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set collection status: %w", err)
	}
	return nil
}

func (s *Store) SetFolderSnapshot(ctx context.Context, id, snapshot string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE collections SET folder_snapshot = $2 WHERE id = $1`, id, snapshot)
	if err != nil {
		return fmt.Errorf("set folder snapshot: %w", err)
	}
	return nil
}

// DeleteCollection removes the collection and cascades to its partitions.
// Vector cleanup is the caller's responsibility.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (s *Store) CreatePartition(ctx context.Context, p Partition) (Partition, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = PartitionWaiting
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO partitions (id, collection_id, file_id, name, url, type, raw_content, progress, status,
                        error_msg, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, p.ID, p.CollectionID, p.FileID, p.Name, p.URL, p.Type, p.RawContent, p.Progress, p.Status,
		p.ErrorMsg, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return Partition{}, fmt.Errorf("create partition: %w", err)
	}
	return p, nil
}

const partitionColumns = `id, collection_id, file_id, name, url, type, raw_content, progress, status,
error_msg, created_at, updated_at`

func scanPartition(scan func(dest ...interface{}) error) (Partition, error) {
	var p Partition
	err := scan(&p.ID, &p.CollectionID, &p.FileID, &p.Name, &p.URL, &p.Type, &p.RawContent,
		&p.Progress, &p.Status, &p.ErrorMsg, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetPartition(ctx context.Context, id string) (Partition, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+partitionColumns+` FROM partitions WHERE id = $1`, id)
	p, err := scanPartition(row.Scan)
	if err == sql.ErrNoRows {
		return Partition{}, false, nil
	}
	if err != nil {
		return Partition{}, false, fmt.Errorf("get partition: %w", err)
	}
	return p, true, nil
}

func (s *Store) ListPartitions(ctx context.Context, collectionID string) ([]Partition, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+partitionColumns+` FROM partitions WHERE collection_id = $1 ORDER BY created_at`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()
	var out []Partition
	for rows.Next() {
		p, err := scanPartition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// NextWaitingPartition claims the oldest waiting partition, if any.
func (s *Store) NextWaitingPartition(ctx context.Context) (Partition, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+partitionColumns+` FROM partitions WHERE status = $1 ORDER BY created_at LIMIT 1
`, PartitionWaiting)
	p, err := scanPartition(row.Scan)
	if err == sql.ErrNoRows {
		return Partition{}, false, nil
	}
	if err != nil {
		return Partition{}, false, fmt.Errorf("next waiting partition: %w", err)
	}
	return p, true, nil
}

// UpdatePartitionProgress advances progress; it never moves backwards.
func (s *Store) UpdatePartitionProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE partitions SET progress = GREATEST(progress, $2), updated_at = NOW() WHERE id = $1
`, id, progress)
	if err != nil {
		return fmt.Errorf("update partition progress: %w", err)
	}
	return nil
}

func (s *Store) SetPartitionStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE partitions SET status = $2, error_msg = $3, updated_at = NOW() WHERE id = $1
`, id, status, errorMsg)
	if err != nil {
		return fmt.Errorf("set partition status: %w", err)
	}
	return nil
}

func (s *Store) SetPartitionRawContent(ctx context.Context, id, raw string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE partitions SET raw_content = $2, updated_at = NOW() WHERE id = $1
`, id, raw)
	if err != nil {
		return fmt.Errorf("set partition raw content: %w", err)
	}
	return nil
}

func (s *Store) RenamePartition(ctx context.Context, id, name, url string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE partitions SET name = $2, url = $3, updated_at = NOW() WHERE id = $1
`, id, name, url)
	if err != nil {
		return fmt.Errorf("rename partition: %w", err)
	}
	return nil
}

func (s *Store) DeletePartition(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM partitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete partition: %w", err)
	}
	return nil
}

// PartitionExists is the cancellation probe used at ingestion batch
// boundaries; a vanished or delete-marked partition stops the loop.
func (s *Store) PartitionExists(ctx context.Context, id string) (bool, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM partitions WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("partition exists: %w", err)
	}
	return status != PartitionDelete, nil
}
