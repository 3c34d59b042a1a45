package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/surveyor-ai/surveyor/config"
)

// HNSW build parameters for new collections.
const (
	hnswM           = 64
	hnswEfConstruct = 512
	hnswEfSearch    = 128

	maxContentLength = 65535
)

// MilvusStore implements VectorStore over a Milvus deployment.
type MilvusStore struct {
	client client.Client
	metric entity.MetricType
	logger *log.Logger
}

// NewMilvusStore connects to Milvus using the storage config. The distance
// metric honors MILVUS_DISTANCE_METHOD (cosine default).
func NewMilvusStore(ctx context.Context, cfg config.MilvusConfig) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	metric := entity.COSINE
	switch strings.ToLower(cfg.Distance()) {
	case "l2":
		metric = entity.L2
	case "ip":
		metric = entity.IP
	}
	return &MilvusStore{
		client: c,
		metric: metric,
		logger: log.New(log.Writer(), "[MILVUS] ", log.LstdFlags),
	}, nil
}

func (m *MilvusStore) Close() error { return m.client.Close() }

// EnsureCollection creates the collection schema, the HNSW vector index, a
// scalar index on partition_id for filtered deletes, and loads it.
func (m *MilvusStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: name,
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "page_content",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": strconv.Itoa(maxContentLength)},
				},
				{
					Name:       "partition_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:     "metadata",
					DataType: entity.FieldTypeJSON,
				},
				{
					Name:       "embedding",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
				},
			},
		}
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		idx, err := entity.NewIndexHNSW(m.metric, hnswM, hnswEfConstruct)
		if err != nil {
			return fmt.Errorf("build hnsw index: %w", err)
		}
		if err := m.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
			return fmt.Errorf("create vector index on %s: %w", name, err)
		}
		if err := m.client.CreateIndex(ctx, name, "partition_id", entity.NewScalarIndex(), false); err != nil {
			return fmt.Errorf("create partition index on %s: %w", name, err)
		}
		m.logger.Printf("created collection %s dim=%d metric=%s", name, dim, m.metric)
	}
	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", name, err)
	}
	return nil
}

func (m *MilvusStore) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)
	ids := make([]string, len(records))
	contents := make([]string, len(records))
	partitions := make([]string, len(records))
	metas := make([][]byte, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.ID
		content := r.PageContent
		if len(content) > maxContentLength {
			content = content[:maxContentLength]
		}
		contents[i] = content
		partitions[i] = r.PartitionID
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode record metadata: %w", err)
		}
		metas[i] = meta
		vectors[i] = r.Vector
	}
	_, err := m.client.Upsert(ctx, name, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("page_content", contents),
		entity.NewColumnVarChar("partition_id", partitions),
		entity.NewColumnJSONBytes("metadata", metas),
		entity.NewColumnFloatVector("embedding", dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("upsert %d records into %s: %w", len(records), name, err)
	}
	return nil
}

func (m *MilvusStore) DeleteByPartition(ctx context.Context, name, partitionID string) error {
	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !has {
		return nil
	}
	expr := fmt.Sprintf(`partition_id == "%s"`, partitionID)
	if err := m.client.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("delete partition %s from %s: %w", partitionID, name, err)
	}
	return nil
}

func (m *MilvusStore) Search(ctx context.Context, name string, vector []float32, topK int, partitionIDs []string) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	expr := ""
	if len(partitionIDs) > 0 {
		quoted := make([]string, len(partitionIDs))
		for i, id := range partitionIDs {
			quoted[i] = `"` + id + `"`
		}
		expr = fmt.Sprintf("partition_id in [%s]", strings.Join(quoted, ","))
	}
	sp, err := entity.NewIndexHNSWSearchParam(hnswEfSearch)
	if err != nil {
		return nil, fmt.Errorf("build search param: %w", err)
	}
	results, err := m.client.Search(ctx, name, nil, expr,
		[]string{"id", "page_content", "partition_id", "metadata"},
		[]entity.Vector{entity.FloatVector(vector)}, "embedding", m.metric, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	var hits []Hit
	for _, rs := range results {
		for i := 0; i < rs.ResultCount; i++ {
			h := Hit{}
			if col := rs.Fields.GetColumn("id"); col != nil {
				h.ID, _ = col.GetAsString(i)
			}
			if col := rs.Fields.GetColumn("page_content"); col != nil {
				h.Content, _ = col.GetAsString(i)
			}
			if col := rs.Fields.GetColumn("partition_id"); col != nil {
				h.PartitionID, _ = col.GetAsString(i)
			}
			if col := rs.Fields.GetColumn("metadata"); col != nil {
				if raw, err := col.GetAsString(i); err == nil && raw != "" {
					_ = json.Unmarshal([]byte(raw), &h.Metadata)
				}
			}
			if i < len(rs.Scores) {
				h.Score = m.similarity(float64(rs.Scores[i]))
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// similarity normalizes the raw metric score so higher is always better.
func (m *MilvusStore) similarity(raw float64) float64 {
	if m.metric == entity.L2 {
		s := 1.0 - raw/2.0
		if s < 0 {
			return 0
		}
		return s
	}
	return raw
}

func (m *MilvusStore) CountByPartition(ctx context.Context, name, partitionID string) (int64, error) {
	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("check collection %s: %w", name, err)
	}
	if !has {
		return 0, nil
	}
	expr := fmt.Sprintf(`partition_id == "%s"`, partitionID)
	rs, err := m.client.Query(ctx, name, nil, expr, []string{"id"})
	if err != nil {
		return 0, fmt.Errorf("count partition %s in %s: %w", partitionID, name, err)
	}
	if col := rs.GetColumn("id"); col != nil {
		return int64(col.Len()), nil
	}
	return 0, nil
}

func (m *MilvusStore) DropCollection(ctx context.Context, name string) error {
	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !has {
		return nil
	}
	if err := m.client.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}
