package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/ingest"
	"github.com/surveyor-ai/surveyor/internal/store"
)

// KnowledgeHandler covers collection and partition CRUD plus document
// upload. Ingestion itself happens on the worker; uploads only queue a
// waiting partition.
type KnowledgeHandler struct {
	Store *store.Store
	Cfg   *config.Config
}

func (h *KnowledgeHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.GET("/collections", h.listCollections)
	g.POST("/collection", h.createCollection)
	g.GET("/collection/:id", h.getCollection)
	g.DELETE("/collection/:id", h.deleteCollection)
	g.POST("/collection/:id/upload", h.upload)
	g.GET("/collection/:id/partitions", h.listPartitions)
	g.POST("/partition/:id/reingest", h.reingest)
	g.DELETE("/partition/:id", h.deletePartition)
}

func (h *KnowledgeHandler) listCollections(c echo.Context) error {
	ws := c.QueryParam("workspace_id")
	if ws == "" {
		return apperr.Invalid("workspace_id required")
	}
	cols, err := h.Store.ListCollections(c.Request().Context(), ws)
	if err != nil {
		return err
	}
	out := make([]collectionDTO, 0, len(cols))
	for _, col := range cols {
		out = append(out, renderCollection(col))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *KnowledgeHandler) createCollection(c echo.Context) error {
	var req struct {
		WorkspaceID    string  `json:"workspace_id"`
		Name           string  `json:"name"`
		EmbeddingModel string  `json:"embedding_model"`
		ChunkSize      int     `json:"chunk_size"`
		ChunkOverlap   int     `json:"chunk_overlap"`
		TopK           int     `json:"top_k"`
		ScoreThreshold float64 `json:"score_threshold"`
		Folder         string  `json:"folder"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.WorkspaceID == "" || req.Name == "" {
		return apperr.Invalid("workspace_id and name required")
	}
	ctx := c.Request().Context()
	if _, ok, err := h.Store.GetCollectionByName(ctx, req.WorkspaceID, req.Name); err != nil {
		return err
	} else if ok {
		return apperr.New(apperr.CodeCollectionCreate, http.StatusConflict, "collection name already exists")
	}
	col, err := h.Store.CreateCollection(ctx, store.Collection{
		WorkspaceID:    req.WorkspaceID,
		Name:           req.Name,
		EmbeddingModel: req.EmbeddingModel,
		ChunkSize:      req.ChunkSize,
		ChunkOverlap:   req.ChunkOverlap,
		TopK:           req.TopK,
		ScoreThreshold: req.ScoreThreshold,
		Folder:         req.Folder,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeCollectionCreate, http.StatusInternalServerError, "create collection", err)
	}
	return c.JSON(http.StatusCreated, renderCollection(col))
}

func (h *KnowledgeHandler) getCollection(c echo.Context) error {
	ctx := c.Request().Context()
	col, ok, err := h.Store.GetCollection(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("collection not found")
	}
	parts, err := h.Store.ListPartitions(ctx, col.ID)
	if err != nil {
		return err
	}
	dto := renderCollection(col)
	dto.Status = ingest.AggregateStatus(parts)
	return c.JSON(http.StatusOK, dto)
}

func (h *KnowledgeHandler) deleteCollection(c echo.Context) error {
	ctx := c.Request().Context()
	col, ok, err := h.Store.GetCollection(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("collection not found")
	}
	// Partitions are marked for deletion first so the worker purges vectors.
	parts, err := h.Store.ListPartitions(ctx, col.ID)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := h.Store.SetPartitionStatus(ctx, p.ID, store.PartitionDelete, ""); err != nil {
			return err
		}
	}
	if err := h.Store.DeleteCollection(ctx, col.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

// upload stores the file under the configured storage path and queues a
// waiting partition for the ingestion worker.
func (h *KnowledgeHandler) upload(c echo.Context) error {
	ctx := c.Request().Context()
	col, ok, err := h.Store.GetCollection(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("collection not found")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Invalid("file required")
	}
	src, err := fh.Open()
	if err != nil {
		return apperr.Wrap(apperr.CodeFileUpload, http.StatusInternalServerError, "open upload", err)
	}
	defer src.Close()

	dir := filepath.Join(h.Cfg.General.StoragePath, "uploads", col.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.CodeFileUpload, http.StatusInternalServerError, "prepare upload dir", err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString()[:8], filepath.Base(fh.Filename)))
	dst, err := os.Create(dest)
	if err != nil {
		return apperr.Wrap(apperr.CodeFileUpload, http.StatusInternalServerError, "create upload file", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return apperr.Wrap(apperr.CodeFileUpload, http.StatusInternalServerError, "write upload file", err)
	}

	p, err := h.Store.CreatePartition(ctx, store.Partition{
		CollectionID: col.ID,
		Name:         fh.Filename,
		URL:          dest,
		Type:         strings.TrimPrefix(filepath.Ext(fh.Filename), "."),
		Status:       store.PartitionWaiting,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodePartitionCreate, http.StatusInternalServerError, "create partition", err)
	}
	return c.JSON(http.StatusCreated, renderPartition(p))
}

func (h *KnowledgeHandler) listPartitions(c echo.Context) error {
	parts, err := h.Store.ListPartitions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]partitionDTO, 0, len(parts))
	for _, p := range parts {
		out = append(out, renderPartition(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *KnowledgeHandler) reingest(c echo.Context) error {
	ctx := c.Request().Context()
	p, ok, err := h.Store.GetPartition(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("partition not found")
	}
	if err := h.Store.SetPartitionStatus(ctx, p.ID, store.PartitionWaiting, ""); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

func (h *KnowledgeHandler) deletePartition(c echo.Context) error {
	ctx := c.Request().Context()
	p, ok, err := h.Store.GetPartition(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("partition not found")
	}
	// Delete status leaves the row for the worker to purge vectors, then the
	// status aggregation treats it as terminal.
	if err := h.Store.SetPartitionStatus(ctx, p.ID, store.PartitionDelete, ""); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}
