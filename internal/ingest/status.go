package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/surveyor-ai/surveyor/internal/store"
)

// AggregateStatus folds partition statuses into a collection status: an empty
// collection is finished; all failed or deleted means failed; any
// non-terminal partition keeps the collection waiting.
func AggregateStatus(parts []store.Partition) string {
	if len(parts) == 0 {
		return store.CollectionFinish
	}
	allBad := true
	allTerminal := true
	for _, p := range parts {
		switch p.Status {
		case store.PartitionFail, store.PartitionDelete:
		case store.PartitionFinish:
			allBad = false
		default:
			allBad = false
			allTerminal = false
		}
	}
	if allBad {
		return store.CollectionFail
	}
	if allTerminal {
		return store.CollectionFinish
	}
	return store.CollectionWaiting
}

// folderEntry is one file in a collection's folder snapshot, keyed by a
// stat fingerprint so renames can be told apart from add+delete pairs.
type folderEntry struct {
	Path        string `json:"path"`
	PartitionID string `json:"partition_id"`
	Fingerprint string `json:"fingerprint"`
}

// FolderSyncer watches folder-bound collections and reconciles their
// partitions with the directory contents on a cron schedule.
type FolderSyncer struct {
	store    *store.Store
	schedule *cronexpr.Expression
	logger   *log.Logger
}

func NewFolderSyncer(st *store.Store, cronSpec string) (*FolderSyncer, error) {
	if cronSpec == "" {
		cronSpec = "*/1 * * * *"
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("parse folder sync schedule %q: %w", cronSpec, err)
	}
	return &FolderSyncer{
		store:    st,
		schedule: expr,
		logger:   log.New(log.Writer(), "[FOLDERSYNC] ", log.LstdFlags),
	}, nil
}

// Run fires SyncAll on the configured schedule until the context ends.
func (f *FolderSyncer) Run(ctx context.Context) {
	for {
		next := f.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if err := f.SyncAll(ctx); err != nil {
			f.logger.Printf("folder sync: %v", err)
		}
	}
}

func (f *FolderSyncer) SyncAll(ctx context.Context) error {
	cols, err := f.store.ListFolderCollections(ctx)
	if err != nil {
		return err
	}
	for _, col := range cols {
		if err := f.SyncCollection(ctx, col); err != nil {
			f.logger.Printf("sync collection %s: %v", col.Name, err)
		}
	}
	return nil
}

// SyncCollection diffs the folder against the recorded snapshot: new files
// become waiting partitions, renamed files are renamed in place, and vanished
// files mark their partitions for deletion.
func (f *FolderSyncer) SyncCollection(ctx context.Context, col store.Collection) error {
	var snapshot []folderEntry
	if col.FolderSnapshot != "" {
		if err := json.Unmarshal([]byte(col.FolderSnapshot), &snapshot); err != nil {
			f.logger.Printf("snapshot for %s unreadable, rebuilding: %v", col.Name, err)
			snapshot = nil
		}
	}
	byPath := map[string]folderEntry{}
	byFingerprint := map[string]folderEntry{}
	for _, e := range snapshot {
		byPath[e.Path] = e
		byFingerprint[e.Fingerprint] = e
	}

	current, err := scanFolder(col.Folder)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	var next []folderEntry
	for path, fp := range current {
		if old, ok := byPath[path]; ok {
			seen[old.PartitionID] = true
			next = append(next, folderEntry{Path: path, PartitionID: old.PartitionID, Fingerprint: fp})
			continue
		}
		if old, ok := byFingerprint[fp]; ok && !fileExists(current, old.Path) {
			// Same content fingerprint, old path gone: a rename.
			seen[old.PartitionID] = true
			if err := f.store.RenamePartition(ctx, old.PartitionID, filepath.Base(path), path); err != nil {
				return err
			}
			next = append(next, folderEntry{Path: path, PartitionID: old.PartitionID, Fingerprint: fp})
			continue
		}
		p, err := f.store.CreatePartition(ctx, store.Partition{
			CollectionID: col.ID,
			Name:         filepath.Base(path),
			URL:          path,
			Type:         filepath.Ext(path),
		})
		if err != nil {
			return err
		}
		seen[p.ID] = true
		next = append(next, folderEntry{Path: path, PartitionID: p.ID, Fingerprint: fp})
	}

	for _, e := range snapshot {
		if !seen[e.PartitionID] {
			if err := f.store.SetPartitionStatus(ctx, e.PartitionID, store.PartitionDelete, ""); err != nil {
				return err
			}
		}
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode folder snapshot: %w", err)
	}
	return f.store.SetFolderSnapshot(ctx, col.ID, string(raw))
}

// scanFolder maps relative-less file paths to stat fingerprints.
func scanFolder(root string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		out[path] = fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan folder %s: %w", root, err)
	}
	return out, nil
}

func fileExists(current map[string]string, path string) bool {
	_, ok := current[path]
	return ok
}
