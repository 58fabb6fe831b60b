// Package service holds background workers that keep derived state healthy.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fedmem/federated-memory/internal/module"
	"github.com/fedmem/federated-memory/internal/router"
)

// Reindexer periodically restores the index coverage invariant: every module
// row has exactly one CMI entry, and every CMI entry points at a live row.
// Both directions can be violated transiently when a write-through or its
// compensation fails mid-flight.
type Reindexer struct {
	registry *module.Registry
	index    router.IndexStore
	indexer  module.Indexer
	interval time.Duration
	batch    int
}

// NewReindexer creates the sweep worker.
func NewReindexer(registry *module.Registry, index router.IndexStore, indexer module.Indexer, interval time.Duration, batchSize int) *Reindexer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reindexer{
		registry: registry,
		index:    index,
		indexer:  indexer,
		interval: interval,
		batch:    batchSize,
	}
}

// Start runs the sweep loop. Returns when ctx is cancelled.
func (r *Reindexer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass over both directions of the coverage invariant.
func (r *Reindexer) Sweep(ctx context.Context) {
	repaired := r.indexMissing(ctx)
	dropped := r.dropOrphans(ctx)
	if repaired > 0 || dropped > 0 {
		log.Info("Reindex sweep complete", "indexed", repaired, "dropped", dropped)
	}
}

// indexMissing re-creates CMI entries for rows that lost theirs.
func (r *Reindexer) indexMissing(ctx context.Context) int {
	repaired := 0
	for _, mod := range r.registry.List() {
		for offset := 0; ; offset += r.batch {
			rows, err := mod.Rows().ListRows(ctx, r.batch, offset)
			if err != nil {
				log.Error("Reindex: row scan failed", "module", mod.ID(), "err", err)
				break
			}
			for i := range rows {
				row := &rows[i]
				entry, err := r.index.Get(ctx, row.UserID, mod.ID(), row.ID)
				if err != nil {
					log.Error("Reindex: index lookup failed", "module", mod.ID(), "memory", row.ID, "err", err)
					continue
				}
				if entry != nil {
					continue
				}
				fields := module.DeriveIndexFields(mod.ID(), row.Content, row.Metadata)
				if err := r.indexer.IndexMemory(ctx, row.UserID, mod.ID(), row.ID, row.Content, fields); err != nil {
					log.Error("Reindex: index write failed", "module", mod.ID(), "memory", row.ID, "err", err)
					continue
				}
				repaired++
			}
			if len(rows) < r.batch {
				break
			}
		}
	}
	return repaired
}

// dropOrphans removes CMI entries whose module row no longer exists.
func (r *Reindexer) dropOrphans(ctx context.Context) int {
	dropped := 0
	for offset := 0; ; {
		entries, err := r.index.ListAll(ctx, r.batch, offset)
		if err != nil {
			log.Error("Reindex: index scan failed", "err", err)
			return dropped
		}
		removed := 0
		for i := range entries {
			entry := &entries[i]
			mod, err := r.registry.Get(entry.ModuleID)
			if err != nil {
				// Entry for a module no longer configured; leave it alone.
				continue
			}
			row, err := mod.Rows().GetByID(ctx, entry.UserID, entry.RemoteMemoryID)
			if err != nil {
				log.Error("Reindex: row lookup failed", "module", entry.ModuleID, "memory", entry.RemoteMemoryID, "err", err)
				continue
			}
			if row != nil {
				continue
			}
			if err := r.index.Delete(ctx, entry.UserID, entry.ModuleID, entry.RemoteMemoryID); err != nil {
				log.Error("Reindex: orphan delete failed", "module", entry.ModuleID, "memory", entry.RemoteMemoryID, "err", err)
				continue
			}
			removed++
			dropped++
		}
		if len(entries) < r.batch {
			return dropped
		}
		// Deletions shift later entries down; advance only past the kept ones.
		offset += len(entries) - removed
	}
}
