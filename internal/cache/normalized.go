// Package cache holds the in-memory, read-through normalized snapshot of
// the vector store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/refshelf/retrieval-core/internal/model"
)

// freshnessWindow is how long a snapshot is served without rebuilding.
const freshnessWindow = 5 * time.Minute

// Loader fetches every stored embedding row, ordered (item_id, chunk_index).
type Loader func(ctx context.Context) ([]model.StoredEmbedding, error)

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}

// NormalizedCache holds a single store-wide snapshot of every row,
// L2-normalized, rebuilt from Loader whenever it is older than
// freshnessWindow. Every store write path invalidates it synchronously, so
// the next read rebuilds.
type NormalizedCache struct {
	mu      sync.RWMutex
	entries []model.CacheEntry
	validAt time.Time
	loader  Loader
	dim     int
}

// NewNormalizedCache creates a NormalizedCache backed by loader.
func NewNormalizedCache(loader Loader) *NormalizedCache {
	return &NormalizedCache{loader: loader}
}

// GetAllCached returns the current snapshot, rebuilding first if stale.
func (c *NormalizedCache) GetAllCached(ctx context.Context) ([]model.CacheEntry, error) {
	c.mu.RLock()
	fresh := time.Since(c.validAt) < freshnessWindow && c.validAt.IsZero() == false
	entries := c.entries
	c.mu.RUnlock()
	if fresh {
		return entries, nil
	}
	return c.rebuild(ctx)
}

// GetLibraryCached returns the snapshot filtered to one library, rebuilding
// first if stale.
func (c *NormalizedCache) GetLibraryCached(ctx context.Context, libraryID int64) ([]model.CacheEntry, error) {
	all, err := c.GetAllCached(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]model.CacheEntry, 0, len(all))
	for _, e := range all {
		if e.LibraryID == libraryID {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// Invalidate forces the next read to rebuild. Called synchronously by every
// store write path (put, put_batch, delete_item_chunks, delete, clear).
func (c *NormalizedCache) Invalidate() {
	c.mu.Lock()
	c.validAt = time.Time{}
	c.mu.Unlock()
}

func (c *NormalizedCache) rebuild(ctx context.Context) ([]model.CacheEntry, error) {
	rows, err := c.loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache.NormalizedCache.rebuild: %w", err)
	}

	entries := make([]model.CacheEntry, 0, len(rows))
	expectedDim := 0
	for _, r := range rows {
		if len(r.Embedding) == 0 {
			slog.Warn("cache builder skipping row with empty vector", "item_id", r.ItemID, "chunk_index", r.ChunkIndex)
			continue
		}
		if expectedDim == 0 {
			expectedDim = len(r.Embedding)
		} else if len(r.Embedding) != expectedDim {
			slog.Warn("cache builder skipping row with mismatched vector dimension",
				"item_id", r.ItemID, "chunk_index", r.ChunkIndex,
				"dim", len(r.Embedding), "expected_dim", expectedDim)
			continue
		}

		entries = append(entries, model.CacheEntry{
			ItemID:           r.ItemID,
			ChunkIndex:       r.ChunkIndex,
			ItemKey:          r.ItemKey,
			LibraryID:        r.LibraryID,
			Title:            r.Title,
			TextSource:       model.NormalizeTextSource(r.TextSource),
			NormalizedVector: l2Normalize(r.Embedding),
		})
	}

	c.mu.Lock()
	c.entries = entries
	c.validAt = time.Now()
	c.dim = expectedDim
	c.mu.Unlock()

	return entries, nil
}
