package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/refshelf/retrieval-core/internal/cache"
	"github.com/refshelf/retrieval-core/internal/model"
	"github.com/refshelf/retrieval-core/internal/service"
)

// EmbeddingStore is the Postgres-backed vector store: the `embeddings`
// table plus the normalized read-through cache built over it.
type EmbeddingStore struct {
	pool  *pgxpool.Pool
	cache *cache.NormalizedCache
}

var (
	_ service.VectorStore = (*EmbeddingStore)(nil)
	_ service.VectorCache = (*EmbeddingStore)(nil)
)

// NewEmbeddingStore creates an EmbeddingStore and wires its normalized
// cache to load directly from the database.
func NewEmbeddingStore(pool *pgxpool.Pool) *EmbeddingStore {
	s := &EmbeddingStore{pool: pool}
	s.cache = cache.NewNormalizedCache(func(ctx context.Context) ([]model.StoredEmbedding, error) {
		return s.GetAll(ctx)
	})
	return s
}

// Put UPSERTs a single row on its (item_id, chunk_index) primary key.
func (s *EmbeddingStore) Put(ctx context.Context, row model.StoredEmbedding) error {
	if err := s.PutBatch(ctx, []model.StoredEmbedding{row}); err != nil {
		return fmt.Errorf("store.EmbeddingStore.Put: %w", err)
	}
	return nil
}

// PutBatch UPSERTs rows inside a single transaction and invalidates the
// normalized cache.
func (s *EmbeddingStore) PutBatch(ctx context.Context, rows []model.StoredEmbedding) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store.EmbeddingStore.PutBatch: begin: %w: %v", service.ErrStoreIO, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		embedding := pgvector.NewVector(r.Embedding)
		indexedAt := r.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO embeddings
				(item_id, chunk_index, item_key, library_id, title, abstract, chunk_text, text_source, embedding, model_id, indexed_at, content_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (item_id, chunk_index) DO UPDATE SET
				item_key = EXCLUDED.item_key,
				library_id = EXCLUDED.library_id,
				title = EXCLUDED.title,
				abstract = EXCLUDED.abstract,
				chunk_text = EXCLUDED.chunk_text,
				text_source = EXCLUDED.text_source,
				embedding = EXCLUDED.embedding,
				model_id = EXCLUDED.model_id,
				indexed_at = EXCLUDED.indexed_at,
				content_hash = EXCLUDED.content_hash`,
			r.ItemID, r.ChunkIndex, r.ItemKey, r.LibraryID, r.Title, r.Abstract,
			r.ChunkText, string(r.TextSource), embedding, r.ModelID, indexedAt, r.ContentHash,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < len(rows); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("store.EmbeddingStore.PutBatch: row %d: %w: %v", i, service.ErrStoreIO, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("store.EmbeddingStore.PutBatch: close batch: %w: %v", service.ErrStoreIO, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store.EmbeddingStore.PutBatch: commit: %w: %v", service.ErrStoreIO, err)
	}

	s.cache.Invalidate()
	return nil
}

const selectColumns = `item_id, chunk_index, item_key, library_id, title, abstract, chunk_text, text_source, embedding, model_id, indexed_at, content_hash`

func scanRow(row pgx.Row) (model.StoredEmbedding, error) {
	var r model.StoredEmbedding
	var embedding pgvector.Vector
	var textSource string
	err := row.Scan(
		&r.ItemID, &r.ChunkIndex, &r.ItemKey, &r.LibraryID, &r.Title, &r.Abstract,
		&r.ChunkText, &textSource, &embedding, &r.ModelID, &r.IndexedAt, &r.ContentHash,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.StoredEmbedding{}, err
		}
		return model.StoredEmbedding{}, fmt.Errorf("store.scanRow: %w: %v", service.ErrStoreIO, err)
	}
	r.TextSource = model.NormalizeTextSource(model.TextSource(textSource))
	r.Embedding = embedding.Slice()
	if len(r.Embedding) == 0 {
		return model.StoredEmbedding{}, fmt.Errorf("store.scanRow: item %d chunk %d: %w", r.ItemID, r.ChunkIndex, service.ErrCorruptVector)
	}
	return r, nil
}

// Get returns chunk 0 if present, else any chunk, else absent (ok=false).
func (s *EmbeddingStore) Get(ctx context.Context, itemID int64) (model.StoredEmbedding, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM embeddings
		WHERE item_id = $1
		ORDER BY (chunk_index = 0) DESC, chunk_index ASC
		LIMIT 1`, selectColumns), itemID)

	r, err := scanRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.StoredEmbedding{}, false, nil
		}
		return model.StoredEmbedding{}, false, fmt.Errorf("store.EmbeddingStore.Get: %w", err)
	}
	return r, true, nil
}

// GetItemChunks returns all chunks for one item, ordered by chunk_index.
func (s *EmbeddingStore) GetItemChunks(ctx context.Context, itemID int64) ([]model.StoredEmbedding, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM embeddings WHERE item_id = $1 ORDER BY chunk_index ASC`, selectColumns), itemID)
	if err != nil {
		return nil, fmt.Errorf("store.EmbeddingStore.GetItemChunks: %w: %v", service.ErrStoreIO, err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// DeleteItemChunks removes all chunks for one item and invalidates the
// cache. Used before re-insert on re-index.
func (s *EmbeddingStore) DeleteItemChunks(ctx context.Context, itemID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM embeddings WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("store.EmbeddingStore.DeleteItemChunks: %w: %v", service.ErrStoreIO, err)
	}
	s.cache.Invalidate()
	return nil
}

// Delete removes a single item entirely (alias of DeleteItemChunks kept
// distinct per the spec's lifecycle wording).
func (s *EmbeddingStore) Delete(ctx context.Context, itemID int64) error {
	return s.DeleteItemChunks(ctx, itemID)
}

// GetAll returns every row ordered (item_id, chunk_index).
func (s *EmbeddingStore) GetAll(ctx context.Context) ([]model.StoredEmbedding, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM embeddings ORDER BY item_id ASC, chunk_index ASC`, selectColumns))
	if err != nil {
		return nil, fmt.Errorf("store.EmbeddingStore.GetAll: %w: %v", service.ErrStoreIO, err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// GetByLibrary returns every row for one library, ordered (item_id, chunk_index).
func (s *EmbeddingStore) GetByLibrary(ctx context.Context, libraryID int64) ([]model.StoredEmbedding, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM embeddings WHERE library_id = $1 ORDER BY item_id ASC, chunk_index ASC`, selectColumns), libraryID)
	if err != nil {
		return nil, fmt.Errorf("store.EmbeddingStore.GetByLibrary: %w: %v", service.ErrStoreIO, err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows pgx.Rows) ([]model.StoredEmbedding, error) {
	var results []model.StoredEmbedding
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// IsIndexed reports whether any row exists for itemID.
func (s *EmbeddingStore) IsIndexed(ctx context.Context, itemID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM embeddings WHERE item_id = $1)`, itemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store.EmbeddingStore.IsIndexed: %w: %v", service.ErrStoreIO, err)
	}
	return exists, nil
}

// NeedsReindex reports true iff no row exists for itemID or its stored
// content_hash differs from contentHash.
func (s *EmbeddingStore) NeedsReindex(ctx context.Context, itemID int64, contentHash string) (bool, error) {
	var storedHash string
	err := s.pool.QueryRow(ctx, `SELECT content_hash FROM embeddings WHERE item_id = $1 LIMIT 1`, itemID).Scan(&storedHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("store.EmbeddingStore.NeedsReindex: %w: %v", service.ErrStoreIO, err)
	}
	return storedHash != contentHash, nil
}

// Clear drops every row and invalidates the cache.
func (s *EmbeddingStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("store.EmbeddingStore.Clear: %w: %v", service.ErrStoreIO, err)
	}
	s.cache.Invalidate()
	return nil
}

// GetStats summarizes the contents of the store.
func (s *EmbeddingStore) GetStats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	var totalChunks, indexedItems int
	var modelID *string
	var lastIndexedAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT item_id),
			COUNT(*),
			(SELECT model_id FROM embeddings LIMIT 1),
			MAX(indexed_at)
		FROM embeddings`).Scan(&indexedItems, &totalChunks, &modelID, &lastIndexedAt)
	if err != nil {
		return model.Stats{}, fmt.Errorf("store.EmbeddingStore.GetStats: %w: %v", service.ErrStoreIO, err)
	}

	stats.IndexedItems = indexedItems
	stats.TotalChunks = totalChunks
	if indexedItems > 0 {
		stats.AvgChunksPerItem = float64(totalChunks) / float64(indexedItems)
	}
	if modelID != nil {
		stats.ModelID = *modelID
	}
	if lastIndexedAt != nil {
		stats.LastIndexedAt = *lastIndexedAt
	}
	// Rough estimate: each float32 component is 4 bytes, plus a fixed
	// per-row overhead for the non-vector columns.
	const perRowOverhead = 256
	avgDim := 0
	if totalChunks > 0 {
		entries, err := s.cache.GetAllCached(ctx)
		if err == nil && len(entries) > 0 {
			avgDim = len(entries[0].NormalizedVector)
		}
	}
	stats.StorageBytesEstimate = int64(totalChunks) * (int64(avgDim)*4 + perRowOverhead)

	return stats, nil
}

// GetAllCached returns the normalized cache snapshot, rebuilding if stale.
func (s *EmbeddingStore) GetAllCached(ctx context.Context) ([]model.CacheEntry, error) {
	return s.cache.GetAllCached(ctx)
}

// GetLibraryCached returns the normalized cache snapshot filtered to one
// library.
func (s *EmbeddingStore) GetLibraryCached(ctx context.Context, libraryID int64) ([]model.CacheEntry, error) {
	return s.cache.GetLibraryCached(ctx, libraryID)
}
