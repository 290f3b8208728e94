package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refshelf/retrieval-core/internal/model"
)

var (
	indexingMu sync.Mutex
	indexing   bool
)

// VectorStore is the subset of the store the indexer needs: writing rows
// and clearing an item's prior chunks before re-insert.
type VectorStore interface {
	DeleteItemChunks(ctx context.Context, itemID int64) error
	PutBatch(ctx context.Context, rows []model.StoredEmbedding) error
	SetMetadata(ctx context.Context, key, value string) error
}

// IndexerOptions controls one Run.
type IndexerOptions struct {
	Mode      string // "abstract" | "full"
	MaxTokens int
	MaxChunks int
}

// IndexRunResult summarizes a completed (possibly partial) run.
type IndexRunResult struct {
	RunID          string
	ItemsProcessed int
	ChunksWritten  int
	ItemsFailed    int
	DurationMs     int64
	Cancelled      bool
}

// IndexerService orchestrates Chunker → Pipeline → Store for a set of
// items, one global run at a time.
type IndexerService struct {
	chunker  *ChunkerService
	pipeline *PipelineService
	store    VectorStore
	catalog  HostCatalog
}

// NewIndexerService creates an IndexerService.
func NewIndexerService(chunker *ChunkerService, pipeline *PipelineService, store VectorStore, catalog HostCatalog) *IndexerService {
	return &IndexerService{chunker: chunker, pipeline: pipeline, store: store, catalog: catalog}
}

// Run indexes every item in items, polling ctx for cancellation before
// each item (EmbedBatch also polls it before each chunk). Partial progress
// already committed via put_batch remains on cancellation.
func (s *IndexerService) Run(ctx context.Context, items []model.Item, opts IndexerOptions) (*IndexRunResult, error) {
	indexingMu.Lock()
	if indexing {
		indexingMu.Unlock()
		return nil, fmt.Errorf("service.IndexerService.Run: an indexing run is already in progress")
	}
	indexing = true
	indexingMu.Unlock()

	defer func() {
		indexingMu.Lock()
		indexing = false
		indexingMu.Unlock()
	}()

	start := time.Now()
	result := &IndexRunResult{RunID: uuid.New().String()}

	slog.Info("indexer run starting", "run_id", result.RunID, "item_count", len(items), "mode", opts.Mode)

	for _, item := range items {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			slog.Warn("indexer run cancelled", "items_processed", result.ItemsProcessed)
			return finishRun(s, result, start, opts)
		default:
		}

		if err := s.indexOne(ctx, item, opts, result); err != nil {
			result.ItemsFailed++
			slog.Error("indexer failed to index item", "item_id", item.ItemID, "error", err)
			continue
		}
		result.ItemsProcessed++
	}

	return finishRun(s, result, start, opts)
}

func (s *IndexerService) indexOne(ctx context.Context, item model.Item, opts IndexerOptions, result *IndexRunResult) error {
	fulltext := ""
	if opts.Mode == "full" && s.catalog != nil {
		text, err := s.catalog.GetFullText(ctx, item.ItemID)
		if err != nil {
			slog.Warn("indexer could not load full text, falling back to abstract-only", "item_id", item.ItemID, "error", err)
		} else {
			fulltext = text
		}
	}

	chunks, err := s.chunker.Chunk(item.Title, item.Abstract, fulltext, ChunkerOptions{
		Mode:      opts.Mode,
		MaxTokens: opts.MaxTokens,
		MaxChunks: opts.MaxChunks,
	})
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}

	contentHash := hashChunks(chunks)

	embeddings, err := s.pipeline.EmbedBatch(ctx, chunks, nil)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(embeddings) == 0 {
		return fmt.Errorf("embed batch: no chunk embedded successfully")
	}

	if err := s.store.DeleteItemChunks(ctx, item.ItemID); err != nil {
		return fmt.Errorf("delete prior chunks: %w", err)
	}

	rows := make([]model.StoredEmbedding, 0, len(embeddings))
	now := time.Now().UTC()
	for _, c := range chunks {
		emb, ok := embeddings[c.Index]
		if !ok {
			continue
		}
		rows = append(rows, model.StoredEmbedding{
			ItemID:      item.ItemID,
			ChunkIndex:  c.Index,
			ItemKey:     item.ItemKey,
			LibraryID:   item.LibraryID,
			Title:       item.Title,
			Abstract:    item.Abstract,
			ChunkText:   c.Text,
			TextSource:  c.Type,
			Embedding:   emb.Vector,
			ModelID:     emb.ModelID,
			IndexedAt:   now,
			ContentHash: contentHash,
		})
	}

	if err := s.store.PutBatch(ctx, rows); err != nil {
		return fmt.Errorf("put batch: %w", err)
	}

	result.ChunksWritten += len(rows)
	return nil
}

func finishRun(s *IndexerService, result *IndexRunResult, start time.Time, opts IndexerOptions) (*IndexRunResult, error) {
	result.DurationMs = time.Since(start).Milliseconds()

	_ = s.store.SetMetadata(context.Background(), "indexing_mode", opts.Mode)
	_ = s.store.SetMetadata(context.Background(), "last_index_duration_ms", fmt.Sprintf("%d", result.DurationMs))

	slog.Info("indexer run finished",
		"items_processed", result.ItemsProcessed,
		"items_failed", result.ItemsFailed,
		"chunks_written", result.ChunksWritten,
		"duration_ms", result.DurationMs,
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// hashChunks computes an FNV-1a 64-bit content hash over the concatenated
// chunk texts of one item, the full 8-byte sum encoded as 16 hex
// characters. FNV-1a replaces a
// 32-bit rolling hash with a cheaper, collision-resistant alternative at
// the same call site.
func hashChunks(chunks []model.Chunk) string {
	h := fnv.New64a()
	for _, c := range chunks {
		_, _ = h.Write([]byte(c.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}
