// Package engine wires the retrieval core's components into one facade,
// the way the teacher's cmd/server constructs its PipelineService from
// config at startup.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refshelf/retrieval-core/internal/config"
	"github.com/refshelf/retrieval-core/internal/hostcatalog"
	"github.com/refshelf/retrieval-core/internal/model"
	"github.com/refshelf/retrieval-core/internal/service"
	"github.com/refshelf/retrieval-core/internal/store"
)

// Engine owns every long-lived component of the retrieval core and is the
// single object cmd/server and cmd/retrievalcore construct at startup.
type Engine struct {
	cfg *config.Config

	pool    *pgxpool.Pool
	store   *store.EmbeddingStore
	catalog *hostcatalog.Catalog

	chunker   *service.ChunkerService
	pipeline  *service.PipelineService
	indexer   *service.IndexerService
	retriever *service.RetrieverService

	mu sync.RWMutex
}

// New connects to Postgres, opens the keyword index, and wires every
// service component from cfg. bleveIndexPath may be "" for an in-memory
// keyword index.
func New(ctx context.Context, cfg *config.Config, bleveIndexPath string) (*Engine, error) {
	pool, err := store.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	catalog, err := hostcatalog.NewCatalog(pool, bleveIndexPath)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	embeddingStore := store.NewEmbeddingStore(pool)

	provider, err := service.NewProvider(ctx, cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.APIKey, cfg.APIEndpoint)
	if err != nil {
		catalog.Close()
		pool.Close()
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	pipeline := service.NewPipelineService(provider, cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.APIKey, cfg.APIEndpoint)
	chunker := service.NewChunkerService()
	indexer := service.NewIndexerService(chunker, pipeline, embeddingStore, catalog)
	retriever := service.NewRetrieverService(pipeline, embeddingStore, catalog, cfg.HybridSearchDefaultSemanticWeight)

	return &Engine{
		cfg:       cfg,
		pool:      pool,
		store:     embeddingStore,
		catalog:   catalog,
		chunker:   chunker,
		pipeline:  pipeline,
		indexer:   indexer,
		retriever: retriever,
	}, nil
}

// Close releases the keyword index and the database pool.
func (e *Engine) Close() error {
	if err := e.catalog.Close(); err != nil {
		slog.Warn("engine_close_catalog_failed", slog.String("error", err.Error()))
	}
	e.pool.Close()
	return nil
}

// Config returns the engine's loaded configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Store returns the Postgres-backed vector store.
func (e *Engine) Store() *store.EmbeddingStore { return e.store }

// Catalog returns the reference Host Catalog.
func (e *Engine) Catalog() *hostcatalog.Catalog { return e.catalog }

// Index runs the indexer over the given items per the engine's configured
// indexing mode, chunk limits, and max tokens.
func (e *Engine) Index(ctx context.Context, scope IndexScope) (*service.IndexRunResult, error) {
	items, err := e.resolveScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("engine.Engine.Index: %w", err)
	}
	if e.cfg.ExcludeBooks {
		items = excludeBooks(items)
	}

	e.mu.RLock()
	indexer := e.indexer
	e.mu.RUnlock()

	return indexer.Run(ctx, items, service.IndexerOptions{
		Mode:      e.cfg.IndexingMode,
		MaxTokens: e.cfg.MaxTokens,
		MaxChunks: e.cfg.MaxChunksPerPaper,
	})
}

// IndexScope selects which items an Index call covers. Exactly one field
// should be set; an all-nil scope indexes every item in the catalog.
type IndexScope struct {
	Selected     bool
	LibraryID    *int64
	CollectionID *int64
}

func (e *Engine) resolveScope(ctx context.Context, scope IndexScope) ([]model.Item, error) {
	switch {
	case scope.Selected:
		return e.catalog.GetSelectedItems(ctx)
	case scope.CollectionID != nil:
		return e.catalog.GetCollectionItems(ctx, *scope.CollectionID)
	default:
		return e.catalog.GetLibraryItems(ctx, scope.LibraryID)
	}
}

// Search runs a query through the retrieval engine using the engine's
// configured defaults, overridable per call via opts.
func (e *Engine) Search(ctx context.Context, query string, opts service.SearchOptions) (*service.SearchResult, error) {
	opts = e.applyConfigDefaults(opts)
	e.mu.RLock()
	retriever := e.retriever
	e.mu.RUnlock()
	result, err := retriever.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if e.cfg.ExcludeBooks {
		e.filterBooks(ctx, result)
	}
	return result, nil
}

// SimilarItems finds items similar to itemID using the engine's configured
// defaults, overridable per call via opts.
func (e *Engine) SimilarItems(ctx context.Context, itemID int64, opts service.SearchOptions) (*service.SearchResult, error) {
	opts = e.applyConfigDefaults(opts)
	e.mu.RLock()
	retriever := e.retriever
	e.mu.RUnlock()
	result, err := retriever.SimilarItems(ctx, itemID, opts)
	if err != nil {
		return nil, err
	}
	if e.cfg.ExcludeBooks {
		e.filterBooks(ctx, result)
	}
	return result, nil
}

func (e *Engine) applyConfigDefaults(opts service.SearchOptions) service.SearchOptions {
	if opts.Mode == "" {
		opts.Mode = e.cfg.HybridSearchMode
	}
	if opts.TopK == 0 {
		opts.TopK = e.cfg.TopK
	}
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = e.cfg.MinSimilarity()
	}
	if opts.SemanticWeight == 0 {
		opts.AutoAdjust = e.cfg.HybridSearchAutoAdjustWeights
	}
	return opts
}

// filterBooks drops result items whose catalog type is "book", per the
// EXCLUDE_BOOKS config key. Applied post-fusion so it never perturbs RRF
// ranking math.
func (e *Engine) filterBooks(ctx context.Context, result *service.SearchResult) {
	kept := result.Items[:0]
	for _, item := range result.Items {
		hostItem, err := e.catalog.GetItem(ctx, item.ItemID)
		if err == nil && hostItem.ItemType == "book" {
			continue
		}
		kept = append(kept, item)
	}
	result.Items = kept
}

// excludeBooks drops items whose catalog type is "book" from an index
// scope, per the EXCLUDE_BOOKS config key — books are excluded from both
// indexing and retrieval, not just filtered out of search results.
func excludeBooks(items []model.Item) []model.Item {
	kept := items[:0]
	for _, item := range items {
		if item.ItemType == "book" {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// ResetEmbeddingProvider tears down and reconstructs the embedding
// provider, e.g. after a configuration change. It does not require
// restarting the process.
func (e *Engine) ResetEmbeddingProvider(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipeline.Reset(ctx)
}

// GetStats reports vector store statistics.
func (e *Engine) GetStats(ctx context.Context) (model.Stats, error) {
	return e.store.GetStats(ctx)
}
