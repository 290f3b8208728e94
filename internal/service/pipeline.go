package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/refshelf/retrieval-core/internal/model"
)

// yieldEvery controls how often EmbedBatch calls the progress callback.
// Cancellation is checked separately, before every chunk.
const yieldEvery = 8

// EmbedProgress reports batch embedding progress to a caller.
type EmbedProgress struct {
	Completed int
	Total     int
	Failed    int
}

// PipelineService wraps a Provider and adds batching, progress reporting,
// and the ability to swap providers at runtime without restarting the
// process.
type PipelineService struct {
	provider     Provider
	providerName string
	model        string
	apiKey       string
	apiEndpoint  string
}

// NewPipelineService constructs a PipelineService around an
// already-initialized Provider.
func NewPipelineService(provider Provider, providerName, model, apiKey, apiEndpoint string) *PipelineService {
	return &PipelineService{
		provider:     provider,
		providerName: providerName,
		model:        model,
		apiKey:       apiKey,
		apiEndpoint:  apiEndpoint,
	}
}

// EmbedQuery embeds a single search query string.
func (s *PipelineService) EmbedQuery(ctx context.Context, text string) (EmbedResult, error) {
	return s.provider.Embed(ctx, text, RoleQuery)
}

// EmbedDocument embeds a single document chunk.
func (s *PipelineService) EmbedDocument(ctx context.Context, text string) (EmbedResult, error) {
	return s.provider.Embed(ctx, text, RoleDocument)
}

// EmbedBatch embeds a sequence of document chunks, calling onProgress every
// yieldEvery items and on completion. A per-item embedding failure is
// logged and omitted from the result rather than aborting the whole batch;
// the result is keyed by each chunk's own Index so a failure never shifts
// the pairing between a later chunk and its embedding.
func (s *PipelineService) EmbedBatch(ctx context.Context, chunks []model.Chunk, onProgress func(EmbedProgress)) (map[int]EmbedResult, error) {
	results := make(map[int]EmbedResult, len(chunks))
	failed := 0

	for i, c := range chunks {
		select {
		case <-ctx.Done():
			return results, fmt.Errorf("pipeline.EmbedBatch: %w", ErrCancelled)
		default:
		}

		res, err := s.provider.Embed(ctx, c.Text, RoleDocument)
		if err != nil {
			failed++
			slog.Warn("pipeline chunk embed failed, skipping", "chunk_index", c.Index, "error", err)
		} else {
			results[c.Index] = res
		}

		if (i+1)%yieldEvery == 0 && onProgress != nil {
			onProgress(EmbedProgress{Completed: i + 1, Total: len(chunks), Failed: failed})
		}
	}

	if onProgress != nil {
		onProgress(EmbedProgress{Completed: len(chunks), Total: len(chunks), Failed: failed})
	}
	return results, nil
}

// ModelID returns the identifier of the currently active provider's model.
func (s *PipelineService) ModelID() string {
	return s.provider.ModelID()
}

// Reset destroys the current provider and reinitializes a fresh one with
// the same configuration — used when a provider's underlying connection
// pool or process needs to be recycled.
func (s *PipelineService) Reset(ctx context.Context) error {
	if err := s.provider.Destroy(); err != nil {
		slog.Warn("pipeline provider destroy failed during reset", "error", err)
	}

	p, err := NewProvider(ctx, s.providerName, s.model, s.apiKey, s.apiEndpoint)
	if err != nil {
		return fmt.Errorf("pipeline.Reset: %w", err)
	}
	s.provider = p
	return nil
}
