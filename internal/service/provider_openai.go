package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIProvider embeds via OpenAI's /v1/embeddings endpoint, using
// go-openai's CreateEmbeddings which already returns the
// {data:[{embedding}]} shape spec §6 names.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	apiKey string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(model, apiKey string) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		apiKey: apiKey,
	}
}

func (p *OpenAIProvider) Init(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("service.OpenAIProvider.Init: %w: missing API key", ErrInvalidConfig)
	}
	return nil
}

// Embed embeds text. Role is a no-op: OpenAI embedding models take raw
// text with no instruction-prefix convention.
func (p *OpenAIProvider) Embed(ctx context.Context, text string, role Role) (EmbedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	start := time.Now()
	resp, err := withRetry(ctx, "OpenAIProvider.Embed", func() (openai.EmbeddingResponse, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(p.model),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return EmbedResult{}, fmt.Errorf("service.OpenAIProvider.Embed: %w", ErrEmbeddingTimeout)
		}
		return EmbedResult{}, fmt.Errorf("service.OpenAIProvider.Embed: %w: %v", ErrProviderTransport, err)
	}
	if len(resp.Data) == 0 {
		return EmbedResult{}, fmt.Errorf("service.OpenAIProvider.Embed: %w: no embedding data returned", ErrProviderTransport)
	}

	return EmbedResult{
		Vector:       l2Normalize(resp.Data[0].Embedding),
		ModelID:      p.model,
		ProcessingMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) ModelID() string { return p.model }

func (p *OpenAIProvider) Destroy() error { return nil }
