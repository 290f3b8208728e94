package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultGenericModel = "text-embedding-ada-002"

// GenericProvider talks to any OpenAI-compatible embeddings endpoint
// (llama.cpp server, LM Studio, a self-hosted proxy) reached via a
// caller-supplied base URL, reusing the same wire format as OpenAIProvider.
type GenericProvider struct {
	client *openai.Client
	model  string
}

var _ Provider = (*GenericProvider)(nil)

// NewGenericProvider creates a GenericProvider pointed at baseURL.
func NewGenericProvider(model, apiKey, baseURL string) *GenericProvider {
	if model == "" {
		model = defaultGenericModel
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &GenericProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

func (p *GenericProvider) Init(ctx context.Context) error {
	return nil
}

// Embed embeds text. Role is a no-op: the generic wire format carries no
// role distinction.
func (p *GenericProvider) Embed(ctx context.Context, text string, role Role) (EmbedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	start := time.Now()
	resp, err := withRetry(ctx, "GenericProvider.Embed", func() (openai.EmbeddingResponse, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(p.model),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return EmbedResult{}, fmt.Errorf("service.GenericProvider.Embed: %w", ErrEmbeddingTimeout)
		}
		return EmbedResult{}, fmt.Errorf("service.GenericProvider.Embed: %w: %v", ErrProviderTransport, err)
	}
	if len(resp.Data) == 0 {
		return EmbedResult{}, fmt.Errorf("service.GenericProvider.Embed: %w: no embedding data returned", ErrProviderTransport)
	}

	return EmbedResult{
		Vector:       l2Normalize(resp.Data[0].Embedding),
		ModelID:      p.model,
		ProcessingMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *GenericProvider) ModelID() string { return p.model }

func (p *GenericProvider) Destroy() error { return nil }
