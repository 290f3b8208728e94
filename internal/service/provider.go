package service

import (
	"context"
	"fmt"
	"math"
)

// Role tells a Provider which side of the embedding it is producing a
// vector for, so providers that need an instruction prefix can apply it
// internally. Callers never apply a prefix themselves.
type Role string

const (
	RoleDocument Role = "document"
	RoleQuery    Role = "query"
)

// EmbedResult is the return value of Provider.Embed.
type EmbedResult struct {
	Vector        []float32
	ModelID       string
	ProcessingMs  int64
}

// Provider is the capability interface implemented by each embedding
// backend variant (Local, OpenAI, Google, Generic). No inheritance — a
// tagged sum type would be equally valid in a language that has one.
type Provider interface {
	Init(ctx context.Context) error
	Embed(ctx context.Context, text string, role Role) (EmbedResult, error)
	ModelID() string
	Destroy() error
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1). A zero
// vector is returned unchanged.
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

// NewProvider selects and initializes a Provider by name, per spec §6's
// embeddingProvider config key.
func NewProvider(ctx context.Context, providerName, model, apiKey, apiEndpoint string) (Provider, error) {
	var p Provider
	switch providerName {
	case "", "local":
		p = NewLocalProvider(model, apiEndpoint)
	case "openai":
		p = NewOpenAIProvider(model, apiKey)
	case "google":
		p = NewGoogleProvider(model, apiKey)
	case "generic":
		p = NewGenericProvider(model, apiKey, apiEndpoint)
	default:
		return nil, fmt.Errorf("service.NewProvider: %w: unknown provider %q", ErrInvalidConfig, providerName)
	}
	if err := p.Init(ctx); err != nil {
		return nil, fmt.Errorf("service.NewProvider: %w", err)
	}
	return p, nil
}
