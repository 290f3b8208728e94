package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultGoogleModel    = "text-embedding-004"
	defaultGoogleEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
)

// GoogleProvider embeds via a Gemini-style embedContent endpoint, reached
// with a plain API key rather than Vertex AI's service-account flow — the
// retrieval core has no GCP project/location config to build a Vertex URL
// from, only apiKey and apiEndpoint.
type GoogleProvider struct {
	model    string
	apiKey   string
	endpoint string
	client   *http.Client
}

var _ Provider = (*GoogleProvider)(nil)

// NewGoogleProvider creates a GoogleProvider. The endpoint is always the
// public Gemini API; it takes no endpoint override.
func NewGoogleProvider(model, apiKey string) *GoogleProvider {
	if model == "" {
		model = defaultGoogleModel
	}
	return &GoogleProvider{
		model:    model,
		apiKey:   apiKey,
		endpoint: defaultGoogleEndpoint,
		client:   &http.Client{},
	}
}

func (p *GoogleProvider) Init(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("service.GoogleProvider.Init: %w: missing API key", ErrInvalidConfig)
	}
	return nil
}

type googleEmbedRequest struct {
	Content  googleContent `json:"content"`
	TaskType string        `json:"taskType"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed embeds text via :embedContent, retrying on 429/RESOURCE_EXHAUSTED
// per the shared backoff policy. Role maps to RETRIEVAL_DOCUMENT or
// RETRIEVAL_QUERY task types, matching text-embedding-004's asymmetric
// retrieval convention.
func (p *GoogleProvider) Embed(ctx context.Context, text string, role Role) (EmbedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	taskType := "RETRIEVAL_DOCUMENT"
	if role == RoleQuery {
		taskType = "RETRIEVAL_QUERY"
	}

	start := time.Now()
	values, err := withRetry(ctx, "GoogleProvider.Embed", func() ([]float32, error) {
		return p.doEmbed(ctx, text, taskType)
	})
	if err != nil {
		if ctx.Err() != nil {
			return EmbedResult{}, fmt.Errorf("service.GoogleProvider.Embed: %w", ErrEmbeddingTimeout)
		}
		return EmbedResult{}, fmt.Errorf("service.GoogleProvider.Embed: %w: %v", ErrProviderTransport, err)
	}

	return EmbedResult{
		Vector:       l2Normalize(values),
		ModelID:      p.model,
		ProcessingMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *GoogleProvider) doEmbed(ctx context.Context, text, taskType string) ([]float32, error) {
	reqBody, err := json.Marshal(googleEmbedRequest{
		Content:  googleContent{Parts: []googlePart{{Text: text}}},
		TaskType: taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("service.GoogleProvider.doEmbed: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s:embedContent?key=%s", p.endpoint, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("service.GoogleProvider.doEmbed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("service.GoogleProvider.doEmbed: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("service.GoogleProvider.doEmbed: status %d: %s", resp.StatusCode, body)
	}

	var decoded googleEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("service.GoogleProvider.doEmbed: decode: %w", err)
	}
	return decoded.Embedding.Values, nil
}

func (p *GoogleProvider) ModelID() string { return p.model }

func (p *GoogleProvider) Destroy() error {
	p.client.CloseIdleConnections()
	return nil
}
