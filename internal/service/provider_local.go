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
	// localCharCap truncates input text before handing it to the local
	// model server, per spec §4.2 ("~8000" character cap).
	localCharCap = 8000

	defaultLocalEndpoint = "http://127.0.0.1:11434/api/embeddings"
	defaultLocalModel    = "nomic-embed-text"

	embedTimeout = 60 * time.Second
)

// LocalProvider talks to a long-lived local embedding server (the "bundled
// model in a worker thread" realized as an HTTP process), in the idiom of
// an Ollama-style embeddings endpoint. It owns its own connection pool and
// does not share it across resets.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a LocalProvider. endpoint defaults to a local
// Ollama-compatible server when empty.
func NewLocalProvider(model, endpoint string) *LocalProvider {
	if endpoint == "" {
		endpoint = defaultLocalEndpoint
	}
	if model == "" {
		model = defaultLocalModel
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     30 * time.Second,
	}
	return &LocalProvider{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Transport: transport},
	}
}

// Init is a no-op: the local server is assumed already running and warm;
// the first Embed call pays any cold-start cost via the per-embed timeout.
func (p *LocalProvider) Init(ctx context.Context) error {
	return nil
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed sends text to the local server and returns the server's vector,
// L2-normalized. Role has no effect for the local provider — its
// model family does not require an instruction prefix.
func (p *LocalProvider) Embed(ctx context.Context, text string, role Role) (EmbedResult, error) {
	if len(text) > localCharCap {
		text = text[:localCharCap]
	}

	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	start := time.Now()
	reqBody, err := json.Marshal(localEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return EmbedResult{}, fmt.Errorf("service.LocalProvider.Embed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return EmbedResult{}, fmt.Errorf("service.LocalProvider.Embed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return EmbedResult{}, fmt.Errorf("service.LocalProvider.Embed: %w", ErrEmbeddingTimeout)
		}
		return EmbedResult{}, fmt.Errorf("service.LocalProvider.Embed: %w: %v", ErrProviderTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return EmbedResult{}, fmt.Errorf("service.LocalProvider.Embed: %w: status %d: %s", ErrProviderTransport, resp.StatusCode, body)
	}

	var decoded localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return EmbedResult{}, fmt.Errorf("service.LocalProvider.Embed: %w: decode: %v", ErrProviderTransport, err)
	}

	return EmbedResult{
		Vector:       l2Normalize(decoded.Embedding),
		ModelID:      p.model,
		ProcessingMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *LocalProvider) ModelID() string { return p.model }

func (p *LocalProvider) Destroy() error {
	p.client.CloseIdleConnections()
	return nil
}
