package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int

	EmbeddingProvider string
	EmbeddingModel    string
	APIKey            string
	APIEndpoint       string

	IndexingMode      string
	MaxTokens         int
	MaxChunksPerPaper int

	TopK                 int
	MinSimilarityPercent int
	ExcludeBooks         bool

	HybridSearchMode                  string
	HybridSearchAutoAdjustWeights     bool
	HybridSearchDefaultSemanticWeight float64
}

// Load reads configuration from environment variables. DATABASE_URL is the
// only required value; everything else falls back to the defaults in
// spec §6.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		EmbeddingProvider: envStr("EMBEDDING_PROVIDER", "local"),
		EmbeddingModel:    envStr("EMBEDDING_MODEL", ""),
		APIKey:            envStr("API_KEY", ""),
		APIEndpoint:       envStr("API_ENDPOINT", ""),

		IndexingMode:      envStr("INDEXING_MODE", "abstract"),
		MaxTokens:         envInt("MAX_TOKENS", 2000),
		MaxChunksPerPaper: envInt("MAX_CHUNKS_PER_PAPER", 8),

		TopK:                 envInt("TOP_K", 20),
		MinSimilarityPercent: envInt("MIN_SIMILARITY_PERCENT", 30),
		ExcludeBooks:         envBool("EXCLUDE_BOOKS", true),

		HybridSearchMode:                  envStr("HYBRID_SEARCH_MODE", "hybrid"),
		HybridSearchAutoAdjustWeights:     envBool("HYBRID_SEARCH_AUTO_ADJUST_WEIGHTS", true),
		HybridSearchDefaultSemanticWeight: envFloat("HYBRID_SEARCH_DEFAULT_SEMANTIC_WEIGHT", 0.5),
	}

	switch cfg.IndexingMode {
	case "abstract", "full":
	default:
		return nil, fmt.Errorf("config.Load: INDEXING_MODE must be abstract or full, got %q", cfg.IndexingMode)
	}

	switch cfg.EmbeddingProvider {
	case "local", "openai", "google", "generic":
	default:
		return nil, fmt.Errorf("config.Load: EMBEDDING_PROVIDER must be local, openai, google or generic, got %q", cfg.EmbeddingProvider)
	}

	return cfg, nil
}

// MinSimilarity returns MinSimilarityPercent as a [0,1] fraction.
func (c *Config) MinSimilarity() float64 {
	return float64(c.MinSimilarityPercent) / 100.0
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
