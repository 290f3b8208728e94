package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetMetadata reads one key from the metadata table. ok is false if the key
// is absent.
func (s *EmbeddingStore) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store.EmbeddingStore.GetMetadata: %w", err)
	}
	return value, true, nil
}

// SetMetadata UPSERTs one key/value pair.
func (s *EmbeddingStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("store.EmbeddingStore.SetMetadata: %w", err)
	}
	return nil
}
