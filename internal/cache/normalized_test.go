package cache

import (
	"context"
	"testing"
	"time"

	"github.com/refshelf/retrieval-core/internal/model"
)

func TestNormalizedCache_RebuildsAndNormalizes(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context) ([]model.StoredEmbedding, error) {
		calls++
		return []model.StoredEmbedding{
			{ItemID: 1, ChunkIndex: 0, Embedding: []float32{3, 4}},
		}, nil
	}
	c := NewNormalizedCache(loader)

	entries, err := c.GetAllCached(context.Background())
	if err != nil {
		t.Fatalf("GetAllCached() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	norm := entries[0].NormalizedVector
	if norm[0] != 0.6 || norm[1] != 0.8 {
		t.Errorf("normalized vector = %v, want [0.6, 0.8]", norm)
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	// Second read within freshness window should not rebuild.
	if _, err := c.GetAllCached(context.Background()); err != nil {
		t.Fatalf("GetAllCached() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("loader called %d times on fresh read, want 1", calls)
	}
}

func TestNormalizedCache_InvalidateForcesRebuild(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context) ([]model.StoredEmbedding, error) {
		calls++
		return []model.StoredEmbedding{{ItemID: 1, Embedding: []float32{1, 0}}}, nil
	}
	c := NewNormalizedCache(loader)

	if _, err := c.GetAllCached(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	if _, err := c.GetAllCached(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2 after Invalidate", calls)
	}
}

func TestNormalizedCache_SkipsEmptyAndMismatchedVectors(t *testing.T) {
	loader := func(ctx context.Context) ([]model.StoredEmbedding, error) {
		return []model.StoredEmbedding{
			{ItemID: 1, Embedding: []float32{1, 0, 0}},
			{ItemID: 2, Embedding: nil},
			{ItemID: 3, Embedding: []float32{1, 0}},
		}, nil
	}
	c := NewNormalizedCache(loader)

	entries, err := c.GetAllCached(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (only item 1 valid)", len(entries))
	}
	if entries[0].ItemID != 1 {
		t.Errorf("surviving entry ItemID = %d, want 1", entries[0].ItemID)
	}
}

func TestNormalizedCache_GetLibraryCached_Filters(t *testing.T) {
	loader := func(ctx context.Context) ([]model.StoredEmbedding, error) {
		return []model.StoredEmbedding{
			{ItemID: 1, LibraryID: 10, Embedding: []float32{1, 0}},
			{ItemID: 2, LibraryID: 20, Embedding: []float32{0, 1}},
		}, nil
	}
	c := NewNormalizedCache(loader)

	entries, err := c.GetLibraryCached(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ItemID != 1 {
		t.Errorf("filtered entries = %+v, want only item 1", entries)
	}
}

func TestNormalizedCache_StaleTriggersRebuild(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context) ([]model.StoredEmbedding, error) {
		calls++
		return []model.StoredEmbedding{{ItemID: 1, Embedding: []float32{1, 0}}}, nil
	}
	c := NewNormalizedCache(loader)
	if _, err := c.GetAllCached(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	c.validAt = time.Now().Add(-10 * time.Minute)
	c.mu.Unlock()

	if _, err := c.GetAllCached(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2 after staleness", calls)
	}
}
