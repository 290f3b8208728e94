package hostcatalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refshelf/retrieval-core/internal/model"
	"github.com/refshelf/retrieval-core/internal/service"
)

func setupCatalog(t *testing.T) (*Catalog, func()) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}

	for _, file := range []string{"../../migrations/001_initial_schema.up.sql", "../../migrations/002_catalog_schema.up.sql"} {
		sql, err := os.ReadFile(file)
		if err != nil {
			pool.Close()
			t.Fatalf("read %s: %v", file, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			pool.Close()
			t.Fatalf("exec %s: %v", file, err)
		}
	}

	cat, err := NewCatalog(pool, "")
	if err != nil {
		pool.Close()
		t.Fatalf("NewCatalog: %v", err)
	}

	return cat, func() {
		cat.Close()
		pool.Close()
	}
}

func TestCatalog_UpsertAndGetItem(t *testing.T) {
	cat, cleanup := setupCatalog(t)
	defer cleanup()
	ctx := context.Background()

	item := model.Item{
		ItemID: time.Now().UnixNano(), ItemKey: "K1", LibraryID: 1,
		Title: "Attention Is All You Need", Abstract: "transformer architecture",
		Creators: []string{"Vaswani"}, Year: 2017, ItemType: "journalArticle",
	}
	if err := cat.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}

	got, err := cat.GetItem(ctx, item.ItemID)
	if err != nil {
		t.Fatalf("GetItem() error: %v", err)
	}
	if got.Title != item.Title {
		t.Errorf("Title = %q, want %q", got.Title, item.Title)
	}
}

func TestCatalog_GetSelectedItems(t *testing.T) {
	cat, cleanup := setupCatalog(t)
	defer cleanup()
	ctx := context.Background()

	item := model.Item{ItemID: time.Now().UnixNano(), ItemKey: "K2", LibraryID: 1, Title: "Selected Paper"}
	if err := cat.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}
	if err := cat.SetSelectedItems(ctx, []int64{item.ItemID}); err != nil {
		t.Fatalf("SetSelectedItems() error: %v", err)
	}

	selected, err := cat.GetSelectedItems(ctx)
	if err != nil {
		t.Fatalf("GetSelectedItems() error: %v", err)
	}
	found := false
	for _, it := range selected {
		if it.ItemID == item.ItemID {
			found = true
		}
	}
	if !found {
		t.Error("expected upserted item to appear in selected items")
	}
}

func TestCatalog_KeywordSearch_ScopesByLibrary(t *testing.T) {
	cat, cleanup := setupCatalog(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UnixNano()
	inLib := model.Item{ItemID: base, ItemKey: "K3", LibraryID: 42, Title: "Quantum Entanglement Review", Creators: []string{"Bell"}}
	outLib := model.Item{ItemID: base + 1, ItemKey: "K4", LibraryID: 99, Title: "Quantum Entanglement Survey", Creators: []string{"Bohm"}}
	if err := cat.UpsertItem(ctx, inLib); err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}
	if err := cat.UpsertItem(ctx, outLib); err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}

	libID := int64(42)
	ids, err := cat.KeywordSearch(ctx, "quantum entanglement", service.KeywordSearchOptions{LibraryID: &libID})
	if err != nil {
		t.Fatalf("KeywordSearch() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != inLib.ItemID {
		t.Errorf("KeywordSearch() = %v, want [%d]", ids, inLib.ItemID)
	}
}

func TestCatalog_GetFullText_EmptyWhenUnset(t *testing.T) {
	cat, cleanup := setupCatalog(t)
	defer cleanup()
	ctx := context.Background()

	text, err := cat.GetFullText(ctx, time.Now().UnixNano())
	if err != nil {
		t.Fatalf("GetFullText() error: %v", err)
	}
	if text != "" {
		t.Errorf("GetFullText() = %q, want empty", text)
	}
}

func TestCatalog_SetFullText_RoundTrips(t *testing.T) {
	cat, cleanup := setupCatalog(t)
	defer cleanup()
	ctx := context.Background()

	itemID := time.Now().UnixNano()
	if err := cat.SetFullText(ctx, itemID, "full extracted body text"); err != nil {
		t.Fatalf("SetFullText() error: %v", err)
	}
	text, err := cat.GetFullText(ctx, itemID)
	if err != nil {
		t.Fatalf("GetFullText() error: %v", err)
	}
	if text != "full extracted body text" {
		t.Errorf("GetFullText() = %q, want %q", text, "full extracted body text")
	}
}

func TestCatalog_CollectionMembership(t *testing.T) {
	cat, cleanup := setupCatalog(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UnixNano()
	item := model.Item{ItemID: base, ItemKey: "K5", LibraryID: 1, Title: "In Collection"}
	if err := cat.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}
	collectionID := base + 1000
	if err := cat.AddItemToCollection(ctx, item.ItemID, collectionID); err != nil {
		t.Fatalf("AddItemToCollection() error: %v", err)
	}

	items, err := cat.GetCollectionItems(ctx, collectionID)
	if err != nil {
		t.Fatalf("GetCollectionItems() error: %v", err)
	}
	if len(items) != 1 || items[0].ItemID != item.ItemID {
		t.Errorf("GetCollectionItems() = %v, want [item %d]", items, item.ItemID)
	}
}
