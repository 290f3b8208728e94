package service

import (
	"context"

	"github.com/refshelf/retrieval-core/internal/model"
)

// HostCatalog is the narrow interface through which the retrieval core
// consumes the host reference manager's item database, full-text
// extraction, and keyword search primitive. The core never implements the
// host's own domain — only a reference adapter ships with this module
// (internal/hostcatalog) so the core can run standalone.
type HostCatalog interface {
	// GetSelectedItems returns the items currently selected in the host UI.
	GetSelectedItems(ctx context.Context) ([]model.Item, error)

	// GetLibraryItems returns every item in a library, or every item
	// across all libraries when libraryID is nil.
	GetLibraryItems(ctx context.Context, libraryID *int64) ([]model.Item, error)

	// GetCollectionItems returns every item in a collection.
	GetCollectionItems(ctx context.Context, collectionID int64) ([]model.Item, error)

	// GetItem returns a single item by id.
	GetItem(ctx context.Context, itemID int64) (model.Item, error)

	// GetFullText returns the concatenated extracted text of an item's
	// PDF/HTML attachments, or "" if none exist.
	GetFullText(ctx context.Context, itemID int64) (string, error)

	// KeywordSearch returns item ids matching query (conjunctive across
	// title/creators/date/tags), unranked, scoped by the given options.
	KeywordSearch(ctx context.Context, query string, opts KeywordSearchOptions) ([]int64, error)
}

// KeywordSearchOptions scopes a HostCatalog.KeywordSearch call.
type KeywordSearchOptions struct {
	LibraryID    *int64
	CollectionID *int64
	ExcludeTypes []string
}
