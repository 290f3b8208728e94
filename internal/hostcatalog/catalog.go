// Package hostcatalog is the bundled reference implementation of
// service.HostCatalog: a Postgres items table paired with a Bleve keyword
// index, so the retrieval core runs end-to-end without the real desktop
// reference manager behind it.
package hostcatalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refshelf/retrieval-core/internal/model"
	"github.com/refshelf/retrieval-core/internal/service"
)

// bleveDocument is the analyzed form of an item kept in the keyword index.
type bleveDocument struct {
	Content string `json:"content"`
}

// Catalog is the Postgres+Bleve reference Host Catalog.
type Catalog struct {
	pool  *pgxpool.Pool
	mu    sync.RWMutex
	index bleve.Index
}

var _ service.HostCatalog = (*Catalog)(nil)

// NewCatalog opens (or creates) a Bleve keyword index at indexPath. An empty
// indexPath creates an in-memory index, suited to tests and small libraries.
func NewCatalog(pool *pgxpool.Pool, indexPath string) (*Catalog, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if indexPath == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(indexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(indexPath, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("hostcatalog.NewCatalog: open index: %w", err)
	}

	return &Catalog{pool: pool, index: idx}, nil
}

// Close releases the keyword index.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Close()
}

func scanItem(row pgx.Row) (model.Item, error) {
	var it model.Item
	err := row.Scan(&it.ItemID, &it.ItemKey, &it.LibraryID, &it.Title, &it.Abstract, &it.Creators, &it.Year, &it.ItemType)
	return it, err
}

const itemColumns = `item_id, item_key, library_id, title, abstract, creators, year, item_type`

// GetItem returns a single item by id.
func (c *Catalog) GetItem(ctx context.Context, itemID int64) (model.Item, error) {
	row := c.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM items WHERE item_id = $1`, itemColumns), itemID)
	it, err := scanItem(row)
	if err != nil {
		return model.Item{}, fmt.Errorf("hostcatalog.Catalog.GetItem: %w", err)
	}
	return it, nil
}

// GetSelectedItems returns the items currently marked selected.
func (c *Catalog) GetSelectedItems(ctx context.Context) ([]model.Item, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE item_id IN (SELECT item_id FROM selected_items)
		ORDER BY item_id`, itemColumns))
	if err != nil {
		return nil, fmt.Errorf("hostcatalog.Catalog.GetSelectedItems: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetLibraryItems returns every item in a library, or every item across all
// libraries when libraryID is nil.
func (c *Catalog) GetLibraryItems(ctx context.Context, libraryID *int64) ([]model.Item, error) {
	var rows pgx.Rows
	var err error
	if libraryID == nil {
		rows, err = c.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM items ORDER BY item_id`, itemColumns))
	} else {
		rows, err = c.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM items WHERE library_id = $1 ORDER BY item_id`, itemColumns), *libraryID)
	}
	if err != nil {
		return nil, fmt.Errorf("hostcatalog.Catalog.GetLibraryItems: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetCollectionItems returns every item in a collection.
func (c *Catalog) GetCollectionItems(ctx context.Context, collectionID int64) ([]model.Item, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM items
		WHERE item_id IN (SELECT item_id FROM item_collections WHERE collection_id = $1)
		ORDER BY item_id`, itemColumns), collectionID)
	if err != nil {
		return nil, fmt.Errorf("hostcatalog.Catalog.GetCollectionItems: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetFullText returns the extracted full text of an item's attachments, or
// "" if none was ever stored.
func (c *Catalog) GetFullText(ctx context.Context, itemID int64) (string, error) {
	var content string
	err := c.pool.QueryRow(ctx, `SELECT content FROM item_fulltext WHERE item_id = $1`, itemID).Scan(&content)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("hostcatalog.Catalog.GetFullText: %w", err)
	}
	return content, nil
}

// KeywordSearch runs a conjunctive Bleve match over title/creators/abstract,
// then scopes the ranked ids through Postgres filters.
func (c *Catalog) KeywordSearch(ctx context.Context, query string, opts service.KeywordSearchOptions) ([]int64, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	subQueries := make([]bleve.Query, 0, len(terms))
	for _, term := range terms {
		mq := bleve.NewMatchQuery(term)
		mq.SetField("content")
		subQueries = append(subQueries, mq)
	}
	conjunction := bleve.NewConjunctionQuery(subQueries...)

	req := bleve.NewSearchRequest(conjunction)
	req.Size = 500

	c.mu.RLock()
	result, err := c.index.SearchInContext(ctx, req)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("hostcatalog.Catalog.KeywordSearch: %w", err)
	}

	ids := make([]int64, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return c.scopeIDs(ctx, ids, opts)
}

func (c *Catalog) scopeIDs(ctx context.Context, ids []int64, opts service.KeywordSearchOptions) ([]int64, error) {
	var b strings.Builder
	b.WriteString(`SELECT item_id FROM items WHERE item_id = ANY($1)`)
	args := []any{ids}
	argN := 2

	if opts.LibraryID != nil {
		b.WriteString(fmt.Sprintf(" AND library_id = $%d", argN))
		args = append(args, *opts.LibraryID)
		argN++
	}
	if opts.CollectionID != nil {
		b.WriteString(fmt.Sprintf(" AND item_id IN (SELECT item_id FROM item_collections WHERE collection_id = $%d)", argN))
		args = append(args, *opts.CollectionID)
		argN++
	}
	if len(opts.ExcludeTypes) > 0 {
		b.WriteString(fmt.Sprintf(" AND item_type != ALL($%d)", argN))
		args = append(args, opts.ExcludeTypes)
		argN++
	}

	rows, err := c.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("hostcatalog.Catalog.scopeIDs: %w", err)
	}
	defer rows.Close()

	allowed := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("hostcatalog.Catalog.scopeIDs: scan: %w", err)
		}
		allowed[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// UpsertItem writes an item to Postgres and (re)indexes it for keyword
// search. Population entry point for this reference catalog; the real host
// integration would instead stream item changes from the desktop app.
func (c *Catalog) UpsertItem(ctx context.Context, item model.Item) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO items (item_id, item_key, library_id, title, abstract, creators, year, item_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (item_id) DO UPDATE SET
			item_key = EXCLUDED.item_key,
			library_id = EXCLUDED.library_id,
			title = EXCLUDED.title,
			abstract = EXCLUDED.abstract,
			creators = EXCLUDED.creators,
			year = EXCLUDED.year,
			item_type = EXCLUDED.item_type`,
		item.ItemID, item.ItemKey, item.LibraryID, item.Title, item.Abstract, item.Creators, item.Year, item.ItemType,
	)
	if err != nil {
		return fmt.Errorf("hostcatalog.Catalog.UpsertItem: %w", err)
	}
	return c.indexItem(item)
}

func (c *Catalog) indexItem(item model.Item) error {
	content := strings.Join([]string{item.Title, strings.Join(item.Creators, " "), item.Abstract}, " ")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.index.Index(strconv.FormatInt(item.ItemID, 10), bleveDocument{Content: content}); err != nil {
		return fmt.Errorf("hostcatalog.Catalog.indexItem: %w", err)
	}
	return nil
}

// DeleteItem removes an item from Postgres and the keyword index.
func (c *Catalog) DeleteItem(ctx context.Context, itemID int64) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM items WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("hostcatalog.Catalog.DeleteItem: %w", err)
	}
	c.mu.Lock()
	err := c.index.Delete(strconv.FormatInt(itemID, 10))
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("hostcatalog.Catalog.DeleteItem: unindex: %w", err)
	}
	return nil
}

// SetFullText stores the extracted full text for an item's attachments.
func (c *Catalog) SetFullText(ctx context.Context, itemID int64, content string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO item_fulltext (item_id, content) VALUES ($1, $2)
		ON CONFLICT (item_id) DO UPDATE SET content = EXCLUDED.content`, itemID, content)
	if err != nil {
		return fmt.Errorf("hostcatalog.Catalog.SetFullText: %w", err)
	}
	return nil
}

// SetSelectedItems replaces the current UI selection state.
func (c *Catalog) SetSelectedItems(ctx context.Context, itemIDs []int64) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("hostcatalog.Catalog.SetSelectedItems: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM selected_items`); err != nil {
		return fmt.Errorf("hostcatalog.Catalog.SetSelectedItems: clear: %w", err)
	}
	for _, id := range itemIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO selected_items (item_id) VALUES ($1) ON CONFLICT DO NOTHING`, id); err != nil {
			return fmt.Errorf("hostcatalog.Catalog.SetSelectedItems: insert %d: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("hostcatalog.Catalog.SetSelectedItems: commit: %w", err)
	}
	return nil
}

// AddItemToCollection links an item into a collection.
func (c *Catalog) AddItemToCollection(ctx context.Context, itemID, collectionID int64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO item_collections (item_id, collection_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, itemID, collectionID)
	if err != nil {
		return fmt.Errorf("hostcatalog.Catalog.AddItemToCollection: %w", err)
	}
	return nil
}
