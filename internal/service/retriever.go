package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/refshelf/retrieval-core/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMinSimilarity = 0.3
	defaultSemanticTopK  = 20
	defaultKeywordTopK   = 50
	defaultFinalTopK     = 20
	defaultSemanticWeight = 0.5
	rrfK                  = 60
)

// VectorCache abstracts the normalized, read-through snapshot the vector
// store keeps of every embedding row — decoupled from its concrete cache
// implementation so retriever tests can supply a fixed fixture.
type VectorCache interface {
	GetAllCached(ctx context.Context) ([]model.CacheEntry, error)
	GetLibraryCached(ctx context.Context, libraryID int64) ([]model.CacheEntry, error)
}

// QueryEmbedder abstracts query embedding for testability.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (EmbedResult, error)
}

// SearchOptions controls a single Search call.
type SearchOptions struct {
	LibraryID      *int64
	ExcludeIDs     []int64
	Mode           string // "hybrid" | "semantic" | "keyword"; "" = hybrid
	SemanticWeight float64
	AutoAdjust     bool
	TopK           int
	KeywordTopK    int
	MinSimilarity  float64
}

// RankedItem is a single fused or single-mode search result, hydrated with
// catalog metadata.
type RankedItem struct {
	ItemID      int64
	ItemKey     string
	Title       string
	Creators    []string
	Year        int
	SemanticSim float64
	KeywordSim  float64
	RRFScore    float64
	ChunkIndex  int
	TextSource  model.TextSource
}

// SearchResult is the return value of Search.
type SearchResult struct {
	Items              []RankedItem
	SemanticCandidates int
	KeywordCandidates  int
	SemanticWeightUsed float64
}

// RetrieverService runs semantic, keyword, and fused (RRF) search over the
// normalized embedding cache, hydrating results through a HostCatalog.
type RetrieverService struct {
	embedder              QueryEmbedder
	cache                 VectorCache
	catalog               HostCatalog
	defaultSemanticWeight float64
}

// NewRetrieverService creates a RetrieverService. defaultWeight is the
// semantic/keyword split used when a caller supplies neither an explicit
// SemanticWeight nor AutoAdjust; 0 falls back to defaultSemanticWeight.
func NewRetrieverService(embedder QueryEmbedder, cache VectorCache, catalog HostCatalog, defaultWeight float64) *RetrieverService {
	if defaultWeight <= 0 {
		defaultWeight = defaultSemanticWeight
	}
	return &RetrieverService{embedder: embedder, cache: cache, catalog: catalog, defaultSemanticWeight: defaultWeight}
}

type semanticHit struct {
	itemID     int64
	sim        float64
	chunkIndex int
	textSource model.TextSource
}

type keywordHit struct {
	itemID int64
	score  float64
}

// Search embeds the query, runs semantic MaxSim and keyword search
// concurrently, fuses them with Reciprocal Rank Fusion, and hydrates the
// result through the Host Catalog.
func (s *RetrieverService) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("service.RetrieverService.Search: query is empty")
	}
	opts = withDefaults(opts)

	mode := opts.Mode
	if mode == "" {
		mode = "hybrid"
	}

	semWeight := opts.SemanticWeight
	if opts.AutoAdjust {
		semWeight = AnalyzeQuery(query)
	}
	if semWeight <= 0 {
		semWeight = s.defaultSemanticWeight
	}

	var semanticHits []semanticHit
	var keywordHits []keywordHit

	g, gCtx := errgroup.WithContext(ctx)

	if mode != "keyword" {
		g.Go(func() error {
			res, err := s.embedder.EmbedQuery(gCtx, query)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}
			entries, err := s.loadCache(gCtx, opts.LibraryID)
			if err != nil {
				return fmt.Errorf("load cache: %w", err)
			}
			semanticHits = maxSimSearch(entries, res.Vector, excludeSet(opts.ExcludeIDs), opts.MinSimilarity, opts.TopK)
			return nil
		})
	}

	if mode != "semantic" && s.catalog != nil {
		g.Go(func() error {
			var err error
			keywordHits, err = s.keywordSearch(gCtx, query, opts)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.RetrieverService.Search: %w", err)
	}

	var fused []RankedItem
	switch mode {
	case "semantic":
		fused = hydrateSemantic(semanticHits)
	case "keyword":
		fused = hydrateKeyword(keywordHits)
	default:
		fused = fuseRRF(semanticHits, keywordHits, semWeight)
	}

	if s.catalog != nil {
		if err := s.hydrate(ctx, fused); err != nil {
			return nil, fmt.Errorf("service.RetrieverService.Search: hydrate: %w", err)
		}
	}

	limit := opts.TopK
	if limit > len(fused) {
		limit = len(fused)
	}

	return &SearchResult{
		Items:              fused[:limit],
		SemanticCandidates: len(semanticHits),
		KeywordCandidates:  len(keywordHits),
		SemanticWeightUsed: semWeight,
	}, nil
}

// SimilarItems finds items whose chunks are most similar to itemID's
// chunks, via MaxSim-of-MaxSim: for every candidate chunk, similarity is
// the maximum over the source item's own chunks.
func (s *RetrieverService) SimilarItems(ctx context.Context, itemID int64, opts SearchOptions) (*SearchResult, error) {
	opts = withDefaults(opts)

	entries, err := s.loadCache(ctx, opts.LibraryID)
	if err != nil {
		return nil, fmt.Errorf("service.RetrieverService.SimilarItems: %w", err)
	}

	var sourceVecs [][]float32
	for _, e := range entries {
		if e.ItemID == itemID {
			sourceVecs = append(sourceVecs, e.NormalizedVector)
		}
	}
	if len(sourceVecs) == 0 {
		return nil, fmt.Errorf("service.RetrieverService.SimilarItems: %w: item %d", ErrNotIndexed, itemID)
	}

	exclude := excludeSet(opts.ExcludeIDs)
	exclude[itemID] = true

	best := make(map[int64]semanticHit)
	order := make([]int64, 0, len(entries))
	for _, e := range entries {
		if exclude[e.ItemID] {
			continue
		}
		var sim float64 = -1
		for _, sv := range sourceVecs {
			if d := dot(sv, e.NormalizedVector); d > sim {
				sim = d
			}
		}
		existing, ok := best[e.ItemID]
		if !ok {
			order = append(order, e.ItemID)
		}
		if !ok || sim > existing.sim {
			best[e.ItemID] = semanticHit{itemID: e.ItemID, sim: sim, chunkIndex: e.ChunkIndex, textSource: e.TextSource}
		}
	}

	hits := make([]semanticHit, 0, len(order))
	for _, id := range order {
		if h := best[id]; h.sim >= opts.MinSimilarity {
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}

	items := hydrateSemantic(hits)
	if s.catalog != nil {
		if err := s.hydrate(ctx, items); err != nil {
			return nil, fmt.Errorf("service.RetrieverService.SimilarItems: hydrate: %w", err)
		}
	}

	return &SearchResult{Items: items, SemanticCandidates: len(hits)}, nil
}

func withDefaults(opts SearchOptions) SearchOptions {
	if opts.TopK <= 0 {
		opts.TopK = defaultFinalTopK
	}
	if opts.KeywordTopK <= 0 {
		opts.KeywordTopK = defaultKeywordTopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = defaultMinSimilarity
	}
	return opts
}

func (s *RetrieverService) loadCache(ctx context.Context, libraryID *int64) ([]model.CacheEntry, error) {
	if libraryID != nil {
		return s.cache.GetLibraryCached(ctx, *libraryID)
	}
	return s.cache.GetAllCached(ctx)
}

// maxSimSearch aggregates per-chunk cosine similarity into a per-item
// maximum, drops items below minSim, and returns the top-k by sim. Ties are
// broken by insertion order of the cache (entries' own order), via a
// stable sort over a slice built in first-seen order rather than a map
// range, so identical queries return identical results.
func maxSimSearch(entries []model.CacheEntry, queryVec []float32, exclude map[int64]bool, minSim float64, topK int) []semanticHit {
	best := make(map[int64]semanticHit)
	order := make([]int64, 0, len(entries))
	for _, e := range entries {
		if exclude[e.ItemID] {
			continue
		}
		sim := dot(queryVec, e.NormalizedVector)
		existing, ok := best[e.ItemID]
		if !ok {
			order = append(order, e.ItemID)
		}
		if !ok || sim > existing.sim {
			best[e.ItemID] = semanticHit{itemID: e.ItemID, sim: sim, chunkIndex: e.ChunkIndex, textSource: e.TextSource}
		}
	}

	hits := make([]semanticHit, 0, len(order))
	for _, id := range order {
		if h := best[id]; h.sim >= minSim {
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func excludeSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// keywordSearch asks the Host Catalog for matching item ids, then rescores
// each per spec: base 0.50 + title-term-coverage + exact-title-match +
// year-match + creator-match, clamped to 1.0.
func (s *RetrieverService) keywordSearch(ctx context.Context, query string, opts SearchOptions) ([]keywordHit, error) {
	ids, err := s.catalog.KeywordSearch(ctx, query, KeywordSearchOptions{LibraryID: opts.LibraryID})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	limit := 2 * opts.KeywordTopK
	if len(ids) > limit {
		ids = ids[:limit]
	}

	terms := queryTerms(query)
	queryYear := extractYear(query)
	lowerQuery := strings.ToLower(query)

	hits := make([]keywordHit, 0, len(ids))
	for _, id := range ids {
		item, err := s.catalog.GetItem(ctx, id)
		if err != nil {
			continue
		}
		hits = append(hits, keywordHit{itemID: id, score: rescoreKeywordMatch(item, terms, queryYear, lowerQuery)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > opts.KeywordTopK {
		hits = hits[:opts.KeywordTopK]
	}
	return hits, nil
}

func rescoreKeywordMatch(item model.Item, queryTermsLower []string, queryYear int, lowerQuery string) float64 {
	score := 0.50
	titleLower := strings.ToLower(item.Title)

	totalQualifying := 0
	matched := 0
	for _, t := range queryTermsLower {
		if len(t) <= 1 {
			continue
		}
		totalQualifying++
		if strings.Contains(titleLower, t) {
			matched++
		}
	}
	if totalQualifying > 0 {
		score += 0.30 * (float64(matched) / float64(totalQualifying))
		if matched == totalQualifying {
			score += 0.15
		}
	}

	if queryYear > 0 && item.Year == queryYear {
		score += 0.15
	}

	for _, creator := range item.Creators {
		lastName := lastNameOf(creator)
		if len(lastName) >= 3 && strings.Contains(lowerQuery, strings.ToLower(lastName)) {
			score += 0.10
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func lastNameOf(creator string) string {
	fields := strings.Fields(creator)
	if len(fields) == 0 {
		return creator
	}
	return fields[len(fields)-1]
}

func queryTerms(query string) []string {
	fields := strings.Fields(query)
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = strings.ToLower(strings.Trim(f, `"',.;:!?`))
	}
	return terms
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func extractYear(query string) int {
	match := yearPattern.FindString(query)
	if match == "" {
		return 0
	}
	y, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return y
}

// fuseRRF combines semantic and keyword candidate lists with Reciprocal
// Rank Fusion, k=60, weighted by semWeight (semantic) / 1-semWeight
// (keyword). Ties are broken by first-seen order (semantic candidates
// before keyword-only candidates) via a stable sort, so identical queries
// produce identical results.
func fuseRRF(semantic []semanticHit, keyword []keywordHit, semWeight float64) []RankedItem {
	kwWeight := 1 - semWeight

	scores := make(map[int64]float64)
	semByItem := make(map[int64]semanticHit)
	kwByItem := make(map[int64]float64)
	order := make([]int64, 0, len(semantic)+len(keyword))
	seen := make(map[int64]bool, len(semantic)+len(keyword))

	for rank, h := range semantic {
		scores[h.itemID] += semWeight * (1.0 / float64(rrfK+rank+1))
		semByItem[h.itemID] = h
		if !seen[h.itemID] {
			seen[h.itemID] = true
			order = append(order, h.itemID)
		}
	}
	for rank, h := range keyword {
		scores[h.itemID] += kwWeight * (1.0 / float64(rrfK+rank+1))
		kwByItem[h.itemID] = h.score
		if !seen[h.itemID] {
			seen[h.itemID] = true
			order = append(order, h.itemID)
		}
	}

	items := make([]RankedItem, 0, len(order))
	for _, id := range order {
		item := RankedItem{ItemID: id, RRFScore: scores[id]}
		if h, ok := semByItem[id]; ok {
			item.SemanticSim = h.sim
			item.ChunkIndex = h.chunkIndex
			item.TextSource = h.textSource
		}
		if kw, ok := kwByItem[id]; ok {
			item.KeywordSim = kw
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].RRFScore > items[j].RRFScore })
	return items
}

func hydrateSemantic(hits []semanticHit) []RankedItem {
	items := make([]RankedItem, len(hits))
	for i, h := range hits {
		items[i] = RankedItem{
			ItemID:      h.itemID,
			SemanticSim: h.sim,
			RRFScore:    h.sim,
			ChunkIndex:  h.chunkIndex,
			TextSource:  h.textSource,
		}
	}
	return items
}

func hydrateKeyword(hits []keywordHit) []RankedItem {
	items := make([]RankedItem, len(hits))
	for i, h := range hits {
		items[i] = RankedItem{ItemID: h.itemID, KeywordSim: h.score, RRFScore: h.score}
	}
	return items
}

func (s *RetrieverService) hydrate(ctx context.Context, items []RankedItem) error {
	for i := range items {
		item, err := s.catalog.GetItem(ctx, items[i].ItemID)
		if err != nil {
			continue
		}
		items[i].ItemKey = item.ItemKey
		items[i].Title = item.Title
		items[i].Creators = item.Creators
		items[i].Year = item.Year
	}
	return nil
}

var (
	authorPattern = regexp.MustCompile(`\b[A-Z][a-z]+\s+(et al\.?|&|and)\b`)
	acronymPattern = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	quotedPattern  = regexp.MustCompile(`"[^"]+"`)
	specialCharPattern = regexp.MustCompile(`[<>=]`)
	questionWordPattern = regexp.MustCompile(`(?i)^\s*(what|how|why|when|where|which|who)\b`)
)

var conceptualPhrases = []string{"related to", "similar to", "about", "regarding", "concerning"}

// AnalyzeQuery returns a recommended semantic weight in [0.2, 0.8] based on
// surface patterns in the query text.
func AnalyzeQuery(query string) float64 {
	var semantic, keyword float64

	if yearPattern.MatchString(query) {
		keyword += 0.15
	}
	if authorPattern.MatchString(query) {
		keyword += 0.20
	}
	if acronymPattern.MatchString(query) {
		keyword += 0.10
	}
	if quotedPattern.MatchString(query) {
		keyword += 0.15
	}
	if specialCharPattern.MatchString(query) {
		keyword += 0.10
	}

	tokens := strings.Fields(query)
	shortQuery := len(tokens) <= 2
	anyShortToken := false
	for _, t := range tokens {
		if len(t) <= 3 {
			anyShortToken = true
			break
		}
	}
	if shortQuery && anyShortToken {
		keyword += 0.10
	}

	if questionWordPattern.MatchString(query) {
		semantic += 0.15
	}
	if len(tokens) >= 4 && !yearPattern.MatchString(query) && !authorPattern.MatchString(query) {
		semantic += 0.10
	}

	lowerQuery := strings.ToLower(query)
	for _, phrase := range conceptualPhrases {
		if strings.Contains(lowerQuery, phrase) {
			semantic += 0.10
			break
		}
	}

	weight := defaultSemanticWeight + semantic - keyword
	if weight < 0.2 {
		weight = 0.2
	}
	if weight > 0.8 {
		weight = 0.8
	}
	return weight
}
