package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/refshelf/retrieval-core/internal/engine"
	"github.com/refshelf/retrieval-core/internal/service"
)

type fakeCore struct {
	indexResult   *service.IndexRunResult
	indexErr      error
	searchResult  *service.SearchResult
	searchErr     error
	similarResult *service.SearchResult
	similarErr    error

	lastIndexScope engine.IndexScope
	lastQuery      string
	lastSearchOpts service.SearchOptions
	lastItemID     int64
}

func (f *fakeCore) Index(ctx context.Context, scope engine.IndexScope) (*service.IndexRunResult, error) {
	f.lastIndexScope = scope
	return f.indexResult, f.indexErr
}

func (f *fakeCore) Search(ctx context.Context, query string, opts service.SearchOptions) (*service.SearchResult, error) {
	f.lastQuery = query
	f.lastSearchOpts = opts
	return f.searchResult, f.searchErr
}

func (f *fakeCore) SimilarItems(ctx context.Context, itemID int64, opts service.SearchOptions) (*service.SearchResult, error) {
	f.lastItemID = itemID
	return f.similarResult, f.similarErr
}

func newTestRouter(core *fakeCore) http.Handler {
	return New(&Dependencies{Engine: core, Version: "0.1.0"})
}

func TestHealthz_ReportsVersion(t *testing.T) {
	r := newTestRouter(&fakeCore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["version"] != "0.1.0" {
		t.Errorf("body = %+v", body)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	r := newTestRouter(&fakeCore{})

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSearch_ReturnsResult(t *testing.T) {
	core := &fakeCore{searchResult: &service.SearchResult{Items: []service.RankedItem{{ItemID: 1, Title: "Paper"}}}}
	r := newTestRouter(core)

	req := httptest.NewRequest(http.MethodGet, "/search?q=attention&top_k=5&library_id=3", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if core.lastQuery != "attention" {
		t.Errorf("query = %q, want %q", core.lastQuery, "attention")
	}
	if core.lastSearchOpts.TopK != 5 {
		t.Errorf("TopK = %d, want 5", core.lastSearchOpts.TopK)
	}
	if core.lastSearchOpts.LibraryID == nil || *core.lastSearchOpts.LibraryID != 3 {
		t.Errorf("LibraryID = %v, want 3", core.lastSearchOpts.LibraryID)
	}
}

func TestSearch_PropagatesEngineError(t *testing.T) {
	core := &fakeCore{searchErr: fmt.Errorf("boom")}
	r := newTestRouter(core)

	req := httptest.NewRequest(http.MethodGet, "/search?q=attention", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestSearch_NotIndexedMapsToBadRequest(t *testing.T) {
	core := &fakeCore{searchErr: fmt.Errorf("wrap: %w", service.ErrNotIndexed)}
	r := newTestRouter(core)

	req := httptest.NewRequest(http.MethodGet, "/search?q=attention", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIndex_RunsWithScope(t *testing.T) {
	core := &fakeCore{indexResult: &service.IndexRunResult{ItemsProcessed: 3}}
	r := newTestRouter(core)

	req := httptest.NewRequest(http.MethodPost, "/index", nil)
	req.Body = http.NoBody
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var result service.IndexRunResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.ItemsProcessed != 3 {
		t.Errorf("ItemsProcessed = %d, want 3", result.ItemsProcessed)
	}
}

func TestSimilar_ParsesItemID(t *testing.T) {
	core := &fakeCore{similarResult: &service.SearchResult{}}
	r := newTestRouter(core)

	req := httptest.NewRequest(http.MethodGet, "/items/42/similar", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if core.lastItemID != 42 {
		t.Errorf("lastItemID = %d, want 42", core.lastItemID)
	}
}

func TestSimilar_InvalidID(t *testing.T) {
	r := newTestRouter(&fakeCore{})

	req := httptest.NewRequest(http.MethodGet, "/items/not-a-number/similar", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	r := newTestRouter(&fakeCore{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
