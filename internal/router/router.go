// Package router wires the retrieval core's HTTP surface: index, search,
// similar-items, health, and metrics.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/refshelf/retrieval-core/internal/engine"
	"github.com/refshelf/retrieval-core/internal/middleware"
	"github.com/refshelf/retrieval-core/internal/service"
)

// Core is the narrow surface of *engine.Engine the router depends on,
// so handlers can be tested against a fake.
type Core interface {
	Index(ctx context.Context, scope engine.IndexScope) (*service.IndexRunResult, error)
	Search(ctx context.Context, query string, opts service.SearchOptions) (*service.SearchResult, error)
	SimilarItems(ctx context.Context, itemID int64, opts service.SearchOptions) (*service.SearchResult, error)
}

// Dependencies holds everything the router needs to build handlers.
type Dependencies struct {
	Engine     Core
	Version    string
	Metrics    *middleware.Metrics
	MetricsReg *prometheus.Registry
}

// New creates and configures the Chi router.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logging)
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/healthz", healthHandler(deps))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	r.With(middleware.Timeout(5 * time.Minute)).Post("/index", indexHandler(deps))
	r.With(middleware.Timeout(30 * time.Second)).Get("/search", searchHandler(deps))
	r.With(middleware.Timeout(30 * time.Second)).Get("/items/{id}/similar", similarHandler(deps))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "route not found"})
	})

	return r
}

func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": deps.Version,
		})
	}
}

type indexRequest struct {
	Selected     bool   `json:"selected"`
	LibraryID    *int64 `json:"library_id"`
	CollectionID *int64 `json:"collection_id"`
}

func indexHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req indexRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
				return
			}
		}

		result, err := deps.Engine.Index(r.Context(), engine.IndexScope{
			Selected:     req.Selected,
			LibraryID:    req.LibraryID,
			CollectionID: req.CollectionID,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.IncrementIndexRun()
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func searchHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "q is required"})
			return
		}

		opts := service.SearchOptions{
			Mode: r.URL.Query().Get("mode"),
		}
		if v := r.URL.Query().Get("library_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid library_id"})
				return
			}
			opts.LibraryID = &id
		}
		if v := r.URL.Query().Get("top_k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid top_k"})
				return
			}
			opts.TopK = n
		}

		result, err := deps.Engine.Search(r.Context(), query, opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func similarHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := chi.URLParam(r, "id")
		itemID, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid item id"})
			return
		}

		opts := service.SearchOptions{}
		if v := r.URL.Query().Get("top_k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid top_k"})
				return
			}
			opts.TopK = n
		}

		result, err := deps.Engine.SimilarItems(r.Context(), itemID, opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, service.ErrNotIndexed) || errors.Is(err, service.ErrInvalidConfig) {
		status = http.StatusBadRequest
	}
	slog.Error("request failed", "error", err.Error())
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
