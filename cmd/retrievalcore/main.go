// retrievalcore is a command-line front end for the retrieval core: index a
// library, run a search, look up similar items, or serve the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/refshelf/retrieval-core/internal/config"
	"github.com/refshelf/retrieval-core/internal/engine"
	"github.com/refshelf/retrieval-core/internal/middleware"
	"github.com/refshelf/retrieval-core/internal/router"
	"github.com/refshelf/retrieval-core/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "index":
		err = runIndex(args)
	case "search":
		err = runSearch(args)
	case "similar":
		err = runSimilar(args)
	case "serve":
		err = runServe(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "retrievalcore <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands: index, search, similar, serve")
}

func buildEngine(ctx context.Context, bleveIndexPath string) (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return engine.New(ctx, cfg, bleveIndexPath)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	selected := fs.Bool("selected", false, "index only the items currently selected in the host")
	libraryID := fs.Int64("library", 0, "library id to index (0 means all libraries)")
	collectionID := fs.Int64("collection", 0, "collection id to index")
	bleveIndexPath := fs.String("bleve-index", "", "path to the on-disk keyword index (empty = in-memory)")
	timeout := fs.Duration("timeout", 10*time.Minute, "max duration for the indexing run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	eng, err := buildEngine(ctx, *bleveIndexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	scope := engine.IndexScope{Selected: *selected}
	if *libraryID != 0 {
		scope.LibraryID = libraryID
	}
	if *collectionID != 0 {
		scope.CollectionID = collectionID
	}

	result, err := eng.Index(ctx, scope)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return printJSON(result)
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("q", "", "search query (required)")
	libraryID := fs.Int64("library", 0, "restrict to a single library id")
	topK := fs.Int("top-k", 0, "number of results to return (0 = use config default)")
	mode := fs.String("mode", "", "search mode: semantic, keyword, or hybrid (empty = config default)")
	bleveIndexPath := fs.String("bleve-index", "", "path to the on-disk keyword index (empty = in-memory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *query == "" {
		return fmt.Errorf("search: -q is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng, err := buildEngine(ctx, *bleveIndexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	opts := service.SearchOptions{Mode: *mode, TopK: *topK}
	if *libraryID != 0 {
		opts.LibraryID = libraryID
	}

	result, err := eng.Search(ctx, *query, opts)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return printJSON(result)
}

func runSimilar(args []string) error {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	itemID := fs.Int64("item", 0, "item id to find similar items for (required)")
	topK := fs.Int("top-k", 0, "number of results to return (0 = use config default)")
	bleveIndexPath := fs.String("bleve-index", "", "path to the on-disk keyword index (empty = in-memory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *itemID == 0 {
		return fmt.Errorf("similar: -item is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng, err := buildEngine(ctx, *bleveIndexPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.SimilarItems(ctx, *itemID, service.SearchOptions{TopK: *topK})
	if err != nil {
		return fmt.Errorf("similar: %w", err)
	}
	return printJSON(result)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 0, "port to listen on (0 = use config default or 8080)")
	bleveIndexPath := fs.String("bleve-index", "", "path to the on-disk keyword index (empty = in-memory)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	eng, err := engine.New(ctx, cfg, *bleveIndexPath)
	cancelInit()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	r := router.New(&router.Dependencies{
		Engine:     eng,
		Version:    version,
		Metrics:    metrics,
		MetricsReg: reg,
	})

	listenPort := *port
	if listenPort == 0 {
		if cfg.Port != 0 {
			listenPort = cfg.Port
		} else {
			listenPort = 8080
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", listenPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("retrievalcore serve starting", "version", version, "port", listenPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
