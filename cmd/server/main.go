package main

import (
	"context"
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
)

const Version = "0.1.0"

func getPort(cfg *config.Config) string {
	if cfg.Port != 0 {
		return fmt.Sprintf("%d", cfg.Port)
	}
	return "8080"
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	eng, err := engine.New(ctx, cfg, os.Getenv("BLEVE_INDEX_PATH"))
	cancelInit()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	r := router.New(&router.Dependencies{
		Engine:     eng,
		Version:    Version,
		Metrics:    metrics,
		MetricsReg: reg,
	})

	port := getPort(cfg)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("retrieval-core starting", "version", Version, "port", port)
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

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
