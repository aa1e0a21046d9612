// Package main builds the canonical table only.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/normalization"
	"marketshare-qaqc/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "config/qaqc.yaml", "Path to the run configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("received signal, cancelling", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := os.MkdirAll(cfg.Paths.WorkDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Create work dir: %v\n", err)
		os.Exit(1)
	}
	store, err := sqlite.NewCanonicalStore(ctx, cfg.CanonicalDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open canonical table: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	res, err := normalization.NewCanonicalizer(store, normalization.Options{
		InputDirs:    cfg.Paths.InputDirs,
		ChunkSize:    cfg.Run.ChunkSize,
		ManifestPath: cfg.ManifestPath(),
		GroupTypes:   cfg.VendorGroupType,
		Logger:       logger,
	}).Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Canonicalize error: %v\n", err)
		store.Close()
		if rmErr := normalization.RemoveArtifacts(cfg.CanonicalDBPath(), cfg.ManifestPath()); rmErr != nil {
			fmt.Fprintf(os.Stderr, "Cleanup error: %v\n", rmErr)
		}
		os.Exit(1)
	}

	fmt.Println("Canonical table built:")
	fmt.Printf("  Input:   %s (%d files)\n", res.InputDir, len(res.SourceFiles))
	fmt.Printf("  Rows:    %d (%d dropped)\n", res.RowCount, res.DroppedRows)
	fmt.Printf("  SHA-256: %s\n", res.Digest)
	fmt.Printf("  - %s\n", cfg.CanonicalDBPath())
	fmt.Printf("  - %s\n", cfg.ManifestPath())
}
