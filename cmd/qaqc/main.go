// Package main provides the full QA/QC pipeline entry point.
// Executes: canonicalize → SPU checks → vendor checks → rollups → market checks → decision
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/orchestrator"
	"marketshare-qaqc/internal/pipeline"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/qaqc.yaml", "Path to the run configuration")
	skipNormalize := flag.Bool("skip-normalize", false, "Reuse the existing canonical table")
	logLevel := flag.String("log-level", "", "Override app.log_level (debug|info|warn|error)")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics and /health on this address while running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.App.LogLevel = *logLevel
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("received signal, cancelling pipeline", zap.String("signal", sig.String()))
		cancel()
	}()

	p := pipeline.New(cfg, pipeline.Options{
		SkipNormalize: *skipNormalize,
		Logger:        logger,
	})
	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr, p, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Println("=== Market Share QA/QC ===")
	outcome, err := p.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s completed: %d done, %d skipped\n",
		outcome.RunID, outcome.Steps.Done(), outcome.Steps.Skipped())
	for _, s := range outcome.Steps.Steps {
		if s.Status == orchestrator.StatusSkipped {
			fmt.Printf("  SKIPPED %-26s %s\n", s.Name, s.Reason)
			continue
		}
		fmt.Printf("  DONE    %s\n", s.Name)
	}

	fmt.Println("\nOutputs:")
	for _, o := range outcome.Report.Outputs() {
		fmt.Printf("  - %s\n", o)
	}
	if outcome.ReportPath != "" {
		fmt.Printf("  - %s\n", outcome.ReportPath)
	}
}

func serveMetrics(addr string, p *pipeline.Pipeline, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Metrics().Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}
