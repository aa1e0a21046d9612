// Package main re-folds existing stage outputs into the decision summary.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "config/qaqc.yaml", "Path to the run configuration")
	countries := flag.String("countries", "", "Comma-separated country filter, overrides scope_filter.countries")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *countries != "" {
		cfg.ScopeFilter.Countries = splitList(*countries)
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	out, err := pipeline.Decide(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decision error: %v\n", err)
		os.Exit(1)
	}

	res := out.Result
	fmt.Printf("Scope %s: overall %s\n", res.Scope, res.Overall)
	for _, r := range res.Rows {
		fmt.Printf("  %-5s %-16s %-36s %s\n", r.Status, r.Stage, r.CheckName, r.KeyMetric)
	}
	for _, name := range res.Skipped {
		fmt.Printf("  SKIPPED %s (input missing)\n", name)
	}
	for _, name := range res.Empty {
		fmt.Printf("  EMPTY   %s (no rows in scope)\n", name)
	}
	fmt.Printf("  - %s\n", out.SummaryPath)
	fmt.Printf("  - %s\n", out.ReportPath)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
