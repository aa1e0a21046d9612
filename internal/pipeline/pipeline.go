// Package pipeline wires configuration, stores and QA/QC stages into the
// ordered step list run by the orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/idhash"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/normalization"
	"marketshare-qaqc/internal/observability"
	"marketshare-qaqc/internal/orchestrator"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage"
	"marketshare-qaqc/internal/storage/sqlite"
)

// RunReportFile is the per-run step summary written to the result directory.
const RunReportFile = "QAQC_RUN.md"

// Options configures a Pipeline.
type Options struct {
	SkipNormalize bool // reuse an existing canonical table
	Logger        *zap.Logger
	Metrics       *observability.Metrics // defaults to a fresh instance
	Clock         func() time.Time       // defaults to time.Now in UTC
}

// Outcome describes one pipeline run.
type Outcome struct {
	RunID      string
	Steps      *orchestrator.RunResult
	Report     *reporting.RunReport
	ReportPath string
}

// Pipeline runs every QA/QC stage for one configuration.
type Pipeline struct {
	cfg     *config.Config
	opts    Options
	log     *zap.Logger
	metrics *observability.Metrics
	clock   func() time.Time

	archives []archiveTarget

	// per-run state
	store       *sqlite.CanonicalStore
	canonical   *normalization.Result
	sufficiency *SufficiencyResult
}

// New creates a new Pipeline.
func New(cfg *config.Config, opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	m := opts.Metrics
	if m == nil {
		m = observability.NewMetrics("")
	}
	p := &Pipeline{
		cfg:     cfg,
		opts:    opts,
		log:     logging.OrNop(opts.Logger),
		metrics: m,
		clock:   clock,
	}
	p.archives = configuredArchives(cfg)
	return p
}

// WithArchive adds an archive backend that is already connected.
func (p *Pipeline) WithArchive(name string, store storage.ArchiveStore) *Pipeline {
	p.archives = append(p.archives, archiveTarget{
		name: name,
		open: func(context.Context) (storage.ArchiveStore, func(), error) {
			return store, func() {}, nil
		},
	})
	return p
}

// Metrics returns the run metrics.
func (p *Pipeline) Metrics() *observability.Metrics {
	return p.metrics
}

// Run executes every step and writes the run report. The returned error is
// reserved for setup failures; step failures are reported in the outcome.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	startedAt := p.clock()
	for _, dir := range []string{p.cfg.Paths.WorkDir, p.cfg.Paths.ResultDir, p.cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	defer p.closeCanonical()

	runner := orchestrator.New(orchestrator.Options{
		Logger:  p.log,
		Metrics: p.metrics,
		Clock:   p.clock,
	})
	result := runner.Run(ctx, p.Steps())

	report := p.newReport(startedAt)
	outcome := &Outcome{RunID: report.RunID, Steps: result, Report: report}

	// Archives record the stage results, so they run as a second pass
	if len(p.archives) > 0 {
		record := p.runRecord(report, startedAt, result)
		final := runner.Run(ctx, p.archiveSteps(record))
		result.Steps = append(result.Steps, final.Steps...)
	}
	report.Steps = result.ReportRows()

	if err := os.RemoveAll(p.cfg.TempDir()); err != nil {
		p.log.Warn("remove temp dir failed", zap.Error(err))
	}
	if !p.cfg.Run.KeepCanonical {
		p.closeCanonical()
		if err := normalization.RemoveArtifacts(p.cfg.CanonicalDBPath(), p.cfg.ManifestPath()); err != nil {
			p.log.Warn("remove canonical table failed", zap.Error(err))
		} else {
			p.log.Info("canonical table removed", zap.String("path", p.cfg.CanonicalDBPath()))
		}
	}

	outcome.ReportPath = p.cfg.ResultFile(RunReportFile)
	if err := writeText(outcome.ReportPath, reporting.RenderMarkdown(report)); err != nil {
		p.log.Error("write run report failed", zap.Error(err))
		outcome.ReportPath = ""
	}

	p.metrics.MarkFinished(p.clock())
	if path := p.cfg.Observability.Textfile; path != "" {
		if err := p.metrics.WriteTextfile(path); err != nil {
			p.log.Error("write metrics textfile failed", zap.Error(err))
		}
	}

	return outcome, nil
}

// canonicalStore opens the canonical table on first use.
func (p *Pipeline) canonicalStore(ctx context.Context) (*sqlite.CanonicalStore, error) {
	if p.store != nil {
		return p.store, nil
	}
	store, err := sqlite.NewCanonicalStore(ctx, p.cfg.CanonicalDBPath())
	if err != nil {
		return nil, fmt.Errorf("open canonical table: %w", err)
	}
	p.store = store
	return store, nil
}

func (p *Pipeline) closeCanonical() {
	if p.store == nil {
		return
	}
	if err := p.store.Close(); err != nil {
		p.log.Warn("close canonical table failed", zap.Error(err))
	}
	p.store = nil
}

func (p *Pipeline) newReport(startedAt time.Time) *reporting.RunReport {
	report := &reporting.RunReport{GeneratedAt: startedAt}
	if c := p.canonical; c != nil {
		report.InputDir = c.InputDir
		report.CanonicalRows = c.RowCount
		report.DroppedRows = c.DroppedRows
		report.CanonicalDigest = c.Digest
	} else if p.store != nil {
		if n, err := p.store.Count(context.Background()); err == nil {
			report.CanonicalRows = n
		}
	}
	if s := p.sufficiency; s != nil {
		report.DataChecks = s.Rows()
		if !s.Latest.IsZero() {
			report.LatestMonth = s.Latest.String()
		}
	}
	report.RunID = idhash.ComputeRunID(report.CanonicalDigest, startedAt)
	return report
}

// writeText writes content atomically (temp file + rename).
func writeText(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
