package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/decision"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/orchestrator"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/rollup"
	"marketshare-qaqc/internal/storage"
	"marketshare-qaqc/internal/storage/clickhouse"
	"marketshare-qaqc/internal/storage/migrations"
	"marketshare-qaqc/internal/storage/postgres"
)

// archiveTarget is one archive backend, connected only when its step runs.
type archiveTarget struct {
	name string
	open func(ctx context.Context) (storage.ArchiveStore, func(), error)
}

// configuredArchives returns the backends enabled by a non-empty DSN.
func configuredArchives(cfg *config.Config) []archiveTarget {
	var targets []archiveTarget
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		targets = append(targets, archiveTarget{
			name: "postgres",
			open: func(ctx context.Context) (storage.ArchiveStore, func(), error) {
				pool, err := migrations.ConnectPostgres(ctx, dsn, postgres.PoolOptions{
					MaxConns:       cfg.Archive.PostgresMaxConns,
					ConnectTimeout: cfg.Archive.ConnectTimeout,
				})
				if err != nil {
					return nil, nil, err
				}
				return postgres.NewArchiveStore(pool), pool.Close, nil
			},
		})
	}
	if dsn := cfg.Archive.ClickHouseDSN; dsn != "" {
		targets = append(targets, archiveTarget{
			name: "clickhouse",
			open: func(ctx context.Context) (storage.ArchiveStore, func(), error) {
				if timeout := cfg.Archive.ConnectTimeout; timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
				if err != nil {
					return nil, nil, err
				}
				return clickhouse.NewArchiveStore(conn), func() { conn.Close() }, nil
			},
		})
	}
	return targets
}

// runRecord summarizes the main pass for the archive.
func (p *Pipeline) runRecord(report *reporting.RunReport, startedAt time.Time, result *orchestrator.RunResult) *domain.RunRecord {
	return &domain.RunRecord{
		RunID:           report.RunID,
		StartedAt:       startedAt,
		FinishedAt:      p.clock(),
		LatestMonth:     report.LatestMonth,
		CanonicalRows:   report.CanonicalRows,
		CanonicalDigest: report.CanonicalDigest,
		StepsRun:        result.Done(),
		StepsSkipped:    result.Skipped(),
	}
}

// archiveSteps builds one step per backend. They require the decision
// summary; country×platform verdicts are attached when present.
func (p *Pipeline) archiveSteps(run *domain.RunRecord) []orchestrator.Step {
	summary := p.cfg.ResultFile(decision.SummaryFile)
	steps := make([]orchestrator.Step, 0, len(p.archives))
	for _, target := range p.archives {
		steps = append(steps, orchestrator.Step{
			Name:     stepArchivePrefix + target.name,
			Requires: []string{summary},
			Run: func(ctx context.Context) error {
				err := p.archive(ctx, target, run, summary)
				p.metrics.RecordArchive(target.name, err)
				return err
			},
		})
	}
	return steps
}

func (p *Pipeline) archive(ctx context.Context, target archiveTarget, run *domain.RunRecord, summary string) error {
	rows, err := decision.ReadSummary(summary)
	if err != nil {
		return fmt.Errorf("read decision summary: %w", err)
	}
	cps, err := rollup.ReadCountryPlatform(p.cfg.WorkFile(rollup.CountryPlatformFile))
	if err != nil && !errors.Is(err, reporting.ErrOutputMissing) {
		return fmt.Errorf("read country platform verdicts: %w", err)
	}

	store, closeFn, err := target.open(ctx)
	if err != nil {
		return fmt.Errorf("connect %s archive: %w", target.name, err)
	}
	defer closeFn()

	if err := store.SaveRun(ctx, run, rows, cps); err != nil {
		return fmt.Errorf("save run to %s: %w", target.name, err)
	}
	p.log.Info("run archived",
		zap.String("backend", target.name),
		zap.String("run_id", run.RunID),
		zap.Int("decision_rows", len(rows)),
		zap.Int("country_platform_rows", len(cps)),
	)
	return nil
}
