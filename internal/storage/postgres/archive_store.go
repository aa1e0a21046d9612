package postgres

import (
	"context"
	"fmt"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage"
)

// ArchiveStore implements storage.ArchiveStore using PostgreSQL.
type ArchiveStore struct {
	pool *Pool
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(pool *Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// SaveRun stores a run and its rows in one transaction.
// Returns ErrDuplicateKey if run_id exists.
func (s *ArchiveStore) SaveRun(ctx context.Context, run *domain.RunRecord, rows []domain.DecisionRow, cps []domain.CountryPlatformResult) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO qaqc_runs (
			run_id, started_at, finished_at, latest_month,
			canonical_rows, canonical_digest, steps_run, steps_skipped
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		run.RunID, run.StartedAt, run.FinishedAt, run.LatestMonth,
		run.CanonicalRows, run.CanonicalDigest, run.StepsRun, run.StepsSkipped,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for i, r := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO qaqc_decision_rows (
				run_id, seq, scope, stage, check_name, status,
				key_metric, benchmark, reference_file
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			run.RunID, i, r.Scope, r.Stage, r.CheckName, r.Status,
			r.KeyMetric, r.Benchmark, r.ReferenceFile,
		)
		if err != nil {
			return fmt.Errorf("insert decision row: %w", err)
		}
	}

	for _, c := range cps {
		_, err := tx.Exec(ctx, `
			INSERT INTO qaqc_country_platform (
				run_id, country, platform,
				seller_total, seller_normal, seller_normal_rate, seller_check_good,
				category_total, category_normal, category_normal_rate, category_check_good,
				good_to_use
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			run.RunID, c.Country, c.Platform,
			c.SellerTotal, c.SellerNormal, c.SellerNormalRate, c.SellerCheckGood,
			c.CategoryTotal, c.CategoryNormal, c.CategoryNormalRate, c.CategoryCheckGood,
			c.GoodToUse,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert country platform row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ArchiveStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var r domain.RunRecord
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, started_at, finished_at, latest_month,
			canonical_rows, canonical_digest, steps_run, steps_skipped
		FROM qaqc_runs
		WHERE run_id = $1
	`, runID).Scan(
		&r.RunID, &r.StartedAt, &r.FinishedAt, &r.LatestMonth,
		&r.CanonicalRows, &r.CanonicalDigest, &r.StepsRun, &r.StepsSkipped,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}

// GetDecisionRows retrieves decision rows for a run in stored order.
func (s *ArchiveStore) GetDecisionRows(ctx context.Context, runID string) ([]domain.DecisionRow, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT scope, stage, check_name, status, key_metric, benchmark, reference_file
		FROM qaqc_decision_rows
		WHERE run_id = $1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decision rows: %w", err)
	}
	defer rows.Close()

	var out []domain.DecisionRow
	for rows.Next() {
		var r domain.DecisionRow
		if err := rows.Scan(&r.Scope, &r.Stage, &r.CheckName, &r.Status, &r.KeyMetric, &r.Benchmark, &r.ReferenceFile); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return out, nil
}

// GetCountryPlatformResults retrieves country×platform rows for a run.
func (s *ArchiveStore) GetCountryPlatformResults(ctx context.Context, runID string) ([]domain.CountryPlatformResult, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT country, platform,
			seller_total, seller_normal, seller_normal_rate, seller_check_good,
			category_total, category_normal, category_normal_rate, category_check_good,
			good_to_use
		FROM qaqc_country_platform
		WHERE run_id = $1
		ORDER BY country ASC, platform ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query country platform rows: %w", err)
	}
	defer rows.Close()

	var out []domain.CountryPlatformResult
	for rows.Next() {
		var c domain.CountryPlatformResult
		err := rows.Scan(
			&c.Country, &c.Platform,
			&c.SellerTotal, &c.SellerNormal, &c.SellerNormalRate, &c.SellerCheckGood,
			&c.CategoryTotal, &c.CategoryNormal, &c.CategoryNormalRate, &c.CategoryCheckGood,
			&c.GoodToUse,
		)
		if err != nil {
			return nil, fmt.Errorf("scan country platform row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate country platform rows: %w", err)
	}
	return out, nil
}

func (s *ArchiveStore) requireRun(ctx context.Context, runID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM qaqc_runs WHERE run_id = $1)`, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}
