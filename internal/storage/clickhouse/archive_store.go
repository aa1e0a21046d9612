package clickhouse

import (
	"context"
	"fmt"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage"
)

// ArchiveStore implements storage.ArchiveStore using ClickHouse.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// SaveRun stores a run and its rows. Returns ErrDuplicateKey if run_id exists.
// Child rows are sent before the run row so a failed batch leaves no visible run.
func (s *ArchiveStore) SaveRun(ctx context.Context, run *domain.RunRecord, rows []domain.DecisionRow, cps []domain.CountryPlatformResult) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	// MergeTree does not enforce uniqueness
	exists, err := s.exists(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	if len(rows) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `
			INSERT INTO qaqc_decision_rows (
				run_id, seq, scope, stage, check_name, status,
				key_metric, benchmark, reference_file
			)
		`)
		if err != nil {
			return fmt.Errorf("prepare decision batch: %w", err)
		}
		for i, r := range rows {
			err := batch.Append(
				run.RunID, int32(i), r.Scope, r.Stage, r.CheckName, r.Status,
				r.KeyMetric, r.Benchmark, r.ReferenceFile,
			)
			if err != nil {
				return fmt.Errorf("append decision row: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send decision batch: %w", err)
		}
	}

	if len(cps) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `
			INSERT INTO qaqc_country_platform (
				run_id, country, platform,
				seller_total, seller_normal, seller_normal_rate, seller_check_good,
				category_total, category_normal, category_normal_rate, category_check_good,
				good_to_use
			)
		`)
		if err != nil {
			return fmt.Errorf("prepare country platform batch: %w", err)
		}
		for _, c := range cps {
			err := batch.Append(
				run.RunID, c.Country, c.Platform,
				int32(c.SellerTotal), int32(c.SellerNormal), c.SellerNormalRate, c.SellerCheckGood,
				int32(c.CategoryTotal), int32(c.CategoryNormal), c.CategoryNormalRate, c.CategoryCheckGood,
				c.GoodToUse,
			)
			if err != nil {
				return fmt.Errorf("append country platform row: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send country platform batch: %w", err)
		}
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO qaqc_runs (
			run_id, started_at, finished_at, latest_month,
			canonical_rows, canonical_digest, steps_run, steps_skipped
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.LatestMonth,
		run.CanonicalRows, run.CanonicalDigest, int32(run.StepsRun), int32(run.StepsSkipped),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ArchiveStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT run_id, started_at, finished_at, latest_month,
			canonical_rows, canonical_digest, steps_run, steps_skipped
		FROM qaqc_runs
		WHERE run_id = ?
		LIMIT 1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate run: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	var r domain.RunRecord
	var stepsRun, stepsSkipped int32
	err = rows.Scan(
		&r.RunID, &r.StartedAt, &r.FinishedAt, &r.LatestMonth,
		&r.CanonicalRows, &r.CanonicalDigest, &stepsRun, &stepsSkipped,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.StepsRun = int(stepsRun)
	r.StepsSkipped = int(stepsSkipped)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}

// GetDecisionRows retrieves decision rows for a run in stored order.
func (s *ArchiveStore) GetDecisionRows(ctx context.Context, runID string) ([]domain.DecisionRow, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT scope, stage, check_name, status, key_metric, benchmark, reference_file
		FROM qaqc_decision_rows
		WHERE run_id = ?
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

	rows, err := s.conn.Query(ctx, `
		SELECT country, platform,
			seller_total, seller_normal, seller_normal_rate, seller_check_good,
			category_total, category_normal, category_normal_rate, category_check_good,
			good_to_use
		FROM qaqc_country_platform
		WHERE run_id = ?
		ORDER BY country ASC, platform ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query country platform rows: %w", err)
	}
	defer rows.Close()

	var out []domain.CountryPlatformResult
	for rows.Next() {
		var c domain.CountryPlatformResult
		var sellerTotal, sellerNormal, categoryTotal, categoryNormal int32
		err := rows.Scan(
			&c.Country, &c.Platform,
			&sellerTotal, &sellerNormal, &c.SellerNormalRate, &c.SellerCheckGood,
			&categoryTotal, &categoryNormal, &c.CategoryNormalRate, &c.CategoryCheckGood,
			&c.GoodToUse,
		)
		if err != nil {
			return nil, fmt.Errorf("scan country platform row: %w", err)
		}
		c.SellerTotal = int(sellerTotal)
		c.SellerNormal = int(sellerNormal)
		c.CategoryTotal = int(categoryTotal)
		c.CategoryNormal = int(categoryNormal)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate country platform rows: %w", err)
	}
	return out, nil
}

func (s *ArchiveStore) exists(ctx context.Context, runID string) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM qaqc_runs WHERE run_id = ?`, runID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *ArchiveStore) requireRun(ctx context.Context, runID string) error {
	exists, err := s.exists(ctx, runID)
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}
