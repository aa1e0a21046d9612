package storage

import (
	"context"

	"marketshare-qaqc/internal/domain"
)

// ScanFilter restricts a canonical scan. Zero months are unbounded.
type ScanFilter struct {
	From  domain.Month       // inclusive
	To    domain.Month       // inclusive
	Level domain.RecordLevel // empty means both levels
}

// Match reports whether r passes the filter.
func (f ScanFilter) Match(r *domain.CanonicalRecord) bool {
	if !f.From.IsZero() && r.Month.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Month.After(f.To) {
		return false
	}
	if f.Level != "" && r.Level() != f.Level {
		return false
	}
	return true
}

// CanonicalStore provides access to the canonical vendor table.
type CanonicalStore interface {
	// Reset drops any previous contents.
	Reset(ctx context.Context) error

	// AppendBatch adds records atomically as one committed chunk.
	AppendBatch(ctx context.Context, records []*domain.CanonicalRecord) error

	// Finalize builds lookup indexes after loading.
	Finalize(ctx context.Context) error

	// Months returns the distinct months present, ascending.
	Months(ctx context.Context) ([]domain.Month, error)

	// Scan streams matching records in insertion order.
	Scan(ctx context.Context, filter ScanFilter, fn func(*domain.CanonicalRecord) error) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Close releases the store.
	Close() error
}

// ArchiveStore persists run results outside the working directory.
type ArchiveStore interface {
	// SaveRun stores the run record with its decision and country×platform rows.
	// Returns ErrDuplicateKey if the run ID exists.
	SaveRun(ctx context.Context, run *domain.RunRecord, rows []domain.DecisionRow, cps []domain.CountryPlatformResult) error

	// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)

	// GetDecisionRows retrieves decision rows for a run in stored order.
	GetDecisionRows(ctx context.Context, runID string) ([]domain.DecisionRow, error)

	// GetCountryPlatformResults retrieves country×platform rows for a run,
	// sorted by country then platform.
	GetCountryPlatformResults(ctx context.Context, runID string) ([]domain.CountryPlatformResult, error)
}
