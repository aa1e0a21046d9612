// Package spulevel runs the product-level checks over the canonical table:
// same-month cross-vendor consistency, attribute consistency and
// latest-vs-baseline metric trends.
package spulevel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/storage"
)

// Output file names.
const (
	SameMonthFile  = "spu_metric_same_month.csv"
	AttributeFile  = "spu_attribute_check.csv"
	DiffMonthsFile = "spu_metric_diff_months.csv"
)

// ErrEmptyCanonical is returned when the canonical table holds no months.
var ErrEmptyCanonical = errors.New("canonical table is empty")

// Options holds settings shared by the SPU checkers.
type Options struct {
	TempDir     string // scratch aggregation stores
	CommitEvery int
	Logger      *zap.Logger
}

// Result summarizes one checker run.
type Result struct {
	Output  string
	Scanned int64 // canonical rows read
	Groups  int   // groups evaluated
	Flagged int   // rows written
}

func (o Options) openStore(ctx context.Context, name string) (*metrics.GroupStore, error) {
	return metrics.OpenGroupStore(ctx, filepath.Join(o.TempDir, name), metrics.StoreOptions{
		CommitEvery: o.CommitEvery,
		Logger:      o.Logger,
	})
}

func (o Options) logger() *zap.Logger {
	return logging.OrNop(o.Logger)
}

func latestMonth(ctx context.Context, store storage.CanonicalStore) (domain.Month, error) {
	months, err := store.Months(ctx)
	if err != nil {
		return domain.Month{}, fmt.Errorf("list months: %w", err)
	}
	if len(months) == 0 {
		return domain.Month{}, ErrEmptyCanonical
	}
	return months[len(months)-1], nil
}
