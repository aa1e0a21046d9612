// Package marketshare runs the computed-output stage: latest-vs-previous
// revenue and quantity movements per seller, and their multi-month trends.
package marketshare

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/reporting"
)

// ErrInsufficientInputs is returned when fewer than two computed extracts exist.
var ErrInsufficientInputs = errors.New("need at least two computed extracts")

// Computed extract columns.
const (
	colCountry          = "country"
	colPlatform         = "platform"
	colSellerID         = "seller_id"
	colSellerName       = "seller_name"
	colMonth            = "month"
	colFinalQuantity    = "final_quantity"
	colFinalRevenue     = "final_revenue"
	colFinalASP         = "final_asp"
	colComputationLabel = "computation_label"
	colHistoricalQty    = "historical_quantity"
	colHistoricalRating = "historical_rating"
)

var computedRequired = []string{colCountry, colPlatform, colSellerID, colMonth, colFinalRevenue}

// ReadStats describes one pass over the computed extracts.
type ReadStats struct {
	Files   []string
	Rows    int64
	Dropped int64 // rows without seller id or a parseable month
}

// ReadComputed streams every row of the computed extracts in dir, file by
// file in name order.
func ReadComputed(ctx context.Context, dir string, fn func(*domain.ComputedRecord) error) (*ReadStats, error) {
	files, err := reporting.ListCSV(dir)
	if err != nil {
		return nil, fmt.Errorf("list computed extracts: %w", err)
	}
	if len(files) < 2 {
		return nil, fmt.Errorf("%w: found %d in %s", ErrInsufficientInputs, len(files), dir)
	}

	stats := &ReadStats{Files: files}
	for _, path := range files {
		err := reporting.ScanCSV(path, computedRequired, func(row reporting.Row) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, ok := parseComputed(row)
			if !ok {
				stats.Dropped++
				return nil
			}
			stats.Rows++
			return fn(rec)
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func parseComputed(row reporting.Row) (*domain.ComputedRecord, bool) {
	sellerID := row.Get(colSellerID)
	month, err := domain.ParseMonth(row.Get(colMonth))
	if sellerID == "" || err != nil {
		return nil, false
	}
	platform := row.Get(colPlatform)
	if platform == "" {
		platform = "UNKNOWN"
	}
	rec := &domain.ComputedRecord{
		Country:          row.Get(colCountry),
		Platform:         platform,
		SellerID:         sellerID,
		SellerName:       row.Get(colSellerName),
		Month:            month,
		FinalQuantity:    optional(row, colFinalQuantity),
		FinalRevenue:     optional(row, colFinalRevenue),
		FinalASP:         optional(row, colFinalASP),
		ComputationLabel: row.Get(colComputationLabel),
		HistoricalQty:    optional(row, colHistoricalQty),
		HistoricalRating: optional(row, colHistoricalRating),
	}
	for i := range rec.HasSource {
		rec.HasSource[i] = parseFlag(row.Get(fmt.Sprintf("has_S%d", i+1)))
	}
	return rec, true
}

func optional(row reporting.Row, col string) *float64 {
	if v, ok := row.Float(col); ok {
		return &v
	}
	return nil
}

func parseFlag(s string) bool {
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "t", "yes", "y":
		return true
	}
	return false
}
