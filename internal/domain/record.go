package domain

// RecordLevel distinguishes seller-level rows from category-level rows.
type RecordLevel string

const (
	LevelSeller   RecordLevel = "seller"
	LevelCategory RecordLevel = "category"
)

// CanonicalRecord is one admitted vendor row after canonicalization.
// Stored in the embedded canonical table.
type CanonicalRecord struct {
	Country          string
	Platform         string
	Month            Month
	SellerID         string
	SellerName       string
	SellerURL        string
	SPUID            string
	SPUName          string
	SPUURL           string
	CategoryOrSource string // empty for seller-level rows
	VendorGroup      string
	VendorGroupType  string
	Price            *float64 // nullable
	HistoricalQty    *float64 // nullable
	HistoricalRating *float64 // nullable
}

// Level derives the record level from CategoryOrSource.
func (r *CanonicalRecord) Level() RecordLevel {
	if r.CategoryOrSource == "" {
		return LevelSeller
	}
	return LevelCategory
}

// Metric returns the named numeric attribute, or nil when absent.
func (r *CanonicalRecord) Metric(name string) *float64 {
	switch name {
	case MetricPrice:
		return r.Price
	case MetricHistoricalQuantity:
		return r.HistoricalQty
	case MetricHistoricalRating:
		return r.HistoricalRating
	}
	return nil
}

// Canonical numeric metric names.
const (
	MetricPrice              = "price"
	MetricHistoricalQuantity = "historical_quantity"
	MetricHistoricalRating   = "historical_rating"
)

// SPUMetrics lists the per-SPU numeric metrics in output order.
var SPUMetrics = []string{MetricPrice, MetricHistoricalQuantity, MetricHistoricalRating}

// ComputedRecord is one row of a computed market-share extract.
type ComputedRecord struct {
	Country          string
	Platform         string
	SellerID         string
	SellerName       string
	Month            Month
	FinalQuantity    *float64
	FinalRevenue     *float64
	FinalASP         *float64
	ComputationLabel string
	HistoricalQty    *float64
	HistoricalRating *float64
	HasSource        [6]bool // has_S1..has_S6
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}
