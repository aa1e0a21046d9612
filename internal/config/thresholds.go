package config

import (
	"fmt"
	"sort"
)

// Check names keyed in the thresholds table.
const (
	CheckSameMonthPrice            = "same_month_price"
	CheckSameMonthHistoricalQty    = "same_month_historical_quantity"
	CheckSameMonthHistoricalRating = "same_month_historical_rating"
	CheckSPUTrendPrice             = "spu_trend_price"
	CheckSPUTrendHistoricalQty     = "spu_trend_historical_quantity"
	CheckSPUTrendHistoricalRating  = "spu_trend_historical_rating"
	CheckVendorCoverage            = "vendor_coverage"
	CheckVendorPairwise            = "vendor_pairwise_spu_count"
	CheckVendorTrend               = "vendor_trend_spu_count"
	CheckMarketPairwiseRevenue     = "market_pairwise_revenue"
	CheckMarketPairwiseQuantity    = "market_pairwise_quantity"
	CheckMarketTrendRevenue        = "market_trend_revenue"
	CheckMarketTrendQuantity       = "market_trend_quantity"
	CheckSellerNormalRate          = "seller_normal_rate"
	CheckCategoryNormalRate        = "category_normal_rate"
	CheckSellerTrendFloor          = "seller_trend_floor"
	CheckCategoryTrendFloor        = "category_trend_floor"
	CheckCountryPlatformRate       = "country_platform_rate"
)

// Threshold field names.
const (
	FieldMinPct     = "min_pct"
	FieldMaxPct     = "max_pct"
	FieldPassMinPct = "pass_min_pct"
	FieldFloor      = "floor"
)

// requiredFields lists, per check, the fields that must be set.
var requiredFields = map[string][]string{
	CheckSameMonthPrice:            {FieldMinPct, FieldMaxPct},
	CheckSameMonthHistoricalQty:    {FieldMinPct, FieldMaxPct},
	CheckSameMonthHistoricalRating: {FieldMinPct, FieldMaxPct},
	CheckSPUTrendPrice:             {FieldMinPct, FieldMaxPct},
	CheckSPUTrendHistoricalQty:     {FieldMinPct, FieldMaxPct},
	CheckSPUTrendHistoricalRating:  {FieldMinPct, FieldMaxPct},
	CheckVendorCoverage:            {FieldPassMinPct},
	CheckVendorPairwise:            {FieldMinPct, FieldMaxPct},
	CheckVendorTrend:               {FieldMinPct, FieldMaxPct},
	CheckMarketPairwiseRevenue:     {FieldMinPct, FieldMaxPct, FieldFloor},
	CheckMarketPairwiseQuantity:    {FieldMinPct, FieldMaxPct},
	CheckMarketTrendRevenue:        {FieldMinPct, FieldMaxPct},
	CheckMarketTrendQuantity:       {FieldMinPct, FieldMaxPct},
	CheckSellerNormalRate:          {FieldPassMinPct},
	CheckCategoryNormalRate:        {FieldPassMinPct},
	CheckSellerTrendFloor:          {FieldFloor},
	CheckCategoryTrendFloor:        {FieldFloor},
	CheckCountryPlatformRate:       {FieldPassMinPct},
}

// Threshold is one entry of the thresholds table. Percent fields are in
// percent units (80 means 80%).
type Threshold struct {
	MinPct     *float64 `mapstructure:"min_pct"`
	MaxPct     *float64 `mapstructure:"max_pct"`
	PassMinPct *float64 `mapstructure:"pass_min_pct"`
	Floor      *float64 `mapstructure:"floor"`
}

// MinRatio is MinPct as a fraction.
func (t Threshold) MinRatio() float64 { return value(t.MinPct) / 100 }

// MaxRatio is MaxPct as a fraction.
func (t Threshold) MaxRatio() float64 { return value(t.MaxPct) / 100 }

// PassRatio is PassMinPct as a fraction.
func (t Threshold) PassRatio() float64 { return value(t.PassMinPct) / 100 }

// FloorValue is Floor, or 0 when unset.
func (t Threshold) FloorValue() float64 { return value(t.Floor) }

func (t Threshold) field(name string) *float64 {
	switch name {
	case FieldMinPct:
		return t.MinPct
	case FieldMaxPct:
		return t.MaxPct
	case FieldPassMinPct:
		return t.PassMinPct
	case FieldFloor:
		return t.Floor
	}
	return nil
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// ThresholdError reports a missing or unknown threshold entry.
type ThresholdError struct {
	Check string
	Field string // empty when the whole check is missing or unknown
	Issue string
}

func (e *ThresholdError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("threshold %s: %s", e.Check, e.Issue)
	}
	return fmt.Sprintf("threshold %s.%s: %s", e.Check, e.Field, e.Issue)
}

// Unwrap lets callers match ErrInvalidConfig.
func (e *ThresholdError) Unwrap() error { return ErrInvalidConfig }

// SameMonthCheck maps an SPU metric to its same-month threshold name.
func SameMonthCheck(metric string) string {
	return "same_month_" + metric
}

// SPUTrendCheck maps an SPU metric to its diff-months threshold name.
func SPUTrendCheck(metric string) string {
	return "spu_trend_" + metric
}

func validateThresholds(th map[string]Threshold) error {
	names := make([]string, 0, len(th))
	for name := range th {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := requiredFields[name]; !ok {
			return &ThresholdError{Check: name, Issue: "unknown check"}
		}
	}

	required := make([]string, 0, len(requiredFields))
	for name := range requiredFields {
		required = append(required, name)
	}
	sort.Strings(required)
	for _, name := range required {
		t, ok := th[name]
		if !ok {
			return &ThresholdError{Check: name, Issue: "missing"}
		}
		for _, f := range requiredFields[name] {
			if t.field(f) == nil {
				return &ThresholdError{Check: name, Field: f, Issue: "missing"}
			}
		}
		if t.MinPct != nil && t.MaxPct != nil && *t.MinPct > *t.MaxPct {
			return &ThresholdError{Check: name, Field: FieldMinPct, Issue: "greater than max_pct"}
		}
	}
	return nil
}
