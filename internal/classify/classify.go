// Package classify holds the threshold rules shared by every check level:
// pairwise period comparison, multi-period trend, revenue spike typing,
// risk mapping, same-period bands and rollup rates.
package classify

import (
	"fmt"
	"math"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/metrics"
)

// Band holds drop/increase thresholds as ratios (0.80, 2.00).
// A ratio below Drop is an abnormal drop; at or above Increase an abnormal increase.
type Band struct {
	Drop     float64
	Increase float64
}

// NewBand builds a Band from a min_pct/max_pct threshold entry.
func NewBand(th config.Threshold) Band {
	return Band{Drop: th.MinRatio(), Increase: th.MaxRatio()}
}

// Outcome is a classified movement for one entity.
type Outcome struct {
	Status   domain.Status
	Current  float64
	Baseline float64 // previous value or baseline median
	Delta    float64 // Current - Baseline
	Ratio    float64 // Current / Baseline, NaN when undefined
}

// Pairwise classifies a previous→current movement. Precedence:
// new-in-latest, missing-in-latest, no-baseline, abnormal-increase,
// abnormal-drop, normal.
func Pairwise(prev, cur float64, b Band) Outcome {
	o := Outcome{
		Current:  cur,
		Baseline: prev,
		Delta:    cur - prev,
		Ratio:    metrics.SafeRatio(cur, prev),
	}
	switch {
	case prev == 0 && cur > 0:
		o.Status = domain.StatusNewInLatest
	case prev > 0 && cur == 0:
		o.Status = domain.StatusMissingInLatest
	default:
		o.Status = band(o.Ratio, b)
	}
	return o
}

// TrendInput is the per-entity data for a multi-period trend.
type TrendInput struct {
	MonthsObserved int     // distinct non-latest months in the window
	Baseline       float64 // median of baseline months
	BaselineValid  bool    // false when no baseline month had a value
	Latest         float64 // latest-month value, 0 when absent
}

// Trend classifies latest against the median baseline. Precedence:
// insufficient-history, no-baseline, abnormal-increase, abnormal-drop, normal.
func Trend(in TrendInput, minMonths int, b Band) Outcome {
	o := Outcome{
		Current:  in.Latest,
		Baseline: in.Baseline,
		Delta:    in.Latest - in.Baseline,
		Ratio:    math.NaN(),
	}
	if in.BaselineValid {
		o.Ratio = metrics.SafeRatio(in.Latest, in.Baseline)
	}
	if in.MonthsObserved < minMonths {
		o.Status = domain.StatusInsufficientHistory
		return o
	}
	if !in.BaselineValid || in.Baseline == 0 {
		o.Status = domain.StatusNoBaseline
		return o
	}
	o.Status = band(o.Ratio, b)
	return o
}

// TrendOf classifies latest against the median of baseline, one value per
// observed non-latest period.
func TrendOf(baseline []float64, latest float64, minMonths int, b Band) Outcome {
	median, ok := metrics.Median(baseline)
	return Trend(TrendInput{
		MonthsObserved: len(baseline),
		Baseline:       median,
		BaselineValid:  ok,
		Latest:         latest,
	}, minMonths, b)
}

func band(ratio float64, b Band) domain.Status {
	switch {
	case math.IsNaN(ratio) || math.IsInf(ratio, 0):
		return domain.StatusNoBaseline
	case ratio >= b.Increase:
		return domain.StatusAbnormalIncrease
	case ratio < b.Drop:
		return domain.StatusAbnormalDrop
	default:
		return domain.StatusNormal
	}
}

// RevenueAbnormal sub-classifies a revenue spike. Only abnormal-increase
// outcomes are typed: previous below floor is a base effect, a changed
// provenance label is a source switch, anything else is out of trend.
func RevenueAbnormal(o Outcome, floor float64, prevLabel, curLabel string) domain.AbnormalType {
	if o.Status != domain.StatusAbnormalIncrease {
		return domain.AbnormalNone
	}
	if o.Baseline < floor {
		return domain.AbnormalBaseEffect
	}
	if prevLabel != curLabel {
		return domain.AbnormalSourceSwitch
	}
	return domain.AbnormalSpikeOutTrend
}

// RiskFor maps an abnormal type to its review risk.
func RiskFor(a domain.AbnormalType) domain.Risk {
	switch a {
	case domain.AbnormalSpikeOutTrend:
		return domain.RiskHigh
	case domain.AbnormalSourceSwitch:
		return domain.RiskMedium
	case domain.AbnormalBaseEffect:
		return domain.RiskLow
	default:
		return domain.RiskNone
	}
}

// FormatPercent renders a ratio as a 2-decimal percentage ("50.00%").
// NaN and infinite ratios render as "-".
func FormatPercent(ratio float64) string {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// WithinPct reports whether pct lies inside [minPct, maxPct].
func WithinPct(pct, minPct, maxPct float64) bool {
	return pct >= minPct && pct <= maxPct
}

// Rate returns normal/total, or 0 when total is 0.
func Rate(normal, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(normal) / float64(total)
}

// CheckGood reports rate >= pass. Always false for an empty population.
func CheckGood(normal, total int, pass float64) bool {
	if total == 0 {
		return false
	}
	return Rate(normal, total) >= pass
}

// Coverage classifies latest/previous population coverage.
// Only a ratio at or above pass is a PASS.
func Coverage(prev, cur, pass float64) (domain.CheckResult, domain.Status, float64) {
	ratio := metrics.SafeRatio(cur, prev)
	switch {
	case prev == 0 && cur > 0:
		return domain.CheckFail, domain.StatusNewInLatest, ratio
	case prev > 0 && cur == 0:
		return domain.CheckFail, domain.StatusMissingInLatest, ratio
	case math.IsNaN(ratio):
		return domain.CheckFail, domain.StatusNoBaseline, ratio
	case ratio >= pass:
		return domain.CheckPass, domain.StatusNormal, ratio
	default:
		return domain.CheckFail, domain.StatusLowCoverage, ratio
	}
}
