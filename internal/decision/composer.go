package decision

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/marketshare"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/rollup"
	"marketshare-qaqc/internal/vendorqa"
)

// ErrNoResults is returned when none of the check inputs exist.
var ErrNoResults = errors.New("no check results to summarize")

var summaryHeader = []string{"scope", "stage", "check_name", "status", "key_metric", "benchmark", "reference_file"}

// Composer folds the stage outputs into the decision summary. It never
// recomputes statistics: each check only counts abnormal rows.
type Composer struct {
	checks    []*Check
	countries []string
	platforms []string
	log       *zap.Logger
}

// NewComposer builds the standard check list from cfg, vendor-input
// checks first.
func NewComposer(cfg *config.Config, logger *zap.Logger) *Composer {
	return &Composer{
		checks:    DefaultChecks(cfg),
		countries: upper(cfg.ScopeFilter.Countries),
		platforms: upper(cfg.ScopeFilter.Platforms),
		log:       logging.OrNop(logger),
	}
}

// NewComposerWithChecks builds a composer over an explicit check list.
func NewComposerWithChecks(checks []*Check, scope config.ScopeFilterConfig, logger *zap.Logger) *Composer {
	return &Composer{
		checks:    checks,
		countries: upper(scope.Countries),
		platforms: upper(scope.Platforms),
		log:       logging.OrNop(logger),
	}
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func abnormalMovement(cols ...string) func(func(string) string) bool {
	return func(get func(string) string) bool {
		for _, c := range cols {
			if domain.Status(get(c)).IsAbnormalMovement() {
				return true
			}
		}
		return false
	}
}

func bandBenchmark(th config.Threshold) string {
	return fmt.Sprintf("%g%% <= ratio < %g%%", *th.MinPct, *th.MaxPct)
}

// DefaultChecks returns the decision checks in report order.
func DefaultChecks(cfg *config.Config) []*Check {
	coverage := cfg.Threshold(config.CheckVendorCoverage)
	cpRate := cfg.Threshold(config.CheckCountryPlatformRate)
	return []*Check{
		{
			Name:      "vendor_coverage",
			Stage:     domain.StageVendorInput,
			Path:      cfg.ResultFile(vendorqa.CoverageFile),
			Severity:  SeverityFail,
			Benchmark: fmt.Sprintf("coverage_ratio >= %g%%", *coverage.PassMinPct),
			Required:  []string{"status"},
			Abnormal: func(get func(string) string) bool {
				return get("status") == string(domain.CheckFail)
			},
		},
		{
			Name:      "vendor_seller_pairwise",
			Stage:     domain.StageVendorInput,
			Path:      cfg.ResultFile(vendorqa.SellerPairwiseFile),
			Severity:  SeverityWarn,
			Benchmark: bandBenchmark(cfg.Threshold(config.CheckVendorPairwise)),
			Required:  []string{"status"},
			Abnormal:  abnormalMovement("status"),
		},
		{
			Name:      "vendor_category_pairwise",
			Stage:     domain.StageVendorInput,
			Path:      cfg.ResultFile(vendorqa.CategoryPairwiseFile),
			Severity:  SeverityWarn,
			Benchmark: bandBenchmark(cfg.Threshold(config.CheckVendorPairwise)),
			Required:  []string{"status"},
			Abnormal:  abnormalMovement("status"),
		},
		{
			Name:      "vendor_seller_trend_multi_month",
			Stage:     domain.StageVendorInput,
			Path:      cfg.ResultFile(vendorqa.SellerTrendFile),
			Severity:  SeverityWarn,
			Benchmark: bandBenchmark(cfg.Threshold(config.CheckVendorTrend)),
			Required:  []string{"trend_status"},
			Abnormal:  abnormalMovement("trend_status"),
		},
		{
			Name:      "vendor_category_trend_multi_month",
			Stage:     domain.StageVendorInput,
			Path:      cfg.ResultFile(vendorqa.CategoryTrendFile),
			Severity:  SeverityWarn,
			Benchmark: bandBenchmark(cfg.Threshold(config.CheckVendorTrend)),
			Required:  []string{"trend_status"},
			Abnormal:  abnormalMovement("trend_status"),
		},
		{
			Name:      "country_platform_good_to_use",
			Stage:     domain.StageVendorInput,
			Path:      cfg.WorkFile(rollup.CountryPlatformFile),
			Severity:  SeverityFail,
			Benchmark: fmt.Sprintf("seller and category normal rate >= %g%%", *cpRate.PassMinPct),
			Required:  []string{"good_to_use"},
			Abnormal: func(get func(string) string) bool {
				return get("good_to_use") != reporting.FormatBool(true)
			},
		},
		{
			Name:      "market_share_pairwise",
			Stage:     domain.StageComputedOutput,
			Path:      cfg.ResultFile(marketshare.SummaryFile),
			Severity:  SeverityWarn,
			Benchmark: bandBenchmark(cfg.Threshold(config.CheckMarketPairwiseRevenue)),
			Required:  []string{"revenue_status", "quantity_status"},
			Abnormal:  abnormalMovement("revenue_status", "quantity_status"),
		},
		{
			Name:      "market_share_trend_multi_month",
			Stage:     domain.StageComputedOutput,
			Path:      cfg.ResultFile(marketshare.TrendFile),
			Severity:  SeverityWarn,
			Benchmark: bandBenchmark(cfg.Threshold(config.CheckMarketTrendRevenue)),
			Required:  []string{"revenue_trend_status", "quantity_trend_status"},
			Abnormal:  abnormalMovement("revenue_trend_status", "quantity_trend_status"),
		},
	}
}

// ScopeLabel names the scope filter: the joined country list or ALL.
func (c *Composer) ScopeLabel() string {
	if len(c.countries) == 0 {
		return "ALL"
	}
	return strings.Join(c.countries, ",")
}

func (c *Composer) inScope(get func(string) string) bool {
	if len(c.countries) > 0 && !slices.Contains(c.countries, strings.ToUpper(get("country"))) {
		return false
	}
	if len(c.platforms) > 0 && !slices.Contains(c.platforms, strings.ToUpper(get("platform"))) {
		return false
	}
	return true
}

// Compose evaluates every check whose input exists and has rows inside the
// scope. Rows keep check order, which lists vendor-input before
// computed-output.
func (c *Composer) Compose() (*Result, error) {
	res := &Result{Scope: c.ScopeLabel(), Overall: domain.DecisionPass}

	for _, check := range c.checks {
		out := CheckOutcome{Check: check}
		err := reporting.ScanCSV(check.Path, check.Required, func(row reporting.Row) error {
			if !c.inScope(row.Get) {
				return nil
			}
			out.Rows++
			if check.Abnormal(row.Get) {
				out.Abnormal++
			}
			return nil
		})
		if errors.Is(err, reporting.ErrOutputMissing) {
			c.log.Warn("decision input missing, check skipped",
				zap.String("check", check.Name), zap.String("path", check.Path))
			res.Skipped = append(res.Skipped, check.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", check.Name, err)
		}
		if out.Rows == 0 {
			c.log.Info("no rows in scope, check not reported",
				zap.String("check", check.Name), zap.String("scope", res.Scope))
			res.Empty = append(res.Empty, check.Name)
			continue
		}

		out.Status = domain.DecisionPass
		if out.Abnormal > 0 {
			out.Status = string(check.Severity)
		}
		res.Outcomes = append(res.Outcomes, out)
		res.Rows = append(res.Rows, domain.DecisionRow{
			Scope:         res.Scope,
			Stage:         check.Stage,
			CheckName:     check.Name,
			Status:        out.Status,
			KeyMetric:     fmt.Sprintf("abnormal_rows=%d/%d", out.Abnormal, out.Rows),
			Benchmark:     check.Benchmark,
			ReferenceFile: filepath.Base(check.Path),
		})
		res.Overall = worse(res.Overall, out.Status)
	}

	if len(res.Rows) == 0 {
		return nil, ErrNoResults
	}
	res.Rows = stageOrder(res.Rows)

	c.log.Info("decision composed",
		zap.String("scope", res.Scope),
		zap.String("overall", res.Overall),
		zap.Int("checks", len(res.Rows)),
		zap.Strings("skipped", res.Skipped),
		zap.Strings("empty", res.Empty),
	)
	return res, nil
}

// stageOrder sorts rows vendor-input first, keeping check order within a stage.
func stageOrder(rows []domain.DecisionRow) []domain.DecisionRow {
	rank := func(stage string) int {
		if stage == domain.StageVendorInput {
			return 0
		}
		return 1
	}
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b domain.DecisionRow) int {
		return rank(a.Stage) - rank(b.Stage)
	})
	return out
}

func worse(a, b string) string {
	severity := map[string]int{domain.DecisionPass: 0, domain.DecisionWarn: 1, domain.DecisionFail: 2}
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// WriteSummary writes the decision rows to path.
func WriteSummary(path string, rows []domain.DecisionRow) error {
	w, err := reporting.CreateCSV(path, summaryHeader)
	if err != nil {
		return err
	}
	defer w.Abort()
	for _, r := range rows {
		if err := w.Write([]string{r.Scope, r.Stage, r.CheckName, r.Status, r.KeyMetric, r.Benchmark, r.ReferenceFile}); err != nil {
			return err
		}
	}
	return w.Close()
}

// ReadSummary loads a decision summary written by WriteSummary.
func ReadSummary(path string) ([]domain.DecisionRow, error) {
	var rows []domain.DecisionRow
	err := reporting.ScanCSV(path, summaryHeader, func(r reporting.Row) error {
		rows = append(rows, domain.DecisionRow{
			Scope:         r.Get("scope"),
			Stage:         r.Get("stage"),
			CheckName:     r.Get("check_name"),
			Status:        r.Get("status"),
			KeyMetric:     r.Get("key_metric"),
			Benchmark:     r.Get("benchmark"),
			ReferenceFile: r.Get("reference_file"),
		})
		return nil
	})
	return rows, err
}
