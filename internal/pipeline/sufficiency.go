package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/rollup"
	"marketshare-qaqc/internal/storage"
)

// SufficiencyCheck represents one data sufficiency criterion.
type SufficiencyCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// SufficiencyResult contains every check in evaluation order.
type SufficiencyResult struct {
	Checks  []SufficiencyCheck
	AllPass bool
	Latest  domain.Month
}

// SufficiencyChecker inspects the inputs before the stages run. Its verdict
// is informational: each stage still decides on its own whether it can run.
type SufficiencyChecker struct {
	store storage.CanonicalStore
	cfg   *config.Config
}

// NewSufficiencyChecker creates a new sufficiency checker.
func NewSufficiencyChecker(store storage.CanonicalStore, cfg *config.Config) *SufficiencyChecker {
	return &SufficiencyChecker{store: store, cfg: cfg}
}

// Check evaluates all criteria.
func (c *SufficiencyChecker) Check(ctx context.Context) (*SufficiencyResult, error) {
	result := &SufficiencyResult{AllPass: true}
	add := func(check SufficiencyCheck) {
		result.Checks = append(result.Checks, check)
		if !check.Pass {
			result.AllPass = false
		}
	}

	// Check 1: canonical table is non-empty
	rows, err := c.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count canonical rows: %w", err)
	}
	add(SufficiencyCheck{
		Name:      "canonical_rows",
		Threshold: "> 0",
		Actual:    fmt.Sprintf("%d", rows),
		Pass:      rows > 0,
	})

	months, err := c.store.Months(ctx)
	if err != nil {
		return nil, fmt.Errorf("list canonical months: %w", err)
	}

	// Check 2: previous month exists for pairwise comparisons
	prevCheck := SufficiencyCheck{Name: "previous_month_present", Threshold: "latest - 1 month", Actual: "no months"}
	if len(months) > 0 {
		result.Latest = months[len(months)-1]
		prev := result.Latest.AddMonths(-1)
		prevCheck.Threshold = prev.String()
		prevCheck.Actual = "missing"
		for _, m := range months {
			if m == prev {
				prevCheck.Actual = "present"
				prevCheck.Pass = true
			}
		}
	}
	add(prevCheck)

	// Check 3: enough months inside the lookback window for trends
	inWindow := 0
	if len(months) > 0 {
		start := result.Latest.WindowStart(c.cfg.Run.LookbackMonths)
		for _, m := range months {
			if !m.Before(start) {
				inWindow++
			}
		}
	}
	add(SufficiencyCheck{
		Name:      "lookback_months_observed",
		Threshold: fmt.Sprintf(">= %d of %d", c.cfg.Run.MinMonthsObserved, c.cfg.Run.LookbackMonths),
		Actual:    fmt.Sprintf("%d", inWindow),
		Pass:      inWindow >= c.cfg.Run.MinMonthsObserved,
	})

	// Check 4: computed extracts for the market-share stage
	extracts := 0
	if files, err := reporting.ListCSV(c.cfg.Paths.ComputedDir); err == nil {
		extracts = len(files)
	}
	add(SufficiencyCheck{
		Name:      "computed_extracts",
		Threshold: ">= 2",
		Actual:    fmt.Sprintf("%d", extracts),
		Pass:      extracts >= 2,
	})

	// Check 5-6: scope lists; missing means every entity is in scope
	for _, name := range []string{rollup.SellerScopeFile, rollup.CategoryScopeFile} {
		present := reporting.Exists(filepath.Join(c.cfg.Paths.ScopeDir, name))
		actual := "missing (all in scope)"
		if present {
			actual = "present"
		}
		add(SufficiencyCheck{Name: name, Threshold: "present", Actual: actual, Pass: present})
	}

	return result, nil
}

// Rows converts the checks into run report rows.
func (r *SufficiencyResult) Rows() []reporting.DataCheckRow {
	rows := make([]reporting.DataCheckRow, len(r.Checks))
	for i, c := range r.Checks {
		rows[i] = reporting.DataCheckRow{Name: c.Name, Threshold: c.Threshold, Actual: c.Actual, Pass: c.Pass}
	}
	return rows
}
