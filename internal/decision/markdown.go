package decision

import (
	"fmt"
	"strings"

	"marketshare-qaqc/internal/domain"
)

// RenderMarkdown renders the decision result and the country×platform
// verdicts as a Markdown report.
func RenderMarkdown(result *Result, cps []domain.CountryPlatformResult) string {
	var sb strings.Builder

	sb.WriteString("# QA/QC Decision Report\n\n")
	sb.WriteString(fmt.Sprintf("## Decision: %s\n\n", result.Overall))
	sb.WriteString(fmt.Sprintf("Scope: %s\n\n", result.Scope))

	// Checks table
	sb.WriteString("## Checks\n\n")
	sb.WriteString("| # | Stage | Check | Status | Key metric | Benchmark | Reference |\n")
	sb.WriteString("|---|-------|-------|--------|------------|-----------|-----------|\n")
	for i, r := range result.Rows {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |\n",
			i+1, r.Stage, r.CheckName, r.Status, r.KeyMetric, escape(r.Benchmark), r.ReferenceFile))
	}
	sb.WriteString("\n")

	passed := 0
	for _, r := range result.Rows {
		if r.Status == domain.DecisionPass {
			passed++
		}
	}
	sb.WriteString(fmt.Sprintf("Checks: %d/%d passed\n\n", passed, len(result.Rows)))

	if len(result.Skipped) > 0 {
		sb.WriteString("Skipped (input missing): " + strings.Join(result.Skipped, ", ") + "\n\n")
	}
	if len(result.Empty) > 0 {
		sb.WriteString("Not reported (no rows in scope): " + strings.Join(result.Empty, ", ") + "\n\n")
	}

	// Country×platform verdicts
	if len(cps) > 0 {
		sb.WriteString("## Country × Platform\n\n")
		sb.WriteString("| Country | Platform | Sellers normal | Seller rate | Categories normal | Category rate | Good to use |\n")
		sb.WriteString("|---------|----------|----------------|-------------|-------------------|---------------|-------------|\n")
		for _, c := range cps {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d/%d | %.2f%% | %d/%d | %.2f%% | %s |\n",
				c.Country, c.Platform,
				c.SellerNormal, c.SellerTotal, c.SellerNormalRate*100,
				c.CategoryNormal, c.CategoryTotal, c.CategoryNormalRate*100,
				yesNo(c.GoodToUse)))
		}
		sb.WriteString("\n")
	}

	// Summary
	sb.WriteString("## Summary\n\n")
	if result.Overall == domain.DecisionPass {
		sb.WriteString("All checks passed.\n")
	} else {
		sb.WriteString(fmt.Sprintf("Decision is %s due to:\n", result.Overall))
		for _, r := range result.Rows {
			if r.Status != domain.DecisionPass {
				sb.WriteString(fmt.Sprintf("- %s %s: %s (see %s)\n", r.Status, r.CheckName, r.KeyMetric, r.ReferenceFile))
			}
		}
	}

	return sb.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
