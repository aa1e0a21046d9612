package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RenderMarkdown renders a run report as Markdown string.
func RenderMarkdown(r *RunReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# QA/QC Run\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))
	}

	// Canonical table
	sb.WriteString("## Canonical Table\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Input Dir | %s |\n", orDash(r.InputDir)))
	sb.WriteString(fmt.Sprintf("| Latest Month | %s |\n", orDash(r.LatestMonth)))
	sb.WriteString(fmt.Sprintf("| Rows | %d |\n", r.CanonicalRows))
	sb.WriteString(fmt.Sprintf("| Dropped Rows | %d |\n", r.DroppedRows))
	sb.WriteString(fmt.Sprintf("| Content SHA-256 | %s |\n", orDash(r.CanonicalDigest)))
	sb.WriteString("\n")

	// Data sufficiency
	if len(r.DataChecks) > 0 {
		sb.WriteString("## Data Sufficiency\n\n")
		sb.WriteString("| Check | Threshold | Actual | Pass |\n")
		sb.WriteString("|-------|-----------|--------|------|\n")
		for _, c := range r.DataChecks {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", c.Name, c.Threshold, c.Actual, passLabel(c.Pass)))
		}
		sb.WriteString("\n")
	}

	// Steps
	done, skipped := r.Counts()
	sb.WriteString("## Steps\n\n")
	if len(r.Steps) > 0 {
		sb.WriteString("| # | Step | Status | Duration | Detail |\n")
		sb.WriteString("|---|------|--------|----------|--------|\n")
		for i, s := range r.Steps {
			detail := s.Reason
			if s.Status == StepDone {
				names := make([]string, len(s.Outputs))
				for j, o := range s.Outputs {
					names[j] = filepath.Base(o)
				}
				detail = strings.Join(names, ", ")
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, s.Name, s.Status, s.Duration.Round(time.Millisecond), orDash(detail)))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No steps executed.\n\n")
	}
	sb.WriteString(fmt.Sprintf("Steps: %d done, %d skipped\n\n", done, skipped))

	// Outputs
	sb.WriteString("## Outputs\n\n")
	outputs := r.Outputs()
	if len(outputs) > 0 {
		for _, o := range outputs {
			sb.WriteString(fmt.Sprintf("- %s\n", o))
		}
	} else {
		sb.WriteString("No outputs produced.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

func passLabel(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
