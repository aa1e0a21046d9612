package reporting

import (
	"strings"
	"testing"
	"time"
)

func TestRenderMarkdown(t *testing.T) {
	r := &RunReport{
		GeneratedAt:   time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC),
		RunID:         "run-1",
		LatestMonth:   "2025-12",
		InputDir:      "data/raw",
		CanonicalRows: 42,
		DataChecks: []DataCheckRow{
			{Name: "previous_month_present", Threshold: "2025-11", Actual: "missing", Pass: false},
		},
		Steps: []StepRow{
			{Name: "normalize", Status: StepDone, Duration: 1500 * time.Millisecond, Outputs: []string{"work/canonical.sqlite"}},
			{Name: "vendor-coverage", Status: StepSkipped, Reason: "previous month missing"},
			{Name: "decision", Status: StepDone, Outputs: []string{"result/a.csv", "result/b.md"}},
		},
	}

	md := RenderMarkdown(r)
	for _, want := range []string{
		"Generated: 2025-12-31T10:00:00Z",
		"Run: run-1",
		"| Rows | 42 |",
		"| Content SHA-256 | - |",
		"| previous_month_present | 2025-11 | missing | FAIL |",
		"| 1 | normalize | DONE | 1.5s | canonical.sqlite |",
		"| 2 | vendor-coverage | SKIPPED | 0s | previous month missing |",
		"| 3 | decision | DONE | 0s | a.csv, b.md |",
		"Steps: 2 done, 1 skipped",
		"- result/b.md",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(&RunReport{})
	if strings.Contains(md, "Data Sufficiency") {
		t.Error("empty report should not render a data sufficiency section")
	}
	if !strings.Contains(md, "No steps executed.") || !strings.Contains(md, "No outputs produced.") {
		t.Errorf("unexpected markdown:\n%s", md)
	}
}
