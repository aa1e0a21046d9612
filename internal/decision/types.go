package decision

import "marketshare-qaqc/internal/domain"

// Output file names.
const (
	SummaryFile = "qaqc_decision_summary.csv"
	ReportFile  = "QAQC_REPORT.md"
)

// Severity is the status a check takes when it finds abnormal rows.
type Severity string

const (
	SeverityWarn Severity = domain.DecisionWarn
	SeverityFail Severity = domain.DecisionFail
)

// Check folds one upstream output into a decision row.
type Check struct {
	Name      string
	Stage     string
	Path      string
	Severity  Severity
	Benchmark string
	Required  []string
	// Abnormal reports whether a row counts against the check.
	Abnormal func(get func(col string) string) bool
}

// CheckOutcome is the folded result of one check.
type CheckOutcome struct {
	Check    *Check
	Rows     int // rows inside the scope filter
	Abnormal int
	Status   string
}

// Result contains the decision rows and the overall verdict.
type Result struct {
	Scope    string
	Overall  string // PASS | WARN | FAIL
	Rows     []domain.DecisionRow
	Outcomes []CheckOutcome
	Skipped  []string // checks whose input was missing
	Empty    []string // checks with no rows inside the scope
}
