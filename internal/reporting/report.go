package reporting

import "time"

// Step statuses.
const (
	StepDone    = "DONE"
	StepSkipped = "SKIPPED"
)

// RunReport describes one pipeline run.
type RunReport struct {
	// Metadata
	GeneratedAt time.Time
	RunID       string
	LatestMonth string

	// Canonical table
	InputDir        string
	CanonicalRows   int64
	DroppedRows     int64
	CanonicalDigest string

	// Pre-run data checks; informational, they never stop a step
	DataChecks []DataCheckRow

	// Steps in execution order
	Steps []StepRow
}

// DataCheckRow is one data sufficiency criterion.
type DataCheckRow struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// StepRow is the outcome of one pipeline step.
type StepRow struct {
	Name     string
	Status   string // DONE | SKIPPED
	Reason   string // skip reason
	Duration time.Duration
	Outputs  []string
}

// Outputs lists every file produced by completed steps, in step order.
func (r *RunReport) Outputs() []string {
	var out []string
	for _, s := range r.Steps {
		out = append(out, s.Outputs...)
	}
	return out
}

// Counts returns the number of completed and skipped steps.
func (r *RunReport) Counts() (done, skipped int) {
	for _, s := range r.Steps {
		if s.Status == StepDone {
			done++
		} else {
			skipped++
		}
	}
	return done, skipped
}
