// Package orchestrator runs pipeline steps in order with failure isolation.
// A failing or unprepared step is reported as skipped and never stops the
// steps after it.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/observability"
	"marketshare-qaqc/internal/reporting"
)

// Step statuses.
const (
	StatusDone    = reporting.StepDone
	StatusSkipped = reporting.StepSkipped
)

// Step is one unit of pipeline work.
type Step struct {
	Name     string
	Requires []string // upstream files that must exist before running
	Outputs  []string // files written by Run; removed before it starts
	Run      func(ctx context.Context) error
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Status   string
	Reason   string
	Duration time.Duration
	Outputs  []string // outputs present after a DONE step
}

// RunResult contains results from runner execution.
type RunResult struct {
	Steps []StepResult
}

// Done returns the number of completed steps.
func (r *RunResult) Done() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StatusDone {
			n++
		}
	}
	return n
}

// Skipped returns the number of skipped steps.
func (r *RunResult) Skipped() int {
	return len(r.Steps) - r.Done()
}

// Step returns the result for a named step.
func (r *RunResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// ReportRows converts the results into run report rows.
func (r *RunResult) ReportRows() []reporting.StepRow {
	rows := make([]reporting.StepRow, len(r.Steps))
	for i, s := range r.Steps {
		rows[i] = reporting.StepRow{
			Name:     s.Name,
			Status:   s.Status,
			Reason:   s.Reason,
			Duration: s.Duration,
			Outputs:  s.Outputs,
		}
	}
	return rows
}

// Options for creating Runner.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics // optional
	Clock   func() time.Time       // defaults to time.Now
}

// Runner executes steps strictly in order.
type Runner struct {
	log     *zap.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// New creates a new Runner.
func New(opts Options) *Runner {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Runner{
		log:     logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
		clock:   clock,
	}
}

// Run executes every step. It never returns early: a cancelled context
// marks the remaining steps skipped.
func (r *Runner) Run(ctx context.Context, steps []Step) *RunResult {
	result := &RunResult{}
	for _, step := range steps {
		res := r.runStep(ctx, step)
		result.Steps = append(result.Steps, res)
		if r.metrics != nil {
			r.metrics.RecordStep(res.Name, res.Status, res.Duration)
		}
	}

	r.log.Info("pipeline finished",
		zap.Int("done", result.Done()),
		zap.Int("skipped", result.Skipped()),
	)
	return result
}

func (r *Runner) runStep(ctx context.Context, step Step) StepResult {
	res := StepResult{Name: step.Name}
	log := r.log.With(zap.String("step", step.Name))

	skip := func(reason string) StepResult {
		res.Status = StatusSkipped
		res.Reason = reason
		log.Warn("SKIPPED", zap.String("reason", reason))
		return res
	}

	if err := ctx.Err(); err != nil {
		return skip(fmt.Sprintf("cancelled: %v", err))
	}

	// Stale outputs never survive a rerun
	for _, out := range step.Outputs {
		if err := reporting.RemoveOutput(out); err != nil {
			return skip(err.Error())
		}
	}

	var missing []string
	for _, req := range step.Requires {
		if !reporting.Exists(req) {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return skip(fmt.Sprintf("missing required input: %v", missing))
	}

	log.Info("RUN")
	start := r.clock()
	err := r.safeRun(ctx, step)
	res.Duration = r.clock().Sub(start)
	if err != nil {
		res.Duration = 0
		return skip(err.Error())
	}

	for _, out := range step.Outputs {
		if reporting.Exists(out) {
			res.Outputs = append(res.Outputs, out)
		}
	}
	res.Status = StatusDone
	log.Info("DONE",
		zap.Duration("duration", res.Duration),
		zap.Strings("outputs", res.Outputs),
	)
	return res
}

// safeRun converts a panic inside a step into an error.
func (r *Runner) safeRun(ctx context.Context, step Step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if step.Run == nil {
		return nil
	}
	return step.Run(ctx)
}
