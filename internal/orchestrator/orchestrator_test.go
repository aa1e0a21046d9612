package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"marketshare-qaqc/internal/observability"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("a\n1\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunner_RunsInOrderAndListsOutputs(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	var order []string
	steps := []Step{
		{Name: "first", Outputs: []string{first}, Run: func(context.Context) error {
			order = append(order, "first")
			writeFile(t, first)
			return nil
		}},
		{Name: "second", Requires: []string{first}, Outputs: []string{second}, Run: func(context.Context) error {
			order = append(order, "second")
			writeFile(t, second)
			return nil
		}},
	}

	result := New(Options{}).Run(context.Background(), steps)

	if strings.Join(order, ",") != "first,second" {
		t.Errorf("unexpected order %v", order)
	}
	if result.Done() != 2 || result.Skipped() != 0 {
		t.Fatalf("expected 2 done, got %+v", result.Steps)
	}
	s, _ := result.Step("second")
	if len(s.Outputs) != 1 || s.Outputs[0] != second {
		t.Errorf("expected outputs [%s], got %v", second, s.Outputs)
	}
}

func TestRunner_FailureIsolation(t *testing.T) {
	ran := false
	steps := []Step{
		{Name: "broken", Run: func(context.Context) error { return errors.New("threshold missing") }},
		{Name: "panics", Run: func(context.Context) error { panic("boom") }},
		{Name: "after", Run: func(context.Context) error { ran = true; return nil }},
	}

	m := observability.NewMetrics("")
	result := New(Options{Metrics: m}).Run(context.Background(), steps)

	if !ran {
		t.Error("step after failures did not run")
	}
	broken, _ := result.Step("broken")
	if broken.Status != StatusSkipped || broken.Reason != "threshold missing" {
		t.Errorf("unexpected broken result %+v", broken)
	}
	panics, _ := result.Step("panics")
	if panics.Status != StatusSkipped || !strings.Contains(panics.Reason, "boom") {
		t.Errorf("unexpected panic result %+v", panics)
	}
	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("broken", StatusSkipped)); got != 1 {
		t.Errorf("expected skipped metric 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("after", StatusDone)); got != 1 {
		t.Errorf("expected done metric 1, got %v", got)
	}
}

func TestRunner_MissingRequirementSkipsAndRemovesStaleOutput(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.csv")
	writeFile(t, stale)
	writeFile(t, stale+".tmp")

	called := false
	steps := []Step{{
		Name:     "needs-upstream",
		Requires: []string{filepath.Join(dir, "upstream.csv")},
		Outputs:  []string{stale},
		Run:      func(context.Context) error { called = true; return nil },
	}}

	result := New(Options{}).Run(context.Background(), steps)

	if called {
		t.Error("step with missing input was executed")
	}
	s := result.Steps[0]
	if s.Status != StatusSkipped || !strings.Contains(s.Reason, "upstream.csv") {
		t.Errorf("unexpected result %+v", s)
	}
	for _, p := range []string{stale, stale + ".tmp"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("stale output %s survived", p)
		}
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := []Step{
		{Name: "cancel", Run: func(context.Context) error { cancel(); return nil }},
		{Name: "never", Run: func(context.Context) error { t.Error("ran after cancel"); return nil }},
	}

	result := New(Options{}).Run(ctx, steps)

	if result.Done() != 1 || result.Skipped() != 1 {
		t.Fatalf("unexpected result %+v", result.Steps)
	}
	if !strings.HasPrefix(result.Steps[1].Reason, "cancelled") {
		t.Errorf("unexpected reason %q", result.Steps[1].Reason)
	}
}

func TestRunner_DurationFromClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	result := New(Options{Clock: clock}).Run(context.Background(), []Step{{Name: "timed"}})

	rows := result.ReportRows()
	if len(rows) != 1 || rows[0].Duration != time.Second || rows[0].Status != StatusDone {
		t.Errorf("unexpected report rows %+v", rows)
	}
}
