package metrics

import (
	"math"
	"testing"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
		ok     bool
	}{
		{"empty", nil, 0, false},
		{"single", []float64{7}, 7, true},
		{"odd unsorted", []float64{9, 1, 5}, 5, true},
		{"even averages middle pair", []float64{10, 2, 4, 8}, 6, true},
		{"duplicates", []float64{3, 3, 3, 100}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Median(tt.values)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMedian_DoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Median(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input mutated: %v", values)
	}
}

func TestMean(t *testing.T) {
	if _, ok := Mean(nil); ok {
		t.Error("expected ok=false for empty input")
	}
	got, ok := Mean([]float64{1, 2, 3, 4})
	if !ok || got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
}

func TestSafeRatio(t *testing.T) {
	if got := SafeRatio(10, 4); got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
	if got := SafeRatio(10, 0); !math.IsNaN(got) {
		t.Errorf("expected NaN for zero denominator, got %v", got)
	}
	if got := SafeRatio(math.Inf(1), 1); !math.IsNaN(got) {
		t.Errorf("expected NaN for infinite numerator, got %v", got)
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if got := computePercentile(sorted, 0.50); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
	if got := computePercentile(sorted, 0.25); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if got := computePercentile(nil, 0.5); got != 0 {
		t.Errorf("expected 0 for empty, got %v", got)
	}
}
