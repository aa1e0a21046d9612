// Package observability provides Prometheus metrics for pipeline runs.
package observability

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "marketshare_qaqc"

// Metrics holds the Prometheus metrics of one run.
// Each instance owns a private registry so runs and tests never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Step metrics
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec

	// Data metrics
	CanonicalRows prometheus.Gauge
	DroppedRows   prometheus.Gauge
	AbnormalRows  *prometheus.GaugeVec

	// Archive metrics
	ArchiveWrites *prometheus.CounterVec

	// Health metrics
	LastRunFinished prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Step metrics
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Total number of pipeline steps by outcome",
		}, []string{"step", "status"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"step"}),

		// Data metrics
		CanonicalRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "canonical",
			Name:      "rows",
			Help:      "Rows in the canonical table",
		}),
		DroppedRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "canonical",
			Name:      "dropped_rows",
			Help:      "Raw rows dropped while building the canonical table",
		}),
		AbnormalRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "checks",
			Name:      "abnormal_rows",
			Help:      "Abnormal rows written per output file",
		}, []string{"output"}),

		// Archive metrics
		ArchiveWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "writes_total",
			Help:      "Run archive writes by backend and status",
		}, []string{"backend", "status"}),

		// Health metrics
		LastRunFinished: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_run_finished_timestamp",
			Help:      "Unix timestamp of the last finished run",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStep records a finished pipeline step.
func (m *Metrics) RecordStep(step, status string, d time.Duration) {
	m.StepsTotal.WithLabelValues(step, status).Inc()
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// SetCanonical records canonical table sizes.
func (m *Metrics) SetCanonical(rows, dropped int64) {
	m.CanonicalRows.Set(float64(rows))
	m.DroppedRows.Set(float64(dropped))
}

// SetAbnormalRows records the abnormal row count of one output file.
// Only the base name is used as the label.
func (m *Metrics) SetAbnormalRows(output string, n int) {
	m.AbnormalRows.WithLabelValues(filepath.Base(output)).Set(float64(n))
}

// RecordArchive records one archive write attempt.
func (m *Metrics) RecordArchive(backend string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ArchiveWrites.WithLabelValues(backend, status).Inc()
}

// MarkFinished sets the last-run timestamp.
func (m *Metrics) MarkFinished(t time.Time) {
	m.LastRunFinished.Set(float64(t.Unix()))
}

// WriteTextfile writes all metrics in the node-exporter textfile format.
// The write is atomic (temp file + rename).
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
