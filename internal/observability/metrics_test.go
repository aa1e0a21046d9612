package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordStep(t *testing.T) {
	m := NewMetrics("")

	m.RecordStep("normalize", "DONE", 2*time.Second)
	m.RecordStep("vendor-coverage", "SKIPPED", 0)
	m.RecordStep("vendor-coverage", "SKIPPED", 0)

	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("normalize", "DONE")); got != 1 {
		t.Errorf("normalize DONE = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StepsTotal.WithLabelValues("vendor-coverage", "SKIPPED")); got != 2 {
		t.Errorf("vendor-coverage SKIPPED = %v, want 2", got)
	}
}

func TestMetrics_PrivateRegistries(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")

	a.SetCanonical(10, 1)
	b.SetCanonical(20, 0)

	if got := testutil.ToFloat64(a.CanonicalRows); got != 10 {
		t.Errorf("a canonical rows = %v, want 10", got)
	}
	if got := testutil.ToFloat64(b.CanonicalRows); got != 20 {
		t.Errorf("b canonical rows = %v, want 20", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics("test")
	m.SetAbnormalRows("/tmp/result/qaqc_vendor_coverage.csv", 3)
	m.RecordArchive("postgres", nil)
	m.RecordArchive("clickhouse", errors.New("down"))
	m.MarkFinished(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "metrics", "qaqc.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`test_checks_abnormal_rows{output="qaqc_vendor_coverage.csv"} 3`,
		`test_archive_writes_total{backend="clickhouse",status="error"} 1`,
		`test_archive_writes_total{backend="postgres",status="ok"} 1`,
		`test_health_last_run_finished_timestamp 1.7e+09`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("")
	m.SetCanonical(5, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "marketshare_qaqc_canonical_rows 5") {
		t.Errorf("handler output missing canonical rows:\n%s", body)
	}
}
