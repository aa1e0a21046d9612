package decision

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/marketshare"
	"marketshare-qaqc/internal/rollup"
	"marketshare-qaqc/internal/vendorqa"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "..", "config", "qaqc.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	root := t.TempDir()
	cfg.Paths.ResultDir = filepath.Join(root, "result")
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	return cfg
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeOutputs(t *testing.T, cfg *config.Config) {
	t.Helper()
	writeFile(t, cfg.ResultFile(vendorqa.CoverageFile),
		"country,platform,status\nPH,SHP,PASS\nVN,LAZ,FAIL\n")
	writeFile(t, cfg.ResultFile(vendorqa.SellerPairwiseFile),
		"country,platform,seller_id,status\nPH,SHP,s1,abnormal-drop\nVN,LAZ,s2,normal\nPH,SHP,s4,new-in-latest\n")
	writeFile(t, cfg.ResultFile(vendorqa.SellerTrendFile),
		"country,platform,seller_id,trend_status\nPH,SHP,s1,abnormal-drop\nVN,LAZ,s2,normal\nPH,SHP,s3,insufficient-history\n")
	writeFile(t, cfg.WorkFile(rollup.CountryPlatformFile),
		"country,platform,good_to_use\nPH,SHP,True\n")
	writeFile(t, cfg.ResultFile(marketshare.SummaryFile),
		"country,platform,seller_id,revenue_status,quantity_status\nPH,SHP,a,normal,new-in-latest\n")
	writeFile(t, cfg.ResultFile(marketshare.TrendFile),
		"country,platform,seller_id,revenue_trend_status,quantity_trend_status\nPH,SHP,a,abnormal-increase,normal\n")
}

func statuses(rows []domain.DecisionRow) map[string]string {
	out := make(map[string]string)
	for _, r := range rows {
		out[r.CheckName] = r.Status
	}
	return out
}

func TestCompose_AllScopes(t *testing.T) {
	cfg := testConfig(t)
	writeOutputs(t, cfg)

	result, err := NewComposer(cfg, nil).Compose()
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if result.Scope != "ALL" {
		t.Errorf("expected scope ALL, got %s", result.Scope)
	}
	if result.Overall != domain.DecisionFail {
		t.Errorf("expected overall FAIL, got %s", result.Overall)
	}
	wantSkipped := []string{"vendor_category_pairwise", "vendor_category_trend_multi_month"}
	if strings.Join(result.Skipped, ",") != strings.Join(wantSkipped, ",") {
		t.Errorf("expected category checks skipped, got %v", result.Skipped)
	}

	want := map[string]string{
		"vendor_coverage":                 domain.DecisionFail,
		"vendor_seller_pairwise":          domain.DecisionWarn,
		"vendor_seller_trend_multi_month": domain.DecisionWarn,
		"country_platform_good_to_use":    domain.DecisionPass,
		"market_share_pairwise":           domain.DecisionPass,
		"market_share_trend_multi_month":  domain.DecisionWarn,
	}
	got := statuses(result.Rows)
	for name, status := range want {
		if got[name] != status {
			t.Errorf("%s: expected %s, got %s", name, status, got[name])
		}
	}

	first := result.Rows[0]
	if first.CheckName != "vendor_coverage" || first.KeyMetric != "abnormal_rows=1/2" ||
		first.ReferenceFile != vendorqa.CoverageFile || first.Benchmark != "coverage_ratio >= 95%" {
		t.Errorf("unexpected first row %+v", first)
	}
}

func TestCompose_ScopeFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScopeFilter.Countries = []string{"ph"}
	writeOutputs(t, cfg)

	result, err := NewComposer(cfg, nil).Compose()
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if result.Scope != "PH" {
		t.Errorf("expected scope PH, got %s", result.Scope)
	}
	if result.Overall != domain.DecisionWarn {
		t.Errorf("expected overall WARN, got %s", result.Overall)
	}
	if got := statuses(result.Rows)["vendor_coverage"]; got != domain.DecisionPass {
		t.Errorf("VN coverage failure must be filtered out, got %s", got)
	}
	for _, r := range result.Rows {
		if r.Scope != "PH" {
			t.Errorf("expected row scope PH, got %s", r.Scope)
		}
	}
}

func TestCompose_ScopeWithoutRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScopeFilter.Countries = []string{"VN"}
	writeOutputs(t, cfg)

	result, err := NewComposer(cfg, nil).Compose()
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	wantEmpty := []string{"country_platform_good_to_use", "market_share_pairwise", "market_share_trend_multi_month"}
	if strings.Join(result.Empty, ",") != strings.Join(wantEmpty, ",") {
		t.Errorf("expected %v without rows in scope, got %v", wantEmpty, result.Empty)
	}
	for _, r := range result.Rows {
		if r.Stage != domain.StageVendorInput {
			t.Errorf("check without rows in scope must not be reported: %+v", r)
		}
	}
	if got := statuses(result.Rows); got["vendor_seller_pairwise"] != domain.DecisionPass || got["vendor_coverage"] != domain.DecisionFail {
		t.Errorf("unexpected statuses %v", got)
	}

	cfg.ScopeFilter.Countries = []string{"TH"}
	if _, err := NewComposer(cfg, nil).Compose(); !errors.Is(err, ErrNoResults) {
		t.Errorf("scope matching nothing: expected ErrNoResults, got %v", err)
	}
}

func TestCompose_HeaderOnlyInput(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	full := filepath.Join(dir, "full.csv")
	writeFile(t, empty, "country,platform,status\n")
	writeFile(t, full, "country,platform,status\nPH,SHP,normal\n")

	never := func(func(string) string) bool { return false }
	checks := []*Check{
		{Name: "empty", Stage: domain.StageVendorInput, Path: empty, Severity: SeverityFail, Abnormal: never},
		{Name: "full", Stage: domain.StageVendorInput, Path: full, Severity: SeverityFail, Abnormal: never},
	}
	result, err := NewComposerWithChecks(checks, config.ScopeFilterConfig{}, nil).Compose()
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0].CheckName != "full" {
		t.Errorf("expected only the populated check, got %+v", result.Rows)
	}
	if len(result.Empty) != 1 || result.Empty[0] != "empty" {
		t.Errorf("expected empty check listed, got %v", result.Empty)
	}
}

func TestCompose_NoResults(t *testing.T) {
	_, err := NewComposer(testConfig(t), nil).Compose()
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestCompose_StageOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.csv")
	writeFile(t, path, "country,platform,status\nPH,SHP,normal\n")

	never := func(func(string) string) bool { return false }
	checks := []*Check{
		{Name: "computed", Stage: domain.StageComputedOutput, Path: path, Severity: SeverityWarn, Abnormal: never},
		{Name: "vendor", Stage: domain.StageVendorInput, Path: path, Severity: SeverityFail, Abnormal: never},
	}
	result, err := NewComposerWithChecks(checks, config.ScopeFilterConfig{}, nil).Compose()
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if result.Rows[0].Stage != domain.StageVendorInput || result.Rows[1].Stage != domain.StageComputedOutput {
		t.Errorf("expected vendor-input first, got %v", result.Rows)
	}
	if result.Overall != domain.DecisionPass {
		t.Errorf("expected PASS, got %s", result.Overall)
	}
}

func TestWriteReadSummary(t *testing.T) {
	cfg := testConfig(t)
	writeOutputs(t, cfg)
	result, err := NewComposer(cfg, nil).Compose()
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	path := cfg.ResultFile(SummaryFile)
	if err := WriteSummary(path, result.Rows); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	rows, err := ReadSummary(path)
	if err != nil {
		t.Fatalf("ReadSummary failed: %v", err)
	}
	if len(rows) != len(result.Rows) {
		t.Fatalf("expected %d rows, got %d", len(result.Rows), len(rows))
	}
	for i := range rows {
		if rows[i] != result.Rows[i] {
			t.Errorf("row %d: got %+v, want %+v", i, rows[i], result.Rows[i])
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	result := &Result{
		Scope:   "ALL",
		Overall: domain.DecisionWarn,
		Rows: []domain.DecisionRow{
			{Scope: "ALL", Stage: domain.StageVendorInput, CheckName: "vendor_coverage", Status: domain.DecisionPass,
				KeyMetric: "abnormal_rows=0/3", Benchmark: "coverage_ratio >= 95%", ReferenceFile: "qaqc_vendor_coverage.csv"},
			{Scope: "ALL", Stage: domain.StageComputedOutput, CheckName: "market_share_pairwise", Status: domain.DecisionWarn,
				KeyMetric: "abnormal_rows=2/9", Benchmark: "80% <= ratio < 200%", ReferenceFile: "qaqc_market_share_latest_summary.csv"},
		},
		Skipped: []string{"vendor_category_trend_multi_month"},
		Empty:   []string{"country_platform_good_to_use"},
	}
	cps := []domain.CountryPlatformResult{{
		Country: "PH", Platform: "SHP", SellerTotal: 4, SellerNormal: 4, SellerNormalRate: 1,
		CategoryTotal: 2, CategoryNormal: 1, CategoryNormalRate: 0.5,
	}}

	md := RenderMarkdown(result, cps)
	for _, want := range []string{
		"## Decision: WARN",
		"Checks: 1/2 passed",
		"Skipped (input missing): vendor_category_trend_multi_month",
		"Not reported (no rows in scope): country_platform_good_to_use",
		"| PH | SHP | 4/4 | 100.00% | 1/2 | 50.00% | no |",
		"- WARN market_share_pairwise: abnormal_rows=2/9",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}
