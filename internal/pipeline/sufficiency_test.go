package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage/memory"
)

func TestSufficiencyChecker(t *testing.T) {
	cfg, _ := testConfig(t)
	writeFile(t, filepath.Join(cfg.Paths.ComputedDir, "only_one.csv"), computedHeader)
	writeFile(t, filepath.Join(cfg.Paths.ScopeDir, "Seller_in_scope.csv"), "country,platform,seller_id\n")

	store := memory.NewCanonicalStore()
	ctx := context.Background()
	var records []*domain.CanonicalRecord
	for _, m := range []string{"2025-10", "2025-12"} {
		month, err := domain.ParseMonth(m)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, &domain.CanonicalRecord{
			Country: "PH", Platform: "SHP", Month: month, SellerID: "s1", SPUID: "p1",
		})
	}
	if err := store.AppendBatch(ctx, records); err != nil {
		t.Fatal(err)
	}

	res, err := NewSufficiencyChecker(store, cfg).Check(ctx)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.AllPass {
		t.Error("expected AllPass false")
	}
	if res.Latest.String() != "2025-12" {
		t.Errorf("expected latest 2025-12, got %s", res.Latest)
	}

	want := map[string]struct {
		actual string
		pass   bool
	}{
		"canonical_rows":            {"2", true},
		"previous_month_present":    {"missing", false},
		"lookback_months_observed":  {"2", true},
		"computed_extracts":         {"1", false},
		"Seller_in_scope.csv":       {"present", true},
		"Category_url_in_scope.csv": {"missing (all in scope)", false},
	}
	if len(res.Checks) != len(want) {
		t.Fatalf("expected %d checks, got %d", len(want), len(res.Checks))
	}
	for _, c := range res.Checks {
		w, ok := want[c.Name]
		if !ok {
			t.Errorf("unexpected check %s", c.Name)
			continue
		}
		if c.Actual != w.actual || c.Pass != w.pass {
			t.Errorf("%s: got (%s, %v), want (%s, %v)", c.Name, c.Actual, c.Pass, w.actual, w.pass)
		}
	}

	rows := res.Rows()
	if rows[1].Threshold != "2025-11" {
		t.Errorf("expected previous month threshold 2025-11, got %s", rows[1].Threshold)
	}
}
