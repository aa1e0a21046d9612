package rollup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "..", "config", "qaqc.yaml"))
	require.NoError(t, err)
	return cfg
}

func write(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func canonical(country, platform, seller, category, month, spu string) *domain.CanonicalRecord {
	return &domain.CanonicalRecord{
		Country:          country,
		Platform:         platform,
		SellerID:         seller,
		SellerName:       "Shop " + seller,
		CategoryOrSource: category,
		Month:            domain.MustParseMonth(month),
		SPUID:            spu,
		VendorGroup:      "v1",
	}
}

func rollupFixture(t *testing.T) (*memory.CanonicalStore, Inputs, Inputs) {
	t.Helper()
	var recs []*domain.CanonicalRecord
	for i := 1; i <= 20; i++ {
		recs = append(recs, canonical("PH", "SHP", "s1", "", "2025-12", fmt.Sprintf("p%d", i)))
	}
	recs = append(recs,
		canonical("PH", "SHP", "s1", "", "2025-11", "old"),
		canonical("PH", "SHP", "s2", "", "2025-12", "q1"),
		canonical("PH", "SHP", "s2", "", "2025-12", "q2"),
		canonical("PH", "SHP", "s3", "", "2025-12", "r1"),
		canonical("VN", "LAZ", "s4", "", "2025-12", "z1"),
		canonical("PH", "SHP", "s1", "catA", "2025-12", "p1"),
		canonical("PH", "SHP", "s1", "catA", "2025-12", "c2"),
		canonical("PH", "SHP", "s1", "catB", "2025-12", "c3"),
		canonical("TH", "SHP", "s9", "catC", "2025-12", "c4"),
	)
	store := memory.NewCanonicalStore()
	require.NoError(t, store.AppendBatch(context.Background(), recs))

	dir := t.TempDir()
	spu := Inputs{
		SameMonth: write(t, filepath.Join(dir, "same.csv"),
			"spu_id,month,metric_name,vendor_group_count,ratio_pct,check_result\n"+
				"p1,2025-12,price,2,150.00,FAIL\n"+
				"r1,2025-11,price,2,150.00,FAIL\n"),
		Attribute: write(t, filepath.Join(dir, "attr.csv"),
			"spu_id,seller_id,check_type,issue_type,total_rows,diff_rows,check_result\n"+
				"q1,s2,single_row,platform_url_mismatch,1,1,FAIL\n"),
		DiffMonths: write(t, filepath.Join(dir, "diff.csv"),
			"spu_id,seller_id,metric_name,month_latest,lookback_months,months_observed,median,latest,ratio,trend_status\n"+
				"r1,s3,price,2025-12,3,1,-,5,-,insufficient-history\n"),
	}

	seller := spu
	seller.Trend = write(t, filepath.Join(dir, "seller_trend.csv"),
		"country,platform,seller_id,month_latest,lookback_months,months_observed,median,latest,ratio,trend_status\n"+
			"PH,SHP,s1,2025-12,3,2,25,20,80.00%,abnormal-drop\n"+
			"PH,SHP,s3,2025-12,3,2,5,1,20.00%,abnormal-drop\n")
	seller.Scope = write(t, filepath.Join(dir, SellerScopeFile),
		"country,platform,seller_id\nPH,SHP,s1\nPH,SHP,s2\nPH,SHP,s3\n")

	category := spu
	category.Trend = filepath.Join(dir, "absent_category_trend.csv")
	category.Scope = write(t, filepath.Join(dir, CategoryScopeFile),
		"country,platform,category_url\nPH,SHP,catA\nPH,SHP,catB\n")
	return store, seller, category
}

func readAll(t *testing.T, path string, cols ...string) [][]string {
	t.Helper()
	var out [][]string
	require.NoError(t, reporting.ScanCSV(path, cols, func(r reporting.Row) error {
		rec := make([]string, len(cols))
		for i, c := range cols {
			rec[i] = r.Get(c)
		}
		out = append(out, rec)
		return nil
	}))
	return out
}

func testOptions(t *testing.T) Options {
	return Options{TempDir: filepath.Join(t.TempDir(), "tmp")}
}

func TestSellerRollup(t *testing.T) {
	store, in, _ := rollupFixture(t)
	out := filepath.Join(t.TempDir(), SellerFile)

	res, err := NewSellerRollup(store, testConfig(t), testOptions(t)).Run(context.Background(), in, out)
	require.NoError(t, err)
	require.Equal(t, 4, res.Entities)
	require.Equal(t, 2, res.Abnormal)
	require.Equal(t, 3, res.InScope)

	got := readAll(t, out, "country", "seller_id", "seller_name", "month", "total_spu", "abnormal_spu",
		"normal_rate", "quality_status", "trend_status", "status", "in_scope")
	require.Equal(t, [][]string{
		{"PH", "s1", "Shop s1", "2025-12", "20", "1", "0.950000", "PASS", "FAIL", "Abnormal", "True"},
		{"PH", "s2", "Shop s2", "2025-12", "2", "1", "0.500000", "FAIL", "PASS", "Abnormal", "True"},
		{"PH", "s3", "Shop s3", "2025-12", "1", "0", "1.000000", "PASS", "PASS", "Normal", "True"},
		{"VN", "s4", "Shop s4", "2025-12", "1", "0", "1.000000", "PASS", "PASS", "Normal", "False"},
	}, got)
}

func TestCategoryRollup(t *testing.T) {
	store, _, in := rollupFixture(t)
	out := filepath.Join(t.TempDir(), CategoryFile)

	res, err := NewCategoryRollup(store, testConfig(t), testOptions(t)).Run(context.Background(), in, out)
	require.NoError(t, err)
	require.Equal(t, 3, res.Entities)

	got := readAll(t, out, "country", "category_url", "total_spu", "abnormal_spu", "status", "in_scope")
	require.Equal(t, [][]string{
		{"PH", "catA", "2", "1", "Abnormal", "True"},
		{"PH", "catB", "1", "0", "Normal", "True"},
		{"TH", "catC", "1", "0", "Normal", "False"},
	}, got)
}

func TestCategoryRollup_ScopeMissingColumn(t *testing.T) {
	store, _, in := rollupFixture(t)
	in.Scope = write(t, filepath.Join(t.TempDir(), CategoryScopeFile), "country,platform\nPH,SHP\n")

	_, err := NewCategoryRollup(store, testConfig(t), testOptions(t)).
		Run(context.Background(), in, filepath.Join(t.TempDir(), CategoryFile))
	var mce *reporting.MissingColumnsError
	require.True(t, errors.As(err, &mce), "expected MissingColumnsError, got %v", err)
	require.Equal(t, []string{"category_url"}, mce.Columns)
}

func TestSellerRollup_ScopeBySellerUsedID(t *testing.T) {
	store, in, _ := rollupFixture(t)
	in.Scope = write(t, filepath.Join(t.TempDir(), SellerScopeFile), "seller_used_id\ns1\n s2 \ns4\n\n")
	out := filepath.Join(t.TempDir(), SellerFile)

	res, err := NewSellerRollup(store, testConfig(t), testOptions(t)).Run(context.Background(), in, out)
	require.NoError(t, err)
	require.Equal(t, 4, res.Entities)
	require.Equal(t, 3, res.InScope)

	got := readAll(t, out, "seller_id", "in_scope")
	require.Equal(t, [][]string{
		{"s1", "True"},
		{"s2", "True"},
		{"s3", "False"},
		{"s4", "True"},
	}, got)
}

func TestCategoryRollup_ScopeByURLOnly(t *testing.T) {
	store, _, in := rollupFixture(t)
	in.Scope = write(t, filepath.Join(t.TempDir(), CategoryScopeFile), "category_url\ncatA\ncatC\n")
	out := filepath.Join(t.TempDir(), CategoryFile)

	res, err := NewCategoryRollup(store, testConfig(t), testOptions(t)).Run(context.Background(), in, out)
	require.NoError(t, err)
	require.Equal(t, 2, res.InScope)

	got := readAll(t, out, "category_url", "in_scope")
	require.Equal(t, [][]string{
		{"catA", "True"},
		{"catB", "False"},
		{"catC", "True"},
	}, got)
}

func TestSellerRollup_WithoutOptionalInputs(t *testing.T) {
	store, _, _ := rollupFixture(t)
	out := filepath.Join(t.TempDir(), SellerFile)

	res, err := NewSellerRollup(store, testConfig(t), testOptions(t)).Run(context.Background(), Inputs{}, out)
	require.NoError(t, err)
	require.Equal(t, 0, res.Abnormal)
	require.Equal(t, 4, res.InScope, "no scope file puts every seller in scope")
}

func TestCountryPlatformRollup(t *testing.T) {
	dir := t.TempDir()
	sellers := write(t, filepath.Join(dir, SellerFile),
		"country,platform,seller_id,status,in_scope\n"+
			"PH,SHP,s1,Normal,True\n"+
			"PH,SHP,s2,Normal,True\n"+
			"PH,LAZ,s3,Abnormal,True\n"+
			"PH,LAZ,s4,Normal,True\n"+
			"VN,TTK,s5,Normal,False\n")
	categories := write(t, filepath.Join(dir, CategoryFile),
		"country,platform,category_url,status,in_scope\n"+
			"PH,SHP,c1,Normal,True\n"+
			"PH,LAZ,c2,Normal,True\n"+
			"SG,SHP,c3,Normal,True\n")
	out := filepath.Join(dir, CountryPlatformFile)

	results, err := NewCountryPlatformRollup(testConfig(t), nil).Run(sellers, categories, out)
	require.NoError(t, err)
	require.Len(t, results, 4)

	byPair := make(map[string]domain.CountryPlatformResult)
	for _, r := range results {
		byPair[r.Country+"/"+r.Platform] = r
	}

	ph := byPair["PH/SHP"]
	require.True(t, ph.SellerCheckGood)
	require.True(t, ph.CategoryCheckGood)
	require.True(t, ph.GoodToUse)

	laz := byPair["PH/LAZ"]
	require.Equal(t, 2, laz.SellerTotal)
	require.Equal(t, 0.5, laz.SellerNormalRate)
	require.False(t, laz.GoodToUse)

	// out-of-scope sellers keep the pair but leave the denominator empty
	vn := byPair["VN/TTK"]
	require.Equal(t, 0, vn.SellerTotal)
	require.Equal(t, 0.0, vn.SellerNormalRate)
	require.False(t, vn.SellerCheckGood)

	sg := byPair["SG/SHP"]
	require.Equal(t, 0, sg.SellerTotal)
	require.True(t, sg.CategoryCheckGood)
	require.False(t, sg.GoodToUse)

	reread, err := ReadCountryPlatform(out)
	require.NoError(t, err)
	require.Equal(t, results, reread)
}

func TestCountryPlatformRollup_OneSideMissing(t *testing.T) {
	dir := t.TempDir()
	sellers := write(t, filepath.Join(dir, SellerFile),
		"country,platform,seller_id,status,in_scope\nPH,SHP,s1,Normal,True\n")

	results, err := NewCountryPlatformRollup(testConfig(t), nil).
		Run(sellers, filepath.Join(dir, "missing.csv"), filepath.Join(dir, CountryPlatformFile))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].SellerCheckGood)
	require.False(t, results[0].CategoryCheckGood)

	_, err = NewCountryPlatformRollup(testConfig(t), nil).
		Run(filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv"), filepath.Join(dir, "out.csv"))
	require.ErrorIs(t, err, reporting.ErrOutputMissing)
}
