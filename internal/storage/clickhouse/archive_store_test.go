package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage"
)

func sampleRun(id string) *domain.RunRecord {
	return &domain.RunRecord{
		RunID:           id,
		StartedAt:       time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2026, 1, 5, 8, 12, 30, 0, time.UTC),
		LatestMonth:     "2025-12",
		CanonicalRows:   1200,
		CanonicalDigest: "abc123",
		StepsRun:        14,
		StepsSkipped:    2,
	}
}

func TestArchiveStore_SaveRun(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewArchiveStore(conn)
	ctx := context.Background()

	rows := []domain.DecisionRow{
		{Scope: "ALL", Stage: domain.StageVendorInput, CheckName: "vendor_coverage", Status: domain.DecisionPass, KeyMetric: "abnormal_rows=0/4", Benchmark: "coverage >= 95%", ReferenceFile: "qaqc_vendor_coverage.csv"},
		{Scope: "ALL", Stage: domain.StageComputedOutput, CheckName: "market_share_pairwise", Status: domain.DecisionWarn, KeyMetric: "abnormal_rows=3/10", Benchmark: "80% <= ratio < 200%", ReferenceFile: "qaqc_market_share_summary.csv"},
	}
	cps := []domain.CountryPlatformResult{
		{Country: "VN", Platform: "SHP", SellerTotal: 10, SellerNormal: 10, SellerNormalRate: 100, SellerCheckGood: true, CategoryTotal: 4, CategoryNormal: 4, CategoryNormalRate: 100, CategoryCheckGood: true, GoodToUse: true},
		{Country: "PH", Platform: "LAZ", SellerTotal: 8, SellerNormal: 6, SellerNormalRate: 75, CategoryTotal: 2, CategoryNormal: 2, CategoryNormalRate: 100, CategoryCheckGood: true},
	}

	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1"), rows, cps))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "2025-12", got.LatestMonth)
	assert.Equal(t, int64(1200), got.CanonicalRows)
	assert.Equal(t, "abc123", got.CanonicalDigest)
	assert.Equal(t, 14, got.StepsRun)
	assert.Equal(t, 2, got.StepsSkipped)
	assert.True(t, got.StartedAt.Equal(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)))

	gotRows, err := store.GetDecisionRows(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rows, gotRows)

	gotCPs, err := store.GetCountryPlatformResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, gotCPs, 2)
	assert.Equal(t, "PH", gotCPs[0].Country)
	assert.Equal(t, 6, gotCPs[0].SellerNormal)
	assert.False(t, gotCPs[0].GoodToUse)
	assert.Equal(t, cps[0], gotCPs[1])
}

func TestArchiveStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewArchiveStore(conn)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleRun("run-dup"), nil, nil))
	err := store.SaveRun(ctx, sampleRun("run-dup"), nil, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestArchiveStore_NotFound(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewArchiveStore(conn)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetDecisionRows(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetCountryPlatformResults(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.SaveRun(ctx, &domain.RunRecord{}, nil, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
