// Package rollup folds SPU-level outcomes into seller and category verdicts
// and those into country×platform verdicts.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/classify"
	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage"
)

// Output and scope file names.
const (
	SellerFile          = "seller_level.csv"
	CategoryFile        = "category_level.csv"
	CountryPlatformFile = "country_platform_level.csv"
	SellerScopeFile     = "Seller_in_scope.csv"
	CategoryScopeFile   = "Category_url_in_scope.csv"
)

// Inputs names the upstream files an entity rollup reads. Only the
// canonical store is required; absent files contribute nothing.
type Inputs struct {
	SameMonth  string // spu_metric_same_month.csv
	Attribute  string // spu_attribute_check.csv
	DiffMonths string // spu_metric_diff_months.csv
	Trend      string // vendor multi-month trend for this level
	Scope      string // in-scope entity list
}

// Options configures a rollup.
type Options struct {
	TempDir     string
	CommitEvery int
	Logger      *zap.Logger
}

// level describes how one entity level is keyed and judged.
type level struct {
	name       domain.RecordLevel
	column     string
	scopeIDs   []string // accepted id columns of the scope file, in preference order
	id         func(*domain.CanonicalRecord) string
	passRate   float64
	trendFloor float64
	header     []string
	withName   bool
}

// EntityRollup summarizes latest-month SPU health per seller or category.
type EntityRollup struct {
	store storage.CanonicalStore
	lvl   level
	opts  Options
	log   *zap.Logger
}

// NewSellerRollup rolls up seller-level rows by seller_id.
func NewSellerRollup(store storage.CanonicalStore, cfg *config.Config, opts Options) *EntityRollup {
	return &EntityRollup{
		store: store,
		lvl: level{
			name:       domain.LevelSeller,
			column:     "seller_id",
			scopeIDs:   []string{"seller_id", "seller_used_id"},
			id:         func(r *domain.CanonicalRecord) string { return r.SellerID },
			passRate:   cfg.Threshold(config.CheckSellerNormalRate).PassRatio(),
			trendFloor: cfg.Threshold(config.CheckSellerTrendFloor).FloorValue(),
			header: []string{"country", "platform", "seller_id", "seller_name", "month", "total_spu",
				"abnormal_spu", "normal_rate", "quality_status", "trend_status", "status", "in_scope"},
			withName: true,
		},
		opts: opts,
		log:  logging.OrNop(opts.Logger),
	}
}

// NewCategoryRollup rolls up category-level rows by category URL.
func NewCategoryRollup(store storage.CanonicalStore, cfg *config.Config, opts Options) *EntityRollup {
	return &EntityRollup{
		store: store,
		lvl: level{
			name:       domain.LevelCategory,
			column:     "category_url",
			scopeIDs:   []string{"category_url"},
			id:         func(r *domain.CanonicalRecord) string { return r.CategoryOrSource },
			passRate:   cfg.Threshold(config.CheckCategoryNormalRate).PassRatio(),
			trendFloor: cfg.Threshold(config.CheckCategoryTrendFloor).FloorValue(),
			header: []string{"country", "platform", "category_url", "month", "total_spu",
				"abnormal_spu", "normal_rate", "quality_status", "trend_status", "status", "in_scope"},
		},
		opts: opts,
		log:  logging.OrNop(opts.Logger),
	}
}

// EntityResult summarizes an entity rollup.
type EntityResult struct {
	Output   string
	Entities int
	Abnormal int
	InScope  int
}

const (
	seriesSPU      = "spu"
	seriesAbnormal = "abnormal_spu"
	seriesName     = "name"
)

// Run writes the entity summary to outPath.
func (r *EntityRollup) Run(ctx context.Context, in Inputs, outPath string) (*EntityResult, error) {
	months, err := r.store.Months(ctx)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	if len(months) == 0 {
		return nil, errors.New("canonical table is empty")
	}
	latest := months[len(months)-1]

	flagged, err := r.flaggedSPUs(in, latest)
	if err != nil {
		return nil, err
	}
	trends, err := r.abnormalTrends(in.Trend)
	if err != nil {
		return nil, err
	}
	scope, err := r.loadScope(in.Scope)
	if err != nil {
		return nil, err
	}

	gs, err := metrics.OpenGroupStore(ctx, filepath.Join(r.opts.TempDir, "rollup_"+string(r.lvl.name)+".sqlite"),
		metrics.StoreOptions{CommitEvery: r.opts.CommitEvery, Logger: r.opts.Logger})
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	filter := storage.ScanFilter{From: latest, To: latest, Level: r.lvl.name}
	err = r.store.Scan(ctx, filter, func(rec *domain.CanonicalRecord) error {
		key := metrics.K(rec.Country, rec.Platform, r.lvl.id(rec))
		entries := []metrics.Entry{metrics.TextEntry(key, seriesSPU, rec.SPUID)}
		if _, bad := flagged[rec.SPUID]; bad {
			entries = append(entries, metrics.TextEntry(key, seriesAbnormal, rec.SPUID))
		}
		if r.lvl.withName {
			entries = append(entries, metrics.TextEntry(key, seriesName, rec.SellerName))
		}
		return gs.AddBatch(ctx, entries)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s rows: %w", r.lvl.name, err)
	}

	out, err := reporting.CreateCSV(outPath, r.lvl.header)
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	res := &EntityResult{Output: outPath}
	cols := []metrics.Column{
		{Series: seriesSPU, Reducer: metrics.ReduceDistinct},
		{Series: seriesAbnormal, Reducer: metrics.ReduceDistinct},
		{Series: seriesName, Reducer: metrics.ReduceMinText},
	}
	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		total, abnormal := int(vals[0].Num), int(vals[1].Num)
		rate := classify.Rate(total-abnormal, total)

		quality := domain.CheckPass
		if !classify.CheckGood(total-abnormal, total, r.lvl.passRate) {
			quality = domain.CheckFail
		}
		trend := domain.CheckPass
		if trends[k.Encode()] {
			trend = domain.CheckFail
		}
		status := domain.EntityNormal
		if quality == domain.CheckFail || trend == domain.CheckFail {
			status = domain.EntityAbnormal
			res.Abnormal++
		}
		inScope := scope.contains(k)
		if inScope {
			res.InScope++
		}
		res.Entities++

		rec := []string{k.Part(0), k.Part(1), k.Part(2)}
		if r.lvl.withName {
			rec = append(rec, vals[2].Text)
		}
		rec = append(rec, latest.String(), reporting.FormatInt(total), reporting.FormatInt(abnormal),
			reporting.FormatFixed(rate), string(quality), string(trend), string(status),
			reporting.FormatBool(inScope))
		return out.Write(rec)
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", r.lvl.name, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	r.log.Info("entity rollup done",
		zap.String("level", string(r.lvl.name)),
		zap.String("month", latest.String()),
		zap.Int("entities", res.Entities),
		zap.Int("abnormal", res.Abnormal),
		zap.Int("in_scope", res.InScope),
	)
	return res, nil
}

// flaggedSPUs collects SPUs failing any SPU-level check in the latest month.
func (r *EntityRollup) flaggedSPUs(in Inputs, latest domain.Month) (map[string]struct{}, error) {
	flagged := make(map[string]struct{})
	add := func(path string, required []string, keep func(reporting.Row) bool) error {
		return r.scanOptional(path, required, func(row reporting.Row) error {
			if keep(row) {
				flagged[row.Get("spu_id")] = struct{}{}
			}
			return nil
		})
	}

	err := add(in.SameMonth, []string{"spu_id", "month", "check_result"}, func(row reporting.Row) bool {
		return row.Get("month") == latest.String() && row.Get("check_result") == string(domain.CheckFail)
	})
	if err != nil {
		return nil, err
	}
	err = add(in.Attribute, []string{"spu_id", "check_result"}, func(row reporting.Row) bool {
		return row.Get("check_result") == string(domain.CheckFail)
	})
	if err != nil {
		return nil, err
	}
	err = add(in.DiffMonths, []string{"spu_id", "trend_status"}, func(row reporting.Row) bool {
		return domain.Status(row.Get("trend_status")).IsAbnormalMovement()
	})
	if err != nil {
		return nil, err
	}
	return flagged, nil
}

// abnormalTrends returns the entity keys whose multi-month trend moved
// abnormally from a baseline at or above the level's floor.
func (r *EntityRollup) abnormalTrends(path string) (map[string]bool, error) {
	out := make(map[string]bool)
	required := []string{"country", "platform", r.lvl.column, "median", "trend_status"}
	err := r.scanOptional(path, required, func(row reporting.Row) error {
		if !domain.Status(row.Get("trend_status")).IsAbnormalMovement() {
			return nil
		}
		median, ok := row.Float("median")
		if !ok || median < r.lvl.trendFloor {
			return nil
		}
		out[metrics.K(row.Get("country"), row.Get("platform"), row.Get(r.lvl.column)).Encode()] = true
		return nil
	})
	return out, err
}

// scanOptional reads path when it exists. A missing file is logged and
// skipped; a file missing required columns is an error.
func (r *EntityRollup) scanOptional(path string, required []string, fn func(reporting.Row) error) error {
	if path == "" {
		return nil
	}
	err := reporting.ScanCSV(path, required, fn)
	if errors.Is(err, reporting.ErrOutputMissing) {
		r.log.Warn("optional rollup input missing", zap.String("level", string(r.lvl.name)), zap.String("path", path))
		return nil
	}
	return err
}
