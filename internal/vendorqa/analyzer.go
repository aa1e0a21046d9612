package vendorqa

import (
	"context"
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

// Output file names.
const (
	CoverageFile         = "qaqc_vendor_coverage.csv"
	SellerPairwiseFile   = "qaqc_vendor_seller_trend.csv"
	CategoryPairwiseFile = "qaqc_vendor_category_trend.csv"
	SellerTrendFile      = "qaqc_vendor_seller_trend_multi_month.csv"
	CategoryTrendFile    = "qaqc_vendor_category_trend_multi_month.csv"
)

const (
	seriesPrev = "prev"
	seriesCur  = "cur"
	seriesSPU  = "spu"

	seriesBaseline = "baseline"
	seriesLatest   = "latest"
)

// Entity selects which rows and which key a level check uses.
type Entity struct {
	Level  domain.RecordLevel
	Column string // output column naming the entity
	id     func(*domain.CanonicalRecord) string
}

// Seller is the seller-level entity keyed by seller_id.
var Seller = Entity{
	Level:  domain.LevelSeller,
	Column: "seller_id",
	id:     func(r *domain.CanonicalRecord) string { return r.SellerID },
}

// Category is the category-level entity keyed by category URL.
var Category = Entity{
	Level:  domain.LevelCategory,
	Column: "category_url",
	id:     func(r *domain.CanonicalRecord) string { return r.CategoryOrSource },
}

// Options configures an Analyzer.
type Options struct {
	TempDir     string
	CommitEvery int
	Logger      *zap.Logger
}

// Result summarizes one check.
type Result struct {
	Output   string
	Entities int
	Flagged  int // non-normal (or FAIL) rows
}

// Analyzer runs the vendor-input checks over the canonical table.
type Analyzer struct {
	store          storage.CanonicalStore
	coveragePass   float64
	pairwiseBand   classify.Band
	trendBand      classify.Band
	lookbackMonths int
	minMonths      int
	opts           Options
	log            *zap.Logger
}

// NewAnalyzer creates an Analyzer from the run configuration.
func NewAnalyzer(store storage.CanonicalStore, cfg *config.Config, opts Options) *Analyzer {
	return &Analyzer{
		store:          store,
		coveragePass:   cfg.Threshold(config.CheckVendorCoverage).PassRatio(),
		pairwiseBand:   classify.NewBand(cfg.Threshold(config.CheckVendorPairwise)),
		trendBand:      classify.NewBand(cfg.Threshold(config.CheckVendorTrend)),
		lookbackMonths: cfg.Run.LookbackMonths,
		minMonths:      cfg.Run.MinMonthsObserved,
		opts:           opts,
		log:            logging.OrNop(opts.Logger),
	}
}

// Window detects the latest/previous pair from the canonical table.
func (a *Analyzer) Window(ctx context.Context) (Window, error) {
	months, err := a.store.Months(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("list months: %w", err)
	}
	return DetectWindow(months)
}

func (a *Analyzer) openStore(ctx context.Context, name string) (*metrics.GroupStore, error) {
	return metrics.OpenGroupStore(ctx, filepath.Join(a.opts.TempDir, name), metrics.StoreOptions{
		CommitEvery: a.opts.CommitEvery,
		Logger:      a.opts.Logger,
	})
}

// loadPeriods feeds prev/cur text entries for the window months.
func (a *Analyzer) loadPeriods(ctx context.Context, gs *metrics.GroupStore, w Window, level domain.RecordLevel,
	entry func(r *domain.CanonicalRecord, series string) metrics.Entry) error {
	filter := storage.ScanFilter{From: w.Previous, To: w.Latest, Level: level}
	return a.store.Scan(ctx, filter, func(r *domain.CanonicalRecord) error {
		series := seriesPrev
		if r.Month == w.Latest {
			series = seriesCur
		}
		return gs.Add(ctx, entry(r, series))
	})
}

var coverageHeader = []string{
	"country", "platform", "month_prev", "month_latest",
	"sellers_prev", "sellers_latest", "coverage_ratio", "status", "detail",
}

// Coverage compares distinct sellers per (country, platform) between the
// previous and latest month.
func (a *Analyzer) Coverage(ctx context.Context, outPath string) (*Result, error) {
	w, err := a.Window(ctx)
	if err != nil {
		return nil, err
	}
	gs, err := a.openStore(ctx, "vendor_coverage.sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	err = a.loadPeriods(ctx, gs, w, "", func(r *domain.CanonicalRecord, series string) metrics.Entry {
		return metrics.TextEntry(metrics.K(r.Country, r.Platform), series, r.SellerID)
	})
	if err != nil {
		return nil, fmt.Errorf("load coverage rows: %w", err)
	}

	out, err := reporting.CreateCSV(outPath, coverageHeader)
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	res := &Result{Output: outPath}
	cols := []metrics.Column{
		{Series: seriesPrev, Reducer: metrics.ReduceDistinct},
		{Series: seriesCur, Reducer: metrics.ReduceDistinct},
	}
	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		res.Entities++
		prev, cur := vals[0].Num, vals[1].Num
		result, detail, ratio := classify.Coverage(prev, cur, a.coveragePass)
		if result == domain.CheckFail {
			res.Flagged++
		}
		return out.Write([]string{
			k.Part(0), k.Part(1), w.Previous.String(), w.Latest.String(),
			reporting.FormatFloat(prev), reporting.FormatFloat(cur),
			classify.FormatPercent(ratio), string(result), string(detail),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query coverage: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	a.log.Info("vendor coverage done",
		zap.String("month_latest", w.Latest.String()),
		zap.Int("country_platforms", res.Entities),
		zap.Int("fail", res.Flagged),
	)
	return res, nil
}

func pairwiseHeader(e Entity) []string {
	return []string{
		"country", "platform", e.Column, "month_latest", "month_prev",
		"current", "previous", "delta", "ratio", "status",
	}
}

// Pairwise compares distinct SPU counts per entity between the previous and
// latest month. Entities seen in either month are reported.
func (a *Analyzer) Pairwise(ctx context.Context, e Entity, outPath string) (*Result, error) {
	w, err := a.Window(ctx)
	if err != nil {
		return nil, err
	}
	gs, err := a.openStore(ctx, "vendor_pairwise_"+string(e.Level)+".sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	err = a.loadPeriods(ctx, gs, w, e.Level, func(r *domain.CanonicalRecord, series string) metrics.Entry {
		return metrics.TextEntry(metrics.K(r.Country, r.Platform, e.id(r)), series, r.SPUID)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s pairwise rows: %w", e.Level, err)
	}

	out, err := reporting.CreateCSV(outPath, pairwiseHeader(e))
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	res := &Result{Output: outPath}
	cols := []metrics.Column{
		{Series: seriesPrev, Reducer: metrics.ReduceDistinct},
		{Series: seriesCur, Reducer: metrics.ReduceDistinct},
	}
	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		res.Entities++
		o := classify.Pairwise(vals[0].Num, vals[1].Num, a.pairwiseBand)
		if o.Status != domain.StatusNormal {
			res.Flagged++
		}
		return out.Write([]string{
			k.Part(0), k.Part(1), k.Part(2), w.Latest.String(), w.Previous.String(),
			reporting.FormatFloat(o.Current), reporting.FormatFloat(o.Baseline), reporting.FormatFloat(o.Delta),
			classify.FormatPercent(o.Ratio), string(o.Status),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query %s pairwise: %w", e.Level, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	a.log.Info("vendor pairwise done",
		zap.String("level", string(e.Level)),
		zap.Int("entities", res.Entities),
		zap.Int("non_normal", res.Flagged),
	)
	return res, nil
}

func trendHeader(e Entity) []string {
	return []string{
		"country", "platform", e.Column, "month_latest", "lookback_months",
		"months_observed", "median", "latest", "ratio", "trend_status",
	}
}

// trendColumns reduce one entity's monthly counts: the baseline median,
// the number of baseline months and the latest count.
var trendColumns = []metrics.Column{
	{Series: seriesBaseline, Reducer: metrics.ReduceMedian},
	{Series: seriesBaseline, Reducer: metrics.ReduceCount},
	{Series: seriesLatest, Reducer: metrics.ReduceSum},
}

// Trend compares each entity's latest distinct SPU count with the median
// of its earlier monthly counts inside the lookback window. Monthly counts
// come from one store; a second store keyed by entity holds them so the
// median is taken per key without loading every entity's history.
func (a *Analyzer) Trend(ctx context.Context, e Entity, outPath string) (*Result, error) {
	months, err := a.store.Months(ctx)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	if len(months) == 0 {
		return nil, fmt.Errorf("%w: found 0", ErrInsufficientMonths)
	}
	latest := months[len(months)-1]
	latestKey := latest.String()

	gs, err := a.openStore(ctx, "vendor_trend_"+string(e.Level)+".sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	filter := storage.ScanFilter{From: latest.WindowStart(a.lookbackMonths), To: latest, Level: e.Level}
	err = a.store.Scan(ctx, filter, func(r *domain.CanonicalRecord) error {
		key := metrics.K(r.Country, r.Platform, e.id(r), r.Month.String())
		return gs.Add(ctx, metrics.TextEntry(key, seriesSPU, r.SPUID))
	})
	if err != nil {
		return nil, fmt.Errorf("load %s trend rows: %w", e.Level, err)
	}

	series, err := a.openStore(ctx, "vendor_trend_"+string(e.Level)+"_months.sqlite")
	if err != nil {
		return nil, err
	}
	defer series.Close()

	cols := []metrics.Column{{Series: seriesSPU, Reducer: metrics.ReduceDistinct}}
	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		name := seriesBaseline
		if k.Part(3) == latestKey {
			name = seriesLatest
		}
		return series.Add(ctx, metrics.NumEntry(k[:3], name, vals[0].Num))
	})
	if err != nil {
		return nil, fmt.Errorf("count %s monthly spus: %w", e.Level, err)
	}

	out, err := reporting.CreateCSV(outPath, trendHeader(e))
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	res := &Result{Output: outPath}
	err = series.Query(ctx, trendColumns, func(k metrics.Key, vals []metrics.Value) error {
		median, observed, cur := vals[0], int(vals[1].Num), vals[2].Or(0)
		o := classify.Trend(classify.TrendInput{
			MonthsObserved: observed,
			Baseline:       median.Num,
			BaselineValid:  median.Valid,
			Latest:         cur,
		}, a.minMonths, a.trendBand)

		res.Entities++
		if o.Status != domain.StatusNormal {
			res.Flagged++
		}
		medianText := "-"
		if median.Valid {
			medianText = reporting.FormatFloat(median.Num)
		}
		return out.Write([]string{
			k.Part(0), k.Part(1), k.Part(2), latestKey,
			reporting.FormatInt(a.lookbackMonths), reporting.FormatInt(observed),
			medianText, reporting.FormatFloat(cur), classify.FormatPercent(o.Ratio), string(o.Status),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("classify %s trends: %w", e.Level, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	a.log.Info("vendor trend done",
		zap.String("level", string(e.Level)),
		zap.String("month_latest", latestKey),
		zap.Int("entities", res.Entities),
		zap.Int("non_normal", res.Flagged),
	)
	return res, nil
}
