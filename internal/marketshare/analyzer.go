package marketshare

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"sort"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/classify"
	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/vendorqa"
)

// Output file names.
const (
	SummaryFile  = "qaqc_market_share_latest_summary.csv"
	AbnormalFile = "qaqc_market_share_latest_abnormal.csv"
	ExplainFile  = "qaqc_market_share_latest_explain.csv"
	TrendFile    = "qaqc_market_share_latest_trend_multi_month.csv"
)

const (
	seriesRevenue  = "revenue"
	seriesQuantity = "quantity"
	seriesLabel    = "label"
	seriesName     = "seller_name"
	seriesASP      = "asp"
	seriesHistQty  = "historical_quantity"
	seriesHistRate = "historical_rating"
	seriesS1       = "has_s1"
	seriesS3       = "has_s3"
)

// monthlyColumns reduce one (seller, month) group.
var monthlyColumns = []metrics.Column{
	{Series: seriesRevenue, Reducer: metrics.ReduceSum},
	{Series: seriesQuantity, Reducer: metrics.ReduceSum},
	{Series: seriesLabel, Reducer: metrics.ReduceMinText},
	{Series: seriesName, Reducer: metrics.ReduceMinText},
	{Series: seriesASP, Reducer: metrics.ReduceMean},
	{Series: seriesHistQty, Reducer: metrics.ReduceSum},
	{Series: seriesHistRate, Reducer: metrics.ReduceMean},
	{Series: seriesS1, Reducer: metrics.ReduceMax},
	{Series: seriesS3, Reducer: metrics.ReduceMax},
}

// monthly is one seller's aggregate for one month.
type monthly struct {
	revenue, quantity float64
	label, name       string
	asp               metrics.Value
	histQty, histRate metrics.Value
	hasS1, hasS3      bool
}

func monthlyFrom(vals []metrics.Value) monthly {
	return monthly{
		revenue:  vals[0].Or(0),
		quantity: vals[1].Or(0),
		label:    vals[2].Text,
		name:     vals[3].Text,
		asp:      vals[4],
		histQty:  vals[5],
		histRate: vals[6],
		hasS1:    vals[7].Or(0) > 0,
		hasS3:    vals[8].Or(0) > 0,
	}
}

// sellerSeries holds one seller's months in ascending order.
type sellerSeries struct {
	key    metrics.Key // country, platform, seller_id
	months map[domain.Month]monthly
}

// Options configures an Analyzer.
type Options struct {
	TempDir     string
	CommitEvery int
	Logger      *zap.Logger
}

// Result summarizes one market check.
type Result struct {
	Outputs []string
	Sellers int
	Flagged int
}

// Analyzer runs the computed-output checks over the computed extracts.
type Analyzer struct {
	dir            string
	revenueBand    classify.Band
	revenueFloor   float64
	quantityBand   classify.Band
	trendRevenue   classify.Band
	trendQuantity  classify.Band
	lookbackMonths int
	minMonths      int
	opts           Options
	log            *zap.Logger
}

// NewAnalyzer creates an Analyzer reading extracts from cfg.Paths.ComputedDir.
func NewAnalyzer(cfg *config.Config, opts Options) *Analyzer {
	revenue := cfg.Threshold(config.CheckMarketPairwiseRevenue)
	return &Analyzer{
		dir:            cfg.Paths.ComputedDir,
		revenueBand:    classify.NewBand(revenue),
		revenueFloor:   revenue.FloorValue(),
		quantityBand:   classify.NewBand(cfg.Threshold(config.CheckMarketPairwiseQuantity)),
		trendRevenue:   classify.NewBand(cfg.Threshold(config.CheckMarketTrendRevenue)),
		trendQuantity:  classify.NewBand(cfg.Threshold(config.CheckMarketTrendQuantity)),
		lookbackMonths: cfg.Run.LookbackMonths,
		minMonths:      cfg.Run.MinMonthsObserved,
		opts:           opts,
		log:            logging.OrNop(opts.Logger),
	}
}

// load aggregates every extract row into a fresh store keyed by
// (country, platform, seller_id, month) and returns the months seen.
func (a *Analyzer) load(ctx context.Context, name string) (*metrics.GroupStore, []domain.Month, error) {
	gs, err := metrics.OpenGroupStore(ctx, filepath.Join(a.opts.TempDir, name), metrics.StoreOptions{
		CommitEvery: a.opts.CommitEvery,
		Logger:      a.opts.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[domain.Month]struct{})
	stats, err := ReadComputed(ctx, a.dir, func(r *domain.ComputedRecord) error {
		seen[r.Month] = struct{}{}
		key := metrics.K(r.Country, r.Platform, r.SellerID, r.Month.String())
		entries := []metrics.Entry{
			metrics.TextEntry(key, seriesLabel, r.ComputationLabel),
			metrics.TextEntry(key, seriesName, r.SellerName),
			metrics.NumEntry(key, seriesS1, flag(r.HasSource[0])),
			metrics.NumEntry(key, seriesS3, flag(r.HasSource[2])),
		}
		for _, n := range []struct {
			series string
			v      *float64
		}{
			{seriesRevenue, r.FinalRevenue},
			{seriesQuantity, r.FinalQuantity},
			{seriesASP, r.FinalASP},
			{seriesHistQty, r.HistoricalQty},
			{seriesHistRate, r.HistoricalRating},
		} {
			if n.v != nil {
				entries = append(entries, metrics.NumEntry(key, n.series, *n.v))
			}
		}
		return gs.AddBatch(ctx, entries)
	})
	if err != nil {
		gs.Close()
		return nil, nil, fmt.Errorf("load computed extracts: %w", err)
	}

	months := make([]domain.Month, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	a.log.Info("computed extracts loaded",
		zap.Int("files", len(stats.Files)),
		zap.Int64("rows", stats.Rows),
		zap.Int64("dropped", stats.Dropped),
		zap.Int("months", len(months)),
	)
	return gs, months, nil
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// eachSeller streams per-seller monthly aggregates. Keys sort by
// (country, platform, seller_id, month), so a seller's months are contiguous.
func eachSeller(ctx context.Context, gs *metrics.GroupStore, fn func(*sellerSeries) error) error {
	var cur *sellerSeries
	err := gs.Query(ctx, monthlyColumns, func(k metrics.Key, vals []metrics.Value) error {
		seller := k[:3]
		if cur == nil || !slices.Equal(cur.key, seller) {
			if cur != nil {
				if err := fn(cur); err != nil {
					return err
				}
			}
			cur = &sellerSeries{key: append(metrics.Key(nil), seller...), months: make(map[domain.Month]monthly)}
		}
		m, err := domain.ParseMonth(k.Part(3))
		if err != nil {
			return fmt.Errorf("decode month %q: %w", k.Part(3), err)
		}
		cur.months[m] = monthlyFrom(vals)
		return nil
	})
	if err != nil {
		return err
	}
	if cur != nil {
		return fn(cur)
	}
	return nil
}

var summaryHeader = []string{
	"country", "platform", "seller_id", "seller_name", "month_latest", "month_prev",
	"revenue_latest", "revenue_prev", "revenue_delta", "revenue_ratio", "revenue_status",
	"abnormal_type", "risk",
	"quantity_latest", "quantity_prev", "quantity_delta", "quantity_ratio", "quantity_status",
}

var explainHeader = append(append([]string(nil), summaryHeader...),
	"computation_label_prev", "computation_label_latest", "has_S1", "has_S3",
	"historical_quantity", "historical_rating", "asp_prev", "asp_latest",
)

// pairwiseRow is one seller's latest-vs-previous classification.
type pairwiseRow struct {
	Country, Platform, SellerID, SellerName string
	Revenue                                 classify.Outcome
	Quantity                                classify.Outcome
	AbnormalType                            domain.AbnormalType
	Risk                                    domain.Risk
	Prev, Latest                            monthly
}

// Abnormal reports whether either metric moved outside normal.
func (r *pairwiseRow) Abnormal() bool {
	return r.Revenue.Status != domain.StatusNormal || r.Quantity.Status != domain.StatusNormal
}

// Pairwise writes the summary, abnormal and explain outputs into dir.
func (a *Analyzer) Pairwise(ctx context.Context, dir string) (*Result, error) {
	gs, months, err := a.load(ctx, "market_pairwise.sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	w, err := vendorqa.DetectWindow(months)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	summary, err := reporting.CreateCSV(filepath.Join(dir, SummaryFile), summaryHeader)
	if err != nil {
		return nil, err
	}
	defer summary.Abort()
	abnormal, err := reporting.CreateCSV(filepath.Join(dir, AbnormalFile), summaryHeader)
	if err != nil {
		return nil, err
	}
	defer abnormal.Abort()
	explain, err := reporting.CreateCSV(filepath.Join(dir, ExplainFile), explainHeader)
	if err != nil {
		return nil, err
	}
	defer explain.Abort()

	err = eachSeller(ctx, gs, func(s *sellerSeries) error {
		prev, hasPrev := s.months[w.Previous]
		latest, hasLatest := s.months[w.Latest]
		if !hasPrev && !hasLatest {
			return nil
		}
		res.Sellers++
		row := a.classifyPair(s.key, prev, latest)
		rec := summaryRecord(row, w)
		if err := summary.Write(rec); err != nil {
			return err
		}
		if !row.Abnormal() {
			return nil
		}
		res.Flagged++
		if err := abnormal.Write(rec); err != nil {
			return err
		}
		return explain.Write(append(rec,
			row.Prev.label, row.Latest.label,
			reporting.FormatBool(row.Latest.hasS1), reporting.FormatBool(row.Latest.hasS3),
			formatValue(row.Latest.histQty), formatValue(row.Latest.histRate),
			formatValue(row.Prev.asp), formatValue(row.Latest.asp),
		))
	})
	if err != nil {
		return nil, fmt.Errorf("classify market pairwise: %w", err)
	}
	for _, out := range []*reporting.Writer{summary, abnormal, explain} {
		if err := out.Close(); err != nil {
			return nil, err
		}
		res.Outputs = append(res.Outputs, out.Path())
	}

	a.log.Info("market pairwise done",
		zap.String("month_latest", w.Latest.String()),
		zap.String("month_prev", w.Previous.String()),
		zap.Int("sellers", res.Sellers),
		zap.Int("abnormal", res.Flagged),
	)
	return res, nil
}

func (a *Analyzer) classifyPair(key metrics.Key, prev, latest monthly) *pairwiseRow {
	row := &pairwiseRow{
		Country:  key.Part(0),
		Platform: key.Part(1),
		SellerID: key.Part(2),
		Revenue:  classify.Pairwise(prev.revenue, latest.revenue, a.revenueBand),
		Quantity: classify.Pairwise(prev.quantity, latest.quantity, a.quantityBand),
		Prev:     prev,
		Latest:   latest,
	}
	row.SellerName = latest.name
	if row.SellerName == "" {
		row.SellerName = prev.name
	}
	row.AbnormalType = classify.RevenueAbnormal(row.Revenue, a.revenueFloor, prev.label, latest.label)
	row.Risk = classify.RiskFor(row.AbnormalType)
	return row
}

func summaryRecord(r *pairwiseRow, w vendorqa.Window) []string {
	return []string{
		r.Country, r.Platform, r.SellerID, r.SellerName, w.Latest.String(), w.Previous.String(),
		reporting.FormatFloat(r.Revenue.Current), reporting.FormatFloat(r.Revenue.Baseline),
		reporting.FormatFloat(r.Revenue.Delta), classify.FormatPercent(r.Revenue.Ratio), string(r.Revenue.Status),
		string(r.AbnormalType), string(r.Risk),
		reporting.FormatFloat(r.Quantity.Current), reporting.FormatFloat(r.Quantity.Baseline),
		reporting.FormatFloat(r.Quantity.Delta), classify.FormatPercent(r.Quantity.Ratio), string(r.Quantity.Status),
	}
}

func formatValue(v metrics.Value) string {
	if !v.Valid || math.IsNaN(v.Num) {
		return "-"
	}
	return reporting.FormatFloat(v.Num)
}

var trendHeader = []string{
	"country", "platform", "seller_id", "month_latest", "lookback_months", "months_observed",
	"revenue_median", "revenue_latest", "revenue_ratio", "revenue_trend_status",
	"quantity_median", "quantity_latest", "quantity_ratio", "quantity_trend_status",
}

// Trend writes revenue and quantity trends per seller to outPath. Sellers
// seen in any window month are reported; absent months count as zero
// for the latest value.
func (a *Analyzer) Trend(ctx context.Context, outPath string) (*Result, error) {
	gs, months, err := a.load(ctx, "market_trend.sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()
	if len(months) == 0 {
		return nil, fmt.Errorf("%w: found 0", vendorqa.ErrInsufficientMonths)
	}
	latest := months[len(months)-1]
	start := latest.WindowStart(a.lookbackMonths)

	out, err := reporting.CreateCSV(outPath, trendHeader)
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	res := &Result{}
	err = eachSeller(ctx, gs, func(s *sellerSeries) error {
		var revenue, quantity []float64
		var cur monthly
		inWindow := false
		for _, m := range sortedMonths(s.months) {
			if m.Before(start) || m.After(latest) {
				continue
			}
			inWindow = true
			v := s.months[m]
			if m == latest {
				cur = v
				continue
			}
			revenue = append(revenue, v.revenue)
			quantity = append(quantity, v.quantity)
		}
		if !inWindow {
			return nil
		}
		res.Sellers++

		rev := classify.TrendOf(revenue, cur.revenue, a.minMonths, a.trendRevenue)
		qty := classify.TrendOf(quantity, cur.quantity, a.minMonths, a.trendQuantity)
		if rev.Status.IsAbnormalMovement() || qty.Status.IsAbnormalMovement() {
			res.Flagged++
		}
		return out.Write([]string{
			s.key.Part(0), s.key.Part(1), s.key.Part(2), latest.String(),
			reporting.FormatInt(a.lookbackMonths), reporting.FormatInt(len(revenue)),
			trendMedian(revenue, rev), reporting.FormatFloat(cur.revenue),
			classify.FormatPercent(rev.Ratio), string(rev.Status),
			trendMedian(quantity, qty), reporting.FormatFloat(cur.quantity),
			classify.FormatPercent(qty.Ratio), string(qty.Status),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("classify market trends: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	res.Outputs = []string{outPath}

	a.log.Info("market trend done",
		zap.String("month_latest", latest.String()),
		zap.Int("lookback_months", a.lookbackMonths),
		zap.Int("sellers", res.Sellers),
		zap.Int("abnormal", res.Flagged),
	)
	return res, nil
}

func trendMedian(baseline []float64, o classify.Outcome) string {
	if len(baseline) == 0 {
		return "-"
	}
	return reporting.FormatFloat(o.Baseline)
}

func sortedMonths(m map[domain.Month]monthly) []domain.Month {
	out := make([]domain.Month, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
