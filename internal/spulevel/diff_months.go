package spulevel

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/classify"
	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage"
)

var diffMonthsHeader = []string{
	"spu_id", "seller_id", "metric_name", "month_latest", "lookback_months",
	"months_observed", "median", "latest", "ratio", "trend_status",
}

const (
	seriesValue        = "value"
	seriesLatestSeller = "latest_seller"
)

// DiffMonthsChecker compares each SPU metric's latest monthly mean with the
// median of its earlier monthly means inside the lookback window.
type DiffMonthsChecker struct {
	store          storage.CanonicalStore
	bands          map[string]classify.Band
	lookbackMonths int
	minMonths      int
	opts           Options
}

// NewDiffMonthsChecker creates a checker.
func NewDiffMonthsChecker(store storage.CanonicalStore, cfg *config.Config, opts Options) *DiffMonthsChecker {
	bands := make(map[string]classify.Band, len(domain.SPUMetrics))
	for _, m := range domain.SPUMetrics {
		bands[m] = classify.NewBand(cfg.Threshold(config.SPUTrendCheck(m)))
	}
	return &DiffMonthsChecker{
		store:          store,
		bands:          bands,
		lookbackMonths: cfg.Run.LookbackMonths,
		minMonths:      cfg.Run.MinMonthsObserved,
		opts:           opts,
	}
}

// spuSeries accumulates the monthly means of one (spu, metric).
type spuSeries struct {
	spuID, metric string
	seller        string
	baseline      []float64
	latest        float64
	hasLatest     bool
}

// Run writes non-normal (spu, metric) trends to outPath.
func (c *DiffMonthsChecker) Run(ctx context.Context, outPath string) (*Result, error) {
	latest, err := latestMonth(ctx, c.store)
	if err != nil {
		return nil, err
	}
	latestKey := latest.String()
	res := &Result{Output: outPath}

	gs, err := c.opts.openStore(ctx, "spu_diff_months.sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	filter := storage.ScanFilter{From: latest.WindowStart(c.lookbackMonths), To: latest}
	err = c.store.Scan(ctx, filter, func(r *domain.CanonicalRecord) error {
		res.Scanned++
		month := r.Month.String()
		for _, m := range domain.SPUMetrics {
			key := metrics.K(r.SPUID, m, month)
			if v := r.Metric(m); v != nil {
				if err := gs.Add(ctx, metrics.NumEntry(key, seriesValue, *v)); err != nil {
					return err
				}
			}
			if month == latestKey {
				if err := gs.Add(ctx, metrics.TextEntry(key, seriesLatestSeller, r.SellerID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load monthly values: %w", err)
	}

	w, err := reporting.CreateCSV(outPath, diffMonthsHeader)
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	flush := func(s *spuSeries) error {
		if s == nil || !s.hasLatest {
			return nil
		}
		res.Groups++
		out := classify.TrendOf(s.baseline, s.latest, c.minMonths, c.bands[s.metric])
		if out.Status == domain.StatusNormal {
			return nil
		}
		medianText := "-"
		if len(s.baseline) > 0 {
			medianText = reporting.FormatFixed(out.Baseline)
		}
		return w.Write([]string{
			s.spuID, s.seller, s.metric, latestKey,
			reporting.FormatInt(c.lookbackMonths), reporting.FormatInt(len(s.baseline)),
			medianText, reporting.FormatFixed(s.latest),
			classify.FormatPercent(out.Ratio), string(out.Status),
		})
	}

	// Keys sort as (spu, metric, month), so one (spu, metric) is contiguous.
	var cur *spuSeries
	cols := []metrics.Column{
		{Series: seriesValue, Reducer: metrics.ReduceMean},
		{Series: seriesLatestSeller, Reducer: metrics.ReduceMinText},
	}
	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		spuID, metric, month := k.Part(0), k.Part(1), k.Part(2)
		if cur == nil || cur.spuID != spuID || cur.metric != metric {
			if err := flush(cur); err != nil {
				return err
			}
			cur = &spuSeries{spuID: spuID, metric: metric}
		}
		mean := vals[0]
		if month == latestKey {
			cur.seller = vals[1].Text
			if mean.Valid {
				cur.latest, cur.hasLatest = mean.Num, true
			}
			return nil
		}
		if mean.Valid && !math.IsNaN(mean.Num) {
			cur.baseline = append(cur.baseline, mean.Num)
		}
		return nil
	})
	if err == nil {
		err = flush(cur)
	}
	if err != nil {
		return nil, fmt.Errorf("classify monthly trends: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	res.Flagged = w.Rows()

	c.opts.logger().Info("diff-months check done",
		zap.String("month_latest", latestKey),
		zap.Int("lookback_months", c.lookbackMonths),
		zap.Int("series", res.Groups),
		zap.Int("non_normal", res.Flagged),
		zap.String("output", outPath),
	)
	return res, nil
}
