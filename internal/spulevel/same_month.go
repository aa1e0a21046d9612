package spulevel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/classify"
	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage"
)

const seriesVendorGroup = "vendor_group"

var sameMonthHeader = []string{"spu_id", "month", "metric_name", "vendor_group_count", "ratio_pct", "check_result"}

// SameMonthChecker compares each metric's max and min across the vendor
// groups that observed an SPU in the same month.
type SameMonthChecker struct {
	store      storage.CanonicalStore
	thresholds map[string]config.Threshold // by metric name
	opts       Options
}

// NewSameMonthChecker creates a checker. cfg supplies the per-metric bands.
func NewSameMonthChecker(store storage.CanonicalStore, cfg *config.Config, opts Options) *SameMonthChecker {
	th := make(map[string]config.Threshold, len(domain.SPUMetrics))
	for _, m := range domain.SPUMetrics {
		th[m] = cfg.Threshold(config.SameMonthCheck(m))
	}
	return &SameMonthChecker{store: store, thresholds: th, opts: opts}
}

// Run writes failing (spu, month, metric) rows to outPath.
func (c *SameMonthChecker) Run(ctx context.Context, outPath string) (*Result, error) {
	log := c.opts.logger()
	res := &Result{Output: outPath}

	gs, err := c.opts.openStore(ctx, "spu_same_month.sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	err = c.store.Scan(ctx, storage.ScanFilter{}, func(r *domain.CanonicalRecord) error {
		res.Scanned++
		key := metrics.K(r.SPUID, r.Month.String())
		if err := gs.Add(ctx, metrics.TextEntry(key, seriesVendorGroup, r.VendorGroup)); err != nil {
			return err
		}
		for _, m := range domain.SPUMetrics {
			if v := r.Metric(m); v != nil {
				if err := gs.Add(ctx, metrics.NumEntry(key, m, *v)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load same-month pairs: %w", err)
	}

	cols := []metrics.Column{{Series: seriesVendorGroup, Reducer: metrics.ReduceDistinct}}
	for _, m := range domain.SPUMetrics {
		cols = append(cols,
			metrics.Column{Series: m, Reducer: metrics.ReduceMin},
			metrics.Column{Series: m, Reducer: metrics.ReduceMax},
		)
	}

	w, err := reporting.CreateCSV(outPath, sameMonthHeader)
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		groups := int(vals[0].Num)
		if groups < 2 {
			return nil
		}
		res.Groups++
		for i, m := range domain.SPUMetrics {
			lo, hi := vals[1+2*i], vals[2+2*i]
			if !lo.Valid || !hi.Valid || lo.Num <= 0 {
				continue
			}
			th := c.thresholds[m]
			pct := hi.Num / lo.Num * 100
			if classify.WithinPct(pct, *th.MinPct, *th.MaxPct) {
				continue
			}
			if err := w.Write([]string{
				k.Part(0), k.Part(1), m, reporting.FormatInt(groups),
				fmt.Sprintf("%.2f", pct), string(domain.CheckFail),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query same-month groups: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	res.Flagged = w.Rows()

	log.Info("same-month check done",
		zap.Int64("rows", res.Scanned),
		zap.Int("multi_vendor_groups", res.Groups),
		zap.Int("fail", res.Flagged),
		zap.String("output", outPath),
	)
	return res, nil
}
