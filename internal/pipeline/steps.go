package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/decision"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/marketshare"
	"marketshare-qaqc/internal/normalization"
	"marketshare-qaqc/internal/orchestrator"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/rollup"
	"marketshare-qaqc/internal/spulevel"
	"marketshare-qaqc/internal/storage"
	"marketshare-qaqc/internal/vendorqa"
)

// Step names in execution order.
const (
	StepCanonicalize     = "canonicalize"
	StepSufficiency      = "data-sufficiency"
	StepSameMonth        = "spu-same-month"
	StepAttribute        = "spu-attribute"
	StepDiffMonths       = "spu-diff-months"
	StepCoverage         = "vendor-coverage"
	StepSellerPairwise   = "vendor-seller-pairwise"
	StepCategoryPairwise = "vendor-category-pairwise"
	StepSellerTrend      = "vendor-seller-trend"
	StepCategoryTrend    = "vendor-category-trend"
	StepSellerRollup     = "seller-rollup"
	StepCategoryRollup   = "category-rollup"
	StepCountryPlatform  = "country-platform-rollup"
	StepMarketPairwise   = "market-share-pairwise"
	StepMarketTrend      = "market-share-trend"
	StepDecision         = "decision-summary"
	stepArchivePrefix    = "archive-"
)

// Steps returns the ordered step list. Each stage reads only the canonical
// table or upstream files, so a skipped step only skips its dependents.
func (p *Pipeline) Steps() []orchestrator.Step {
	cfg := p.cfg

	sameMonth := cfg.WorkFile(spulevel.SameMonthFile)
	attribute := cfg.WorkFile(spulevel.AttributeFile)
	diffMonths := cfg.WorkFile(spulevel.DiffMonthsFile)
	sellerTrend := cfg.ResultFile(vendorqa.SellerTrendFile)
	categoryTrend := cfg.ResultFile(vendorqa.CategoryTrendFile)
	sellerLevel := cfg.WorkFile(rollup.SellerFile)
	categoryLevel := cfg.WorkFile(rollup.CategoryFile)
	countryPlatform := cfg.WorkFile(rollup.CountryPlatformFile)

	var steps []orchestrator.Step
	if !p.opts.SkipNormalize {
		steps = append(steps, orchestrator.Step{
			Name:    StepCanonicalize,
			Outputs: []string{cfg.ManifestPath()},
			Run:     p.canonicalize,
		})
	}

	steps = append(steps,
		orchestrator.Step{
			Name:     StepSufficiency,
			Requires: p.canonicalInputs(),
			Run:      p.checkSufficiency,
		},

		// SPU level
		p.canonicalStep(StepSameMonth, sameMonth, func(ctx context.Context, store storage.CanonicalStore) (int, error) {
			res, err := spulevel.NewSameMonthChecker(store, cfg, p.spuOptions()).Run(ctx, sameMonth)
			if err != nil {
				return 0, err
			}
			return res.Flagged, nil
		}),
		p.canonicalStep(StepAttribute, attribute, func(ctx context.Context, store storage.CanonicalStore) (int, error) {
			res, err := spulevel.NewAttributeChecker(store, p.spuOptions()).Run(ctx, attribute)
			if err != nil {
				return 0, err
			}
			return res.Flagged, nil
		}),
		p.canonicalStep(StepDiffMonths, diffMonths, func(ctx context.Context, store storage.CanonicalStore) (int, error) {
			res, err := spulevel.NewDiffMonthsChecker(store, cfg, p.spuOptions()).Run(ctx, diffMonths)
			if err != nil {
				return 0, err
			}
			return res.Flagged, nil
		}),

		// Vendor input
		p.vendorStep(StepCoverage, cfg.ResultFile(vendorqa.CoverageFile), func(ctx context.Context, a *vendorqa.Analyzer, out string) (*vendorqa.Result, error) {
			return a.Coverage(ctx, out)
		}),
		p.vendorStep(StepSellerPairwise, cfg.ResultFile(vendorqa.SellerPairwiseFile), func(ctx context.Context, a *vendorqa.Analyzer, out string) (*vendorqa.Result, error) {
			return a.Pairwise(ctx, vendorqa.Seller, out)
		}),
		p.vendorStep(StepCategoryPairwise, cfg.ResultFile(vendorqa.CategoryPairwiseFile), func(ctx context.Context, a *vendorqa.Analyzer, out string) (*vendorqa.Result, error) {
			return a.Pairwise(ctx, vendorqa.Category, out)
		}),
		p.vendorStep(StepSellerTrend, sellerTrend, func(ctx context.Context, a *vendorqa.Analyzer, out string) (*vendorqa.Result, error) {
			return a.Trend(ctx, vendorqa.Seller, out)
		}),
		p.vendorStep(StepCategoryTrend, categoryTrend, func(ctx context.Context, a *vendorqa.Analyzer, out string) (*vendorqa.Result, error) {
			return a.Trend(ctx, vendorqa.Category, out)
		}),

		// Rollups
		p.canonicalStep(StepSellerRollup, sellerLevel, func(ctx context.Context, store storage.CanonicalStore) (int, error) {
			res, err := rollup.NewSellerRollup(store, cfg, p.rollupOptions()).Run(ctx, rollup.Inputs{
				SameMonth:  sameMonth,
				Attribute:  attribute,
				DiffMonths: diffMonths,
				Trend:      sellerTrend,
				Scope:      filepath.Join(cfg.Paths.ScopeDir, rollup.SellerScopeFile),
			}, sellerLevel)
			if err != nil {
				return 0, err
			}
			return res.Abnormal, nil
		}),
		p.canonicalStep(StepCategoryRollup, categoryLevel, func(ctx context.Context, store storage.CanonicalStore) (int, error) {
			res, err := rollup.NewCategoryRollup(store, cfg, p.rollupOptions()).Run(ctx, rollup.Inputs{
				SameMonth:  sameMonth,
				Attribute:  attribute,
				DiffMonths: diffMonths,
				Trend:      categoryTrend,
				Scope:      filepath.Join(cfg.Paths.ScopeDir, rollup.CategoryScopeFile),
			}, categoryLevel)
			if err != nil {
				return 0, err
			}
			return res.Abnormal, nil
		}),
		orchestrator.Step{
			Name:    StepCountryPlatform,
			Outputs: []string{countryPlatform},
			Run: func(ctx context.Context) error {
				cps, err := rollup.NewCountryPlatformRollup(cfg, p.log).Run(sellerLevel, categoryLevel, countryPlatform)
				if err != nil {
					return err
				}
				bad := 0
				for _, c := range cps {
					if !c.GoodToUse {
						bad++
					}
				}
				p.metrics.SetAbnormalRows(countryPlatform, bad)
				return nil
			},
		},

		// Computed output
		orchestrator.Step{
			Name: StepMarketPairwise,
			Outputs: []string{
				cfg.ResultFile(marketshare.SummaryFile),
				cfg.ResultFile(marketshare.AbnormalFile),
				cfg.ResultFile(marketshare.ExplainFile),
			},
			Run: func(ctx context.Context) error {
				res, err := marketshare.NewAnalyzer(cfg, p.marketOptions()).Pairwise(ctx, cfg.Paths.ResultDir)
				if err != nil {
					return err
				}
				p.metrics.SetAbnormalRows(marketshare.AbnormalFile, res.Flagged)
				return nil
			},
		},
		orchestrator.Step{
			Name:    StepMarketTrend,
			Outputs: []string{cfg.ResultFile(marketshare.TrendFile)},
			Run: func(ctx context.Context) error {
				res, err := marketshare.NewAnalyzer(cfg, p.marketOptions()).Trend(ctx, cfg.ResultFile(marketshare.TrendFile))
				if err != nil {
					return err
				}
				p.metrics.SetAbnormalRows(marketshare.TrendFile, res.Flagged)
				return nil
			},
		},

		// Decision
		orchestrator.Step{
			Name:    StepDecision,
			Outputs: []string{cfg.ResultFile(decision.SummaryFile), cfg.ResultFile(decision.ReportFile)},
			Run: func(ctx context.Context) error {
				_, err := Decide(cfg, p.log)
				return err
			},
		},
	)
	return steps
}

// canonicalStep builds a step that reads the canonical table and writes out.
// canonicalInputs lists what a complete canonical table leaves behind. The
// manifest is written after the last chunk and the indexes, so a table left
// by an interrupted canonicalize has no manifest.
func (p *Pipeline) canonicalInputs() []string {
	return []string{p.cfg.CanonicalDBPath(), p.cfg.ManifestPath()}
}

func (p *Pipeline) canonicalStep(name, out string, run func(context.Context, storage.CanonicalStore) (int, error)) orchestrator.Step {
	return orchestrator.Step{
		Name:     name,
		Requires: p.canonicalInputs(),
		Outputs:  []string{out},
		Run: func(ctx context.Context) error {
			store, err := p.canonicalStore(ctx)
			if err != nil {
				return err
			}
			flagged, err := run(ctx, store)
			if err != nil {
				return err
			}
			p.metrics.SetAbnormalRows(out, flagged)
			return nil
		},
	}
}

func (p *Pipeline) vendorStep(name, out string, run func(context.Context, *vendorqa.Analyzer, string) (*vendorqa.Result, error)) orchestrator.Step {
	return p.canonicalStep(name, out, func(ctx context.Context, store storage.CanonicalStore) (int, error) {
		a := vendorqa.NewAnalyzer(store, p.cfg, vendorqa.Options{
			TempDir:     p.cfg.TempDir(),
			CommitEvery: p.cfg.Run.CommitEvery,
			Logger:      p.log,
		})
		res, err := run(ctx, a, out)
		if err != nil {
			return 0, err
		}
		return res.Flagged, nil
	})
}

func (p *Pipeline) spuOptions() spulevel.Options {
	return spulevel.Options{TempDir: p.cfg.TempDir(), CommitEvery: p.cfg.Run.CommitEvery, Logger: p.log}
}

func (p *Pipeline) rollupOptions() rollup.Options {
	return rollup.Options{TempDir: p.cfg.TempDir(), CommitEvery: p.cfg.Run.CommitEvery, Logger: p.log}
}

func (p *Pipeline) marketOptions() marketshare.Options {
	return marketshare.Options{TempDir: p.cfg.TempDir(), CommitEvery: p.cfg.Run.CommitEvery, Logger: p.log}
}

// canonicalize rebuilds the canonical table. A failed rebuild removes the
// partial table so downstream steps skip instead of reading it.
func (p *Pipeline) canonicalize(ctx context.Context) error {
	store, err := p.canonicalStore(ctx)
	if err != nil {
		return err
	}
	res, err := normalization.NewCanonicalizer(store, normalization.Options{
		InputDirs:    p.cfg.Paths.InputDirs,
		ChunkSize:    p.cfg.Run.ChunkSize,
		ManifestPath: p.cfg.ManifestPath(),
		GroupTypes:   p.cfg.VendorGroupType,
		Logger:       p.log,
	}).Run(ctx)
	if err != nil {
		p.closeCanonical()
		if rmErr := normalization.RemoveArtifacts(p.cfg.CanonicalDBPath(), p.cfg.ManifestPath()); rmErr != nil {
			p.log.Warn("remove partial canonical table failed", zap.Error(rmErr))
		}
		return err
	}
	p.canonical = res
	p.metrics.SetCanonical(res.RowCount, res.DroppedRows)
	return nil
}

func (p *Pipeline) checkSufficiency(ctx context.Context) error {
	store, err := p.canonicalStore(ctx)
	if err != nil {
		return err
	}
	res, err := NewSufficiencyChecker(store, p.cfg).Check(ctx)
	if err != nil {
		return err
	}
	p.sufficiency = res
	for _, c := range res.Checks {
		if !c.Pass {
			p.log.Warn("data sufficiency check failed",
				zap.String("check", c.Name),
				zap.String("threshold", c.Threshold),
				zap.String("actual", c.Actual),
			)
		}
	}
	if p.canonical == nil {
		if n, err := store.Count(ctx); err == nil {
			p.metrics.SetCanonical(n, 0)
		}
	}
	return nil
}

// DecisionOutcome is the folded decision with the verdicts it rendered.
type DecisionOutcome struct {
	Result          *decision.Result
	CountryPlatform []domain.CountryPlatformResult
	SummaryPath     string
	ReportPath      string
}

// Decide folds the existing stage outputs into the decision summary and the
// markdown report. It only reads files, so it can run on its own.
func Decide(cfg *config.Config, logger *zap.Logger) (*DecisionOutcome, error) {
	res, err := decision.NewComposer(cfg, logger).Compose()
	if err != nil {
		return nil, err
	}

	out := &DecisionOutcome{
		Result:      res,
		SummaryPath: cfg.ResultFile(decision.SummaryFile),
		ReportPath:  cfg.ResultFile(decision.ReportFile),
	}
	if err := decision.WriteSummary(out.SummaryPath, res.Rows); err != nil {
		return nil, fmt.Errorf("write decision summary: %w", err)
	}

	cps, err := rollup.ReadCountryPlatform(cfg.WorkFile(rollup.CountryPlatformFile))
	if err != nil && !errors.Is(err, reporting.ErrOutputMissing) {
		return nil, fmt.Errorf("read country platform verdicts: %w", err)
	}
	out.CountryPlatform = cps

	if err := writeText(out.ReportPath, decision.RenderMarkdown(res, cps)); err != nil {
		return nil, fmt.Errorf("write decision report: %w", err)
	}
	return out, nil
}
