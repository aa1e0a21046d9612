package rollup

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/classify"
	"marketshare-qaqc/internal/config"
	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/logging"
	"marketshare-qaqc/internal/reporting"
)

var countryPlatformHeader = []string{
	"country", "platform",
	"seller_total_in_scope", "seller_normal", "seller_normal_rate", "seller_check_good",
	"category_total_in_scope", "category_normal", "category_normal_rate", "category_check_good",
	"good_to_use",
}

type pairKey struct{ country, platform string }

type counts struct{ total, normal int }

// CountryPlatformRollup combines the seller and category summaries into
// one verdict per (country, platform).
type CountryPlatformRollup struct {
	pass float64
	log  *zap.Logger
}

// NewCountryPlatformRollup creates the rollup with the country_platform_rate threshold.
func NewCountryPlatformRollup(cfg *config.Config, logger *zap.Logger) *CountryPlatformRollup {
	return &CountryPlatformRollup{
		pass: cfg.Threshold(config.CheckCountryPlatformRate).PassRatio(),
		log:  logging.OrNop(logger),
	}
}

// Run reads the seller and category summaries and writes outPath. Pairs
// seen in either summary are reported; a missing side counts as zero.
func (c *CountryPlatformRollup) Run(sellerPath, categoryPath, outPath string) ([]domain.CountryPlatformResult, error) {
	pairs := make(map[pairKey]bool)
	sellers, sellerErr := c.readLevel(sellerPath, "seller_id", pairs)
	categories, categoryErr := c.readLevel(categoryPath, "category_url", pairs)
	for _, err := range []error{sellerErr, categoryErr} {
		if err != nil && !errors.Is(err, reporting.ErrOutputMissing) {
			return nil, err
		}
	}
	if sellerErr != nil && categoryErr != nil {
		return nil, fmt.Errorf("no entity summaries: %w", sellerErr)
	}
	for _, err := range []error{sellerErr, categoryErr} {
		if err != nil {
			c.log.Warn("entity summary missing, counted as empty", zap.Error(err))
		}
	}

	keys := make([]pairKey, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].country != keys[j].country {
			return keys[i].country < keys[j].country
		}
		return keys[i].platform < keys[j].platform
	})

	out, err := reporting.CreateCSV(outPath, countryPlatformHeader)
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	results := make([]domain.CountryPlatformResult, 0, len(keys))
	for _, k := range keys {
		s, cat := sellers[k], categories[k]
		res := domain.CountryPlatformResult{
			Country:            k.country,
			Platform:           k.platform,
			SellerTotal:        s.total,
			SellerNormal:       s.normal,
			SellerNormalRate:   classify.Rate(s.normal, s.total),
			SellerCheckGood:    classify.CheckGood(s.normal, s.total, c.pass),
			CategoryTotal:      cat.total,
			CategoryNormal:     cat.normal,
			CategoryNormalRate: classify.Rate(cat.normal, cat.total),
			CategoryCheckGood:  classify.CheckGood(cat.normal, cat.total, c.pass),
		}
		res.GoodToUse = res.SellerCheckGood && res.CategoryCheckGood
		results = append(results, res)

		if err := out.Write([]string{
			res.Country, res.Platform,
			reporting.FormatInt(res.SellerTotal), reporting.FormatInt(res.SellerNormal),
			reporting.FormatFixed(res.SellerNormalRate), reporting.FormatBool(res.SellerCheckGood),
			reporting.FormatInt(res.CategoryTotal), reporting.FormatInt(res.CategoryNormal),
			reporting.FormatFixed(res.CategoryNormalRate), reporting.FormatBool(res.CategoryCheckGood),
			reporting.FormatBool(res.GoodToUse),
		}); err != nil {
			return nil, err
		}
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	good := 0
	for _, r := range results {
		if r.GoodToUse {
			good++
		}
	}
	c.log.Info("country-platform rollup done",
		zap.Int("pairs", len(results)),
		zap.Int("good_to_use", good),
	)
	return results, nil
}

// readLevel counts in-scope and normal entities per pair and records every
// pair seen, in scope or not.
func (c *CountryPlatformRollup) readLevel(path, column string, pairs map[pairKey]bool) (map[pairKey]counts, error) {
	out := make(map[pairKey]counts)
	err := reporting.ScanCSV(path, []string{"country", "platform", column, "status", "in_scope"}, func(row reporting.Row) error {
		k := pairKey{row.Get("country"), row.Get("platform")}
		pairs[k] = true
		if row.Get("in_scope") != reporting.FormatBool(true) {
			return nil
		}
		n := out[k]
		n.total++
		if row.Get("status") == string(domain.EntityNormal) {
			n.normal++
		}
		out[k] = n
		return nil
	})
	return out, err
}

// ReadCountryPlatform loads a country_platform_level.csv written by Run.
func ReadCountryPlatform(path string) ([]domain.CountryPlatformResult, error) {
	var results []domain.CountryPlatformResult
	err := reporting.ScanCSV(path, countryPlatformHeader, func(row reporting.Row) error {
		atoi := func(col string) int {
			v, _ := row.Float(col)
			return int(v)
		}
		rate := func(col string) float64 {
			v, _ := row.Float(col)
			return v
		}
		truth := reporting.FormatBool(true)
		results = append(results, domain.CountryPlatformResult{
			Country:            row.Get("country"),
			Platform:           row.Get("platform"),
			SellerTotal:        atoi("seller_total_in_scope"),
			SellerNormal:       atoi("seller_normal"),
			SellerNormalRate:   rate("seller_normal_rate"),
			SellerCheckGood:    row.Get("seller_check_good") == truth,
			CategoryTotal:      atoi("category_total_in_scope"),
			CategoryNormal:     atoi("category_normal"),
			CategoryNormalRate: rate("category_normal_rate"),
			CategoryCheckGood:  row.Get("category_check_good") == truth,
			GoodToUse:          row.Get("good_to_use") == truth,
		})
		return nil
	})
	return results, err
}
