package spulevel

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/metrics"
	"marketshare-qaqc/internal/reporting"
	"marketshare-qaqc/internal/storage"
)

// Attribute check types and issues.
const (
	CheckTypeSingleRow = "single_row"
	CheckTypeMultiRow  = "multi_row"

	IssuePlatformMismatch     = "platform_url_mismatch"
	IssueCountryMismatch      = "country_url_mismatch"
	IssueCrossRowInconsistent = "cross_row_attribute_inconsistent"
)

var attributeHeader = []string{"spu_id", "seller_id", "check_type", "issue_type", "total_rows", "diff_rows", "check_result"}

// platformHosts maps a URL host fragment to the platform code.
var platformHosts = []struct{ fragment, platform string }{
	{"shopee", "SHP"},
	{"lazada", "LAZ"},
	{"tiktok", "TTK"},
}

// countryTLDs maps a URL top-level domain to the country code.
var countryTLDs = map[string]string{
	"ph": "PH",
	"vn": "VN",
	"id": "ID",
	"my": "MY",
	"th": "TH",
	"sg": "SG",
}

const (
	seriesSignature = "signature"
	seriesSeller    = "seller_id"
	seriesURL       = "spu_url"
	seriesCountry   = "country"
	seriesPlatform  = "platform"
)

// AttributeChecker validates latest-month SPU attributes. Single-row SPUs
// are checked against their URL; multi-row SPUs against the most common
// attribute signature.
type AttributeChecker struct {
	store storage.CanonicalStore
	opts  Options
}

// NewAttributeChecker creates a checker.
func NewAttributeChecker(store storage.CanonicalStore, opts Options) *AttributeChecker {
	return &AttributeChecker{store: store, opts: opts}
}

// Run writes attribute issues to outPath.
func (c *AttributeChecker) Run(ctx context.Context, outPath string) (*Result, error) {
	latest, err := latestMonth(ctx, c.store)
	if err != nil {
		return nil, err
	}
	res := &Result{Output: outPath}

	gs, err := c.opts.openStore(ctx, "spu_attribute.sqlite")
	if err != nil {
		return nil, err
	}
	defer gs.Close()

	filter := storage.ScanFilter{From: latest, To: latest}
	err = c.store.Scan(ctx, filter, func(r *domain.CanonicalRecord) error {
		res.Scanned++
		key := metrics.K(r.SPUID)
		sig := strings.Join([]string{r.SPUName, r.SPUURL, r.Country, r.Platform}, "|")
		return gs.AddBatch(ctx, []metrics.Entry{
			metrics.TextEntry(key, seriesSignature, sig),
			metrics.TextEntry(key, seriesSeller, r.SellerID),
			metrics.TextEntry(key, seriesURL, r.SPUURL),
			metrics.TextEntry(key, seriesCountry, r.Country),
			metrics.TextEntry(key, seriesPlatform, r.Platform),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load attribute rows: %w", err)
	}

	cols := []metrics.Column{
		{Series: seriesSignature, Reducer: metrics.ReduceCount},
		{Series: seriesSignature, Reducer: metrics.ReduceModeCount},
		{Series: seriesSeller, Reducer: metrics.ReduceMinText},
		{Series: seriesURL, Reducer: metrics.ReduceMinText},
		{Series: seriesCountry, Reducer: metrics.ReduceMinText},
		{Series: seriesPlatform, Reducer: metrics.ReduceMinText},
	}

	w, err := reporting.CreateCSV(outPath, attributeHeader)
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	fail := string(domain.CheckFail)
	err = gs.Query(ctx, cols, func(k metrics.Key, vals []metrics.Value) error {
		res.Groups++
		total := int(vals[0].Num)
		spuID, sellerID := k.Part(0), vals[2].Text

		if total > 1 {
			diff := total - int(vals[1].Num)
			if diff == 0 {
				return nil
			}
			return w.Write([]string{spuID, sellerID, CheckTypeMultiRow, IssueCrossRowInconsistent,
				reporting.FormatInt(total), reporting.FormatInt(diff), fail})
		}

		for _, issue := range singleRowIssues(vals[3].Text, vals[4].Text, vals[5].Text, sellerID) {
			if err := w.Write([]string{spuID, sellerID, CheckTypeSingleRow, issue, "1", "1", fail}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query attribute groups: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	res.Flagged = w.Rows()

	c.opts.logger().Info("attribute check done",
		zap.String("month", latest.String()),
		zap.Int("spus", res.Groups),
		zap.Int("issues", res.Flagged),
		zap.String("output", outPath),
	)
	return res, nil
}

// singleRowIssues compares a row's platform and country with its URL.
// An unparseable or unrecognised URL yields no issue.
func singleRowIssues(rawURL, country, platform, sellerID string) []string {
	host := urlHost(rawURL)
	if host == "" {
		return nil
	}

	var issues []string
	if expected := platformForHost(host); expected != "" {
		if effectivePlatform(platform, sellerID) != expected {
			issues = append(issues, IssuePlatformMismatch)
		}
	}
	if expected := countryForHost(host); expected != "" {
		if !strings.EqualFold(country, expected) {
			issues = append(issues, IssueCountryMismatch)
		}
	}
	return issues
}

func urlHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func platformForHost(host string) string {
	for _, p := range platformHosts {
		if strings.Contains(host, p.fragment) {
			return p.platform
		}
	}
	return ""
}

func countryForHost(host string) string {
	i := strings.LastIndexByte(host, '.')
	if i < 0 {
		return ""
	}
	return countryTLDs[host[i+1:]]
}

// effectivePlatform falls back to the second dotted segment of the seller
// id ("PH.SHP.123") when the platform column is unknown.
func effectivePlatform(platform, sellerID string) string {
	p := strings.ToUpper(strings.TrimSpace(platform))
	if p != "" && p != "UNKNOWN" {
		return p
	}
	parts := strings.Split(sellerID, ".")
	if len(parts) > 1 {
		return strings.ToUpper(parts[1])
	}
	return p
}
