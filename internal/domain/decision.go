package domain

import "time"

// Stage names in decision order.
const (
	StageVendorInput    = "vendor-input"
	StageComputedOutput = "computed-output"
)

// Decision statuses.
const (
	DecisionPass = "PASS"
	DecisionWarn = "WARN"
	DecisionFail = "FAIL"
)

// DecisionRow is one line of the decision summary.
type DecisionRow struct {
	Scope         string
	Stage         string
	CheckName     string
	Status        string // PASS | WARN | FAIL
	KeyMetric     string
	Benchmark     string
	ReferenceFile string
}

// CountryPlatformResult is the rolled-up verdict for one (country, platform).
type CountryPlatformResult struct {
	Country            string
	Platform           string
	SellerTotal        int
	SellerNormal       int
	SellerNormalRate   float64
	SellerCheckGood    bool
	CategoryTotal      int
	CategoryNormal     int
	CategoryNormalRate float64
	CategoryCheckGood  bool
	GoodToUse          bool
}

// RunRecord summarizes one pipeline run for the archive.
type RunRecord struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	LatestMonth     string
	CanonicalRows   int64
	CanonicalDigest string
	StepsRun        int
	StepsSkipped    int
}
