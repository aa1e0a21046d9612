package domain

// Status is a classification outcome for an entity over a period window.
type Status string

// Pairwise and trend statuses.
const (
	StatusNormal              Status = "normal"
	StatusNewInLatest         Status = "new-in-latest"
	StatusMissingInLatest     Status = "missing-in-latest"
	StatusAbnormalIncrease    Status = "abnormal-increase"
	StatusAbnormalDrop        Status = "abnormal-drop"
	StatusInsufficientHistory Status = "insufficient-history"
	StatusNoBaseline          Status = "no-baseline"
	StatusLowCoverage         Status = "low-coverage"
)

// IsAbnormalMovement reports whether s counts as an abnormal movement.
func (s Status) IsAbnormalMovement() bool {
	return s == StatusAbnormalIncrease || s == StatusAbnormalDrop
}

// AbnormalType explains a revenue movement.
type AbnormalType string

const (
	AbnormalNone          AbnormalType = "none"
	AbnormalBaseEffect    AbnormalType = "base-effect"
	AbnormalSourceSwitch  AbnormalType = "source-switch"
	AbnormalSpikeOutTrend AbnormalType = "spike-out-trend"
)

// Risk is the review priority derived from an AbnormalType.
type Risk string

const (
	RiskNone   Risk = "none"
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// CheckResult is a pass/fail verdict on a single check.
type CheckResult string

const (
	CheckPass CheckResult = "PASS"
	CheckFail CheckResult = "FAIL"
)

// EntityStatus is the rolled-up verdict for a seller or category.
type EntityStatus string

const (
	EntityNormal   EntityStatus = "Normal"
	EntityAbnormal EntityStatus = "Abnormal"
)
