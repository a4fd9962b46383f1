package validation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Criteria names the qualification path a lead satisfied.
type Criteria string

const (
	CriteriaOption1 Criteria = "option_1" // deposit + bets
	CriteriaOption2 Criteria = "option_2" // deposit + GGR
)

// LeadActivity is an immutable snapshot of one lead's behavior at
// evaluation time. Built by the caller, never mutated here.
type LeadActivity struct {
	LeadID           string
	AffiliateID      string
	RegistrationDate time.Time
	TotalDeposits    decimal.Decimal
	TotalBets        int64
	TotalGGR         decimal.Decimal
	FirstDepositDate *time.Time
	LastActivityDate *time.Time
}

// ValidationConfig is the threshold parameter set served by the
// configuration cache. Replaced wholesale on refresh.
type ValidationConfig struct {
	Option1DepositMin decimal.Decimal
	Option1BetsMin    int64
	Option2DepositMin decimal.Decimal
	Option2GGRMin     decimal.Decimal

	ValidationPeriodDays int
	Timezone             string

	EnableFraudDetection      bool
	MaxValidationAttempts     int
	ValidationTimeoutSeconds  int
	RequireFirstDeposit       bool
	MinSessionDurationMinutes int
}

// CheckDetail records one sub-criterion's threshold against the lead's
// actual value.
type CheckDetail struct {
	Required decimal.Decimal `json:"required"`
	Actual   decimal.Decimal `json:"actual"`
	Passed   bool            `json:"passed"`
}

// EvaluationResult is the outcome of evaluating one lead.
type EvaluationResult struct {
	LeadID         string                 `json:"lead_id"`
	AffiliateID    string                 `json:"affiliate_id"`
	IsValid        bool                   `json:"is_valid"`
	CriteriaMet    *Criteria              `json:"criteria_met"`
	ValidationDate time.Time              `json:"validation_date"`
	Details        map[string]CheckDetail `json:"details"`
	Errors         []string               `json:"errors"`
}
