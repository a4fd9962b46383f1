package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ConfigProvider serves the current threshold set. Implemented by the
// configsource cache; stubbed in tests.
type ConfigProvider interface {
	Current(ctx context.Context) ValidationConfig
}

// Evaluator decides indication validity for leads. It holds no mutable
// state; the clock is injectable for deterministic tests.
type Evaluator struct {
	configs ConfigProvider
	now     func() time.Time
}

func NewEvaluator(configs ConfigProvider) *Evaluator {
	return &Evaluator{configs: configs, now: time.Now}
}

func NewEvaluatorWithClock(configs ConfigProvider, now func() time.Time) *Evaluator {
	return &Evaluator{configs: configs, now: now}
}

// Evaluate decides one lead against the current configuration. It never
// returns an error: unexpected failures become an invalid result with a
// generic internal reason.
func (e *Evaluator) Evaluate(ctx context.Context, lead LeadActivity) (res EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("lead_id", lead.LeadID).Interface("panic", r).Msg("evaluation panicked")
			res = EvaluationResult{
				LeadID:         lead.LeadID,
				AffiliateID:    lead.AffiliateID,
				IsValid:        false,
				ValidationDate: e.now().UTC(),
				Details:        map[string]CheckDetail{},
				Errors:         []string{"internal error during evaluation"},
			}
		}
	}()

	cfg := e.configs.Current(ctx)
	return EvaluateWith(lead, cfg, e.now())
}

// EvaluateBatch evaluates leads in input order. One lead's failure never
// affects another's result.
func (e *Evaluator) EvaluateBatch(ctx context.Context, leads []LeadActivity) []EvaluationResult {
	results := make([]EvaluationResult, 0, len(leads))
	for _, lead := range leads {
		results = append(results, e.Evaluate(ctx, lead))
	}
	return results
}

// EvaluateWith is the pure decision function: same lead, same config and
// same clock always produce the same result.
//
// Order: validity window, then the first-deposit precondition, then
// option 1 (deposit + bets), then option 2 (deposit + GGR). Option 1 takes
// precedence when both would pass. All threshold comparisons are inclusive.
func EvaluateWith(lead LeadActivity, cfg ValidationConfig, now time.Time) EvaluationResult {
	res := EvaluationResult{
		LeadID:         lead.LeadID,
		AffiliateID:    lead.AffiliateID,
		ValidationDate: now.UTC(),
		Details:        map[string]CheckDetail{},
		Errors:         []string{},
	}

	cutoff := now.UTC().AddDate(0, 0, -cfg.ValidationPeriodDays)
	if lead.RegistrationDate.UTC().Before(cutoff) {
		res.Errors = append(res.Errors,
			fmt.Sprintf("lead outside validation window (%d days)", cfg.ValidationPeriodDays))
		return res
	}

	if cfg.RequireFirstDeposit && lead.FirstDepositDate == nil {
		res.Errors = append(res.Errors, "missing required first deposit")
		return res
	}

	o1Details, o1Errors, o1Valid := evaluateOption1(lead, cfg)
	if o1Valid {
		res.IsValid = true
		res.CriteriaMet = criteriaPtr(CriteriaOption1)
		res.Details = o1Details
		return res
	}

	o2Details, o2Errors, o2Valid := evaluateOption2(lead, cfg)
	if o2Valid {
		res.IsValid = true
		res.CriteriaMet = criteriaPtr(CriteriaOption2)
		res.Details = o2Details
		return res
	}

	for k, v := range o1Details {
		res.Details[k] = v
	}
	for k, v := range o2Details {
		res.Details[k] = v
	}
	res.Errors = append(res.Errors, o1Errors...)
	res.Errors = append(res.Errors, o2Errors...)
	return res
}

// evaluateOption1 checks deposit + bet count. Both sub-checks are always
// evaluated so the result shows which one failed.
func evaluateOption1(lead LeadActivity, cfg ValidationConfig) (map[string]CheckDetail, []string, bool) {
	depositOK := lead.TotalDeposits.GreaterThanOrEqual(cfg.Option1DepositMin)
	betsOK := lead.TotalBets >= cfg.Option1BetsMin

	details := map[string]CheckDetail{
		"option1_deposit": {Required: cfg.Option1DepositMin, Actual: lead.TotalDeposits, Passed: depositOK},
		"option1_bets":    {Required: decimal.NewFromInt(cfg.Option1BetsMin), Actual: decimal.NewFromInt(lead.TotalBets), Passed: betsOK},
	}

	var errs []string
	if !depositOK {
		errs = append(errs, fmt.Sprintf("insufficient deposit: %s < %s",
			lead.TotalDeposits.StringFixed(2), cfg.Option1DepositMin.StringFixed(2)))
	}
	if !betsOK {
		errs = append(errs, fmt.Sprintf("insufficient bets: %d < %d", lead.TotalBets, cfg.Option1BetsMin))
	}
	return details, errs, depositOK && betsOK
}

// evaluateOption2 checks deposit + GGR, same recording as option 1.
func evaluateOption2(lead LeadActivity, cfg ValidationConfig) (map[string]CheckDetail, []string, bool) {
	depositOK := lead.TotalDeposits.GreaterThanOrEqual(cfg.Option2DepositMin)
	ggrOK := lead.TotalGGR.GreaterThanOrEqual(cfg.Option2GGRMin)

	details := map[string]CheckDetail{
		"option2_deposit": {Required: cfg.Option2DepositMin, Actual: lead.TotalDeposits, Passed: depositOK},
		"option2_ggr":     {Required: cfg.Option2GGRMin, Actual: lead.TotalGGR, Passed: ggrOK},
	}

	var errs []string
	if !depositOK {
		errs = append(errs, fmt.Sprintf("insufficient deposit: %s < %s",
			lead.TotalDeposits.StringFixed(2), cfg.Option2DepositMin.StringFixed(2)))
	}
	if !ggrOK {
		errs = append(errs, fmt.Sprintf("insufficient GGR: %s < %s",
			lead.TotalGGR.StringFixed(2), cfg.Option2GGRMin.StringFixed(2)))
	}
	return details, errs, depositOK && ggrOK
}

func criteriaPtr(c Criteria) *Criteria { return &c }
