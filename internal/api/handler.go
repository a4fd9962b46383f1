package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"indication-validation-service/internal/audit"
	"indication-validation-service/internal/storage"
	"indication-validation-service/internal/validation"
)

const serviceVersion = "1.0.0"

// Store is the subset of storage the handlers need. Nil when the service
// runs without Postgres; the stats and revalidate endpoints then return 503.
type Store interface {
	ValidationStats(ctx context.Context, f storage.StatsFilter) (storage.Stats, error)
	LoadPendingIndications(ctx context.Context) ([]validation.LeadActivity, error)
	UpdateIndicationStatus(ctx context.Context, leadID string, valid bool) error
}

type ValidationHandler struct {
	evaluator *validation.Evaluator
	configs   validation.ConfigProvider
	recorder  *audit.Recorder
	store     Store
}

func NewValidationHandler(eval *validation.Evaluator, configs validation.ConfigProvider, recorder *audit.Recorder, store Store) *ValidationHandler {
	return &ValidationHandler{evaluator: eval, configs: configs, recorder: recorder, store: store}
}

// leadPayload is the wire shape of one lead. Required fields are pointers
// so missing keys can be told apart from zero values.
type leadPayload struct {
	LeadID           string           `json:"lead_id"`
	AffiliateID      string           `json:"affiliate_id"`
	RegistrationDate *time.Time       `json:"registration_date"`
	TotalDeposits    *decimal.Decimal `json:"total_deposits"`
	TotalBets        *int64           `json:"total_bets"`
	TotalGGR         *decimal.Decimal `json:"total_ggr"`
	FirstDepositDate *time.Time       `json:"first_deposit_date"`
	LastActivityDate *time.Time       `json:"last_activity_date"`
}

func (p leadPayload) toLead() (validation.LeadActivity, error) {
	switch {
	case p.LeadID == "":
		return validation.LeadActivity{}, fmt.Errorf("missing required field: lead_id")
	case p.AffiliateID == "":
		return validation.LeadActivity{}, fmt.Errorf("missing required field: affiliate_id")
	case p.RegistrationDate == nil:
		return validation.LeadActivity{}, fmt.Errorf("missing required field: registration_date")
	case p.TotalDeposits == nil:
		return validation.LeadActivity{}, fmt.Errorf("missing required field: total_deposits")
	case p.TotalBets == nil:
		return validation.LeadActivity{}, fmt.Errorf("missing required field: total_bets")
	case p.TotalGGR == nil:
		return validation.LeadActivity{}, fmt.Errorf("missing required field: total_ggr")
	}
	if p.TotalDeposits.IsNegative() {
		return validation.LeadActivity{}, fmt.Errorf("total_deposits must be non-negative")
	}
	if *p.TotalBets < 0 {
		return validation.LeadActivity{}, fmt.Errorf("total_bets must be non-negative")
	}

	return validation.LeadActivity{
		LeadID:           p.LeadID,
		AffiliateID:      p.AffiliateID,
		RegistrationDate: *p.RegistrationDate,
		TotalDeposits:    *p.TotalDeposits,
		TotalBets:        *p.TotalBets,
		TotalGGR:         *p.TotalGGR,
		FirstDepositDate: p.FirstDepositDate,
		LastActivityDate: p.LastActivityDate,
	}, nil
}

type envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func (h *ValidationHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "indication-validation-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   serviceVersion,
	})
}

func (h *ValidationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var payload leadPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	lead, err := payload.toLead()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.evaluator.Evaluate(r.Context(), lead)
	h.recorder.Record(r.Context(), result, audit.Context{
		RequestIP: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Endpoint:  "/api/v1/validate",
	})

	writeData(w, http.StatusOK, result)
}

type batchRequest struct {
	Leads []leadPayload `json:"leads"`
}

type batchResponse struct {
	TotalProcessed int                           `json:"total_processed"`
	ValidCount     int                           `json:"valid_count"`
	InvalidCount   int                           `json:"invalid_count"`
	Results        []validation.EvaluationResult `json:"results"`
}

func (h *ValidationHandler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Leads == nil {
		writeError(w, http.StatusBadRequest, "missing leads array")
		return
	}

	leads := make([]validation.LeadActivity, 0, len(req.Leads))
	var inputErrors []string
	for i, p := range req.Leads {
		lead, err := p.toLead()
		if err != nil {
			inputErrors = append(inputErrors, fmt.Sprintf("lead %d: %s", i, err))
			continue
		}
		leads = append(leads, lead)
	}
	if len(inputErrors) > 0 {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Errors: inputErrors})
		return
	}

	results := h.evaluator.EvaluateBatch(r.Context(), leads)

	valid := 0
	for _, res := range results {
		if res.IsValid {
			valid++
		}
		h.recorder.Record(r.Context(), res, audit.Context{
			RequestIP: r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Endpoint:  "/api/v1/validate/batch",
			BatchSize: len(results),
		})
	}

	writeData(w, http.StatusOK, batchResponse{
		TotalProcessed: len(results),
		ValidCount:     valid,
		InvalidCount:   len(results) - valid,
		Results:        results,
	})
}

type configResponse struct {
	Option1DepositMin    decimal.Decimal `json:"option1_deposit_min"`
	Option1BetsMin       int64           `json:"option1_bets_min"`
	Option2DepositMin    decimal.Decimal `json:"option2_deposit_min"`
	Option2GGRMin        decimal.Decimal `json:"option2_ggr_min"`
	ValidationPeriodDays int             `json:"validation_period_days"`
	Timezone             string          `json:"timezone"`
	RequireFirstDeposit  bool            `json:"require_first_deposit"`
}

func (h *ValidationHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.configs.Current(r.Context())
	writeData(w, http.StatusOK, configResponse{
		Option1DepositMin:    cfg.Option1DepositMin,
		Option1BetsMin:       cfg.Option1BetsMin,
		Option2DepositMin:    cfg.Option2DepositMin,
		Option2GGRMin:        cfg.Option2GGRMin,
		ValidationPeriodDays: cfg.ValidationPeriodDays,
		Timezone:             cfg.Timezone,
		RequireFirstDeposit:  cfg.RequireFirstDeposit,
	})
}

func (h *ValidationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit storage not configured")
		return
	}

	filter := storage.StatsFilter{AffiliateID: r.URL.Query().Get("affiliate_id")}
	for param, dst := range map[string]**time.Time{
		"start_date": &filter.Start,
		"end_date":   &filter.End,
	} {
		if raw := r.URL.Query().Get(param); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: use RFC3339", param))
				return
			}
			*dst = &t
		}
	}

	stats, err := h.store.ValidationStats(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("validation stats query failed")
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeData(w, http.StatusOK, stats)
}

type revalidateResponse struct {
	RevalidatedCount int `json:"revalidated_count"`
	ValidCount       int `json:"valid_count"`
	InvalidCount     int `json:"invalid_count"`
}

func (h *ValidationHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit storage not configured")
		return
	}

	leads, err := h.store.LoadPendingIndications(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("loading pending indications failed")
		writeError(w, http.StatusInternalServerError, "failed to load pending indications")
		return
	}

	results := h.evaluator.EvaluateBatch(r.Context(), leads)

	valid := 0
	for _, res := range results {
		if res.IsValid {
			valid++
		}
		h.recorder.Record(r.Context(), res, audit.Context{
			RequestIP: r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Endpoint:  "/api/v1/revalidate",
			BatchSize: len(results),
		})
		if err := h.store.UpdateIndicationStatus(r.Context(), res.LeadID, res.IsValid); err != nil {
			log.Error().Err(err).Str("lead_id", res.LeadID).Msg("updating indication status failed")
		}
	}

	writeData(w, http.StatusOK, revalidateResponse{
		RevalidatedCount: len(results),
		ValidCount:       valid,
		InvalidCount:     len(results) - valid,
	})
}
