package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"indication-validation-service/internal/observability"
	"indication-validation-service/internal/storage"
	"indication-validation-service/internal/validation"
)

// Store persists audit records. May be absent (log-only mode).
type Store interface {
	InsertValidation(ctx context.Context, rec storage.AuditRecord) error
}

// Context carries free-form request metadata alongside a result.
type Context struct {
	RequestIP string `json:"request_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// Recorder writes an audit trail for every evaluation. Recording never
// fails the evaluation itself: persistence errors are logged and dropped.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, res validation.EvaluationResult, reqCtx Context) {
	criteria := ""
	if res.CriteriaMet != nil {
		criteria = string(*res.CriteriaMet)
	}
	observability.ObserveValidation(res.IsValid, criteria)

	details, _ := json.Marshal(res.Details)
	contextJSON, _ := json.Marshal(reqCtx)

	log.Info().
		Str("event", "VALIDATION_AUDIT").
		Str("lead_id", res.LeadID).
		Str("affiliate_id", res.AffiliateID).
		Bool("is_valid", res.IsValid).
		Str("criteria_met", criteria).
		RawJSON("details", details).
		Strs("errors", res.Errors).
		RawJSON("context", contextJSON).
		Time("validation_date", res.ValidationDate).
		Msg("indication evaluated")

	if r.store == nil {
		return
	}

	rec := storage.AuditRecord{
		ID:          uuid.NewString(),
		LeadID:      res.LeadID,
		AffiliateID: res.AffiliateID,
		IsValid:     res.IsValid,
		CriteriaMet: criteria,
		Details:     details,
		Errors:      res.Errors,
		Context:     contextJSON,
		CreatedAt:   res.ValidationDate,
	}
	if err := r.store.InsertValidation(ctx, rec); err != nil {
		log.Error().Err(err).Str("lead_id", res.LeadID).Msg("audit persistence failed")
	}
}
