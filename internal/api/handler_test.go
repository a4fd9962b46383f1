package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indication-validation-service/internal/audit"
	"indication-validation-service/internal/storage"
	"indication-validation-service/internal/validation"
)

type stubConfigs struct {
	cfg validation.ValidationConfig
}

func (s *stubConfigs) Current(context.Context) validation.ValidationConfig { return s.cfg }

func defaultConfig() validation.ValidationConfig {
	return validation.ValidationConfig{
		Option1DepositMin:    decimal.NewFromFloat(30.00),
		Option1BetsMin:       10,
		Option2DepositMin:    decimal.NewFromFloat(30.00),
		Option2GGRMin:        decimal.NewFromFloat(20.00),
		ValidationPeriodDays: 30,
		Timezone:             "America/Sao_Paulo",
	}
}

func newTestHandler(store Store) *ValidationHandler {
	configs := &stubConfigs{cfg: defaultConfig()}
	eval := validation.NewEvaluator(configs)
	recorder := audit.NewRecorder(nil)
	return NewValidationHandler(eval, configs, recorder, store)
}

type resultEnvelope struct {
	Success bool                        `json:"success"`
	Data    validation.EvaluationResult `json:"data"`
	Error   string                      `json:"error"`
	Errors  []string                    `json:"errors"`
}

func leadBody(daysAgo int, deposits string, bets int64, ggr string) map[string]any {
	return map[string]any{
		"lead_id":           "lead_001",
		"affiliate_id":      "aff_001",
		"registration_date": time.Now().UTC().AddDate(0, 0, -daysAgo).Format(time.RFC3339),
		"total_deposits":    deposits,
		"total_bets":        bets,
		"total_ggr":         ggr,
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestValidate_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		body         map[string]any
		wantStatus   int
		wantValid    bool
		wantCriteria string
	}{
		{
			name:         "option 1 satisfied",
			body:         leadBody(5, "50.00", 15, "25.00"),
			wantStatus:   http.StatusOK,
			wantValid:    true,
			wantCriteria: "option_1",
		},
		{
			name:       "neither option satisfied",
			body:       leadBody(10, "25.00", 8, "15.00"),
			wantStatus: http.StatusOK,
			wantValid:  false,
		},
		{
			name:         "exact thresholds satisfy option 2",
			body:         leadBody(5, "30.00", 9, "20.00"),
			wantStatus:   http.StatusOK,
			wantValid:    true,
			wantCriteria: "option_2",
		},
		{
			name:       "outside validation window",
			body:       leadBody(31, "500.00", 100, "300.00"),
			wantStatus: http.StatusOK,
			wantValid:  false,
		},
	}

	h := newTestHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.Validate, "/api/v1/validate", tt.body)
			require.Equal(t, tt.wantStatus, w.Code)

			var env resultEnvelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.True(t, env.Success)
			assert.Equal(t, tt.wantValid, env.Data.IsValid)

			if tt.wantCriteria != "" {
				require.NotNil(t, env.Data.CriteriaMet)
				assert.Equal(t, tt.wantCriteria, string(*env.Data.CriteriaMet))
			} else {
				assert.Nil(t, env.Data.CriteriaMet)
			}
		})
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	h := newTestHandler(nil)

	for _, field := range []string{"lead_id", "affiliate_id", "registration_date", "total_deposits", "total_bets", "total_ggr"} {
		t.Run(field, func(t *testing.T) {
			body := leadBody(5, "50.00", 15, "25.00")
			delete(body, field)

			w := postJSON(t, h.Validate, "/api/v1/validate", body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var env resultEnvelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.False(t, env.Success)
			assert.Equal(t, fmt.Sprintf("missing required field: %s", field), env.Error)
		})
	}
}

func TestValidate_RejectsNegativeAmounts(t *testing.T) {
	h := newTestHandler(nil)

	body := leadBody(5, "-1.00", 15, "25.00")
	w := postJSON(t, h.Validate, "/api/v1/validate", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidate_InvalidBody(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	h.Validate(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateBatch(t *testing.T) {
	h := newTestHandler(nil)

	body := map[string]any{"leads": []map[string]any{
		leadBody(5, "50.00", 15, "25.00"),
		leadBody(10, "25.00", 8, "15.00"),
	}}
	w := postJSON(t, h.ValidateBatch, "/api/v1/validate/batch", body)
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Success bool          `json:"success"`
		Data    batchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, 2, env.Data.TotalProcessed)
	assert.Equal(t, 1, env.Data.ValidCount)
	assert.Equal(t, 1, env.Data.InvalidCount)
	require.Len(t, env.Data.Results, 2)
	assert.True(t, env.Data.Results[0].IsValid)
	assert.False(t, env.Data.Results[1].IsValid)
}

func TestValidateBatch_MissingLeads(t *testing.T) {
	h := newTestHandler(nil)

	w := postJSON(t, h.ValidateBatch, "/api/v1/validate/batch", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var env resultEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "missing leads array", env.Error)
}

func TestValidateBatch_ReportsBadLeadsByIndex(t *testing.T) {
	h := newTestHandler(nil)

	bad := leadBody(5, "50.00", 15, "25.00")
	delete(bad, "affiliate_id")
	body := map[string]any{"leads": []map[string]any{
		leadBody(5, "50.00", 15, "25.00"),
		bad,
	}}

	w := postJSON(t, h.ValidateBatch, "/api/v1/validate/batch", body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var env resultEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, []string{"lead 1: missing required field: affiliate_id"}, env.Errors)
}

func TestGetConfig(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	h.GetConfig(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Success bool           `json:"success"`
		Data    configResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Data.Option1DepositMin.Equal(decimal.NewFromFloat(30.00)))
	assert.Equal(t, int64(10), env.Data.Option1BetsMin)
	assert.Equal(t, 30, env.Data.ValidationPeriodDays)
}

type fakeStore struct {
	stats    storage.Stats
	statsErr error
	pending  []validation.LeadActivity
	updated  map[string]bool
}

func (f *fakeStore) ValidationStats(context.Context, storage.StatsFilter) (storage.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeStore) LoadPendingIndications(context.Context) ([]validation.LeadActivity, error) {
	return f.pending, nil
}

func (f *fakeStore) UpdateIndicationStatus(_ context.Context, leadID string, valid bool) error {
	if f.updated == nil {
		f.updated = map[string]bool{}
	}
	f.updated[leadID] = valid
	return nil
}

func TestStats_WithoutStorage(t *testing.T) {
	h := newTestHandler(nil)

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStats(t *testing.T) {
	store := &fakeStore{stats: storage.Stats{
		TotalValidations: 10,
		ValidIndications: 7,
		ValidationRate:   0.7,
	}}
	h := newTestHandler(store)

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats?affiliate_id=aff_001", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Success bool          `json:"success"`
		Data    storage.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, int64(10), env.Data.TotalValidations)
	assert.Equal(t, int64(7), env.Data.ValidIndications)
}

func TestStats_InvalidDateFilter(t *testing.T) {
	h := newTestHandler(&fakeStore{})

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats?start_date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevalidate(t *testing.T) {
	store := &fakeStore{pending: []validation.LeadActivity{
		{
			LeadID:           "lead_100",
			AffiliateID:      "aff_001",
			RegistrationDate: time.Now().UTC().AddDate(0, 0, -5),
			TotalDeposits:    decimal.NewFromFloat(50.00),
			TotalBets:        15,
			TotalGGR:         decimal.NewFromFloat(25.00),
		},
		{
			LeadID:           "lead_101",
			AffiliateID:      "aff_001",
			RegistrationDate: time.Now().UTC().AddDate(0, 0, -10),
			TotalDeposits:    decimal.NewFromFloat(25.00),
			TotalBets:        8,
			TotalGGR:         decimal.NewFromFloat(15.00),
		},
	}}
	h := newTestHandler(store)

	w := httptest.NewRecorder()
	h.Revalidate(w, httptest.NewRequest(http.MethodPost, "/api/v1/revalidate", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Success bool               `json:"success"`
		Data    revalidateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, 2, env.Data.RevalidatedCount)
	assert.Equal(t, 1, env.Data.ValidCount)
	assert.Equal(t, 1, env.Data.InvalidCount)

	assert.Equal(t, map[string]bool{"lead_100": true, "lead_101": false}, store.updated)
}

func TestRevalidate_WithoutStorage(t *testing.T) {
	h := newTestHandler(nil)

	w := httptest.NewRecorder()
	h.Revalidate(w, httptest.NewRequest(http.MethodPost, "/api/v1/revalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_Endpoints(t *testing.T) {
	h := newTestHandler(nil)
	ts := httptest.NewServer(Router(h))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "indication-validation-service", health["service"])

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}
