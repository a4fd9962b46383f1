package configsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"indication-validation-service/internal/validation"
)

// Configuration keys served by the config-service. Key names are the wire
// contract and must not be renamed here.
const (
	keyOption1DepositMin  = "cpa.validacao.opcao1.deposito_minimo"
	keyOption1BetsMin     = "cpa.validacao.opcao1.numero_apostas"
	keyOption2DepositMin  = "cpa.validacao.opcao2.deposito_minimo"
	keyOption2GGRMin      = "cpa.validacao.opcao2.ggr_minimo"
	keyValidationDays     = "cpa.validacao.prazo_dias"
	keyTimezone           = "cpa.validacao.timezone"
	keyFraudDetection     = "cpa.validacao.deteccao_fraude_ativa"
	keyMaxAttempts        = "cpa.validacao.max_tentativas"
	keyTimeoutSeconds     = "cpa.validacao.timeout_segundos"
	keyRequireFirstDep    = "cpa.validacao.exigir_primeiro_deposito"
	keyMinSessionMinutes  = "cpa.validacao.duracao_minima_sessao_minutos"
)

var configKeys = []string{
	keyOption1DepositMin,
	keyOption1BetsMin,
	keyOption2DepositMin,
	keyOption2GGRMin,
	keyValidationDays,
	keyTimezone,
	keyFraudDetection,
	keyMaxAttempts,
	keyTimeoutSeconds,
	keyRequireFirstDep,
	keyMinSessionMinutes,
}

// DefaultConfig is the emergency threshold set used when the
// config-service cannot be reached or a key is missing/invalid.
func DefaultConfig() validation.ValidationConfig {
	return validation.ValidationConfig{
		Option1DepositMin:         decimal.NewFromFloat(30.00),
		Option1BetsMin:            10,
		Option2DepositMin:         decimal.NewFromFloat(30.00),
		Option2GGRMin:             decimal.NewFromFloat(20.00),
		ValidationPeriodDays:      30,
		Timezone:                  "America/Sao_Paulo",
		EnableFraudDetection:      true,
		MaxValidationAttempts:     3,
		ValidationTimeoutSeconds:  30,
		RequireFirstDeposit:       false,
		MinSessionDurationMinutes: 5,
	}
}

// Client fetches validation thresholds from the config-service, one key
// per round trip.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type keyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	} `json:"data"`
}

// FetchConfig requests every configuration key. A missing or malformed key
// falls back to its own default; only when no key at all can be fetched is
// an error returned alongside the full emergency config, so callers always
// get a usable value.
func (c *Client) FetchConfig(ctx context.Context) (validation.ValidationConfig, error) {
	values := make(map[string]json.RawMessage, len(configKeys))

	var lastErr error
	for _, key := range configKeys {
		raw, err := c.fetchKey(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return DefaultConfig(), fmt.Errorf("config fetch canceled: %w", ctx.Err())
			}
			log.Warn().Err(err).Str("key", key).Msg("config key fetch failed; using default")
			lastErr = err
			continue
		}
		values[key] = raw
	}

	cfg := validation.ValidationConfig{
		Option1DepositMin:         decimalOr(values, keyOption1DepositMin, decimal.NewFromFloat(30.00)),
		Option1BetsMin:            int64Or(values, keyOption1BetsMin, 10),
		Option2DepositMin:         decimalOr(values, keyOption2DepositMin, decimal.NewFromFloat(30.00)),
		Option2GGRMin:             decimalOr(values, keyOption2GGRMin, decimal.NewFromFloat(20.00)),
		ValidationPeriodDays:      int(int64Or(values, keyValidationDays, 30)),
		Timezone:                  stringOr(values, keyTimezone, "America/Sao_Paulo"),
		EnableFraudDetection:      boolOr(values, keyFraudDetection, true),
		MaxValidationAttempts:     int(int64Or(values, keyMaxAttempts, 3)),
		ValidationTimeoutSeconds:  int(int64Or(values, keyTimeoutSeconds, 30)),
		RequireFirstDeposit:       boolOr(values, keyRequireFirstDep, false),
		MinSessionDurationMinutes: int(int64Or(values, keyMinSessionMinutes, 5)),
	}

	if len(values) == 0 && lastErr != nil {
		return cfg, fmt.Errorf("config-service unreachable: %w", lastErr)
	}
	return cfg, nil
}

func (c *Client) fetchKey(ctx context.Context, key string) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/api/v1/config/%s", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config-service returned %d for %s", resp.StatusCode, key)
	}

	var kr keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return nil, fmt.Errorf("decode config response for %s: %w", key, err)
	}
	if !kr.Success {
		return nil, fmt.Errorf("config key %s not found", key)
	}
	return kr.Data.Value, nil
}

// Wire values are untyped JSON; each coercer tolerates both native and
// string-encoded values and falls back to the key's default otherwise.

func decimalOr(values map[string]json.RawMessage, key string, def decimal.Decimal) decimal.Decimal {
	raw, ok := values[key]
	if !ok {
		return def
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		log.Warn().Str("key", key).Msg("invalid decimal config value; using default")
		return def
	}
	return d
}

func int64Or(values map[string]json.RawMessage, key string, def int64) int64 {
	raw, ok := values[key]
	if !ok {
		return def
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	log.Warn().Str("key", key).Msg("invalid integer config value; using default")
	return def
}

func boolOr(values map[string]json.RawMessage, key string, def bool) bool {
	raw, ok := values[key]
	if !ok {
		return def
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	log.Warn().Str("key", key).Msg("invalid boolean config value; using default")
	return def
}

func stringOr(values map[string]json.RawMessage, key string, def string) string {
	raw, ok := values[key]
	if !ok {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Warn().Str("key", key).Msg("invalid string config value; using default")
		return def
	}
	return s
}
