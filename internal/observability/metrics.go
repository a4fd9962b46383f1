package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_requests_total",
			Help: "Total HTTP requests by status code",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "validation_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validation_in_flight",
		Help: "In-flight HTTP requests",
	})
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indication_validations_total",
			Help: "Lead evaluations by outcome and satisfied criteria",
		}, []string{"outcome", "criteria"},
	)
	ConfigFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "config_fetch_failures_total",
		Help: "Config-service fetches that fell back to defaults",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, ValidationsTotal, ConfigFetchFailures)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// ObserveValidation records one evaluation outcome.
func ObserveValidation(valid bool, criteria string) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	if criteria == "" {
		criteria = "none"
	}
	ValidationsTotal.WithLabelValues(outcome, criteria).Inc()
}

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
