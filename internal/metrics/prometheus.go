package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder by publishing Prometheus
// collectors, following the teacher's monitor/init.go pattern of
// registering one set of collectors at startup and updating them from
// recorder calls.
type PrometheusRecorder struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	forwardTotal   *prometheus.CounterVec
	forwardCostUSD *prometheus.CounterVec
	classifierTier *prometheus.CounterVec
	downgrades     *prometheus.CounterVec
	maxPushes      *prometheus.CounterVec
	guardBlocks    *prometheus.CounterVec
	errors         *prometheus.CounterVec
}

// NewPrometheusRecorder builds and registers a PrometheusRecorder against
// registerer. Pass prometheus.DefaultRegisterer for the process-wide
// default registry.
func NewPrometheusRecorder(registerer prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_http_requests_total",
			Help: "Total inbound HTTP requests by path, method, and status.",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrouter_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		forwardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_forward_requests_total",
			Help: "Total upstream forwards by tier, provider, model, and outcome.",
		}, []string{"tier", "provider", "model", "success"}),
		forwardCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_forward_cost_usd_total",
			Help: "Accumulated forward cost in USD by tier.",
		}, []string{"tier"}),
		classifierTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_classifier_tier_total",
			Help: "Requests classified into each tier.",
		}, []string{"tier"}),
		downgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_tier_downgrades_total",
			Help: "Budget-pressure tier downgrades.",
		}, []string{"from_tier", "to_tier"}),
		maxPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_max_push_total",
			Help: "Opportunistic max-push upgrades by target tier.",
		}, []string{"tier"}),
		guardBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_guard_blocks_total",
			Help: "Requests blocked by a guard stage.",
		}, []string{"stage"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_errors_total",
			Help: "Errors by type and component.",
		}, []string{"error_type", "component"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			r.httpRequests, r.httpDuration, r.forwardTotal, r.forwardCostUSD,
			r.classifierTier, r.downgrades, r.maxPushes, r.guardBlocks, r.errors,
		)
	}

	return r
}

func (r *PrometheusRecorder) RecordHTTPRequest(start time.Time, path, method, statusCode string) {
	r.httpRequests.WithLabelValues(path, method, statusCode).Inc()
	r.httpDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
}

func (r *PrometheusRecorder) RecordForward(start time.Time, tier, provider, model string, success bool, promptTokens, completionTokens int, costUSD float64) {
	_ = start
	_ = promptTokens
	_ = completionTokens
	r.forwardTotal.WithLabelValues(tier, provider, model, successLabel(success)).Inc()
	r.forwardCostUSD.WithLabelValues(tier).Add(costUSD)
}

func (r *PrometheusRecorder) RecordClassifierTier(tier string) {
	r.classifierTier.WithLabelValues(tier).Inc()
}

func (r *PrometheusRecorder) RecordDowngrade(fromTier, toTier string) {
	r.downgrades.WithLabelValues(fromTier, toTier).Inc()
}

func (r *PrometheusRecorder) RecordMaxPush(tier string) {
	r.maxPushes.WithLabelValues(tier).Inc()
}

func (r *PrometheusRecorder) RecordGuardBlock(stage string) {
	r.guardBlocks.WithLabelValues(stage).Inc()
}

func (r *PrometheusRecorder) RecordError(errorType, component string) {
	r.errors.WithLabelValues(errorType, component).Inc()
}

func successLabel(success bool) string {
	if success {
		return "true"
	}
	return "false"
}
