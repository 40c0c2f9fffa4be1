package observability

import (
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	externalErrors     *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	tokensUsed         *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	creditsMoved       *prometheus.CounterVec
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	webhookEvents      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghostwriter_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_requests_total",
				Help: "Total requests processed.",
			},
			[]string{"status"},
		),
		creditsMoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_credits_total",
				Help: "Total credits moved through the ledger.",
			},
			[]string{"kind"},
		),
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_generations_total",
				Help: "Total story generations by type and outcome.",
			},
			[]string{"story_type", "outcome"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghostwriter_generation_duration_seconds",
				Help:    "Wall-clock duration of story generations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"story_type"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostwriter_webhook_events_total",
				Help: "Payment webhook events by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// RecordCredits records credits moved through the ledger by entry kind.
func (m *Metrics) RecordCredits(kind string, amount int64) {
	m.creditsMoved.WithLabelValues(kind).Add(float64(amount))
}

// IncrGeneration increments the generation counter for a story type and
// outcome ("success" or "error").
func (m *Metrics) IncrGeneration(storyType, outcome string) {
	m.generationsTotal.WithLabelValues(storyType, outcome).Inc()
}

// RecordGenerationDuration records how long a generation took end to end.
func (m *Metrics) RecordGenerationDuration(storyType string, d time.Duration) {
	m.generationDuration.WithLabelValues(storyType).Observe(d.Seconds())
}

// IncrWebhookEvent increments the webhook counter with a result label
// ("applied", "duplicate", "rejected").
func (m *Metrics) IncrWebhookEvent(result string) {
	m.webhookEvents.WithLabelValues(result).Inc()
}

// GetUsageSnapshot returns a snapshot of usage metrics suitable for the
// GET /v1/metrics/usage endpoint.
func (m *Metrics) GetUsageSnapshot() *domain.UsageMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	totalRequests := getCounterValue(m.requestsTotal, "success") +
		getCounterValue(m.requestsTotal, "error")
	errorCount := getCounterValue(m.requestsTotal, "error")
	cacheHits := getCounterValue(m.cacheHits, "story")
	cacheMisses := getCounterValue(m.cacheMisses, "story")

	errorRate := float64(0)
	cacheHitRate := float64(0)

	if totalRequests > 0 {
		errorRate = errorCount / totalRequests
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.UsageMetrics{
		TotalRequests:    int64(totalRequests),
		ErrorRate:        errorRate,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CreditsSpent:     getCounterValue(m.creditsMoved, domain.EntrySpend),
		CreditsPurchased: getCounterValue(m.creditsMoved, domain.EntryPurchase),
		CacheHitRate:     cacheHitRate,
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
