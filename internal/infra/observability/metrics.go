package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	inboundMessages  *prometheus.CounterVec
	branches         *prometheus.CounterVec
	handleDuration   *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec
	outboundMessages *prometheus.CounterVec
	tokensUsed       *prometheus.CounterVec
	deferredTasks    *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	ordersConfirmed  prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		inboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_inbound_messages_total",
				Help: "Inbound messages by content kind and normalizer action.",
			},
			[]string{"kind", "action"},
		),
		branches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_router_branches_total",
				Help: "Router decisions by profile and branch.",
			},
			[]string{"profile", "branch"},
		),
		handleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wabot_handle_duration_seconds",
				Help:    "Time spent handling one inbound message.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"profile"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		outboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_outbound_messages_total",
				Help: "Outbound messages by type and result.",
			},
			[]string{"type", "result"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		deferredTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_deferred_tasks_total",
				Help: "Deferred follow-ups by outcome (fired, stale).",
			},
			[]string{"outcome"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wabot_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		ordersConfirmed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wabot_orders_confirmed_total",
				Help: "Orders confirmed with an order number.",
			},
		),
	}
}

// IncrInbound counts an inbound message.
func (m *Metrics) IncrInbound(kind, action string) {
	m.inboundMessages.WithLabelValues(kind, action).Inc()
}

// IncrBranch counts a router decision.
func (m *Metrics) IncrBranch(profile, branch string) {
	m.branches.WithLabelValues(profile, branch).Inc()
}

// RecordHandleDuration records how long one message took.
func (m *Metrics) RecordHandleDuration(profile string, d time.Duration) {
	m.handleDuration.WithLabelValues(profile).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrOutbound counts an outbound message attempt.
func (m *Metrics) IncrOutbound(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.outboundMessages.WithLabelValues(kind, result).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrDeferred counts a deferred task outcome.
func (m *Metrics) IncrDeferred(outcome string) {
	m.deferredTasks.WithLabelValues(outcome).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrOrderConfirmed counts a confirmed order.
func (m *Metrics) IncrOrderConfirmed() {
	m.ordersConfirmed.Inc()
}

// BranchCount reads the current value of a branch counter.
func (m *Metrics) BranchCount(profile, branch string) float64 {
	return counterValue(m.branches.WithLabelValues(profile, branch))
}

// DeferredCount reads the current value of a deferred outcome counter.
func (m *Metrics) DeferredCount(outcome string) float64 {
	return counterValue(m.deferredTasks.WithLabelValues(outcome))
}

// counterValue extracts the current float64 value of a counter.
func counterValue(c prometheus.Counter) float64 {
	pb := &dto.Metric{}
	if err := c.Write(pb); err != nil {
		return 0
	}
	if pb.Counter != nil && pb.Counter.Value != nil {
		return *pb.Counter.Value
	}
	return 0
}
