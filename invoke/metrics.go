package invoke

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// tool invocation monitoring in production environments.
//
// Metrics exposed (all namespaced with "invoke_"):
//
//  1. inflight_invocations (gauge): invocations currently executing.
//     Use: monitor concurrency and detect stuck tools.
//
//  2. invocation_duration_ms (histogram): total invocation duration
//     including retries and backoff.
//     Labels: tool, status (success, validation, timeout, network, auth,
//     parse, cancelled, unknown, breaker_open).
//     Use: P50/P95/P99 latency analysis per tool.
//
//  3. attempts_total (counter): individual attempts by result.
//     Labels: tool, kind ("success" or the failure kind).
//     Use: spot flaky tools whose retries hide failures.
//
//  4. retries_total (counter): backoff waits taken between attempts.
//     Labels: tool.
//
//  5. fallbacks_total (counter): fallback hops taken.
//     Labels: primary, status (success, failure).
//     Use: verify fallbacks actually rescue calls.
//
//  6. breaker_state (gauge): current breaker position per target
//     (0 closed, 1 open, 2 half-open).
//     Labels: target.
//
//  7. breaker_transitions_total (counter): breaker state changes.
//     Labels: target, to.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := invoke.NewPrometheusMetrics(registry)
//
//	runner, err := invoke.NewRunner(breaker, invoke.WithMetrics(metrics))
//
//	// Expose via HTTP for Prometheus scraping:
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Labels are low-cardinality: tool names and breaker targets, never
// correlation IDs.
type PrometheusMetrics struct {
	inflight           prometheus.Gauge
	duration           *prometheus.HistogramVec
	attempts           *prometheus.CounterVec
	retries            *prometheus.CounterVec
	fallbacks          *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all invocation metrics with
// the provided Prometheus registry.
//
// Pass prometheus.DefaultRegisterer to use the global registry, or a
// dedicated prometheus.NewRegistry() for isolation (recommended, and
// required in tests that construct metrics more than once).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "invoke",
		Name:      "inflight_invocations",
		Help:      "Number of tool invocations currently executing",
	})

	pm.duration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "invoke",
		Name:      "invocation_duration_ms",
		Help:      "Total invocation duration in milliseconds, including retries and backoff",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
	}, []string{"tool", "status"})

	pm.attempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoke",
		Name:      "attempts_total",
		Help:      "Individual tool call attempts by result kind",
	}, []string{"tool", "kind"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoke",
		Name:      "retries_total",
		Help:      "Backoff waits taken between attempts",
	}, []string{"tool"})

	pm.fallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoke",
		Name:      "fallbacks_total",
		Help:      "Fallback hops taken after a primary tool failed",
	}, []string{"primary", "status"})

	pm.breakerState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "invoke",
		Name:      "breaker_state",
		Help:      "Circuit breaker position per target (0 closed, 1 open, 2 half-open)",
	}, []string{"target"})

	pm.breakerTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invoke",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state changes",
	}, []string{"target", "to"})

	return pm
}

// RecordInvocation records one completed invocation in the duration
// histogram. Status is "success" for successes, the failure kind
// otherwise, or "breaker_open" for calls rejected without an attempt.
func (pm *PrometheusMetrics) RecordInvocation(toolName string, elapsed time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.duration.WithLabelValues(toolName, status).Observe(float64(elapsed.Milliseconds()))
}

// IncrementAttempts counts one attempt. Kind is "success" or the attempt's
// failure kind.
func (pm *PrometheusMetrics) IncrementAttempts(toolName, kind string) {
	if !pm.isEnabled() {
		return
	}
	pm.attempts.WithLabelValues(toolName, kind).Inc()
}

// IncrementRetries counts one backoff wait between attempts.
func (pm *PrometheusMetrics) IncrementRetries(toolName string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(toolName).Inc()
}

// IncrementFallbacks counts one fallback hop for a primary tool.
// Status is "success" if the hop produced a result, "failure" otherwise.
func (pm *PrometheusMetrics) IncrementFallbacks(primaryTool, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.fallbacks.WithLabelValues(primaryTool, status).Inc()
}

// SetBreakerState records a target's current breaker position.
func (pm *PrometheusMetrics) SetBreakerState(target string, state BreakerState) {
	if !pm.isEnabled() {
		return
	}
	pm.breakerState.WithLabelValues(target).Set(float64(state))
}

// IncrementBreakerTransitions counts a breaker state change. Wire it to
// BreakerConfig.OnStateChange:
//
//	cfg := invoke.DefaultBreakerConfig()
//	cfg.OnStateChange = func(target string, from, to invoke.BreakerState) {
//	    metrics.IncrementBreakerTransitions(target, to)
//	    metrics.SetBreakerState(target, to)
//	}
func (pm *PrometheusMetrics) IncrementBreakerTransitions(target string, to BreakerState) {
	if !pm.isEnabled() {
		return
	}
	pm.breakerTransitions.WithLabelValues(target, to.String()).Inc()
}

// IncInflight notes an invocation entering execution.
func (pm *PrometheusMetrics) IncInflight() {
	if !pm.isEnabled() {
		return
	}
	pm.inflight.Inc()
}

// DecInflight notes an invocation leaving execution.
func (pm *PrometheusMetrics) DecInflight() {
	if !pm.isEnabled() {
		return
	}
	pm.inflight.Dec()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
