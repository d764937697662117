package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/carbongrid/enforcer/internal/policy"
)

// Metrics holds all Prometheus metrics for the enforcement engine.
type Metrics struct {
	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration prometheus.Histogram
	RiskScore        prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Compilation metrics
	CompilesTotal   prometheus.Counter
	CompileDuration prometheus.Histogram

	// Audit metrics
	AuditRecordsWritten prometheus.Counter
	AuditRecordsDropped prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "enforcer"
	}

	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total enforcement decisions by verdict and cache outcome",
			},
			[]string{"decision", "cache_hit"},
		),
		DecisionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "End-to-end enforcement duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
			},
		),
		RiskScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_risk_score",
				Help:      "Risk score distribution of rendered decisions",
				Buckets:   []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decision_cache_hits_total",
				Help:      "Number of decisions served from the cache",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decision_cache_misses_total",
				Help:      "Number of decisions computed fresh",
			},
		),
		CompilesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_compiles_total",
				Help:      "Total policy artifact compilations",
			},
		),
		CompileDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "policy_compile_duration_seconds",
				Help:      "Policy compilation duration in seconds",
				Buckets:   []float64{.0001, .001, .01, .05, .1, .5, 1},
			},
		),
		AuditRecordsWritten: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_written_total",
				Help:      "Total audit records written to storage",
			},
		),
		AuditRecordsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_records_dropped_total",
				Help:      "Total audit records dropped due to buffer overflow or errors",
			},
		),
	}
}

// ObserveDecision implements policy.Observer.
func (m *Metrics) ObserveDecision(_ *policy.RequestContext, res *policy.EnforcementResult) {
	cacheHit := "false"
	if res.CacheHit {
		cacheHit = "true"
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
	m.DecisionsTotal.WithLabelValues(string(res.Decision), cacheHit).Inc()
	m.DecisionDuration.Observe(res.ProcessingTimeMs / 1000)
	m.RiskScore.Observe(res.RiskScore)
}

// AuditWritten implements audit.WriteRecorder.
func (m *Metrics) AuditWritten(n int) {
	m.AuditRecordsWritten.Add(float64(n))
}

// AuditDropped implements audit.WriteRecorder.
func (m *Metrics) AuditDropped(n int) {
	m.AuditRecordsDropped.Add(float64(n))
}

// RecordCompile records one artifact compilation.
func (m *Metrics) RecordCompile(durationSeconds float64) {
	m.CompilesTotal.Inc()
	m.CompileDuration.Observe(durationSeconds)
}
