// Package metrics defines the Prometheus metric collectors used by the miner
// and the recommender and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	RecommendTotal        *prometheus.CounterVec
	RecommendLatency      *prometheus.HistogramVec
	RecommendResultsCount prometheus.Histogram
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter

	RuleTableRules      prometheus.Gauge
	RuleTableGenerated  prometheus.Gauge
	RuleTableSwapsTotal *prometheus.CounterVec

	MiningRunsTotal     *prometheus.CounterVec
	MiningDuration      *prometheus.HistogramVec
	MiningItemsets      *prometheus.GaugeVec
	MiningRulesProduced prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing nil uses
// the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RecommendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recommend_requests_total",
				Help: "Recommendation requests by outcome (ok, empty, not_loaded, invalid, error).",
			},
			[]string{"outcome"},
		),
		RecommendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recommend_latency_seconds",
				Help:    "Recommendation scoring latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		RecommendResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recommend_results_count",
				Help:    "Number of items returned per recommendation.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recommend_cache_hits_total",
				Help: "Total number of recommendation cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recommend_cache_misses_total",
				Help: "Total number of recommendation cache misses.",
			},
		),
		RuleTableRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rule_table_rules",
				Help: "Number of rules in the rule table currently served.",
			},
		),
		RuleTableGenerated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rule_table_generated_timestamp_seconds",
				Help: "Generation time of the rule table currently served.",
			},
		),
		RuleTableSwapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_table_swaps_total",
				Help: "Rule table load attempts by status.",
			},
			[]string{"status"},
		),
		MiningRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mining_runs_total",
				Help: "Mining runs by status (ok, empty, failed).",
			},
			[]string{"status"},
		),
		MiningDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mining_stage_duration_seconds",
				Help:    "Duration of each mining pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		),
		MiningItemsets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mining_frequent_itemsets",
				Help: "Frequent itemsets found in the last run, by itemset size.",
			},
			[]string{"size"},
		),
		MiningRulesProduced: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mining_rules_produced",
				Help: "Rules retained by the last mining run.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RecommendTotal,
		m.RecommendLatency,
		m.RecommendResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RuleTableRules,
		m.RuleTableGenerated,
		m.RuleTableSwapsTotal,
		m.MiningRunsTotal,
		m.MiningDuration,
		m.MiningItemsets,
		m.MiningRulesProduced,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRuleTable records the table now being served.
func (m *Metrics) ObserveRuleTable(rules int, generated time.Time) {
	m.RuleTableRules.Set(float64(rules))
	m.RuleTableGenerated.Set(float64(generated.Unix()))
	m.RuleTableSwapsTotal.WithLabelValues("ok").Inc()
}

// SetBreakerState exports a circuit breaker state as 0, 1 or 2.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
