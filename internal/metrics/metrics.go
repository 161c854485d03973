// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the Gatelock admission gate.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters, histograms, and gauges for the
// admission pipeline.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	stageBlocks      *prometheus.CounterVec
	threatScore      prometheus.Histogram
	evaluateDuration prometheus.Histogram
	rateKeysActive   prometheus.Gauge
	csrfTokensActive prometheus.Gauge
	lockdownDenies   prometheus.Counter

	mu              sync.Mutex
	startTime       time.Time
	topBlockedPaths map[string]int64
	topStages       map[string]int64
	allowedCount    int64
	blockedCount    int64
	lockdownCount   int64
	rateKeys        int
	csrfTokens      int
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatelock",
		Name:      "requests_total",
		Help:      "Total number of evaluated requests by result.",
	}, []string{"result"})

	stageBlocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatelock",
		Name:      "stage_blocks_total",
		Help:      "Total blocks by pipeline stage.",
	}, []string{"stage"})

	threatScore := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatelock",
		Name:      "threat_score",
		Help:      "Accumulated threat score per evaluated request.",
		Buckets:   []float64{10, 20, 40, 70, 100, 150},
	})

	evaluateDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatelock",
		Name:      "evaluate_duration_seconds",
		Help:      "Pipeline evaluation latency in seconds.",
		Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})

	rateKeysActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatelock",
		Name:      "rate_keys_active",
		Help:      "Current number of tracked rate-limit windows.",
	})

	csrfTokensActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gatelock",
		Name:      "csrf_tokens_active",
		Help:      "Current number of outstanding CSRF tokens.",
	})

	lockdownDenies := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gatelock",
		Name:      "lockdown_denies_total",
		Help:      "Total requests denied by the lockdown controller before evaluation.",
	})

	reg.MustRegister(requestsTotal, stageBlocks, threatScore,
		evaluateDuration, rateKeysActive, csrfTokensActive, lockdownDenies)

	return &Metrics{
		registry:         reg,
		requestsTotal:    requestsTotal,
		stageBlocks:      stageBlocks,
		threatScore:      threatScore,
		evaluateDuration: evaluateDuration,
		rateKeysActive:   rateKeysActive,
		csrfTokensActive: csrfTokensActive,
		lockdownDenies:   lockdownDenies,
		startTime:        time.Now(),
		topBlockedPaths:  make(map[string]int64),
		topStages:        make(map[string]int64),
	}
}

// RecordAllowed records an admitted request with its threat score and
// evaluation latency.
func (m *Metrics) RecordAllowed(score int, duration time.Duration) {
	m.requestsTotal.WithLabelValues("allowed").Inc()
	m.threatScore.Observe(float64(score))
	m.evaluateDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.allowedCount++
	m.mu.Unlock()
}

// RecordBlocked records a denied request with its blocking stage, path,
// threat score, and evaluation latency.
func (m *Metrics) RecordBlocked(stage, path string, score int, duration time.Duration) {
	m.requestsTotal.WithLabelValues("blocked").Inc()
	m.stageBlocks.WithLabelValues(stage).Inc()
	m.threatScore.Observe(float64(score))
	m.evaluateDuration.Observe(duration.Seconds())

	// Rank by bare path; query strings would explode the key space.
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	m.mu.Lock()
	m.blockedCount++
	if len(m.topBlockedPaths) < maxTopEntries {
		m.topBlockedPaths[path]++
	} else if _, exists := m.topBlockedPaths[path]; exists {
		m.topBlockedPaths[path]++
	}
	if len(m.topStages) < maxTopEntries {
		m.topStages[stage]++
	} else if _, exists := m.topStages[stage]; exists {
		m.topStages[stage]++
	}
	m.mu.Unlock()
}

// RecordLockdownDeny counts a request denied by the lockdown controller.
// These never reach the pipeline, so they are tracked apart from the
// evaluated-request counters.
func (m *Metrics) RecordLockdownDeny() {
	m.lockdownDenies.Inc()

	m.mu.Lock()
	m.lockdownCount++
	m.mu.Unlock()
}

// SetEngineStats updates the live-state gauges from an engine snapshot.
func (m *Metrics) SetEngineStats(rateKeys, csrfTokens int) {
	m.rateKeysActive.Set(float64(rateKeys))
	m.csrfTokensActive.Set(float64(csrfTokens))

	m.mu.Lock()
	m.rateKeys = rateKeys
	m.csrfTokens = csrfTokens
	m.mu.Unlock()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.allowedCount + m.blockedCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Requests: requestStats{
				Total:   total,
				Allowed: m.allowedCount,
				Blocked: m.blockedCount,
			},
			LockdownDenies:   m.lockdownCount,
			RateKeysActive:   m.rateKeys,
			CsrfTokensActive: m.csrfTokens,
			TopBlockedPaths:  topN(m.topBlockedPaths),
			TopStages:        topN(m.topStages),
		}
		if total > 0 {
			stats.Requests.BlockRate = float64(m.blockedCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds    float64       `json:"uptime_seconds"`
	Requests         requestStats  `json:"requests"`
	LockdownDenies   int64         `json:"lockdown_denies"`
	RateKeysActive   int           `json:"rate_keys_active"`
	CsrfTokensActive int           `json:"csrf_tokens_active"`
	TopBlockedPaths  []rankedEntry `json:"top_blocked_paths"`
	TopStages        []rankedEntry `json:"top_stages"`
}

type requestStats struct {
	Total     int64   `json:"total"`
	Allowed   int64   `json:"allowed"`
	Blocked   int64   `json:"blocked"`
	BlockRate float64 `json:"block_rate"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
