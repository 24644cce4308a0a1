// Package metrics tracks per-tool call counts and latencies plus the web
// fetch counters surfaced by /healthz.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBucket accumulates wall-clock milliseconds for one tool.
type LatencyBucket struct {
	SumMS int64 `json:"sum"`
	Count int64 `json:"count"`
}

// Counters track web fetch activity.
type Counters struct {
	Fetches       int64 `json:"fetches"`
	CacheHits     int64 `json:"cacheHits"`
	RobotsBlocked int64 `json:"robotsBlocked"`
	Errors        int64 `json:"errors"`
}

// Heartbeat is the last reported status of the chain subprocess.
type Heartbeat struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Snapshot is the JSON document served by /healthz.
type Snapshot struct {
	TotalRequests        int64                    `json:"totalRequests"`
	ToolCounts           map[string]int64         `json:"toolCounts"`
	LatSumMS             int64                    `json:"latSumMs"`
	LatCount             int64                    `json:"latCount"`
	ToolLatencies        map[string]LatencyBucket `json:"toolLatencies"`
	Errors               int64                    `json:"errors"`
	CacheSize            int                      `json:"cacheSize"`
	Counters             Counters                 `json:"counters"`
	PythonChainHeartbeat Heartbeat                `json:"pythonChainHeartbeat"`
}

// Metrics is the process-wide mutable counter set. All methods are safe for
// concurrent use.
type Metrics struct {
	mu sync.RWMutex

	totalRequests int64
	latSumMS      int64
	latCount      int64
	errors        int64
	toolCounts    map[string]int64
	toolLatencies map[string]*LatencyBucket
	counters      Counters
	heartbeat     Heartbeat

	cacheLen func() int

	promRequests  prometheus.Counter
	promErrors    prometheus.Counter
	promToolCalls *prometheus.CounterVec
	promToolSecs  *prometheus.HistogramVec
	promFetches   prometheus.Counter
	promCacheHits prometheus.Counter
	promRobots    prometheus.Counter
}

// New builds a Metrics instance and registers its Prometheus mirror on reg.
// cacheLen reports the shared response cache size for snapshots; it may be
// nil until SetCacheLen is called.
func New(reg prometheus.Registerer, cacheLen func() int) *Metrics {
	m := &Metrics{
		toolCounts:    make(map[string]int64),
		toolLatencies: make(map[string]*LatencyBucket),
		heartbeat:     Heartbeat{Status: "unknown"},
		cacheLen:      cacheLen,

		promRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_requests_total", Help: "MCP requests handled, both transports.",
		}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_errors_total", Help: "Unhandled MCP request errors.",
		}),
		promToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tool_calls_total", Help: "tools/call invocations by tool.",
		}, []string{"tool"}),
		promToolSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_tool_duration_seconds",
			Help:    "tools/call wall clock by tool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		promFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "web_fetches_total", Help: "Web fetch attempts.",
		}),
		promCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "web_fetch_cache_hits_total", Help: "Web fetches served from cache or 304.",
		}),
		promRobots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "web_fetch_robots_blocked_total", Help: "Web fetches refused by robots.txt.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promRequests, m.promErrors, m.promToolCalls, m.promToolSecs,
			m.promFetches, m.promCacheHits, m.promRobots)
	}
	return m
}

// SetCacheLen wires the shared cache size reporter after construction.
func (m *Metrics) SetCacheLen(fn func() int) {
	m.mu.Lock()
	m.cacheLen = fn
	m.mu.Unlock()
}

// ObserveRequest records one MCP request and its duration.
func (m *Metrics) ObserveRequest(d time.Duration) {
	m.mu.Lock()
	m.totalRequests++
	m.latSumMS += d.Milliseconds()
	m.latCount++
	m.mu.Unlock()
	m.promRequests.Inc()
}

// ObserveToolCall records one tools/call invocation of the named tool.
func (m *Metrics) ObserveToolCall(tool string, d time.Duration) {
	m.mu.Lock()
	m.toolCounts[tool]++
	b, ok := m.toolLatencies[tool]
	if !ok {
		b = &LatencyBucket{}
		m.toolLatencies[tool] = b
	}
	b.SumMS += d.Milliseconds()
	b.Count++
	m.mu.Unlock()
	m.promToolCalls.WithLabelValues(tool).Inc()
	m.promToolSecs.WithLabelValues(tool).Observe(d.Seconds())
}

// IncError records an unhandled request error.
func (m *Metrics) IncError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
	m.promErrors.Inc()
}

// IncFetch records a web fetch attempt.
func (m *Metrics) IncFetch() {
	m.mu.Lock()
	m.counters.Fetches++
	m.mu.Unlock()
	m.promFetches.Inc()
}

// IncCacheHit records a fetch served from cache or a 304 revalidation.
func (m *Metrics) IncCacheHit() {
	m.mu.Lock()
	m.counters.CacheHits++
	m.mu.Unlock()
	m.promCacheHits.Inc()
}

// IncRobotsBlocked records a robots.txt refusal.
func (m *Metrics) IncRobotsBlocked() {
	m.mu.Lock()
	m.counters.RobotsBlocked++
	m.mu.Unlock()
	m.promRobots.Inc()
}

// IncFetchError records a failed web fetch.
func (m *Metrics) IncFetchError() {
	m.mu.Lock()
	m.counters.Errors++
	m.mu.Unlock()
}

// SetHeartbeat records the chain subprocess status reported to /health/python.
func (m *Metrics) SetHeartbeat(status string) {
	m.mu.Lock()
	m.heartbeat = Heartbeat{Status: status, CheckedAt: time.Now().UTC()}
	m.mu.Unlock()
}

// Snapshot copies the current counters into an immutable document.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		TotalRequests:        m.totalRequests,
		ToolCounts:           make(map[string]int64, len(m.toolCounts)),
		LatSumMS:             m.latSumMS,
		LatCount:             m.latCount,
		ToolLatencies:        make(map[string]LatencyBucket, len(m.toolLatencies)),
		Errors:               m.errors,
		Counters:             m.counters,
		PythonChainHeartbeat: m.heartbeat,
	}
	for name, n := range m.toolCounts {
		snap.ToolCounts[name] = n
	}
	for name, b := range m.toolLatencies {
		snap.ToolLatencies[name] = *b
	}
	if m.cacheLen != nil {
		snap.CacheSize = m.cacheLen()
	}
	return snap
}
