package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects request counters of the HTTP API.
type Metrics struct {
	requestTotal  atomic.Int64
	requestFailed atomic.Int64
	streamChunks  atomic.Int64

	mu     sync.Mutex
	routes map[string]*RouteMetrics
	// durations is a ring of the latest request durations.
	durations    []time.Duration
	maxDurations int
}

// RouteMetrics holds the counters of one route.
type RouteMetrics struct {
	Count      int64 `json:"count"`
	Errors     int64 `json:"errors"`
	DurationMs int64 `json:"duration_ms"`
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000
	}
	return &Metrics{
		routes:       make(map[string]*RouteMetrics),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// RecordRequest records a finished request of route.
func (m *Metrics) RecordRequest(route string, duration time.Duration, failed bool) {
	m.requestTotal.Add(1)
	if failed {
		m.requestFailed.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.routes[route]
	if !ok {
		rm = &RouteMetrics{}
		m.routes[route] = rm
	}
	rm.Count++
	rm.DurationMs += duration.Milliseconds()
	if failed {
		rm.Errors++
	}
	if len(m.durations) >= m.maxDurations {
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
}

// RecordStreamChunk records a server-sent event written to a client.
func (m *Metrics) RecordStreamChunk() {
	m.streamChunks.Add(1)
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	RequestTotal  int64                    `json:"request_total"`
	RequestFailed int64                    `json:"request_failed"`
	StreamChunks  int64                    `json:"stream_chunks"`
	P50LatencyMs  int64                    `json:"p50_latency_ms"`
	P95LatencyMs  int64                    `json:"p95_latency_ms"`
	Routes        map[string]*RouteMetrics `json:"routes"`
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		StreamChunks:  m.streamChunks.Load(),
		Routes:        make(map[string]*RouteMetrics, len(m.routes)),
	}
	for route, rm := range m.routes {
		copied := *rm
		s.Routes[route] = &copied
	}
	if len(m.durations) > 0 {
		sorted := append([]time.Duration(nil), m.durations...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50LatencyMs = sorted[len(sorted)*50/100].Milliseconds()
		s.P95LatencyMs = sorted[len(sorted)*95/100].Milliseconds()
	}
	return s
}
