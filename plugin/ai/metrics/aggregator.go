// Package metrics aggregates in-memory statistics for agent turns and tool calls.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Recorder receives turn and tool call measurements.
type Recorder interface {
	RecordTurn(agent string, latency time.Duration, success bool)
	RecordToolCall(toolName string, latency time.Duration, success bool)
}

// Aggregator aggregates metrics in memory.
type Aggregator struct {
	mu sync.RWMutex

	turns map[string]*turnBucket
	tools map[string]*toolBucket

	// maxLatencies bounds the latency samples kept per agent.
	maxLatencies int
}

type turnBucket struct {
	count     int64
	success   int64
	latencies []int64 // in milliseconds
}

type toolBucket struct {
	count      int64
	success    int64
	latencySum int64 // in milliseconds
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		turns:        make(map[string]*turnBucket),
		tools:        make(map[string]*toolBucket),
		maxLatencies: 1000,
	}
}

// RecordTurn records a single agent turn.
func (a *Aggregator) RecordTurn(agent string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket, exists := a.turns[agent]
	if !exists {
		bucket = &turnBucket{latencies: make([]int64, 0, 100)}
		a.turns[agent] = bucket
	}

	bucket.count++
	if success {
		bucket.success++
	}
	if len(bucket.latencies) >= a.maxLatencies {
		bucket.latencies = bucket.latencies[1:]
	}
	bucket.latencies = append(bucket.latencies, latency.Milliseconds())
}

// RecordToolCall records a single tool call.
func (a *Aggregator) RecordToolCall(toolName string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket, exists := a.tools[toolName]
	if !exists {
		bucket = &toolBucket{}
		a.tools[toolName] = bucket
	}

	bucket.count++
	if success {
		bucket.success++
	}
	bucket.latencySum += latency.Milliseconds()
}

// Stats is a point-in-time view of the aggregated metrics.
type Stats struct {
	TurnCount    int64                `json:"turn_count"`
	SuccessCount int64                `json:"success_count"`
	LatencyP50Ms int64                `json:"latency_p50_ms"`
	LatencyP95Ms int64                `json:"latency_p95_ms"`
	Agents       map[string]*AgentStat `json:"agents"`
	Tools        map[string]*ToolStat  `json:"tools"`
}

// AgentStat represents statistics for a single agent.
type AgentStat struct {
	Count        int64   `json:"count"`
	SuccessRate  float32 `json:"success_rate"`
	AvgLatencyMs int64   `json:"avg_latency_ms"`
}

// ToolStat represents statistics for a single tool.
type ToolStat struct {
	Count        int64   `json:"count"`
	SuccessRate  float32 `json:"success_rate"`
	AvgLatencyMs int64   `json:"avg_latency_ms"`
}

// Snapshot returns the current aggregated stats.
func (a *Aggregator) Snapshot() *Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := &Stats{
		Agents: make(map[string]*AgentStat, len(a.turns)),
		Tools:  make(map[string]*ToolStat, len(a.tools)),
	}

	allLatencies := make([]int64, 0)
	for agent, bucket := range a.turns {
		stats.TurnCount += bucket.count
		stats.SuccessCount += bucket.success
		allLatencies = append(allLatencies, bucket.latencies...)

		stat := &AgentStat{Count: bucket.count}
		if bucket.count > 0 {
			stat.SuccessRate = float32(bucket.success) / float32(bucket.count)
		}
		if len(bucket.latencies) > 0 {
			stat.AvgLatencyMs = sumLatencies(bucket.latencies) / int64(len(bucket.latencies))
		}
		stats.Agents[agent] = stat
	}
	for name, bucket := range a.tools {
		stat := &ToolStat{Count: bucket.count}
		if bucket.count > 0 {
			stat.SuccessRate = float32(bucket.success) / float32(bucket.count)
			stat.AvgLatencyMs = bucket.latencySum / bucket.count
		}
		stats.Tools[name] = stat
	}

	stats.LatencyP50Ms = percentile(allLatencies, 50)
	stats.LatencyP95Ms = percentile(allLatencies, 95)

	return stats
}

// Helper functions

func sumLatencies(latencies []int64) int64 {
	var sum int64
	for _, l := range latencies {
		sum += l
	}
	return sum
}

func percentile(latencies []int64, p int) int64 {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
