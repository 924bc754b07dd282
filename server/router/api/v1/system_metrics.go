package v1

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/chorus/plugin/ai/metrics"
	apierrors "github.com/hrygo/chorus/server/internal/errors"
	"github.com/hrygo/chorus/server/internal/observability"
)

// MetricsOverviewResponse represents the overview of agent turns and API traffic.
type MetricsOverviewResponse struct {
	TotalTurns    int64   `json:"total_turns"`
	SuccessRate   float64 `json:"success_rate"`
	P50LatencyMs  int64   `json:"p50_latency_ms"`
	P95LatencyMs  int64   `json:"p95_latency_ms"`
	ErrorCount    int64   `json:"error_count"`
	ToolCallCount int64   `json:"tool_call_count"`
	TimeRange     string  `json:"time_range"`
	Since         int64   `json:"since"`

	Agents map[string]*metrics.AgentStat `json:"agents,omitempty"`
	HTTP   *observability.Snapshot       `json:"http"`
}

// GetMetricsOverview returns the system metrics overview. Counters are kept in
// memory since process start, so the range only bounds what is reported.
// GET /api/v1/system/metrics/overview?range=24h
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	timeRange := c.QueryParam("range")
	if timeRange == "" {
		timeRange = "24h"
	}
	since, err := parseTimeRange(timeRange)
	if err != nil {
		requestContext(c).Warn("invalid time range in metrics request")
		return writeError(c, apierrors.InvalidArgument(err.Error()))
	}

	resp := MetricsOverviewResponse{
		TimeRange: timeRange,
		Since:     since.Unix(),
		HTTP:      s.httpMetrics.Snapshot(),
	}
	if s.TurnMetrics != nil {
		stats := s.TurnMetrics.Snapshot()
		resp.TotalTurns = stats.TurnCount
		resp.ErrorCount = stats.TurnCount - stats.SuccessCount
		resp.P50LatencyMs = stats.LatencyP50Ms
		resp.P95LatencyMs = stats.LatencyP95Ms
		resp.Agents = stats.Agents
		for _, tool := range stats.Tools {
			resp.ToolCallCount += tool.Count
		}
		if stats.TurnCount > 0 {
			resp.SuccessRate = float64(stats.SuccessCount) / float64(stats.TurnCount)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// parseTimeRange parses time range string and returns the start time
func parseTimeRange(timeRange string) (time.Time, error) {
	now := time.Now()
	switch timeRange {
	case "1h":
		return now.Add(-1 * time.Hour), nil
	case "24h":
		return now.Add(-24 * time.Hour), nil
	case "7d":
		return now.Add(-7 * 24 * time.Hour), nil
	case "30d":
		return now.Add(-30 * 24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("invalid time range: %s (valid: 1h, 24h, 7d, 30d)", timeRange)
	}
}
