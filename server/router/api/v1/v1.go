package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/hrygo/chorus/internal/profile"
	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/ai/metrics"
	apierrors "github.com/hrygo/chorus/server/internal/errors"
	"github.com/hrygo/chorus/server/internal/observability"
	ratelimit "github.com/hrygo/chorus/server/middleware"
	"github.com/hrygo/chorus/store"
)

// APIV1Service serves the chat API.
type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	// Runner and Directory are nil when AI is disabled; agent sessions then
	// store messages without replies.
	Runner    *agent.Runner
	Directory *agent.Directory
	Signals   *SignalHub
	// TurnMetrics may be nil.
	TurnMetrics *metrics.Aggregator

	logger      *slog.Logger
	httpMetrics *observability.Metrics
	sendLimiter *ratelimit.RateLimiter
}

// NewAPIV1Service creates the API service.
func NewAPIV1Service(secret string, profile *profile.Profile, store *store.Store, logger *slog.Logger) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		Secret:      secret,
		Profile:     profile,
		Store:       store,
		Signals:     NewSignalHub(),
		logger:      logger,
		httpMetrics: observability.NewMetrics(1000),
		// 2 sends per second per user, with a burst of 10.
		sendLimiter: ratelimit.NewRateLimiter(rate.Limit(2), 10),
	}
}

// RegisterRoutes registers the API handlers with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")
	g.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	}))
	g.Use(s.recordMetrics)
	g.Use(s.authenticate)

	g.GET("/conversations", s.ListConversations)
	g.GET("/conversations/:id/messages", s.ListMessages)
	g.POST("/conversations/:id/messages", s.SendMessage, s.sendLimiter.Middleware(func(c echo.Context) string {
		return strconv.Itoa(int(currentUserID(c)))
	}))
	g.POST("/sessions", s.CreateSession)
	g.GET("/turns/:id/stream", s.StreamTurn)
	g.GET("/signals", s.StreamSignals)
	g.GET("/system/metrics/overview", s.GetMetricsOverview)
}

// recordMetrics counts every request by route.
func (s *APIV1Service) recordMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		s.httpMetrics.RecordRequest(c.Request().Method+" "+c.Path(), time.Since(start), status >= http.StatusInternalServerError)
		return err
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Code: code, Message: message}
}

// writeError serves err as JSON, logging unexpected failures.
func writeError(c echo.Context, err error) error {
	var aiErr *apierrors.AIError
	if !errors.As(err, &aiErr) {
		aiErr = apierrors.Internal("internal error", err)
	}
	if aiErr.HTTPStatus() >= http.StatusInternalServerError {
		requestContext(c).Error("request failed", err,
			slog.String(observability.LogFieldErrorCode, string(aiErr.Code)))
	}
	return c.JSON(aiErr.HTTPStatus(), errorBody(string(aiErr.Code), aiErr.Message))
}
