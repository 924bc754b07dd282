package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldUserID is the field name for user ID.
	LogFieldUserID = "user_id"
	// LogFieldAgent is the field name for the agent username.
	LogFieldAgent = "agent"
	// LogFieldConversationID is the field name for conversation ID.
	LogFieldConversationID = "conversation_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
)

// NewLogger returns a JSON logger for production and a text logger otherwise.
func NewLogger(w io.Writer, dev bool) *slog.Logger {
	if dev {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// RequestContext represents the context for a single request with structured logging.
type RequestContext struct {
	RequestID string
	UserID    int32
	Agent     string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewRequestContext creates a new request context. An empty requestID is generated.
func NewRequestContext(logger *slog.Logger, requestID string, userID int32) *RequestContext {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &RequestContext{
		RequestID: requestID,
		UserID:    userID,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// WithAgent returns a copy of the request context bound to an agent.
func (r *RequestContext) WithAgent(agent string) *RequestContext {
	clone := *r
	clone.Agent = agent
	return &clone
}

// WithFields returns a new logger with the request fields and attrs.
func (r *RequestContext) WithFields(attrs ...slog.Attr) *slog.Logger {
	all := r.baseAttrsAppended(attrs...)
	args := make([]any, 0, len(all))
	for _, attr := range all {
		args = append(args, attr)
	}
	return r.Logger.With(args...)
}

// Info logs an info message.
func (r *RequestContext) Info(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, r.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message.
func (r *RequestContext) Warn(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, r.baseAttrsAppended(attrs...)...)
}

// Error logs an error message with the error.
func (r *RequestContext) Error(msg string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	r.Logger.LogAttrs(context.Background(), slog.LevelError, msg, r.baseAttrsAppended(attrs...)...)
}

// Duration returns the elapsed time since the request started.
func (r *RequestContext) Duration() time.Duration {
	return time.Since(r.StartTime)
}

func (r *RequestContext) baseAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String(LogFieldRequestID, r.RequestID),
		slog.Int64(LogFieldUserID, int64(r.UserID)),
	}
	if r.Agent != "" {
		attrs = append(attrs, slog.String(LogFieldAgent, r.Agent))
	}
	return attrs
}

func (r *RequestContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	return append(r.baseAttrs(), attrs...)
}

type ctxKey struct{}

// WithRequestContext adds the request context to the context.
func WithRequestContext(ctx context.Context, reqCtx *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, reqCtx)
}

// FromContext extracts the request context from the context.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	reqCtx, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return reqCtx, ok
}
