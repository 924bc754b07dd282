package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/chorus/plugin/ai/metrics"
	"github.com/hrygo/chorus/plugin/ai/timeout"
)

// ResilientToolExecutor runs tools with panic recovery. Read-only tools also get
// a per-attempt timeout and retries.
type ResilientToolExecutor struct {
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	recorder   metrics.Recorder
}

// ExecutorOption configures a ResilientToolExecutor.
type ExecutorOption func(*ResilientToolExecutor)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) ExecutorOption {
	return func(e *ResilientToolExecutor) {
		e.maxRetries = n
	}
}

// WithRetryDelay sets the delay between retry attempts.
func WithRetryDelay(d time.Duration) ExecutorOption {
	return func(e *ResilientToolExecutor) {
		e.retryDelay = d
	}
}

// WithTimeout sets the timeout for each attempt of a read-only tool.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *ResilientToolExecutor) {
		e.timeout = d
	}
}

// NewResilientToolExecutor creates a new ResilientToolExecutor with the given options.
// recorder may be nil.
func NewResilientToolExecutor(recorder metrics.Recorder, opts ...ExecutorOption) *ResilientToolExecutor {
	e := &ResilientToolExecutor{
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
		timeout:    timeout.ToolExecutionTimeout,
		recorder:   recorder,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs the tool and converts every failure into an outcome.
// Mutating tools run exactly once since a retry could repeat a side effect.
func (e *ResilientToolExecutor) Execute(ctx context.Context, tool *Tool, args json.RawMessage, ec *ExecContext) *ToolOutcome {
	start := time.Now()
	var lastErr error

	attempts := 1
	if tool.ReadOnly {
		attempts += e.maxRetries
	}

attemptsLoop:
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break attemptsLoop
		}

		result, err := e.attempt(ctx, tool, args, ec)

		if err == nil {
			e.recordMetrics(tool.Name, time.Since(start), true)
			slog.Debug("tool execution succeeded",
				slog.String("tool", tool.Name),
				slog.Int("attempt", attempt+1),
				slog.Duration("duration", time.Since(start)))
			return succeed(result)
		}

		lastErr = err
		slog.Warn("tool execution failed",
			slog.String("tool", tool.Name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if !e.isRetryable(err) {
			break attemptsLoop
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attemptsLoop
			case <-time.After(e.retryDelay):
			}
		}
	}

	e.recordMetrics(tool.Name, time.Since(start), false)
	return fail("%s", lastErr.Error())
}

// attempt runs the tool once. Read-only tools are bounded by the timeout.
// Mutating tools run to completion on a context that is never cancelled, so a
// multi-row write is not cut off between two statements.
func (e *ResilientToolExecutor) attempt(ctx context.Context, tool *Tool, args json.RawMessage, ec *ExecContext) (any, error) {
	if !tool.ReadOnly {
		return e.run(context.WithoutCancel(ctx), tool, args, ec)
	}
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.run(execCtx, tool, args, ec)
}

func (e *ResilientToolExecutor) run(ctx context.Context, tool *Tool, args json.RawMessage, ec *ExecContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", slog.String("tool", tool.Name), slog.String("panic", fmt.Sprint(r)))
			err = fmt.Errorf("%s failed unexpectedly", tool.Name)
		}
	}()
	return tool.Execute(ctx, args, ec)
}

// isRetryable determines if an error should trigger a retry.
func (e *ResilientToolExecutor) isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"database is locked",
		"connection",
		"timeout",
		"temporary",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

func (e *ResilientToolExecutor) recordMetrics(toolName string, duration time.Duration, success bool) {
	if e.recorder != nil {
		e.recorder.RecordToolCall(toolName, duration, success)
	}
}
