package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hrygo/chorus/plugin/ai"
)

// Registry holds all available tools and dispatches invocations by name.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	executor *ResilientToolExecutor
}

// NewRegistry creates an empty registry that runs tools through executor.
// A nil executor uses the defaults.
func NewRegistry(executor *ResilientToolExecutor) *Registry {
	if executor == nil {
		executor = NewResilientToolExecutor(nil)
	}
	return &Registry{
		tools:    make(map[string]*Tool),
		executor: executor,
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the model-facing declarations of all tools, sorted by name.
func (r *Registry) Schemas() []ai.ToolSchema {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]ai.ToolSchema, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		schemas = append(schemas, ai.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return schemas
}

// Dispatch runs the named tool. It never fails: unknown tools, malformed
// arguments, executor errors and panics all become unsuccessful outcomes.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage, ec *ExecContext) *ToolOutcome {
	start := time.Now()

	tool := r.Get(name)
	if tool == nil {
		slog.Warn("unknown tool requested", slog.String("tool", name))
		return fail("Unknown tool: %s", name)
	}
	if len(args) > 0 && !json.Valid(args) {
		return fail("invalid arguments for %s: not a JSON object", name)
	}

	outcome := r.executor.Execute(ctx, tool, args, ec)
	slog.Info("tool dispatched",
		slog.String("tool", name),
		slog.Int64("user_id", int64(ec.UserID)),
		slog.Bool("success", outcome.Success),
		slog.Duration("duration", time.Since(start)))
	return outcome
}
