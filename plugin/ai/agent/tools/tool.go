// Package tools declares the workspace tools callable by agents and dispatches
// model-requested invocations against the shared store.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hrygo/chorus/store"
)

// SideEffect names the sidebar list a tool may change.
type SideEffect string

const (
	SideEffectNone     SideEffect = ""
	SideEffectChannels SideEffect = "channels"
	SideEffectSessions SideEffect = "sessions"
	SideEffectDMs      SideEffect = "dms"
)

// ExecContext is handed to every executor.
type ExecContext struct {
	// UserID is the acting participant.
	UserID int32
	Store  *store.Store
}

// ExecuteFunc runs a tool. A returned error becomes a failed outcome whose
// message is shown to the model, so it must be short and human readable.
type ExecuteFunc func(ctx context.Context, args json.RawMessage, ec *ExecContext) (any, error)

// Tool is a callable workspace tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the argument object.
	Parameters map[string]any
	SideEffect SideEffect
	// ReadOnly tools may be retried on transient failures.
	ReadOnly bool
	Execute  ExecuteFunc
}

// Validate checks that the tool is complete.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s has no executor", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = objectSchema(nil)
	}
	return nil
}

// ToolOutcome is the result of one dispatch.
type ToolOutcome struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func succeed(result any) *ToolOutcome {
	return &ToolOutcome{Success: true, Result: result}
}

func fail(format string, args ...any) *ToolOutcome {
	return &ToolOutcome{Success: false, Error: fmt.Sprintf(format, args...)}
}

// decodeArgs strictly decodes the argument object into T.
func decodeArgs[T any](args json.RawMessage) (*T, error) {
	var v T
	if len(bytes.TrimSpace(args)) == 0 {
		return &v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid arguments: %v", err)
	}
	return &v, nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
