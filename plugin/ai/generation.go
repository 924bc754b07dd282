package ai

import (
	"context"
	"encoding/json"

	"github.com/hrygo/chorus/plugin/markup"
)

// Message is one role/content turn of a generation request.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// ToolSchema describes a callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerationRequest is the input of a streaming generation.
type GenerationRequest struct {
	Model    string            `json:"model,omitempty"`
	System   string            `json:"system"`
	Messages []Message         `json:"messages"`
	Tools    []ToolSchema      `json:"tools,omitempty"`
	Hints    map[string]string `json:"hints,omitempty"`
}

// EventKind is the kind of a stream event.
type EventKind string

const (
	EventText       EventKind = "text"
	EventSources    EventKind = "sources"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of a tool invocation, keyed by the call id.
type ToolResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Event is a single frame of a generation stream.
type Event struct {
	Kind       EventKind
	Text       string
	Sources    []markup.Source
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// EventStream is an open generation stream.
// Recv returns io.EOF once the end marker has been received.
type EventStream interface {
	Recv() (*Event, error)
	// SubmitToolOutcome hands the result of a tool_call back to the generator,
	// which pauses until the outcome arrives.
	SubmitToolOutcome(ctx context.Context, result *ToolResult) error
	Close() error
}

// GenerationService opens streaming generations.
type GenerationService interface {
	Stream(ctx context.Context, req *GenerationRequest) (EventStream, error)
}

// Summarizer produces a short non-streaming completion.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// NewGenerationService creates the generation backend selected by the config.
func NewGenerationService(cfg *LLMConfig) (GenerationService, Summarizer, error) {
	switch cfg.Provider {
	case "sse":
		svc := NewSSEService(cfg)
		return svc, svc, nil
	default:
		provider, err := NewProvider(cfg)
		if err != nil {
			return nil, nil, err
		}
		return provider, provider, nil
	}
}

func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
