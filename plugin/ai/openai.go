package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/chorus/plugin/ai/timeout"
)

// Provider is the OpenAI-compatible generation backend.
type Provider struct {
	client *openai.Client
	config *LLMConfig
}

// NewProvider creates a new OpenAI-compatible provider.
func NewProvider(cfg *LLMConfig) (*Provider, error) {
	if cfg == nil {
		return nil, errors.New("LLM config is required")
	}

	// Apply defaults for unset values
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = cfg.Model
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Summarize performs a short non-streaming completion with the title model.
func (p *Provider) Summarize(ctx context.Context, prompt string) (string, error) {
	var result string
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.config.TitleModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   32,
			Temperature: 0.2,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

// Stream starts a streaming chat completion. Tool calls requested by the model
// are surfaced as tool_call events; generation pauses until the matching
// outcome is submitted, then continues with the tool message appended.
func (p *Provider) Stream(ctx context.Context, req *GenerationRequest) (EventStream, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.StreamTimeout)
	s := &openaiStream{
		events:   make(chan *Event, 16),
		outcomes: make(chan *ToolResult),
		finished: make(chan struct{}),
		cancel:   cancel,
	}
	go s.run(ctx, p, req)
	return s, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < p.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			slog.Debug("AI request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

type openaiStream struct {
	events   chan *Event
	outcomes chan *ToolResult
	finished chan struct{}
	cancel   context.CancelFunc
	err      error

	closeOnce sync.Once
}

func (s *openaiStream) Recv() (*Event, error) {
	ev, ok := <-s.events
	if !ok {
		return nil, s.err
	}
	return ev, nil
}

func (s *openaiStream) SubmitToolOutcome(ctx context.Context, result *ToolResult) error {
	select {
	case s.outcomes <- result:
		return nil
	case <-s.finished:
		return errors.New("stream already finished")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *openaiStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.finished
	})
	return nil
}

func (s *openaiStream) run(ctx context.Context, p *Provider, req *GenerationRequest) {
	defer close(s.finished)
	defer close(s.events)
	defer s.cancel()

	s.err = s.generate(ctx, p, req)
}

// generate runs the completion rounds. It returns io.EOF on a normal end.
func (s *openaiStream) generate(ctx context.Context, p *Provider, req *GenerationRequest) error {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	messages := toOpenAIMessages(req)
	tools := toOpenAITools(req.Tools)

	for round := 0; round < timeout.MaxToolRounds; round++ {
		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Tools:       tools,
			MaxTokens:   p.config.MaxTokens,
			Temperature: p.config.Temperature,
			Stream:      true,
		})
		if err != nil {
			return errors.Wrap(err, "failed to open completion stream")
		}

		content, calls, err := s.consume(ctx, stream)
		stream.Close()
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return io.EOF
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, call := range calls {
			result, err := s.awaitOutcome(ctx, call)
			if err != nil {
				return err
			}
			payload, _ := json.Marshal(result)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(payload),
				ToolCallID: call.ID,
			})
		}
	}

	return errors.Errorf("max tool rounds (%d) exceeded", timeout.MaxToolRounds)
}

// consume forwards text deltas and collects the tool calls of one round.
func (s *openaiStream) consume(ctx context.Context, stream *openai.ChatCompletionStream) (string, []openai.ToolCall, error) {
	var content strings.Builder
	calls := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to receive completion chunk")
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if err := s.emit(ctx, &Event{Kind: EventText, Text: choice.Delta.Content}); err != nil {
					return "", nil, err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				call, ok := calls[index]
				if !ok {
					call = &openai.ToolCall{Index: tc.Index, Type: openai.ToolTypeFunction}
					calls[index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Function.Name = tc.Function.Name
				}
				call.Function.Arguments += tc.Function.Arguments
			}
		}
	}

	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	ordered := make([]openai.ToolCall, 0, len(calls))
	for _, index := range indexes {
		ordered = append(ordered, *calls[index])
	}
	return content.String(), ordered, nil
}

// awaitOutcome emits a tool_call event and blocks until its outcome is submitted.
func (s *openaiStream) awaitOutcome(ctx context.Context, call openai.ToolCall) (*ToolResult, error) {
	arguments := json.RawMessage(call.Function.Arguments)
	if !json.Valid(arguments) {
		arguments = json.RawMessage(`{}`)
	}
	if err := s.emit(ctx, &Event{Kind: EventToolCall, ToolCall: &ToolCall{
		ID:        call.ID,
		Name:      call.Function.Name,
		Arguments: arguments,
	}}); err != nil {
		return nil, err
	}

	for {
		select {
		case result := <-s.outcomes:
			if result.ID != call.ID {
				slog.Warn("ignoring tool outcome for unexpected call", "expected", call.ID, "got", result.ID)
				continue
			}
			if err := s.emit(ctx, &Event{Kind: EventToolResult, ToolResult: result}); err != nil {
				return nil, err
			}
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *openaiStream) emit(ctx context.Context, ev *Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toOpenAIMessages(req *GenerationRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return messages
}

func toOpenAITools(schemas []ToolSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]openai.Tool, len(schemas))
	for i, schema := range schemas {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		}
	}
	return tools
}
