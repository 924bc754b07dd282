package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/chorus/plugin/markup"
)

// SSEService streams from a remote generation endpoint that emits
// `data: {frame}` lines terminated by `data: [DONE]`.
// Tool outcomes are posted to <GenerationURL>/tool_outcomes.
type SSEService struct {
	endpoint string
	client   *http.Client
}

// NewSSEService creates a frame-protocol generation client.
func NewSSEService(cfg *LLMConfig) *SSEService {
	return &SSEService{
		endpoint: strings.TrimRight(cfg.GenerationURL, "/"),
		client:   &http.Client{},
	}
}

type sseRequest struct {
	StreamID string `json:"stream_id"`
	*GenerationRequest
}

type sseOutcome struct {
	StreamID string `json:"stream_id"`
	*ToolResult
}

// Stream posts the request and returns the frame stream.
func (s *SSEService) Stream(ctx context.Context, req *GenerationRequest) (EventStream, error) {
	streamID := uuid.New().String()
	body, err := json.Marshal(&sseRequest{StreamID: streamID, GenerationRequest: req})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode generation request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build generation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "generation request failed")
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("generation request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{
		service:  s,
		streamID: streamID,
		body:     resp.Body,
		scanner:  scanner,
	}, nil
}

// Summarize runs a tool-less generation and concatenates its text.
func (s *SSEService) Summarize(ctx context.Context, prompt string) (string, error) {
	stream, err := s.Stream(ctx, &GenerationRequest{
		Messages: []Message{UserMessage(prompt)},
		Hints:    map[string]string{"purpose": "title"},
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if ev.Kind == EventText {
			b.WriteString(ev.Text)
		}
	}
}

type sseStream struct {
	service  *SSEService
	streamID string
	body     io.ReadCloser
	scanner  *bufio.Scanner
}

func (s *sseStream) Recv() (*Event, error) {
	for s.scanner.Scan() {
		ev, done, err := DecodeFrame(s.scanner.Text())
		if err != nil {
			slog.Debug("skipping malformed generation frame", "error", err)
			continue
		}
		if done {
			return nil, io.EOF
		}
		if ev != nil {
			return ev, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "generation stream broken")
	}
	return nil, errors.New("generation stream ended without end marker")
}

func (s *sseStream) SubmitToolOutcome(ctx context.Context, result *ToolResult) error {
	body, err := json.Marshal(&sseOutcome{StreamID: s.streamID, ToolResult: result})
	if err != nil {
		return errors.Wrap(err, "failed to encode tool outcome")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.service.endpoint+"/tool_outcomes", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build tool outcome request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.service.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to submit tool outcome")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("tool outcome rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

type frame struct {
	Text       *string         `json:"text"`
	Sources    []markup.Source `json:"sources"`
	ToolCall   *ToolCall       `json:"tool_call"`
	ToolResult *ToolResult     `json:"tool_result"`
}

// DecodeFrame decodes one line of the frame protocol.
// It returns done for the end marker and a nil event for lines that carry no
// frame (comments, blank lines, other SSE fields).
func DecodeFrame(line string) (*Event, bool, error) {
	if !strings.HasPrefix(line, "data:") {
		return nil, false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return nil, false, nil
	}
	if data == "[DONE]" {
		return nil, true, nil
	}

	var f frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, false, errors.Wrap(err, "invalid frame")
	}
	switch {
	case f.Text != nil:
		return &Event{Kind: EventText, Text: *f.Text}, false, nil
	case f.Sources != nil:
		return &Event{Kind: EventSources, Sources: f.Sources}, false, nil
	case f.ToolCall != nil:
		if f.ToolCall.ID == "" || f.ToolCall.Name == "" {
			return nil, false, errors.New("tool_call frame without id or name")
		}
		return &Event{Kind: EventToolCall, ToolCall: f.ToolCall}, false, nil
	case f.ToolResult != nil:
		if f.ToolResult.ID == "" {
			return nil, false, errors.New("tool_result frame without id")
		}
		return &Event{Kind: EventToolResult, ToolResult: f.ToolResult}, false, nil
	}
	return nil, false, errors.New("frame has no known field")
}
