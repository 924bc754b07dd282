package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKind EventKind
		wantNil  bool
		wantDone bool
		wantErr  bool
	}{
		{name: "text", line: `data: {"text":"hi"}`, wantKind: EventText},
		{name: "empty text", line: `data: {"text":""}`, wantKind: EventText},
		{name: "sources", line: `data: {"sources":[{"url":"u","title":"t","end_index":3}]}`, wantKind: EventSources},
		{name: "tool call", line: `data: {"tool_call":{"id":"c1","name":"list_channels","arguments":{}}}`, wantKind: EventToolCall},
		{name: "tool result", line: `data: {"tool_result":{"id":"c1","success":true,"result":[1,2]}}`, wantKind: EventToolResult},
		{name: "done", line: "data: [DONE]", wantNil: true, wantDone: true},
		{name: "comment", line: ": keepalive", wantNil: true},
		{name: "blank", line: "", wantNil: true},
		{name: "event field", line: "event: message", wantNil: true},
		{name: "malformed json", line: `data: {"text":`, wantNil: true, wantErr: true},
		{name: "unknown field", line: `data: {"ping":1}`, wantNil: true, wantErr: true},
		{name: "tool call without id", line: `data: {"tool_call":{"name":"x"}}`, wantNil: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, done, err := DecodeFrame(tt.line)
			assert.Equal(t, tt.wantDone, done)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, ev)
				return
			}
			require.NotNil(t, ev)
			assert.Equal(t, tt.wantKind, ev.Kind)
		})
	}
}

func TestSSEService_StreamWithToolOutcome(t *testing.T) {
	outcomes := make(chan sseOutcome, 1)
	var streamID string

	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req sseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		streamID = req.StreamID
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"text\":\"Creating \"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"tool_call\":{\"id\":\"c1\",\"name\":\"create_channel\",\"arguments\":{\"name\":\"ops\"}}}\n\n")
		flusher.Flush()

		outcome := <-outcomes
		fmt.Fprintf(w, "data: {\"tool_result\":{\"id\":%q,\"success\":%t}}\n\n", outcome.ID, outcome.Success)
		fmt.Fprint(w, "data: {\"text\":\"done\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/generate/tool_outcomes", func(w http.ResponseWriter, r *http.Request) {
		var outcome sseOutcome
		require.NoError(t, json.NewDecoder(r.Body).Decode(&outcome))
		outcomes <- outcome
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := NewSSEService(&LLMConfig{GenerationURL: server.URL + "/generate"})
	ctx := context.Background()
	stream, err := svc.Stream(ctx, &GenerationRequest{Messages: []Message{UserMessage("make ops")}})
	require.NoError(t, err)
	defer stream.Close()

	var kinds []EventKind
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventToolCall {
			assert.Equal(t, "create_channel", ev.ToolCall.Name)
			assert.JSONEq(t, `{"name":"ops"}`, string(ev.ToolCall.Arguments))
			require.NoError(t, stream.SubmitToolOutcome(ctx, &ToolResult{ID: ev.ToolCall.ID, Success: true}))
		}
	}

	assert.Equal(t, []EventKind{EventText, EventToolCall, EventToolResult, EventText}, kinds)
	assert.NotEmpty(t, streamID)
}

func TestSSEService_MissingEndMarkerIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"text\":\"partial\"}\n\n")
	}))
	defer server.Close()

	svc := NewSSEService(&LLMConfig{GenerationURL: server.URL})
	stream, err := svc.Stream(context.Background(), &GenerationRequest{})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", ev.Text)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestSSEService_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewSSEService(&LLMConfig{GenerationURL: server.URL})
	_, err := svc.Stream(context.Background(), &GenerationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSSEService_Summarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"text\":\"Quarterly \"}\n\ndata: {\"text\":\"planning\"}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	title, err := NewSSEService(&LLMConfig{GenerationURL: server.URL}).Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly planning", title)
}
