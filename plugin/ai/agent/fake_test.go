package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/store"
)

// step is one scripted Recv result. A gate blocks Recv until it is closed.
type step struct {
	ev   *ai.Event
	err  error
	gate chan struct{}
}

func textStep(s string) step {
	return step{ev: &ai.Event{Kind: ai.EventText, Text: s}}
}

func toolCallStep(id, name, args string) step {
	return step{ev: &ai.Event{Kind: ai.EventToolCall, ToolCall: &ai.ToolCall{ID: id, Name: name, Arguments: []byte(args)}}}
}

// fakeService replays a script. A submitted tool outcome is echoed back as the
// next tool_result event, like a real generator would.
type fakeService struct {
	mu       sync.Mutex
	steps    []step
	openErr  error
	requests []*ai.GenerationRequest
	last     *fakeStream
}

func (f *fakeService) Stream(_ context.Context, req *ai.GenerationRequest) (ai.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.last = &fakeStream{steps: append([]step(nil), f.steps...)}
	return f.last, nil
}

func (f *fakeService) lastRequest() *ai.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type fakeStream struct {
	mu       sync.Mutex
	steps    []step
	outcomes []*ai.ToolResult
	closed   bool
}

func (s *fakeStream) Recv() (*ai.Event, error) {
	s.mu.Lock()
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, io.EOF
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if next.gate != nil {
		<-next.gate
	}
	if next.err != nil {
		return nil, next.err
	}
	return next.ev, nil
}

func (s *fakeStream) SubmitToolOutcome(_ context.Context, result *ai.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, result)
	echo := step{ev: &ai.Event{Kind: ai.EventToolResult, ToolResult: result}}
	s.steps = append([]step{echo}, s.steps...)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSummarizer struct {
	reply string
	err   error
}

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	return f.reply, f.err
}

// flakyDriver fails the first CreateMessage calls. When land is set the failing
// call still writes the row, like a commit whose acknowledgement was lost.
type flakyDriver struct {
	store.Driver
	failures atomic.Int32
	land     bool
	calls    atomic.Int32
}

func (d *flakyDriver) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	d.calls.Add(1)
	if d.failures.Add(-1) >= 0 {
		if d.land {
			if _, err := d.Driver.CreateMessage(ctx, create); err != nil {
				return nil, err
			}
		}
		return nil, errors.New("database is locked")
	}
	return d.Driver.CreateMessage(ctx, create)
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *signalRecorder) Signal(_ context.Context, s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *signalRecorder) list() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}
