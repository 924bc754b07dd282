package v1

import (
	"context"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/chorus/plugin/ai/agent"
)

const signalBuffer = 16

// SignalHub fans sidebar signals out to the open streams of each user.
// A slow stream drops signals instead of blocking the agent turn.
type SignalHub struct {
	mu          sync.Mutex
	subscribers map[int32]map[int]chan agent.Signal
	nextID      int
}

var _ agent.SignalSink = (*SignalHub)(nil)

// NewSignalHub creates an empty hub.
func NewSignalHub() *SignalHub {
	return &SignalHub{subscribers: make(map[int32]map[int]chan agent.Signal)}
}

// Signal implements agent.SignalSink.
func (h *SignalHub) Signal(_ context.Context, signal agent.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers[signal.UserID] {
		select {
		case ch <- signal:
		default:
		}
	}
}

// Subscribe registers a stream of the user's signals.
func (h *SignalHub) Subscribe(userID int32) (<-chan agent.Signal, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan agent.Signal, signalBuffer)
	id := h.nextID
	h.nextID++
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[int]chan agent.Signal)
	}
	h.subscribers[userID][id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[userID][id]; !ok {
			return
		}
		delete(h.subscribers[userID], id)
		if len(h.subscribers[userID]) == 0 {
			delete(h.subscribers, userID)
		}
		close(ch)
	}
}

// Subscribers returns the number of open streams of a user.
func (h *SignalHub) Subscribers(userID int32) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}

type signalEvent struct {
	Kind string `json:"kind"`
	Tool string `json:"tool"`
}

// StreamSignals streams "refresh" events telling the client which sidebar
// list to reload.
// GET /api/v1/signals
func (s *APIV1Service) StreamSignals(c echo.Context) error {
	signals, stop := s.Signals.Subscribe(currentUserID(c))
	defer stop()

	ctx := c.Request().Context()
	startStream(c)
	for {
		select {
		case <-ctx.Done():
			return nil
		case signal := <-signals:
			if err := s.writeEvent(c, "refresh", &signalEvent{Kind: string(signal.Kind), Tool: signal.Tool}); err != nil {
				return nil
			}
		}
	}
}
