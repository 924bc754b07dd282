package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/hrygo/chorus/store"
)

// TurnState is the state of an agent turn.
type TurnState string

const (
	TurnComposing  TurnState = "COMPOSING"
	TurnStreaming  TurnState = "STREAMING"
	TurnPersisting TurnState = "PERSISTING"
	TurnDone       TurnState = "DONE"
	TurnFailed     TurnState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s TurnState) IsTerminal() bool {
	return s == TurnDone || s == TurnFailed
}

var turnTransitions = map[TurnState][]TurnState{
	TurnComposing:  {TurnStreaming},
	TurnStreaming:  {TurnPersisting, TurnFailed},
	TurnPersisting: {TurnDone, TurnFailed},
}

func canTransition(from, to TurnState) bool {
	for _, next := range turnTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Turn is one agent reply in flight.
// Turn 表示一次进行中的代理回复。
type Turn struct {
	ID             string
	Persona        *Persona
	ConversationID int32

	placeholder *Placeholder
	done        chan struct{}

	mu      sync.Mutex
	state   TurnState
	message *store.Message
	err     error
}

func newTurn(id string, persona *Persona, conversationID int32) *Turn {
	return &Turn{
		ID:             id,
		Persona:        persona,
		ConversationID: conversationID,
		placeholder:    NewPlaceholder(),
		done:           make(chan struct{}),
		state:          TurnComposing,
	}
}

func (t *Turn) transition(to TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.state, to) {
		return fmt.Errorf("invalid turn transition %s -> %s", t.state, to)
	}
	t.state = to
	return nil
}

// State returns the current state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Placeholder returns the live reply of the turn.
func (t *Turn) Placeholder() *Placeholder {
	return t.placeholder
}

// Message returns the persisted reply, or nil.
func (t *Turn) Message() *store.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// Err returns the failure cause of a FAILED turn.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the turn reached DONE or FAILED.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn finishes or ctx is done.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
