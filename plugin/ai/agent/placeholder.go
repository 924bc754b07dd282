package agent

import (
	"sync"

	"github.com/hrygo/chorus/store"
)

// PlaceholderState is the lifecycle of the in-memory reply shown while streaming.
type PlaceholderState string

const (
	PlaceholderStreaming PlaceholderState = "STREAMING"
	// PlaceholderSaved means the reply was persisted as Message.
	PlaceholderSaved PlaceholderState = "SAVED"
	// PlaceholderUnsaved means persistence failed; the content stays visible.
	PlaceholderUnsaved PlaceholderState = "UNSAVED"
	// PlaceholderRemoved means the turn failed and nothing is kept.
	PlaceholderRemoved PlaceholderState = "REMOVED"
)

// PlaceholderUpdate is one observation of a placeholder.
type PlaceholderUpdate struct {
	Content string
	State   PlaceholderState
	// Message is set once the reply is saved.
	Message *store.Message
}

// Placeholder is the live, not yet persisted reply of a turn.
// Observers only ever see the latest update; intermediate ones may be skipped.
// Placeholder 是轮次中尚未持久化的实时回复，观察者只会看到最新状态。
type Placeholder struct {
	mu          sync.Mutex
	content     string
	state       PlaceholderState
	message     *store.Message
	subscribers map[int]chan PlaceholderUpdate
	nextID      int
}

// NewPlaceholder creates an empty streaming placeholder.
func NewPlaceholder() *Placeholder {
	return &Placeholder{
		state:       PlaceholderStreaming,
		subscribers: make(map[int]chan PlaceholderUpdate),
	}
}

// Subscribe returns a channel of updates starting with the current one, and a
// function to stop receiving. The channel is closed after a terminal update.
func (p *Placeholder) Subscribe() (<-chan PlaceholderUpdate, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan PlaceholderUpdate, 1)
	ch <- p.snapshot()
	if p.state != PlaceholderStreaming {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(ch)
		}
	}
}

// Publish replaces the displayed content. It is a no-op once the placeholder settled.
func (p *Placeholder) Publish(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlaceholderStreaming || content == p.content {
		return
	}
	p.content = content
	p.broadcast(false)
}

// MarkSaved settles the placeholder with the persisted message.
func (p *Placeholder) MarkSaved(message *store.Message) {
	p.settle(PlaceholderSaved, message)
}

// MarkUnsaved settles the placeholder keeping its content visible.
func (p *Placeholder) MarkUnsaved() {
	p.settle(PlaceholderUnsaved, nil)
}

// Remove settles the placeholder and drops its content.
func (p *Placeholder) Remove() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlaceholderStreaming {
		return
	}
	p.content = ""
	p.state = PlaceholderRemoved
	p.broadcast(true)
}

func (p *Placeholder) settle(state PlaceholderState, message *store.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlaceholderStreaming {
		return
	}
	p.state = state
	p.message = message
	if message != nil {
		p.content = message.Content
	}
	p.broadcast(true)
}

// State returns the current state.
func (p *Placeholder) State() PlaceholderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Content returns the currently displayed content.
func (p *Placeholder) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

func (p *Placeholder) snapshot() PlaceholderUpdate {
	return PlaceholderUpdate{Content: p.content, State: p.state, Message: p.message}
}

// broadcast hands the latest update to every subscriber without blocking,
// replacing an unread older update. Caller holds mu.
func (p *Placeholder) broadcast(final bool) {
	update := p.snapshot()
	for id, ch := range p.subscribers {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
		if final {
			close(ch)
			delete(p.subscribers, id)
		}
	}
}
