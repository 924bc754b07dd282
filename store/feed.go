package store

import (
	"fmt"
	"log/slog"
	"sync"
)

// Table names a collection observed by the change feed.
type Table string

const (
	TableUser               Table = "user"
	TableConversation       Table = "conversation"
	TableConversationMember Table = "conversation_member"
	TableMessage            Table = "message"
)

// Action is the kind of change a feed event describes.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Event is a single change notification.
// Row holds the affected model (for example *Message), or the delete filter for deletions.
type Event struct {
	Table  Table
	Action Action
	Row    any
}

// Listener receives change events for a subscribed table.
type Listener func(event *Event)

// Feed delivers change notifications to subscribers, keyed by table.
// Listeners run synchronously in the publishing goroutine in subscription order,
// so a listener that needs to do slow work must hand it off to its own goroutine.
type Feed struct {
	mu        sync.RWMutex
	listeners map[Table][]*subscription
	nextID    int
}

type subscription struct {
	id       int
	listener Listener
}

// NewFeed creates an empty change feed.
func NewFeed() *Feed {
	return &Feed{
		listeners: make(map[Table][]*subscription),
	}
}

// Subscribe registers a listener for a table and returns a function that removes it.
func (f *Feed) Subscribe(table Table, listener Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &subscription{id: f.nextID, listener: listener}
	f.listeners[table] = append(f.listeners[table], sub)

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.listeners[table]
		for i, s := range subs {
			if s.id == sub.id {
				f.listeners[table] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish emits an event to all listeners of its table.
// A panicking listener is logged and does not prevent delivery to the others.
func (f *Feed) Publish(event *Event) {
	f.mu.RLock()
	subs := make([]*subscription, len(f.listeners[event.Table]))
	copy(subs, f.listeners[event.Table])
	f.mu.RUnlock()

	for _, sub := range subs {
		f.deliver(sub, event)
	}
}

func (f *Feed) deliver(sub *subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("Feed listener panicked",
				"table", event.Table,
				"action", event.Action,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	sub.listener(event)
}
