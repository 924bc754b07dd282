package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestFeed_SubscribeByTable(t *testing.T) {
	defer goleak.VerifyNone(t)

	feed := NewFeed()
	var messages, users int
	feed.Subscribe(TableMessage, func(*Event) { messages++ })
	feed.Subscribe(TableUser, func(*Event) { users++ })

	feed.Publish(&Event{Table: TableMessage, Action: ActionInsert, Row: &Message{}})
	feed.Publish(&Event{Table: TableMessage, Action: ActionDelete, Row: &DeleteMessage{}})
	feed.Publish(&Event{Table: TableUser, Action: ActionInsert, Row: &User{}})

	assert.Equal(t, 2, messages)
	assert.Equal(t, 1, users)
}

func TestFeed_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	feed := NewFeed()
	delivered := false
	feed.Subscribe(TableMessage, func(*Event) { panic("boom") })
	feed.Subscribe(TableMessage, func(*Event) { delivered = true })

	assert.NotPanics(t, func() {
		feed.Publish(&Event{Table: TableMessage, Action: ActionInsert})
	})
	assert.True(t, delivered)
}

func TestFeed_Unsubscribe(t *testing.T) {
	feed := NewFeed()
	var first, second int
	unsubscribe := feed.Subscribe(TableConversation, func(*Event) { first++ })
	feed.Subscribe(TableConversation, func(*Event) { second++ })

	unsubscribe()
	unsubscribe()
	feed.Publish(&Event{Table: TableConversation, Action: ActionUpdate})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}
