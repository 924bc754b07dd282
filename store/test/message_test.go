package test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/store"
)

func TestMessageStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	alice := CreateTestingUser(ctx, t, ts, "alice", false)
	general := CreateTestingConversation(ctx, t, ts, store.ConversationKindChannel, "general", 100, alice)

	for i := 0; i < 5; i++ {
		CreateTestingMessage(ctx, t, ts, general.ID, alice.ID, fmt.Sprintf("<p>message %d</p>", i), int64(1000+i))
	}

	all, err := ts.ListMessages(ctx, &store.FindMessage{ConversationID: &general.ID})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "<p>message 0</p>", all[0].Content)

	recent, err := ts.ListRecentMessages(ctx, general.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "<p>message 2</p>", recent[0].Content)
	assert.Equal(t, "<p>message 4</p>", recent[2].Content)

	require.NoError(t, ts.DeleteMessage(ctx, &store.DeleteMessage{ConversationID: &general.ID}))
	all, err = ts.ListMessages(ctx, &store.FindMessage{ConversationID: &general.ID})
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.Error(t, ts.DeleteMessage(ctx, &store.DeleteMessage{}))
}

func TestFeedPublishesMessageInserts(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	alice := CreateTestingUser(ctx, t, ts, "alice", false)
	general := CreateTestingConversation(ctx, t, ts, store.ConversationKindChannel, "general", 100, alice)

	var received []*store.Message
	unsubscribe := ts.Feed().Subscribe(store.TableMessage, func(event *store.Event) {
		if event.Action != store.ActionInsert {
			return
		}
		received = append(received, event.Row.(*store.Message))
	})

	CreateTestingMessage(ctx, t, ts, general.ID, alice.ID, "<p>hello</p>", 1000)
	require.Len(t, received, 1)
	assert.Equal(t, "<p>hello</p>", received[0].Content)
	assert.NotZero(t, received[0].ID)

	unsubscribe()
	CreateTestingMessage(ctx, t, ts, general.ID, alice.ID, "<p>again</p>", 1001)
	assert.Len(t, received, 1)
}
