package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/store"
)

func TestConversationStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	alice := CreateTestingUser(ctx, t, ts, "alice", false)

	general := CreateTestingConversation(ctx, t, ts, store.ConversationKindChannel, "general", 100, alice)
	require.NotZero(t, general.ID)

	kind := store.ConversationKindChannel
	list, err := ts.ListConversations(ctx, &store.FindConversation{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "general", list[0].DisplayName())

	name := "random"
	updated, err := ts.UpdateConversation(ctx, &store.UpdateConversation{ID: general.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "random", updated.DisplayName())

	require.NoError(t, ts.DeleteConversation(ctx, &store.DeleteConversation{ID: general.ID}))
	got, err := ts.GetConversation(ctx, general.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, ts.DeleteConversation(ctx, &store.DeleteConversation{ID: general.ID}))
}

func TestConversationCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	alice := CreateTestingUser(ctx, t, ts, "alice", false)
	session := CreateTestingConversation(ctx, t, ts, store.ConversationKindAgentSession, "", 100, alice)

	cached, err := ts.GetConversation(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Empty(t, cached.DisplayName())

	title := "Quarterly planning"
	_, err = ts.UpdateConversation(ctx, &store.UpdateConversation{ID: session.ID, Name: &title})
	require.NoError(t, err)

	fresh, err := ts.GetConversation(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly planning", fresh.DisplayName())
}

func TestFindDirectConversation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	alice := CreateTestingUser(ctx, t, ts, "alice", false)
	bob := CreateTestingUser(ctx, t, ts, "bob", false)
	carol := CreateTestingUser(ctx, t, ts, "carol", false)

	t.Run("no shared conversation", func(t *testing.T) {
		got, err := ts.FindDirectConversation(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	// A shared channel must not count as a DM.
	CreateTestingConversation(ctx, t, ts, store.ConversationKindChannel, "general", 50, alice, bob)
	newer := CreateTestingConversation(ctx, t, ts, store.ConversationKindDirect, "", 300, alice, bob)
	older := CreateTestingConversation(ctx, t, ts, store.ConversationKindDirect, "", 200, alice, bob)
	CreateTestingConversation(ctx, t, ts, store.ConversationKindDirect, "", 100, alice, carol)

	t.Run("oldest shared DM wins", func(t *testing.T) {
		got, err := ts.FindDirectConversation(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, older.ID, got.ID)
		assert.NotEqual(t, newer.ID, got.ID)
	})

	t.Run("symmetric", func(t *testing.T) {
		got, err := ts.FindDirectConversation(ctx, bob.ID, alice.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, older.ID, got.ID)
	})
}

func TestListUserConversations(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	alice := CreateTestingUser(ctx, t, ts, "alice", false)
	bob := CreateTestingUser(ctx, t, ts, "bob", false)

	CreateTestingConversation(ctx, t, ts, store.ConversationKindChannel, "general", 100, alice, bob)
	CreateTestingConversation(ctx, t, ts, store.ConversationKindAgentSession, "", 200, alice)

	list, err := ts.ListUserConversations(ctx, bob.ID, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	kind := store.ConversationKindAgentSession
	list, err = ts.ListUserConversations(ctx, alice.ID, &kind)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
