package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/store"
)

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	alice := CreateTestingUser(ctx, t, ts, "alice", false)
	scribe := CreateTestingUser(ctx, t, ts, "scribe", true)

	autonomous := true
	agents, err := ts.ListUsers(ctx, &store.FindUser{IsAutonomous: &autonomous})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, scribe.ID, agents[0].ID)

	got, err := ts.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Name())

	missing, err := ts.GetUser(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := ts.ListUsers(ctx, &store.FindUser{IDList: []int32{}})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = ts.CreateUser(ctx, &store.User{Username: "alice"})
	assert.Error(t, err)
}
