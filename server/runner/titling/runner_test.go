package titling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/store"
	teststore "github.com/hrygo/chorus/store/test"
)

// mockSummarizer is a mock implementation of ai.Summarizer for testing.
type mockSummarizer struct {
	reply      string
	shouldFail bool
	callCount  atomic.Int32
	lastPrompt atomic.Value
}

func (m *mockSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	m.callCount.Add(1)
	m.lastPrompt.Store(prompt)
	if m.shouldFail {
		return "", errors.New("summarizer error")
	}
	return m.reply, nil
}

func newTestRunner(s *store.Store, summarizer *mockSummarizer) *Runner {
	r := NewRunner(s, agent.NewTitler(summarizer, s))
	r.now = func() time.Time { return time.Unix(10_000, 0) }
	return r
}

func TestRunner_NamesUntitledSessions(t *testing.T) {
	ctx := context.Background()
	s := teststore.NewTestingStore(ctx, t)
	alice := teststore.CreateTestingUser(ctx, t, s, "alice", false)
	bot := teststore.CreateTestingUser(ctx, t, s, "scribe", true)

	session := teststore.CreateTestingConversation(ctx, t, s, store.ConversationKindAgentSession, "", 1_000, alice, bot)
	teststore.CreateTestingMessage(ctx, t, s, session.ID, bot.ID, "<p>Hi, how can I help?</p>", 1_001)
	teststore.CreateTestingMessage(ctx, t, s, session.ID, alice.ID, "<p>Plan the offsite agenda</p>", 1_002)

	summarizer := &mockSummarizer{reply: "Offsite agenda"}
	newTestRunner(s, summarizer).RunOnce(ctx)

	got, err := s.GetConversation(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Name)
	assert.Equal(t, "Offsite agenda", *got.Name)
	assert.Equal(t, int32(1), summarizer.callCount.Load())
	assert.Contains(t, summarizer.lastPrompt.Load(), "Plan the offsite agenda")
}

func TestRunner_SkipsNamedAndRecentSessions(t *testing.T) {
	ctx := context.Background()
	s := teststore.NewTestingStore(ctx, t)
	alice := teststore.CreateTestingUser(ctx, t, s, "alice", false)

	named := teststore.CreateTestingConversation(ctx, t, s, store.ConversationKindAgentSession, "Budget", 1_000, alice)
	teststore.CreateTestingMessage(ctx, t, s, named.ID, alice.ID, "<p>budget</p>", 1_001)
	// Created inside the grace period.
	recent := teststore.CreateTestingConversation(ctx, t, s, store.ConversationKindAgentSession, "", 9_990, alice)
	teststore.CreateTestingMessage(ctx, t, s, recent.ID, alice.ID, "<p>hello</p>", 9_991)
	// Channels are never titled.
	teststore.CreateTestingConversation(ctx, t, s, store.ConversationKindChannel, "", 1_000, alice)

	summarizer := &mockSummarizer{reply: "Anything"}
	newTestRunner(s, summarizer).RunOnce(ctx)

	assert.Equal(t, int32(0), summarizer.callCount.Load())
	got, err := s.GetConversation(ctx, recent.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Name)
}

func TestRunner_SummarizerFailureLeavesSessionUntitled(t *testing.T) {
	ctx := context.Background()
	s := teststore.NewTestingStore(ctx, t)
	alice := teststore.CreateTestingUser(ctx, t, s, "alice", false)
	session := teststore.CreateTestingConversation(ctx, t, s, store.ConversationKindAgentSession, "", 1_000, alice)
	teststore.CreateTestingMessage(ctx, t, s, session.ID, alice.ID, "<p>hello</p>", 1_001)

	summarizer := &mockSummarizer{shouldFail: true}
	r := newTestRunner(s, summarizer)
	r.RunOnce(ctx)
	r.RunOnce(ctx)

	got, err := s.GetConversation(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Name)
	// Retried on the next sweep.
	assert.Equal(t, int32(2), summarizer.callCount.Load())
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := teststore.NewTestingStore(context.Background(), t)

	r := newTestRunner(s, &mockSummarizer{})
	r.interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
