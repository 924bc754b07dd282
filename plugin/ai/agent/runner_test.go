package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/plugin/ai/agent/tools"
	"github.com/hrygo/chorus/plugin/ai/metrics"
	"github.com/hrygo/chorus/plugin/ai/prompt"
	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/store"
	storetest "github.com/hrygo/chorus/store/test"
)

type fixture struct {
	ctx     context.Context
	store   *store.Store
	alice   *store.User
	persona *Persona
	session *store.Conversation
	service *fakeService
}

func newFixture(t *testing.T, steps ...step) *fixture {
	t.Helper()
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	alice := storetest.CreateTestingUser(ctx, t, ts, "alice", false)
	bot := storetest.CreateTestingUser(ctx, t, ts, "scribe", true)
	session := storetest.CreateTestingConversation(ctx, t, ts, store.ConversationKindAgentSession, "", time.Now().Unix(), alice, bot)
	return &fixture{
		ctx:     ctx,
		store:   ts,
		alice:   alice,
		persona: &Persona{UserID: bot.ID, Username: bot.Username},
		session: session,
		service: &fakeService{steps: steps},
	}
}

func (f *fixture) runner(s *store.Store, opts ...RunnerOption) *Runner {
	opts = append([]RunnerOption{WithPersistRetryDelay(10 * time.Millisecond)}, opts...)
	return NewRunner(s, f.service, prompt.NewComposer(prompt.NewResolver(s)), tools.NewBuiltinRegistry(nil), opts...)
}

func (f *fixture) request(input string) *TurnRequest {
	return &TurnRequest{
		Persona:        f.persona,
		ConversationID: f.session.ID,
		ActingUserID:   f.alice.ID,
		Input:          input,
	}
}

func (f *fixture) replies(t *testing.T) []*store.Message {
	t.Helper()
	list, err := f.store.ListMessages(f.ctx, &store.FindMessage{ConversationID: &f.session.ID})
	require.NoError(t, err)
	var replies []*store.Message
	for _, m := range list {
		if m.SenderID == f.persona.UserID {
			replies = append(replies, m)
		}
	}
	return replies
}

func TestRunner_CompletesTurn(t *testing.T) {
	f := newFixture(t, textStep("Hello"), textStep(" world"))
	aggregator := metrics.NewAggregator()
	runner := f.runner(f.store, WithRecorder(aggregator))

	turn, err := runner.Run(f.ctx, f.request("<p>hi there</p>"))
	require.NoError(t, err)
	assert.Equal(t, TurnDone, turn.State())
	assert.Equal(t, PlaceholderSaved, turn.Placeholder().State())

	replies := f.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, "<p>Hello world</p>", replies[0].Content)
	assert.Equal(t, replies[0].ID, turn.Message().ID)

	req := f.service.lastRequest()
	require.NotNil(t, req)
	require.NotEmpty(t, req.Messages)
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "<p>hi there</p>", last.Content)
	assert.Len(t, req.Tools, 9)

	stats := aggregator.Snapshot()
	assert.Equal(t, int64(1), stats.SuccessCount)
}

func TestRunner_ToolCallAndSignal(t *testing.T) {
	f := newFixture(t,
		textStep("Creating it."),
		toolCallStep("call-1", "create_channel", `{"name":"Project Alpha"}`),
		textStep(" Done."),
	)
	signals := &signalRecorder{}
	runner := f.runner(f.store, WithSignalSink(signals))

	turn, err := runner.Run(f.ctx, f.request("make a channel"))
	require.NoError(t, err)
	require.Equal(t, TurnDone, turn.State())

	visible, meta := markup.ExtractMetadata(turn.Message().Content)
	assert.Equal(t, "<p>Creating it. Done.</p>", visible)
	require.Len(t, meta.ToolStatus, 1)
	status := meta.ToolStatus[0]
	assert.Equal(t, "call-1", status.ID)
	assert.Equal(t, "create_channel", status.Name)
	require.NotNil(t, status.Success)
	assert.True(t, *status.Success)

	require.Len(t, f.service.last.outcomes, 1)
	assert.True(t, f.service.last.outcomes[0].Success)
	assert.True(t, f.service.last.closed)

	assert.Equal(t, []Signal{{Kind: tools.SideEffectChannels, UserID: f.alice.ID, Tool: "create_channel"}}, signals.list())
}

func TestRunner_FailedToolSendsNoSignal(t *testing.T) {
	f := newFixture(t,
		toolCallStep("call-1", "no_such_tool", `{}`),
		textStep("Sorry."),
	)
	signals := &signalRecorder{}
	runner := f.runner(f.store, WithSignalSink(signals))

	turn, err := runner.Run(f.ctx, f.request("do it"))
	require.NoError(t, err)
	_, meta := markup.ExtractMetadata(turn.Message().Content)
	require.Len(t, meta.ToolStatus, 1)
	require.NotNil(t, meta.ToolStatus[0].Success)
	assert.False(t, *meta.ToolStatus[0].Success)
	assert.Equal(t, "Unknown tool: no_such_tool", meta.ToolStatus[0].Result)
	assert.Empty(t, signals.list())
}

func TestRunner_PersistRetrySucceeds(t *testing.T) {
	for _, land := range []bool{false, true} {
		f := newFixture(t, textStep("saved on retry"))
		driver := &flakyDriver{Driver: f.store.GetDriver(), land: land}
		driver.failures.Store(1)
		runner := f.runner(store.New(driver, nil))

		turn, err := runner.Run(f.ctx, f.request("hello"))
		require.NoError(t, err, "land=%v", land)
		assert.Equal(t, TurnDone, turn.State())
		assert.Equal(t, PlaceholderSaved, turn.Placeholder().State())
		assert.Equal(t, int32(2), driver.calls.Load())
		assert.Len(t, f.replies(t), 1, "land=%v", land)
	}
}

func TestRunner_PersistFailsTwiceKeepsPlaceholder(t *testing.T) {
	f := newFixture(t, textStep("kept visible"))
	driver := &flakyDriver{Driver: f.store.GetDriver()}
	driver.failures.Store(2)
	runner := f.runner(store.New(driver, nil))

	turn, err := runner.Run(f.ctx, f.request("hello"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistFailed))
	assert.Equal(t, TurnFailed, turn.State())
	assert.Equal(t, PlaceholderUnsaved, turn.Placeholder().State())
	assert.Equal(t, "<p>kept visible</p>", turn.Placeholder().Content())
	assert.Empty(t, f.replies(t))
}

func TestRunner_TransportFailureRemovesPlaceholder(t *testing.T) {
	f := newFixture(t, textStep("partial"), step{err: errors.New("connection reset")})
	runner := f.runner(f.store)

	turn, err := runner.Run(f.ctx, f.request("hello"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamInterrupted))
	assert.True(t, IsTransientError(err))
	assert.Equal(t, TurnFailed, turn.State())
	assert.Equal(t, PlaceholderRemoved, turn.Placeholder().State())
	assert.Empty(t, turn.Placeholder().Content())
	assert.Empty(t, f.replies(t))
}

func TestRunner_OpenFailure(t *testing.T) {
	f := newFixture(t)
	f.service.openErr = errors.New("401 unauthorized")
	runner := f.runner(f.store)

	turn, err := runner.Run(f.ctx, f.request("hello"))
	assert.True(t, errors.Is(err, ErrGenerationUnavailable))
	assert.Equal(t, TurnFailed, turn.State())
	assert.Equal(t, PlaceholderRemoved, turn.Placeholder().State())
}

func TestRunner_EmptyReplyFails(t *testing.T) {
	f := newFixture(t)
	runner := f.runner(f.store)

	turn, err := runner.Run(f.ctx, f.request("hello"))
	assert.True(t, errors.Is(err, ErrEmptyReply))
	assert.Equal(t, TurnFailed, turn.State())
	assert.Empty(t, f.replies(t))
}

func TestRunner_SurvivesCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, textStep("first"), step{ev: &ai.Event{Kind: ai.EventText, Text: " second"}, gate: gate})
	runner := f.runner(f.store)

	ctx, cancel := context.WithCancel(f.ctx)
	turn, err := runner.Start(ctx, f.request("hello"))
	require.NoError(t, err)
	assert.Same(t, turn, runner.Lookup(turn.ID))

	updates, stop := turn.Placeholder().Subscribe()
	defer stop()

	cancel()
	close(gate)
	require.NoError(t, turn.Wait(f.ctx))
	assert.Equal(t, TurnDone, turn.State())
	assert.Equal(t, "<p>first second</p>", turn.Message().Content)

	var last PlaceholderUpdate
	for u := range updates {
		last = u
	}
	assert.Equal(t, PlaceholderSaved, last.State)
	assert.Equal(t, turn.Message().Content, last.Content)
}

func TestRunner_HistoryAlternates(t *testing.T) {
	f := newFixture(t, textStep("ok"))
	now := time.Now().Unix()
	storetest.CreateTestingMessage(f.ctx, t, f.store, f.session.ID, f.alice.ID, "<p>one</p>", now-30)
	storetest.CreateTestingMessage(f.ctx, t, f.store, f.session.ID, f.alice.ID, "<p>two</p>", now-20)
	storetest.CreateTestingMessage(f.ctx, t, f.store, f.session.ID, f.persona.UserID,
		"<!--tool-status:[]--><p>answer</p>", now-10)
	trigger := storetest.CreateTestingMessage(f.ctx, t, f.store, f.session.ID, f.alice.ID, "<p>three</p>", now)
	runner := f.runner(f.store)

	req := f.request(trigger.Content)
	req.TriggerMessageID = trigger.ID
	_, err := runner.Run(f.ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []ai.Message{
		{Role: "user", Content: "one\n\ntwo"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "<p>three</p>"},
	}, f.service.lastRequest().Messages)
}

func TestRunner_NamesFirstSession(t *testing.T) {
	f := newFixture(t, textStep("Sure."))
	titler := NewTitler(&fakeSummarizer{reply: `"Weekend trip planning ideas for the whole family."`}, f.store)
	runner := f.runner(f.store, WithTitler(titler))

	trigger := storetest.CreateTestingMessage(f.ctx, t, f.store, f.session.ID, f.alice.ID, "<p>help me plan a trip</p>", time.Now().Unix())
	req := f.request(trigger.Content)
	req.TriggerMessageID = trigger.ID
	_, err := runner.Run(f.ctx, req)
	require.NoError(t, err)
	runner.Wait()

	session, err := f.store.GetConversation(f.ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekend trip planning ideas for the", session.DisplayName())
}

func TestRunner_TitlerErrorIsIgnored(t *testing.T) {
	f := newFixture(t, textStep("Sure."))
	titler := NewTitler(&fakeSummarizer{err: errors.New("timeout")}, f.store)
	runner := f.runner(f.store, WithTitler(titler))

	turn, err := runner.Run(f.ctx, f.request("hello"))
	require.NoError(t, err)
	runner.Wait()
	assert.Equal(t, TurnDone, turn.State())

	session, err := f.store.GetConversation(f.ctx, f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, session.DisplayName())
}

func TestRunner_UnknownPersona(t *testing.T) {
	f := newFixture(t)
	runner := f.runner(f.store)
	_, err := runner.Start(f.ctx, &TurnRequest{ConversationID: f.session.ID})
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestTurnTransitions(t *testing.T) {
	assert.True(t, canTransition(TurnComposing, TurnStreaming))
	assert.True(t, canTransition(TurnStreaming, TurnFailed))
	assert.True(t, canTransition(TurnPersisting, TurnFailed))
	assert.False(t, canTransition(TurnComposing, TurnFailed))
	assert.False(t, canTransition(TurnDone, TurnStreaming))
	assert.False(t, canTransition(TurnComposing, TurnDone))
}
