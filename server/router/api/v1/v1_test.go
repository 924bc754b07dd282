package v1

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chorus/internal/profile"
	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/ai/agent/tools"
	"github.com/hrygo/chorus/plugin/ai/metrics"
	"github.com/hrygo/chorus/plugin/ai/prompt"
	"github.com/hrygo/chorus/store"
	teststore "github.com/hrygo/chorus/store/test"
)

const testSecret = "test-secret"

// scriptedGeneration streams the same text events for every request.
type scriptedGeneration struct {
	mu       sync.Mutex
	texts    []string
	requests int
}

func (g *scriptedGeneration) Stream(context.Context, *ai.GenerationRequest) (ai.EventStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
	return &scriptedStream{texts: append([]string(nil), g.texts...)}, nil
}

type scriptedStream struct {
	texts []string
}

func (s *scriptedStream) Recv() (*ai.Event, error) {
	if len(s.texts) == 0 {
		return nil, io.EOF
	}
	text := s.texts[0]
	s.texts = s.texts[1:]
	return &ai.Event{Kind: ai.EventText, Text: text}, nil
}

func (*scriptedStream) SubmitToolOutcome(context.Context, *ai.ToolResult) error { return nil }

func (*scriptedStream) Close() error { return nil }

type apiFixture struct {
	store   *store.Store
	service *APIV1Service
	echo    *echo.Echo
	alice   *store.User
	bob     *store.User
	scribe  *store.User
	metrics *metrics.Aggregator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	s := teststore.NewTestingStore(ctx, t)
	f := &apiFixture{
		store:   s,
		alice:   teststore.CreateTestingUser(ctx, t, s, "alice", false),
		bob:     teststore.CreateTestingUser(ctx, t, s, "bob", false),
		scribe:  teststore.CreateTestingUser(ctx, t, s, "scribe", true),
		metrics: metrics.NewAggregator(),
	}

	service := NewAPIV1Service(testSecret, &profile.Profile{Mode: "dev"}, s, slog.Default())
	service.Directory = agent.NewDirectory(&agent.Persona{UserID: f.scribe.ID, Username: "scribe", DisplayName: "Scribe"})
	service.TurnMetrics = f.metrics
	service.Runner = agent.NewRunner(s,
		&scriptedGeneration{texts: []string{"Hello ", "there"}},
		prompt.NewComposer(prompt.NewResolver(s)),
		tools.NewBuiltinRegistry(nil),
		agent.WithSignalSink(service.Signals),
		agent.WithRecorder(f.metrics),
		agent.WithPersistRetryDelay(time.Millisecond),
	)
	t.Cleanup(service.Runner.Wait)

	f.service = service
	f.echo = echo.New()
	service.RegisterRoutes(f.echo)
	return f
}

func (f *apiFixture) do(t *testing.T, user *store.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != nil {
		token, err := GenerateAccessToken(user.ID, time.Now().Add(time.Hour), []byte(testSecret))
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, nil, http.MethodGet, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorResponse](t, rec).Code)

	ghost := &store.User{ID: 9999}
	rec = f.do(t, ghost, http.MethodGet, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_ListConversations(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	teststore.CreateTestingConversation(ctx, t, f.store, store.ConversationKindChannel, "general", 100, f.alice, f.bob)
	teststore.CreateTestingConversation(ctx, t, f.store, store.ConversationKindDirect, "", 200, f.alice, f.bob)
	teststore.CreateTestingConversation(ctx, t, f.store, store.ConversationKindChannel, "private", 300, f.bob)

	rec := f.do(t, f.alice, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Conversations []conversationView `json:"conversations"`
	}](t, rec)
	assert.Len(t, resp.Conversations, 2)

	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/conversations?kind=channel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[struct {
		Conversations []conversationView `json:"conversations"`
	}](t, rec)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "general", resp.Conversations[0].Name)

	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/conversations?kind=forum", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SendMessage(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	general := teststore.CreateTestingConversation(ctx, t, f.store, store.ConversationKindChannel, "general", 100, f.alice, f.bob)
	private := teststore.CreateTestingConversation(ctx, t, f.store, store.ConversationKindChannel, "private", 100, f.bob)

	t.Run("plain text is converted", func(t *testing.T) {
		rec := f.do(t, f.alice, http.MethodPost, "/api/v1/conversations/"+itoa(general.ID)+"/messages", map[string]string{"text": "hi <all>"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[sendMessageResponse](t, rec)
		assert.Equal(t, "<p>hi &lt;all&gt;</p>", resp.Message.Content)
		assert.Empty(t, resp.TurnID)
	})

	t.Run("empty content", func(t *testing.T) {
		rec := f.do(t, f.alice, http.MethodPost, "/api/v1/conversations/"+itoa(general.ID)+"/messages", map[string]string{"content": "<p> </p>"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not a member", func(t *testing.T) {
		rec := f.do(t, f.alice, http.MethodPost, "/api/v1/conversations/"+itoa(private.ID)+"/messages", map[string]string{"text": "let me in"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "PERMISSION_DENIED", decode[errorResponse](t, rec).Code)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		rec := f.do(t, f.alice, http.MethodGet, "/api/v1/conversations/4242/messages", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	rec := f.do(t, f.alice, http.MethodGet, "/api/v1/conversations/"+itoa(general.ID)+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Messages []messageView `json:"messages"`
	}](t, rec)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, f.alice.ID, list.Messages[0].SenderID)
}

func TestAPI_AgentSessionTurn(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodPost, "/api/v1/sessions", map[string]string{"agent": "@Scribe"})
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[conversationView](t, rec)
	assert.Equal(t, string(store.ConversationKindAgentSession), session.Kind)

	rec = f.do(t, f.alice, http.MethodPost, "/api/v1/conversations/"+itoa(session.ID)+"/messages", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	sent := decode[sendMessageResponse](t, rec)
	require.NotEmpty(t, sent.TurnID)

	// The stream ends once the turn is terminal.
	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/turns/"+sent.TurnID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	body := rec.Body.String()
	assert.Contains(t, body, "event: placeholder")
	assert.Contains(t, body, `"state":"DONE"`)
	assert.Contains(t, body, `<p>Hello there</p>`)

	rec = f.do(t, f.bob, http.MethodGet, "/api/v1/turns/"+sent.TurnID+"/stream", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/turns/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/conversations/"+itoa(session.ID)+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Messages []messageView `json:"messages"`
	}](t, rec)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, f.scribe.ID, list.Messages[1].SenderID)

	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/system/metrics/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[MetricsOverviewResponse](t, rec)
	assert.Equal(t, int64(1), overview.TotalTurns)
	assert.Equal(t, 1.0, overview.SuccessRate)
	assert.Positive(t, overview.HTTP.StreamChunks)
}

func TestAPI_CreateSessionUnknownAgent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodPost, "/api/v1/sessions", map[string]string{"agent": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "AGENT_NOT_FOUND", decode[errorResponse](t, rec).Code)

	rec = f.do(t, f.alice, http.MethodPost, "/api/v1/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_MetricsOverviewRange(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, f.alice, http.MethodGet, "/api/v1/system/metrics/overview?range=7d", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7d", decode[MetricsOverviewResponse](t, rec).TimeRange)

	rec = f.do(t, f.alice, http.MethodGet, "/api/v1/system/metrics/overview?range=1y", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalHub(t *testing.T) {
	hub := NewSignalHub()
	ctx := context.Background()

	aliceSignals, stopAlice := hub.Subscribe(1)
	_, stopBob := hub.Subscribe(2)
	defer stopBob()
	assert.Equal(t, 1, hub.Subscribers(1))

	hub.Signal(ctx, agent.Signal{Kind: tools.SideEffectChannels, UserID: 1, Tool: "create_channel"})
	select {
	case got := <-aliceSignals:
		assert.Equal(t, tools.SideEffectChannels, got.Kind)
		assert.Equal(t, "create_channel", got.Tool)
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}

	// A full buffer drops signals instead of blocking.
	for range signalBuffer + 5 {
		hub.Signal(ctx, agent.Signal{Kind: tools.SideEffectDMs, UserID: 1})
	}
	assert.Len(t, aliceSignals, signalBuffer)

	stopAlice()
	stopAlice()
	assert.Equal(t, 0, hub.Subscribers(1))
	hub.Signal(ctx, agent.Signal{Kind: tools.SideEffectDMs, UserID: 1})
}

func itoa(id int32) string {
	return strconv.Itoa(int(id))
}
