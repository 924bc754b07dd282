package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/chorus/plugin/ai/agent"
	"github.com/hrygo/chorus/plugin/markup"
	apierrors "github.com/hrygo/chorus/server/internal/errors"
	"github.com/hrygo/chorus/server/internal/observability"
	"github.com/hrygo/chorus/store"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

type conversationView struct {
	ID        int32  `json:"id"`
	UID       string `json:"uid"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
}

func toConversationView(c *store.Conversation) *conversationView {
	return &conversationView{
		ID:        c.ID,
		UID:       c.UID,
		Kind:      string(c.Kind),
		Name:      c.DisplayName(),
		CreatedTs: c.CreatedTs,
		UpdatedTs: c.UpdatedTs,
	}
}

type messageView struct {
	ID             int32  `json:"id"`
	UID            string `json:"uid"`
	ConversationID int32  `json:"conversation_id"`
	SenderID       int32  `json:"sender_id"`
	Content        string `json:"content"`
	CreatedTs      int64  `json:"created_ts"`
}

func toMessageView(m *store.Message) *messageView {
	return &messageView{
		ID:             m.ID,
		UID:            m.UID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedTs:      m.CreatedTs,
	}
}

// ListConversations lists the conversations of the current user.
// GET /api/v1/conversations?kind=CHANNEL
func (s *APIV1Service) ListConversations(c echo.Context) error {
	var kind *store.ConversationKind
	if raw := c.QueryParam("kind"); raw != "" {
		k := store.ConversationKind(strings.ToUpper(raw))
		switch k {
		case store.ConversationKindChannel, store.ConversationKindDirect, store.ConversationKindAgentSession:
			kind = &k
		default:
			return writeError(c, apierrors.InvalidArgument(fmt.Sprintf("invalid kind: %s", raw)))
		}
	}
	list, err := s.Store.ListUserConversations(c.Request().Context(), currentUserID(c), kind)
	if err != nil {
		return writeError(c, apierrors.Internal("failed to list conversations", err))
	}
	views := make([]*conversationView, 0, len(list))
	for _, conversation := range list {
		views = append(views, toConversationView(conversation))
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": views})
}

type createSessionRequest struct {
	// Agent is the username of the persona to talk to.
	Agent string `json:"agent"`
}

// CreateSession starts an agent session between the current user and a persona.
// POST /api/v1/sessions
func (s *APIV1Service) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apierrors.InvalidArgument("malformed request body"))
	}
	if strings.TrimSpace(req.Agent) == "" {
		return writeError(c, apierrors.InvalidArgument("agent is required"))
	}
	persona := s.findPersona(req.Agent)
	if persona == nil {
		return writeError(c, apierrors.AgentNotFound(req.Agent))
	}

	ctx := c.Request().Context()
	userID := currentUserID(c)
	now := time.Now().Unix()
	conversation, err := s.Store.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Kind:      store.ConversationKindAgentSession,
		CreatorID: userID,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return writeError(c, apierrors.Internal("failed to create session", err))
	}
	for _, memberID := range []int32{userID, persona.UserID} {
		if _, err := s.Store.CreateConversationMember(ctx, &store.ConversationMember{
			ConversationID: conversation.ID,
			UserID:         memberID,
			CreatedTs:      now,
		}); err != nil {
			return writeError(c, apierrors.Internal("failed to add session member", err))
		}
	}
	requestContext(c).WithAgent(persona.Username).Info("agent session created",
		slog.Int(observability.LogFieldConversationID, int(conversation.ID)))
	return c.JSON(http.StatusOK, toConversationView(conversation))
}

// ListMessages returns the latest messages of a conversation, oldest first.
// GET /api/v1/conversations/:id/messages?limit=50
func (s *APIV1Service) ListMessages(c echo.Context) error {
	conversation, err := s.memberConversation(c)
	if err != nil {
		return writeError(c, err)
	}
	limit := defaultMessagePageSize
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return writeError(c, apierrors.InvalidArgument("invalid limit"))
		}
		limit = min(n, maxMessagePageSize)
	}
	list, err := s.Store.ListRecentMessages(c.Request().Context(), conversation.ID, limit)
	if err != nil {
		return writeError(c, apierrors.Internal("failed to list messages", err))
	}
	views := make([]*messageView, 0, len(list))
	for _, message := range list {
		views = append(views, toMessageView(message))
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": views})
}

type sendMessageRequest struct {
	// Content is rich-text markup.
	Content string `json:"content"`
	// Text is plain text, used when Content is empty.
	Text string `json:"text"`
}

type sendMessageResponse struct {
	Message *messageView `json:"message"`
	// TurnID identifies the agent reply, streamed at /turns/:id/stream.
	TurnID string `json:"turn_id,omitempty"`
}

// SendMessage posts a message. In an agent session the persona starts replying
// right away; elsewhere auto-reply picks the message up from the store feed.
// POST /api/v1/conversations/:id/messages
func (s *APIV1Service) SendMessage(c echo.Context) error {
	conversation, err := s.memberConversation(c)
	if err != nil {
		return writeError(c, err)
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apierrors.InvalidArgument("malformed request body"))
	}
	content := req.Content
	if strings.TrimSpace(content) == "" && strings.TrimSpace(req.Text) != "" {
		content = markup.FromPlainText(req.Text)
	}
	if strings.TrimSpace(markup.PlainText(content)) == "" && !markup.HasAnnotations(content) {
		return writeError(c, apierrors.InvalidArgument("content is required"))
	}

	ctx := c.Request().Context()
	userID := currentUserID(c)
	message, err := s.Store.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversation.ID,
		SenderID:       userID,
		Content:        content,
		CreatedTs:      time.Now().Unix(),
	})
	if err != nil {
		return writeError(c, apierrors.Internal("failed to create message", err))
	}

	resp := &sendMessageResponse{Message: toMessageView(message)}
	if conversation.Kind != store.ConversationKindAgentSession || s.Runner == nil {
		return c.JSON(http.StatusOK, resp)
	}
	persona, err := s.sessionPersona(ctx, conversation.ID, userID)
	if err != nil {
		return writeError(c, err)
	}
	reqCtx := requestContext(c).WithAgent(persona.Username)
	turn, err := s.Runner.Start(ctx, &agent.TurnRequest{
		Persona:          persona,
		ConversationID:   conversation.ID,
		ActingUserID:     userID,
		Input:            content,
		TriggerMessageID: message.ID,
		Logger: reqCtx.WithFields(
			slog.Int(observability.LogFieldConversationID, int(conversation.ID)),
		),
	})
	if err != nil {
		return writeError(c, apierrors.FromTurnError(err))
	}
	resp.TurnID = turn.ID
	return c.JSON(http.StatusOK, resp)
}

// memberConversation loads the :id conversation, requiring membership.
func (s *APIV1Service) memberConversation(c echo.Context) (*store.Conversation, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return nil, apierrors.InvalidArgument("invalid conversation id")
	}
	ctx := c.Request().Context()
	conversation, err := s.Store.GetConversation(ctx, int32(id))
	if err != nil {
		return nil, apierrors.Internal("failed to get conversation", err)
	}
	if conversation == nil {
		return nil, apierrors.NotFound("conversation not found")
	}
	conversationID, userID := conversation.ID, currentUserID(c)
	members, err := s.Store.ListConversationMembers(ctx, &store.FindConversationMember{
		ConversationID: &conversationID,
		UserID:         &userID,
	})
	if err != nil {
		return nil, apierrors.Internal("failed to list members", err)
	}
	if len(members) == 0 {
		return nil, apierrors.PermissionDenied("not a member of this conversation")
	}
	return conversation, nil
}

// sessionPersona returns the persona taking part in an agent session.
func (s *APIV1Service) sessionPersona(ctx context.Context, conversationID, userID int32) (*agent.Persona, error) {
	if s.Directory == nil {
		return nil, apierrors.AgentNotFound("session agent")
	}
	members, err := s.Store.ListConversationMembers(ctx, &store.FindConversationMember{ConversationID: &conversationID})
	if err != nil {
		return nil, apierrors.Internal("failed to list members", err)
	}
	for _, member := range members {
		if member.UserID == userID {
			continue
		}
		if persona := s.Directory.Get(member.UserID); persona != nil {
			return persona, nil
		}
	}
	return nil, apierrors.AgentNotFound("session agent")
}

func (s *APIV1Service) findPersona(username string) *agent.Persona {
	if s.Directory == nil {
		return nil
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	for _, persona := range s.Directory.List() {
		if strings.EqualFold(persona.Username, username) {
			return persona
		}
	}
	return nil
}
