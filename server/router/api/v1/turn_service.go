package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/chorus/plugin/ai/agent"
	apierrors "github.com/hrygo/chorus/server/internal/errors"
	"github.com/hrygo/chorus/store"
)

type placeholderEvent struct {
	Content string       `json:"content"`
	State   string       `json:"state"`
	Message *messageView `json:"message,omitempty"`
}

type turnEvent struct {
	TurnID    string       `json:"turn_id"`
	State     string       `json:"state"`
	Message   *messageView `json:"message,omitempty"`
	Code      string       `json:"code,omitempty"`
	Error     string       `json:"error,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
}

// StreamTurn streams the placeholder of an agent turn as server-sent events.
// Every "placeholder" event carries the whole content so far; a final "turn"
// event reports DONE or FAILED.
// GET /api/v1/turns/:id/stream
func (s *APIV1Service) StreamTurn(c echo.Context) error {
	if s.Runner == nil {
		return writeError(c, apierrors.NotFound("turn not found"))
	}
	turn := s.Runner.Lookup(c.Param("id"))
	if turn == nil {
		return writeError(c, apierrors.NotFound("turn not found"))
	}
	if err := s.requireMember(c, turn.ConversationID); err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	updates, stop := turn.Placeholder().Subscribe()
	defer stop()

	startStream(c)
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				select {
				case <-turn.Done():
				case <-ctx.Done():
					return nil
				}
				return s.writeEvent(c, "turn", finalTurnEvent(turn))
			}
			event := &placeholderEvent{Content: update.Content, State: string(update.State)}
			if update.Message != nil {
				event.Message = toMessageView(update.Message)
			}
			if err := s.writeEvent(c, "placeholder", event); err != nil {
				return nil
			}
		}
	}
}

func finalTurnEvent(turn *agent.Turn) *turnEvent {
	event := &turnEvent{TurnID: turn.ID, State: string(turn.State())}
	if message := turn.Message(); message != nil {
		event.Message = toMessageView(message)
	}
	if err := turn.Err(); err != nil {
		aiErr := apierrors.FromTurnError(err)
		event.Code = string(aiErr.Code)
		event.Error = aiErr.Message
		event.Retryable = aiErr.Retryable
	}
	return event
}

func (s *APIV1Service) requireMember(c echo.Context, conversationID int32) error {
	userID := currentUserID(c)
	members, err := s.Store.ListConversationMembers(c.Request().Context(), &store.FindConversationMember{
		ConversationID: &conversationID,
		UserID:         &userID,
	})
	if err != nil {
		return apierrors.Internal("failed to list members", err)
	}
	if len(members) == 0 {
		return apierrors.PermissionDenied("not a member of this conversation")
	}
	return nil
}

func startStream(c echo.Context) {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// writeEvent writes one server-sent event and flushes it.
func (s *APIV1Service) writeEvent(c echo.Context, name string, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	c.Response().Flush()
	s.httpMetrics.RecordStreamChunk()
	return nil
}
