// Package prompt turns rich-text chat messages into model-ready prompts.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/store"
)

// MaxContextMessages caps the history fetched for one referenced entity.
const MaxContextMessages = 100

// EntityContext is the resolved history of one referenced entity.
type EntityContext struct {
	Reference markup.EntityReference
	Label     string
	Category  markup.EntityCategory
	// Transcript holds one `[sender] (timestamp): text` line per message.
	Transcript string
	Lines      int
}

// Resolver fetches conversation history for entity references.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a resolver backed by the store.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the context of ref as seen by actingUserID.
// It returns nil without error when there is no conversation or it holds no messages.
func (r *Resolver) Resolve(ctx context.Context, ref markup.EntityReference, actingUserID int32) (*EntityContext, error) {
	conversation, err := r.conversationFor(ctx, ref, actingUserID)
	if err != nil || conversation == nil {
		return nil, err
	}

	messages, err := r.store.ListRecentMessages(ctx, conversation.ID, MaxContextMessages)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(messages))
	for _, message := range messages {
		text := markup.PlainText(message.Content)
		if text == "" {
			continue
		}
		sender, err := r.senderName(ctx, message.SenderID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, FormatLine(sender, message.CreatedTs, text))
	}
	if len(lines) == 0 {
		return nil, nil
	}

	label := ref.Label
	if label == "" {
		label = conversation.DisplayName()
	}
	return &EntityContext{
		Reference:  ref,
		Label:      label,
		Category:   ref.Category,
		Transcript: strings.Join(lines, "\n"),
		Lines:      len(lines),
	}, nil
}

func (r *Resolver) conversationFor(ctx context.Context, ref markup.EntityReference, actingUserID int32) (*store.Conversation, error) {
	switch ref.Category {
	case markup.CategoryChannel:
		conversation, err := r.store.GetConversation(ctx, ref.TargetID)
		if err != nil || conversation == nil {
			return nil, err
		}
		// A channel chip must not open a DM or a session by id.
		if conversation.Kind != store.ConversationKindChannel {
			return nil, nil
		}
		return conversation, nil
	case markup.CategoryAgentSession:
		conversation, err := r.store.GetConversation(ctx, ref.TargetID)
		if err != nil || conversation == nil {
			return nil, err
		}
		// Sessions are private to their members.
		members, err := r.store.ListConversationMembers(ctx, &store.FindConversationMember{
			ConversationID: &conversation.ID,
			UserID:         &actingUserID,
		})
		if err != nil || len(members) == 0 {
			return nil, err
		}
		return conversation, nil
	case markup.CategoryPerson:
		return r.store.FindDirectConversation(ctx, actingUserID, ref.TargetID)
	default:
		return nil, nil
	}
}

func (r *Resolver) senderName(ctx context.Context, userID int32) (string, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "unknown", nil
	}
	return user.Name(), nil
}

// FormatLine renders one transcript line.
func FormatLine(sender string, createdTs int64, text string) string {
	return fmt.Sprintf("[%s] (%s): %s", sender, time.Unix(createdTs, 0).UTC().Format(time.RFC3339), text)
}
