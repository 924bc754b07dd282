package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/chorus/plugin/markup"
	"github.com/hrygo/chorus/store"
)

const (
	defaultReadLimit = 20
	maxReadLimit     = 50
)

// target is a resolved message destination.
type target struct {
	conversation *store.Conversation
	label        string
	// user is set for direct-message targets.
	user *store.User
}

// resolveTarget finds the channel or DM a name refers to. "#x" only matches
// channels, "@x" only users, a bare name tries channels first.
// A nil target means not found.
func resolveTarget(ctx context.Context, ec *ExecContext, name string, createDM bool) (*target, error) {
	name = strings.TrimSpace(name)
	if trimSigil(name) == "" {
		return nil, errors.New("target is required")
	}

	if !strings.HasPrefix(name, "@") {
		channel, err := findChannel(ctx, ec.Store, name)
		if err != nil {
			return nil, err
		}
		if channel != nil {
			return &target{conversation: channel, label: "#" + channel.DisplayName()}, nil
		}
		if strings.HasPrefix(name, "#") {
			return nil, nil
		}
	}

	user, err := findUser(ctx, ec.Store, name)
	if err != nil || user == nil {
		return nil, err
	}
	if user.ID == ec.UserID {
		return nil, errors.New("cannot send a direct message to yourself")
	}
	dm, err := ec.Store.FindDirectConversation(ctx, ec.UserID, user.ID)
	if err != nil {
		return nil, err
	}
	if dm == nil && createDM {
		if dm, err = createDirectConversation(ctx, ec, user); err != nil {
			return nil, err
		}
	}
	if dm == nil {
		return &target{label: "@" + user.Username, user: user}, nil
	}
	return &target{conversation: dm, label: "@" + user.Username, user: user}, nil
}

// createDirectConversation opens a DM between the acting user and other,
// with one membership row per participant.
func createDirectConversation(ctx context.Context, ec *ExecContext, other *store.User) (*store.Conversation, error) {
	now := time.Now().Unix()
	dm, err := ec.Store.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Kind:      store.ConversationKindDirect,
		CreatorID: ec.UserID,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create direct conversation: %w", err)
	}
	for _, userID := range []int32{ec.UserID, other.ID} {
		if _, err := ec.Store.CreateConversationMember(ctx, &store.ConversationMember{
			ConversationID: dm.ID,
			UserID:         userID,
			CreatedTs:      now,
		}); err != nil {
			return nil, fmt.Errorf("failed to add direct conversation member: %w", err)
		}
	}
	return dm, nil
}

type sendMessageArgs struct {
	Target  string `json:"target"`
	Content string `json:"content"`
}

func sendMessageTool() *Tool {
	return &Tool{
		Name:        "send_message",
		Description: "Send a message to a channel (#name) or a person (@name). A direct conversation is created on first contact.",
		Parameters: objectSchema(map[string]any{
			"target":  stringProperty("Channel name prefixed with # or username prefixed with @"),
			"content": stringProperty("Plain text message to send"),
		}, "target", "content"),
		SideEffect: SideEffectDMs,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			args, err := decodeArgs[sendMessageArgs](raw)
			if err != nil {
				return nil, err
			}
			content := markup.FromPlainText(args.Content)
			if content == "" {
				return nil, errors.New("content is required")
			}

			t, err := resolveTarget(ctx, ec, args.Target, true)
			if err != nil {
				return nil, err
			}
			if t == nil {
				return nil, fmt.Errorf("%s not found", args.Target)
			}

			message, err := ec.Store.CreateMessage(ctx, &store.Message{
				UID:            shortuuid.New(),
				ConversationID: t.conversation.ID,
				SenderID:       ec.UserID,
				Content:        content,
				CreatedTs:      time.Now().Unix(),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to send message: %w", err)
			}
			return map[string]any{
				"target":          t.label,
				"conversation_id": t.conversation.ID,
				"message_id":      message.ID,
			}, nil
		},
	}
}

type readMessagesArgs struct {
	Target string `json:"target"`
	Limit  int    `json:"limit,omitempty"`
}

type messageView struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func readMessagesTool() *Tool {
	return &Tool{
		Name:        "read_messages",
		Description: fmt.Sprintf("Read the most recent messages of a channel (#name) or a direct conversation (@name). Returns at most %d messages, oldest first.", maxReadLimit),
		Parameters: objectSchema(map[string]any{
			"target": stringProperty("Channel name prefixed with # or username prefixed with @"),
			"limit": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Number of messages, default %d, max %d", defaultReadLimit, maxReadLimit),
			},
		}, "target"),
		ReadOnly: true,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			args, err := decodeArgs[readMessagesArgs](raw)
			if err != nil {
				return nil, err
			}
			limit := args.Limit
			if limit <= 0 {
				limit = defaultReadLimit
			}
			if limit > maxReadLimit {
				limit = maxReadLimit
			}

			t, err := resolveTarget(ctx, ec, args.Target, false)
			if err != nil {
				return nil, err
			}
			if t == nil {
				return nil, fmt.Errorf("%s not found", args.Target)
			}
			if t.conversation == nil {
				return nil, fmt.Errorf("no conversation with %s yet", t.label)
			}

			messages, err := ec.Store.ListRecentMessages(ctx, t.conversation.ID, limit)
			if err != nil {
				return nil, err
			}
			views := make([]messageView, 0, len(messages))
			for _, m := range messages {
				sender := "unknown"
				if u, err := ec.Store.GetUser(ctx, m.SenderID); err == nil && u != nil {
					sender = u.Name()
				}
				views = append(views, messageView{
					Sender:    sender,
					Text:      markup.PlainText(m.Content),
					CreatedAt: time.Unix(m.CreatedTs, 0).UTC().Format(time.RFC3339),
				})
			}
			return map[string]any{
				"target":   t.label,
				"messages": views,
			}, nil
		},
	}
}
