package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/chorus/store"
)

type nameArgs struct {
	Name string `json:"name"`
}

func decodeName(raw json.RawMessage) (string, error) {
	args, err := decodeArgs[nameArgs](raw)
	if err != nil {
		return "", err
	}
	if trimSigil(args.Name) == "" {
		return "", errors.New("name is required")
	}
	return args.Name, nil
}

// createConversation inserts a named conversation with the acting user as member.
func createConversation(ctx context.Context, ec *ExecContext, kind store.ConversationKind, name string) (*store.Conversation, error) {
	now := time.Now().Unix()
	conversation, err := ec.Store.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Kind:      kind,
		Name:      &name,
		CreatorID: ec.UserID,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		return nil, err
	}
	if _, err := ec.Store.CreateConversationMember(ctx, &store.ConversationMember{
		ConversationID: conversation.ID,
		UserID:         ec.UserID,
		CreatedTs:      now,
	}); err != nil {
		return nil, err
	}
	return conversation, nil
}

// deleteConversation removes a conversation with its messages and memberships.
func deleteConversation(ctx context.Context, ec *ExecContext, conversation *store.Conversation) error {
	if err := ec.Store.DeleteMessage(ctx, &store.DeleteMessage{ConversationID: &conversation.ID}); err != nil {
		return err
	}
	if err := ec.Store.DeleteConversationMember(ctx, &store.DeleteConversationMember{ConversationID: conversation.ID}); err != nil {
		return err
	}
	return ec.Store.DeleteConversation(ctx, &store.DeleteConversation{ID: conversation.ID})
}

func createChannelTool() *Tool {
	return &Tool{
		Name:        "create_channel",
		Description: "Create a new channel. The name is lowercased and spaces become hyphens.",
		Parameters: objectSchema(map[string]any{
			"name": stringProperty("Channel name"),
		}, "name"),
		SideEffect: SideEffectChannels,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			name, err := decodeName(raw)
			if err != nil {
				return nil, err
			}
			name = normalizeName(name)
			existing, err := findChannel(ctx, ec.Store, name)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, fmt.Errorf("channel #%s already exists", name)
			}
			channel, err := createConversation(ctx, ec, store.ConversationKindChannel, name)
			if err != nil {
				return nil, fmt.Errorf("failed to create channel #%s: %w", name, err)
			}
			return conversationView{ID: channel.ID, Name: name, Joined: true}, nil
		},
	}
}

func deleteChannelTool() *Tool {
	return &Tool{
		Name:        "delete_channel",
		Description: "Delete a channel you created, with all its messages.",
		Parameters: objectSchema(map[string]any{
			"name": stringProperty("Channel name"),
		}, "name"),
		SideEffect: SideEffectChannels,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			name, err := decodeName(raw)
			if err != nil {
				return nil, err
			}
			channel, err := findChannel(ctx, ec.Store, name)
			if err != nil {
				return nil, err
			}
			if channel == nil {
				return nil, fmt.Errorf("channel #%s not found", normalizeName(name))
			}
			if channel.CreatorID != ec.UserID {
				return nil, fmt.Errorf("only the creator can delete #%s", channel.DisplayName())
			}
			if err := deleteConversation(ctx, ec, channel); err != nil {
				return nil, fmt.Errorf("failed to delete channel #%s: %w", channel.DisplayName(), err)
			}
			return map[string]any{"deleted": "#" + channel.DisplayName()}, nil
		},
	}
}

func createSessionTool() *Tool {
	return &Tool{
		Name:        "create_session",
		Description: "Create a new agent session for yourself.",
		Parameters: objectSchema(map[string]any{
			"name": stringProperty("Session name"),
		}, "name"),
		SideEffect: SideEffectSessions,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			name, err := decodeName(raw)
			if err != nil {
				return nil, err
			}
			name = normalizeName(name)
			existing, err := findSession(ctx, ec.Store, ec.UserID, name)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, fmt.Errorf("session %s already exists", name)
			}
			session, err := createConversation(ctx, ec, store.ConversationKindAgentSession, name)
			if err != nil {
				return nil, fmt.Errorf("failed to create session %s: %w", name, err)
			}
			return conversationView{ID: session.ID, Name: name}, nil
		},
	}
}

func deleteSessionTool() *Tool {
	return &Tool{
		Name:        "delete_session",
		Description: "Delete one of your agent sessions.",
		Parameters: objectSchema(map[string]any{
			"name": stringProperty("Session name"),
		}, "name"),
		SideEffect: SideEffectSessions,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			name, err := decodeName(raw)
			if err != nil {
				return nil, err
			}
			session, err := findSession(ctx, ec.Store, ec.UserID, name)
			if err != nil {
				return nil, err
			}
			if session == nil {
				return nil, fmt.Errorf("session %s not found", normalizeName(name))
			}
			if err := deleteConversation(ctx, ec, session); err != nil {
				return nil, fmt.Errorf("failed to delete session %s: %w", session.DisplayName(), err)
			}
			return map[string]any{"deleted": session.DisplayName()}, nil
		},
	}
}
