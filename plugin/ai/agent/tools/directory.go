package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/hrygo/chorus/store"
)

type conversationView struct {
	ID     int32  `json:"id"`
	Name   string `json:"name"`
	Joined bool   `json:"joined,omitempty"`
}

type userView struct {
	ID          int32  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	IsAgent     bool   `json:"is_agent"`
}

func listChannelsTool() *Tool {
	return &Tool{
		Name:        "list_channels",
		Description: "List all channels in the workspace and whether you have joined them.",
		ReadOnly:    true,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			if _, err := decodeArgs[struct{}](raw); err != nil {
				return nil, err
			}
			kind := store.ConversationKindChannel
			channels, err := ec.Store.ListConversations(ctx, &store.FindConversation{Kind: &kind})
			if err != nil {
				return nil, err
			}
			joined, err := ec.Store.ListConversationMembers(ctx, &store.FindConversationMember{UserID: &ec.UserID})
			if err != nil {
				return nil, err
			}
			member := make(map[int32]bool, len(joined))
			for _, m := range joined {
				member[m.ConversationID] = true
			}

			views := make([]conversationView, 0, len(channels))
			for _, c := range channels {
				views = append(views, conversationView{ID: c.ID, Name: c.DisplayName(), Joined: member[c.ID]})
			}
			sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
			return views, nil
		},
	}
}

func listUsersTool() *Tool {
	return &Tool{
		Name:        "list_users",
		Description: "List the people and agents in the workspace.",
		ReadOnly:    true,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			if _, err := decodeArgs[struct{}](raw); err != nil {
				return nil, err
			}
			users, err := ec.Store.ListUsers(ctx, &store.FindUser{})
			if err != nil {
				return nil, err
			}
			views := make([]userView, 0, len(users))
			for _, u := range users {
				views = append(views, userView{
					ID:          u.ID,
					Username:    u.Username,
					DisplayName: u.DisplayName,
					IsAgent:     u.IsAutonomous,
				})
			}
			return views, nil
		},
	}
}

func listSessionsTool() *Tool {
	return &Tool{
		Name:        "list_sessions",
		Description: "List your agent sessions.",
		ReadOnly:    true,
		Execute: func(ctx context.Context, raw json.RawMessage, ec *ExecContext) (any, error) {
			if _, err := decodeArgs[struct{}](raw); err != nil {
				return nil, err
			}
			kind := store.ConversationKindAgentSession
			sessions, err := ec.Store.ListUserConversations(ctx, ec.UserID, &kind)
			if err != nil {
				return nil, err
			}
			views := make([]conversationView, 0, len(sessions))
			for _, c := range sessions {
				views = append(views, conversationView{ID: c.ID, Name: c.DisplayName()})
			}
			return views, nil
		},
	}
}
