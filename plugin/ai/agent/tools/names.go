package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/chorus/store"
)

// trimSigil strips a leading @ or # and surrounding whitespace.
func trimSigil(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "@#")
}

// normalizeName turns a human-entered name into a channel or session name:
// trimmed, lowercase, whitespace runs replaced by hyphens.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(trimSigil(name))), "-")
}

// matchName picks the candidate whose name equals want, falling back to a
// case-insensitive match.
func matchName[T any](candidates []T, want string, names func(T) []string) (T, bool) {
	for _, c := range candidates {
		for _, n := range names(c) {
			if n == want {
				return c, true
			}
		}
	}
	for _, c := range candidates {
		for _, n := range names(c) {
			if strings.EqualFold(n, want) {
				return c, true
			}
		}
	}
	var zero T
	return zero, false
}

// findChannel resolves a channel by flexible name, returning nil when absent.
func findChannel(ctx context.Context, s *store.Store, name string) (*store.Conversation, error) {
	kind := store.ConversationKindChannel
	channels, err := s.ListConversations(ctx, &store.FindConversation{Kind: &kind})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	want := trimSigil(name)
	if c, ok := matchName(channels, want, conversationNames); ok {
		return c, nil
	}
	// Model output such as "Project Alpha" still finds project-alpha.
	if c, ok := matchName(channels, normalizeName(name), conversationNames); ok {
		return c, nil
	}
	return nil, nil
}

// findSession resolves one of the user's agent sessions by flexible name.
func findSession(ctx context.Context, s *store.Store, userID int32, name string) (*store.Conversation, error) {
	kind := store.ConversationKindAgentSession
	sessions, err := s.ListUserConversations(ctx, userID, &kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if c, ok := matchName(sessions, trimSigil(name), conversationNames); ok {
		return c, nil
	}
	if c, ok := matchName(sessions, normalizeName(name), conversationNames); ok {
		return c, nil
	}
	return nil, nil
}

// findUser resolves a participant by username or display name.
func findUser(ctx context.Context, s *store.Store, name string) (*store.User, error) {
	users, err := s.ListUsers(ctx, &store.FindUser{})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	u, _ := matchName(users, trimSigil(name), func(u *store.User) []string {
		return []string{u.Username, u.DisplayName}
	})
	return u, nil
}

func conversationNames(c *store.Conversation) []string {
	return []string{c.DisplayName()}
}
