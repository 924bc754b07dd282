package store

import (
	"context"
	"fmt"
	"sort"
)

// FindDirectConversation returns the direct-message conversation shared by two users,
// or nil when none exists. It intersects both users' memberships and keeps DIRECT
// conversations only. When duplicates exist the oldest one wins.
func (s *Store) FindDirectConversation(ctx context.Context, userID, otherUserID int32) (*Conversation, error) {
	mine, err := s.driver.ListConversationMembers(ctx, &FindConversationMember{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	theirs, err := s.driver.ListConversationMembers(ctx, &FindConversationMember{UserID: &otherUserID})
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	joined := make(map[int32]bool, len(mine))
	for _, m := range mine {
		joined[m.ConversationID] = true
	}
	shared := []int32{}
	for _, m := range theirs {
		if joined[m.ConversationID] {
			shared = append(shared, m.ConversationID)
		}
	}
	if len(shared) == 0 {
		return nil, nil
	}

	kind := ConversationKindDirect
	list, err := s.driver.ListConversations(ctx, &FindConversation{IDList: shared, Kind: &kind})
	if err != nil {
		return nil, fmt.Errorf("failed to list direct conversations: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs < list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})
	return list[0], nil
}

// ListUserConversations returns the conversations the user is a member of.
func (s *Store) ListUserConversations(ctx context.Context, userID int32, kind *ConversationKind) ([]*Conversation, error) {
	members, err := s.driver.ListConversationMembers(ctx, &FindConversationMember{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	if len(members) == 0 {
		return []*Conversation{}, nil
	}
	ids := make([]int32, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ConversationID)
	}
	return s.driver.ListConversations(ctx, &FindConversation{IDList: ids, Kind: kind})
}
