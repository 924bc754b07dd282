package test

import (
	"context"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/chorus/store"
)

// CreateTestingUser inserts a participant.
func CreateTestingUser(ctx context.Context, t *testing.T, s *store.Store, username string, autonomous bool) *store.User {
	t.Helper()
	user, err := s.CreateUser(ctx, &store.User{
		Username:     username,
		DisplayName:  username,
		IsAutonomous: autonomous,
		CreatedTs:    time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return user
}

// CreateTestingConversation inserts a conversation with the given members.
func CreateTestingConversation(ctx context.Context, t *testing.T, s *store.Store, kind store.ConversationKind, name string, createdTs int64, members ...*store.User) *store.Conversation {
	t.Helper()
	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	creatorID := int32(0)
	if len(members) > 0 {
		creatorID = members[0].ID
	}
	conversation, err := s.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		Kind:      kind,
		Name:      namePtr,
		CreatorID: creatorID,
		CreatedTs: createdTs,
		UpdatedTs: createdTs,
	})
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	for _, m := range members {
		if _, err := s.CreateConversationMember(ctx, &store.ConversationMember{
			ConversationID: conversation.ID,
			UserID:         m.ID,
			CreatedTs:      createdTs,
		}); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
	}
	return conversation
}

// CreateTestingMessage inserts a message.
func CreateTestingMessage(ctx context.Context, t *testing.T, s *store.Store, conversationID, senderID int32, content string, createdTs int64) *store.Message {
	t.Helper()
	message, err := s.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedTs:      createdTs,
	})
	if err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	return message
}
