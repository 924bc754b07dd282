package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// User model related methods.
	CreateUser(ctx context.Context, create *User) (*User, error)
	ListUsers(ctx context.Context, find *FindUser) ([]*User, error)

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// ConversationMember model related methods.
	CreateConversationMember(ctx context.Context, create *ConversationMember) (*ConversationMember, error)
	ListConversationMembers(ctx context.Context, find *FindConversationMember) ([]*ConversationMember, error)
	DeleteConversationMember(ctx context.Context, delete *DeleteConversationMember) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	DeleteMessage(ctx context.Context, delete *DeleteMessage) error
}
