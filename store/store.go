package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/chorus/internal/profile"
	"github.com/hrygo/chorus/store/cache"
)

// Store provides database access to all raw objects.
// Every successful mutation is published on the change feed.
type Store struct {
	profile *profile.Profile
	driver  Driver
	feed    *Feed

	// Lookup caches, invalidated from the change feed.
	lookupCache *cache.Cache
	lookups     singleflight.Group
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	s := &Store{
		driver:  driver,
		profile: profile,
		feed:    NewFeed(),
		lookupCache: cache.New(cache.Config{
			DefaultTTL: 10 * time.Minute,
			MaxItems:   1000,
		}),
	}
	s.registerCacheInvalidation()
	return s
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Feed returns the change-notification feed.
func (s *Store) Feed() *Feed {
	return s.feed
}

func (s *Store) Close() error {
	s.lookupCache.Clear(context.Background())
	return s.driver.Close()
}

func (s *Store) publish(table Table, action Action, row any) {
	s.feed.Publish(&Event{Table: table, Action: action, Row: row})
}

func (s *Store) CreateUser(ctx context.Context, create *User) (*User, error) {
	user, err := s.driver.CreateUser(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publish(TableUser, ActionInsert, user)
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, find *FindUser) ([]*User, error) {
	return s.driver.ListUsers(ctx, find)
}

// GetUser returns the user with the given id, or nil when it does not exist.
func (s *Store) GetUser(ctx context.Context, id int32) (*User, error) {
	v, err := s.lookup(ctx, userCacheKey(id), func() (any, error) {
		list, err := s.driver.ListUsers(ctx, &FindUser{ID: &id})
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return list[0], nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*User), nil
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	conversation, err := s.driver.CreateConversation(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publish(TableConversation, ActionInsert, conversation)
	return conversation, nil
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversation returns the conversation with the given id, or nil when it does not exist.
func (s *Store) GetConversation(ctx context.Context, id int32) (*Conversation, error) {
	v, err := s.lookup(ctx, conversationCacheKey(id), func() (any, error) {
		list, err := s.driver.ListConversations(ctx, &FindConversation{ID: &id})
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return list[0], nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*Conversation), nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	conversation, err := s.driver.UpdateConversation(ctx, update)
	if err != nil {
		return nil, err
	}
	s.publish(TableConversation, ActionUpdate, conversation)
	return conversation, nil
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	if err := s.driver.DeleteConversation(ctx, delete); err != nil {
		return err
	}
	s.publish(TableConversation, ActionDelete, delete)
	return nil
}

func (s *Store) CreateConversationMember(ctx context.Context, create *ConversationMember) (*ConversationMember, error) {
	member, err := s.driver.CreateConversationMember(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publish(TableConversationMember, ActionInsert, member)
	return member, nil
}

func (s *Store) ListConversationMembers(ctx context.Context, find *FindConversationMember) ([]*ConversationMember, error) {
	return s.driver.ListConversationMembers(ctx, find)
}

func (s *Store) DeleteConversationMember(ctx context.Context, delete *DeleteConversationMember) error {
	if err := s.driver.DeleteConversationMember(ctx, delete); err != nil {
		return err
	}
	s.publish(TableConversationMember, ActionDelete, delete)
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	message, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publish(TableMessage, ActionInsert, message)
	return message, nil
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// ListRecentMessages returns up to limit of the newest messages of a conversation,
// in chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID int32, limit int) ([]*Message, error) {
	list, err := s.driver.ListMessages(ctx, &FindMessage{
		ConversationID: &conversationID,
		Limit:          limit,
		Latest:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (s *Store) DeleteMessage(ctx context.Context, delete *DeleteMessage) error {
	if err := s.driver.DeleteMessage(ctx, delete); err != nil {
		return err
	}
	s.publish(TableMessage, ActionDelete, delete)
	return nil
}

// lookup reads through the lookup cache. Concurrent misses on the same key share one
// driver query. A nil value is not cached so that rows created later become visible.
func (s *Store) lookup(ctx context.Context, key string, fetch func() (any, error)) (any, error) {
	if v, ok := s.lookupCache.Get(ctx, key); ok {
		return v, nil
	}
	v, err, _ := s.lookups.Do(key, func() (any, error) {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		if v != nil {
			s.lookupCache.Set(ctx, key, v)
		}
		return v, nil
	})
	return v, err
}

// registerCacheInvalidation ties the lookup cache to the change feed.
func (s *Store) registerCacheInvalidation() {
	s.feed.Subscribe(TableConversation, func(event *Event) {
		switch row := event.Row.(type) {
		case *Conversation:
			s.lookupCache.Delete(context.Background(), conversationCacheKey(row.ID))
		case *DeleteConversation:
			s.lookupCache.Delete(context.Background(), conversationCacheKey(row.ID))
		}
	})
	s.feed.Subscribe(TableUser, func(event *Event) {
		if user, ok := event.Row.(*User); ok {
			s.lookupCache.Delete(context.Background(), userCacheKey(user.ID))
		}
	})
}

func conversationCacheKey(id int32) string {
	return fmt.Sprintf("conversation:%d", id)
}

func userCacheKey(id int32) string {
	return fmt.Sprintf("user:%d", id)
}
