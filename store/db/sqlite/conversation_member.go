package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/chorus/store"
)

func (d *DB) CreateConversationMember(ctx context.Context, create *store.ConversationMember) (*store.ConversationMember, error) {
	stmt := `INSERT INTO conversation_member (conversation_id, user_id, created_ts)
		VALUES (` + placeholders(3) + `)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`
	if _, err := d.db.ExecContext(ctx, stmt, create.ConversationID, create.UserID, create.CreatedTs); err != nil {
		return nil, fmt.Errorf("failed to create conversation member: %w", err)
	}
	return create, nil
}

func (d *DB) ListConversationMembers(ctx context.Context, find *store.FindConversationMember) ([]*store.ConversationMember, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `SELECT conversation_id, user_id, created_ts FROM conversation_member WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, conversation_id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation members: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ConversationMember, 0)
	for rows.Next() {
		m := &store.ConversationMember{}
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan conversation member: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation members: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteConversationMember(ctx context.Context, delete *store.DeleteConversationMember) error {
	where, args := []string{"conversation_id = " + placeholder(1)}, []any{delete.ConversationID}
	if delete.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *delete.UserID)
	}

	stmt := `DELETE FROM conversation_member WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete conversation member: %w", err)
	}
	return nil
}
