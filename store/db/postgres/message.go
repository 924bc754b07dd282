package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/chorus/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	fields := []string{"uid", "conversation_id", "sender_id", "content", "created_ts"}
	args := []any{create.UID, create.ConversationID, create.SenderID, create.Content, create.CreatedTs}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}

	order := "created_ts ASC, id ASC"
	if find.Latest {
		order = "created_ts DESC, id DESC"
	}
	query := `SELECT id, uid, conversation_id, sender_id, content, created_ts FROM message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order
	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.UID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *delete.ConversationID)
	}
	if len(where) == 0 {
		return fmt.Errorf("no condition to delete")
	}

	stmt := `DELETE FROM message WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
