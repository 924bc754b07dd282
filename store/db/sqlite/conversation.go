package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/chorus/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	fields := []string{"uid", "kind", "name", "creator_id", "created_ts", "updated_ts"}
	args := []any{create.UID, string(create.Kind), create.Name, create.CreatorID, create.CreatedTs, create.UpdatedTs}

	stmt := `INSERT INTO conversation (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.Kind != nil {
		where, args = append(where, "kind = "+placeholder(len(args)+1)), append(args, string(*find.Kind))
	}
	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = "+placeholder(len(args)+1)), append(args, *find.CreatorID)
	}
	if find.IDList != nil {
		if len(find.IDList) == 0 {
			return []*store.Conversation{}, nil
		}
		var clause string
		clause, args = inClause("id", find.IDList, args)
		where = append(where, clause)
	}

	query := `SELECT id, uid, kind, name, creator_id, created_ts, updated_ts FROM conversation WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts ASC, id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING id, uid, kind, name, creator_id, created_ts, updated_ts`
	c, err := scanConversation(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation not found")
		}
		return nil, err
	}
	return c, nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE conversation_id = `+placeholder(1), delete.ID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM conversation_member WHERE conversation_id = `+placeholder(1), delete.ID); err != nil {
		return fmt.Errorf("failed to delete conversation members: %w", err)
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	c := &store.Conversation{}
	var kind string
	var name sql.NullString
	if err := row.Scan(&c.ID, &c.UID, &kind, &name, &c.CreatorID, &c.CreatedTs, &c.UpdatedTs); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	c.Kind = store.ConversationKind(kind)
	if name.Valid {
		c.Name = &name.String
	}
	return c, nil
}
