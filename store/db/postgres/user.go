package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/chorus/store"
)

func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	fields := []string{"username", "display_name", "is_autonomous", "avatar_url", "created_ts"}
	args := []any{create.Username, create.DisplayName, create.IsAutonomous, create.AvatarURL, create.CreatedTs}

	stmt := `INSERT INTO "user" (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return create, nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Username != nil {
		where, args = append(where, "username = "+placeholder(len(args)+1)), append(args, *find.Username)
	}
	if find.IsAutonomous != nil {
		where, args = append(where, "is_autonomous = "+placeholder(len(args)+1)), append(args, *find.IsAutonomous)
	}
	if find.IDList != nil {
		if len(find.IDList) == 0 {
			return []*store.User{}, nil
		}
		var clause string
		clause, args = inClause("id", find.IDList, args)
		where = append(where, clause)
	}

	query := `SELECT id, username, display_name, is_autonomous, avatar_url, created_ts FROM "user" WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	list := make([]*store.User, 0)
	for rows.Next() {
		u := &store.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IsAutonomous, &u.AvatarURL, &u.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return list, nil
}
