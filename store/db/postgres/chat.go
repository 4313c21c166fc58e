package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	fields := []string{"id", "owner_id", "title", "visibility", "hidden", "created_ts"}
	args := []any{create.ID, create.OwnerID, create.Title, create.Visibility, create.Hidden, create.CreatedTs}

	stmt := `INSERT INTO chat (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return create, nil
}

func (d *DB) GetChat(ctx context.Context, find *store.FindChat) (*store.Chat, error) {
	list, err := d.ListChats(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if !find.IncludeHidden {
		where = append(where, "hidden = FALSE")
	}

	query := `SELECT id, owner_id, title, visibility, hidden, created_ts
		FROM chat
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		var chat store.Chat
		if err := rows.Scan(
			&chat.ID,
			&chat.OwnerID,
			&chat.Title,
			&chat.Visibility,
			&chat.Hidden,
			&chat.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, &chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chats, nil
}

func (d *DB) UpdateChat(ctx context.Context, update *store.UpdateChat) (*store.Chat, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Visibility != nil {
		set, args = append(set, "visibility = "+placeholder(len(args)+1)), append(args, *update.Visibility)
	}
	if update.Hidden != nil {
		set, args = append(set, "hidden = "+placeholder(len(args)+1)), append(args, *update.Hidden)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE chat SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, owner_id, title, visibility, hidden, created_ts`
	var chat store.Chat
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&chat.ID,
		&chat.OwnerID,
		&chat.Title,
		&chat.Visibility,
		&chat.Hidden,
		&chat.CreatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	return &chat, nil
}

// DeleteChat hard-deletes a chat with its messages, votes, and stream records.
func (d *DB) DeleteChat(ctx context.Context, delete *store.DeleteChat) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM vote WHERE chat_id = $1`,
		`DELETE FROM message WHERE chat_id = $1`,
		`DELETE FROM stream WHERE chat_id = $1`,
		`DELETE FROM chat WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, delete.ID); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
	}
	return tx.Commit()
}
