package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	stmt := `
		INSERT INTO chat (id, owner_id, title, visibility, hidden, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.OwnerID,
		create.Title,
		create.Visibility,
		create.Hidden,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create chat")
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
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
	}
	if !find.IncludeHidden {
		where = append(where, "hidden = 0")
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
		return nil, errors.Wrap(err, "failed to list chats")
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
			return nil, errors.Wrap(err, "failed to scan chat")
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
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Visibility != nil {
		set, args = append(set, "visibility = ?"), append(args, *update.Visibility)
	}
	if update.Hidden != nil {
		set, args = append(set, "hidden = ?"), append(args, *update.Hidden)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE chat SET ` + strings.Join(set, ", ") + ` WHERE id = ?
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
		return nil, errors.Wrap(err, "failed to update chat")
	}
	return &chat, nil
}

// DeleteChat hard-deletes a chat with its messages, votes, and stream records.
// Soft delete goes through UpdateChat with Hidden instead.
func (d *DB) DeleteChat(ctx context.Context, delete *store.DeleteChat) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM vote WHERE chat_id = ?`,
		`DELETE FROM message WHERE chat_id = ?`,
		`DELETE FROM stream WHERE chat_id = ?`,
		`DELETE FROM chat WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, delete.ID); err != nil {
			return errors.Wrap(err, "failed to delete chat")
		}
	}
	return tx.Commit()
}
