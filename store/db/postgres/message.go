package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chatloom/chatloom/store"
)

// AppendMessages inserts messages in one transaction, bumping colliding
// created timestamps forward so per-chat order stays strictly increasing.
func (d *DB) AppendMessages(ctx context.Context, msgs []*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		var maxTs sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(created_ts) FROM message WHERE chat_id = $1`, msg.ChatID,
		).Scan(&maxTs); err != nil {
			return fmt.Errorf("failed to read chat high-water mark: %w", err)
		}
		if maxTs.Valid && msg.CreatedTs <= maxTs.Int64 {
			msg.CreatedTs = maxTs.Int64 + 1
		}

		parts, err := store.MarshalContentParts(msg.Parts)
		if err != nil {
			return err
		}
		attachments, err := store.MarshalAttachments(msg.Attachments)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message (id, chat_id, role, parts, attachments, created_ts)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID,
			msg.ChatID,
			msg.Role,
			string(parts),
			string(attachments),
			msg.CreatedTs,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DB) GetMessage(ctx context.Context, find *store.FindMessage) (*store.Message, error) {
	list, err := d.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}

	query := `SELECT id, chat_id, role, parts, attachments, created_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		var msg store.Message
		var parts, attachments string
		if err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.Role,
			&parts,
			&attachments,
			&msg.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Parts, err = store.UnmarshalContentParts([]byte(parts)); err != nil {
			return nil, err
		}
		if msg.Attachments, err = store.UnmarshalAttachments([]byte(attachments)); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (d *DB) TruncateMessagesAfter(ctx context.Context, chatID string, ts int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vote WHERE message_id IN (
			SELECT id FROM message WHERE chat_id = $1 AND created_ts >= $2
		)`, chatID, ts,
	); err != nil {
		return fmt.Errorf("failed to delete votes for truncated messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM message WHERE chat_id = $1 AND created_ts >= $2`, chatID, ts,
	); err != nil {
		return fmt.Errorf("failed to truncate messages: %w", err)
	}
	return tx.Commit()
}

func (d *DB) CountUserMessagesSince(ctx context.Context, ownerID string, ts int64) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM message m
		JOIN chat c ON m.chat_id = c.id
		WHERE c.owner_id = $1 AND m.role = 'user' AND m.created_ts >= $2`,
		ownerID, ts,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return count, nil
}
