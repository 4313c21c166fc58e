package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) CreateStreamRecord(ctx context.Context, create *store.StreamRecord) (*store.StreamRecord, error) {
	stmt := `INSERT INTO stream (id, chat_id, created_ts) VALUES (?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.ChatID,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create stream record")
	}
	return create, nil
}

func (d *DB) GetLatestStreamRecord(ctx context.Context, chatID string) (*store.StreamRecord, error) {
	stmt := `
		SELECT id, chat_id, created_ts FROM stream
		WHERE chat_id = ?
		ORDER BY created_ts DESC, id DESC
		LIMIT 1
	`
	var record store.StreamRecord
	if err := d.db.QueryRowContext(ctx, stmt, chatID).Scan(
		&record.ID,
		&record.ChatID,
		&record.CreatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get latest stream record")
	}
	return &record, nil
}
