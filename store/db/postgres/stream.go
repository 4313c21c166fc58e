package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) CreateStreamRecord(ctx context.Context, create *store.StreamRecord) (*store.StreamRecord, error) {
	stmt := `INSERT INTO stream (id, chat_id, created_ts) VALUES ($1, $2, $3)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.ChatID,
		create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create stream record: %w", err)
	}
	return create, nil
}

func (d *DB) GetLatestStreamRecord(ctx context.Context, chatID string) (*store.StreamRecord, error) {
	stmt := `
		SELECT id, chat_id, created_ts FROM stream
		WHERE chat_id = $1
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
		return nil, fmt.Errorf("failed to get latest stream record: %w", err)
	}
	return &record, nil
}
