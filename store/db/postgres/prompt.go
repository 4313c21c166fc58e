package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) CreatePrompt(ctx context.Context, create *store.Prompt) (*store.Prompt, error) {
	fields := []string{"id", "user_id", "title", "prompt", "model_id", "order_key", "is_default", "created_ts"}
	args := []any{create.ID, create.UserID, create.Title, create.Prompt, create.ModelID, create.OrderKey, create.IsDefault, create.CreatedTs}

	stmt := `INSERT INTO prompt (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}
	return create, nil
}

func (d *DB) ListPrompts(ctx context.Context, find *store.FindPrompt) ([]*store.Prompt, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `SELECT id, user_id, title, prompt, model_id, order_key, is_default, created_ts
		FROM prompt
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY order_key ASC, created_ts ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*store.Prompt
	for rows.Next() {
		var prompt store.Prompt
		if err := rows.Scan(
			&prompt.ID,
			&prompt.UserID,
			&prompt.Title,
			&prompt.Prompt,
			&prompt.ModelID,
			&prompt.OrderKey,
			&prompt.IsDefault,
			&prompt.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, &prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return prompts, nil
}

func (d *DB) UpdatePrompt(ctx context.Context, update *store.UpdatePrompt) (*store.Prompt, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Prompt != nil {
		set, args = append(set, "prompt = "+placeholder(len(args)+1)), append(args, *update.Prompt)
	}
	if update.ModelID != nil {
		set, args = append(set, "model_id = "+placeholder(len(args)+1)), append(args, *update.ModelID)
	}
	if update.OrderKey != nil {
		set, args = append(set, "order_key = "+placeholder(len(args)+1)), append(args, *update.OrderKey)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE prompt SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, user_id, title, prompt, model_id, order_key, is_default, created_ts`
	var prompt store.Prompt
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&prompt.ID,
		&prompt.UserID,
		&prompt.Title,
		&prompt.Prompt,
		&prompt.ModelID,
		&prompt.OrderKey,
		&prompt.IsDefault,
		&prompt.CreatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update prompt: %w", err)
	}
	return &prompt, nil
}

func (d *DB) DeletePrompt(ctx context.Context, delete *store.DeletePrompt) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM prompt WHERE id = $1`, delete.ID); err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	return nil
}
