package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) CreatePrompt(ctx context.Context, create *store.Prompt) (*store.Prompt, error) {
	stmt := `
		INSERT INTO prompt (id, user_id, title, prompt, model_id, order_key, is_default, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Title,
		create.Prompt,
		create.ModelID,
		create.OrderKey,
		create.IsDefault,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create prompt")
	}
	return create, nil
}

func (d *DB) ListPrompts(ctx context.Context, find *store.FindPrompt) ([]*store.Prompt, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}

	query := `SELECT id, user_id, title, prompt, model_id, order_key, is_default, created_ts
		FROM prompt
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY order_key ASC, created_ts ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list prompts")
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
			return nil, errors.Wrap(err, "failed to scan prompt")
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
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Prompt != nil {
		set, args = append(set, "prompt = ?"), append(args, *update.Prompt)
	}
	if update.ModelID != nil {
		set, args = append(set, "model_id = ?"), append(args, *update.ModelID)
	}
	if update.OrderKey != nil {
		set, args = append(set, "order_key = ?"), append(args, *update.OrderKey)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE prompt SET ` + strings.Join(set, ", ") + ` WHERE id = ?
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
		return nil, errors.Wrap(err, "failed to update prompt")
	}
	return &prompt, nil
}

func (d *DB) DeletePrompt(ctx context.Context, delete *store.DeletePrompt) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM prompt WHERE id = ?`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete prompt")
	}
	return nil
}
