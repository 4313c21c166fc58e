package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatloom/chatloom/store"
)

func (d *DB) UpsertVote(ctx context.Context, upsert *store.Vote) (*store.Vote, error) {
	stmt := `
		INSERT INTO vote (message_id, chat_id, is_upvoted)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO UPDATE SET
			is_upvoted = excluded.is_upvoted
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.MessageID,
		upsert.ChatID,
		upsert.IsUpvoted,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert vote: %w", err)
	}
	return upsert, nil
}

func (d *DB) ListVotes(ctx context.Context, find *store.FindVote) ([]*store.Vote, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.MessageID != nil {
		where, args = append(where, "message_id = "+placeholder(len(args)+1)), append(args, *find.MessageID)
	}

	query := `SELECT message_id, chat_id, is_upvoted FROM vote WHERE ` + strings.Join(where, " AND ")
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []*store.Vote
	for rows.Next() {
		var vote store.Vote
		if err := rows.Scan(&vote.MessageID, &vote.ChatID, &vote.IsUpvoted); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, &vote)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}
