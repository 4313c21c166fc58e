package postgres

import (
	"context"
	"database/sql"
	"fmt"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database from the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, fmt.Errorf("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db with dsn %s: %w", profile.DSN, err)
	}
	if err := pgDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &DB{db: pgDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS chat (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT 'private',
	hidden BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_owner ON chat (owner_id);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	parts JSONB NOT NULL DEFAULT '[]',
	attachments JSONB NOT NULL DEFAULT '[]',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_chat_created ON message (chat_id, created_ts);

CREATE TABLE IF NOT EXISTS vote (
	message_id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	is_upvoted BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_vote_chat ON vote (chat_id);

CREATE TABLE IF NOT EXISTS stream (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stream_chat_created ON stream (chat_id, created_ts);

CREATE TABLE IF NOT EXISTS prompt (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	prompt TEXT NOT NULL,
	model_id TEXT NOT NULL DEFAULT '',
	order_key TEXT NOT NULL,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL,
	UNIQUE (user_id, order_key)
);
`

// Migrate applies the schema. All DDL is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// placeholder returns the n-th positional parameter, e.g. $1.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns a comma-joined run of positional parameters $1..$n.
func placeholders(n int) string {
	list := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			list += ", "
		}
		list += placeholder(i)
	}
	return list
}
