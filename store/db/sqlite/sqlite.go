package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode avoids writer/reader lock contention; busy_timeout
	// covers the remaining writer/writer case. Each pragma must be prefixed
	// with `_pragma=` for the modernc driver.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite with WAL works best through a single connection.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
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
	hidden INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_owner ON chat (owner_id);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	parts TEXT NOT NULL DEFAULT '[]',
	attachments TEXT NOT NULL DEFAULT '[]',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_chat_created ON message (chat_id, created_ts);

CREATE TABLE IF NOT EXISTS vote (
	message_id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	is_upvoted INTEGER NOT NULL DEFAULT 1
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
	is_default INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	UNIQUE (user_id, order_key)
);
`

// Migrate applies the schema. All DDL is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
