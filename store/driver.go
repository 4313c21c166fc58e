package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// Chat model related methods.
	CreateChat(ctx context.Context, create *Chat) (*Chat, error)
	GetChat(ctx context.Context, find *FindChat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error)
	DeleteChat(ctx context.Context, delete *DeleteChat) error

	// Message model related methods.
	AppendMessages(ctx context.Context, msgs []*Message) error
	GetMessage(ctx context.Context, find *FindMessage) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	TruncateMessagesAfter(ctx context.Context, chatID string, ts int64) error
	CountUserMessagesSince(ctx context.Context, ownerID string, ts int64) (int, error)

	// Vote model related methods.
	UpsertVote(ctx context.Context, upsert *Vote) (*Vote, error)
	ListVotes(ctx context.Context, find *FindVote) ([]*Vote, error)

	// Stream record related methods.
	CreateStreamRecord(ctx context.Context, create *StreamRecord) (*StreamRecord, error)
	GetLatestStreamRecord(ctx context.Context, chatID string) (*StreamRecord, error)

	// Prompt model related methods.
	CreatePrompt(ctx context.Context, create *Prompt) (*Prompt, error)
	ListPrompts(ctx context.Context, find *FindPrompt) ([]*Prompt, error)
	UpdatePrompt(ctx context.Context, update *UpdatePrompt) (*Prompt, error)
	DeletePrompt(ctx context.Context, delete *DeletePrompt) error
}
