package store

import (
	"context"

	"github.com/chatloom/chatloom/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Chat methods.

func (s *Store) CreateChat(ctx context.Context, create *Chat) (*Chat, error) {
	return s.driver.CreateChat(ctx, create)
}

func (s *Store) GetChat(ctx context.Context, find *FindChat) (*Chat, error) {
	return s.driver.GetChat(ctx, find)
}

func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

func (s *Store) UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error) {
	return s.driver.UpdateChat(ctx, update)
}

func (s *Store) DeleteChat(ctx context.Context, delete *DeleteChat) error {
	return s.driver.DeleteChat(ctx, delete)
}

// Message methods.

func (s *Store) AppendMessages(ctx context.Context, msgs []*Message) error {
	return s.driver.AppendMessages(ctx, msgs)
}

func (s *Store) GetMessage(ctx context.Context, find *FindMessage) (*Message, error) {
	return s.driver.GetMessage(ctx, find)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// TruncateMessagesAfter deletes every message in the chat with a created
// timestamp at or after ts, along with the votes of the removed messages.
func (s *Store) TruncateMessagesAfter(ctx context.Context, chatID string, ts int64) error {
	return s.driver.TruncateMessagesAfter(ctx, chatID, ts)
}

// CountUserMessagesSince counts user-role messages written to the owner's
// chats at or after ts. This is the quota input.
func (s *Store) CountUserMessagesSince(ctx context.Context, ownerID string, ts int64) (int, error) {
	return s.driver.CountUserMessagesSince(ctx, ownerID, ts)
}

// Vote methods.

func (s *Store) UpsertVote(ctx context.Context, upsert *Vote) (*Vote, error) {
	return s.driver.UpsertVote(ctx, upsert)
}

func (s *Store) ListVotes(ctx context.Context, find *FindVote) ([]*Vote, error) {
	return s.driver.ListVotes(ctx, find)
}

// Stream record methods.

func (s *Store) CreateStreamRecord(ctx context.Context, create *StreamRecord) (*StreamRecord, error) {
	return s.driver.CreateStreamRecord(ctx, create)
}

func (s *Store) GetLatestStreamRecord(ctx context.Context, chatID string) (*StreamRecord, error) {
	return s.driver.GetLatestStreamRecord(ctx, chatID)
}

// Prompt methods.

func (s *Store) CreatePrompt(ctx context.Context, create *Prompt) (*Prompt, error) {
	return s.driver.CreatePrompt(ctx, create)
}

func (s *Store) ListPrompts(ctx context.Context, find *FindPrompt) ([]*Prompt, error) {
	return s.driver.ListPrompts(ctx, find)
}

func (s *Store) UpdatePrompt(ctx context.Context, update *UpdatePrompt) (*Prompt, error) {
	return s.driver.UpdatePrompt(ctx, update)
}

func (s *Store) DeletePrompt(ctx context.Context, delete *DeletePrompt) error {
	return s.driver.DeletePrompt(ctx, delete)
}
