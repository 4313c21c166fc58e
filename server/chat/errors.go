package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors the API layer maps onto HTTP status codes. All of these
// fire before any write, except ErrPersistFailed.
var (
	ErrUnauthorized   = errors.New("caller does not own this chat")
	ErrChatNotFound   = errors.New("chat not found")
	ErrRateLimited    = errors.New("daily message quota exceeded")
	ErrChatBusy       = errors.New("a generation is already running for this chat")
	ErrNoActiveStream = errors.New("no active stream for this chat")
)

// ValidationError reports a malformed request. Nothing is written when one
// is returned.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Detail)
}

// PersistError distinguishes write failures that happen after tokens were
// already shown to the client from failures before generation started.
type PersistError struct {
	Stage string // "user-message" or "assistant-message"
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Stage, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
