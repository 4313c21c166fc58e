package store

// StreamRecord binds a generation attempt to its owning chat. The table is
// append-only: one row per attempt, and the newest row per chat is the
// reconnection handle. Liveness is not stored; it is inferred from whether
// the broker still holds the stream.
type StreamRecord struct {
	ID        string
	ChatID    string
	CreatedTs int64
}
