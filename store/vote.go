package store

// Vote is a per-message rating. One row per message, last write wins.
type Vote struct {
	ChatID    string
	MessageID string
	IsUpvoted bool
}

type FindVote struct {
	ChatID    *string
	MessageID *string
}
