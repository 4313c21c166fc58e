package store

// Prompt is a user-owned suggested action in the prompt library. OrderKey is
// an opaque lexicographically sortable string (see internal/rank); reordering
// one prompt never rewrites its neighbors. OrderKey values are unique per
// user; listing ties break by CreatedTs.
type Prompt struct {
	ID        string
	UserID    string
	Title     string
	Prompt    string
	ModelID   string
	OrderKey  string
	IsDefault bool
	CreatedTs int64
}

type FindPrompt struct {
	ID     *string
	UserID *string
}

type UpdatePrompt struct {
	ID       string
	Title    *string
	Prompt   *string
	ModelID  *string
	OrderKey *string
}

type DeletePrompt struct {
	ID string
}
