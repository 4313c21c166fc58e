package store

// Visibility controls who may read a chat's transcript.
// Public relaxes read access only; mutation always requires ownership.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

type Chat struct {
	ID         string
	OwnerID    string
	Title      string
	Visibility Visibility
	Hidden     bool
	CreatedTs  int64
}

type FindChat struct {
	ID      *string
	OwnerID *string
	// IncludeHidden exposes soft-deleted chats; read paths leave it false.
	IncludeHidden bool
	Limit         *int
	Offset        *int
}

type UpdateChat struct {
	ID         string
	Title      *string
	Visibility *Visibility
	Hidden     *bool
}

type DeleteChat struct {
	ID string
}
