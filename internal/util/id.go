package util

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string. Rows created later in the same
// process sort after earlier ones, which keeps message history stable when
// two rows share a created_at timestamp.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
