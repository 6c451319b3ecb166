package util

import "github.com/google/uuid"

// NewID returns a fresh random UUID string. pkg/commit and pkg/compactor
// call uuid.NewString directly for their session and task ids.
func NewID() string {
	return uuid.NewString()
}
