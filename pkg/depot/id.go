package depot

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates a fresh file ID. IDs are time-based UUIDs, so an ID also
// carries when and where the file entered the store.
func NewID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", fmt.Errorf("generating file id: %w", err)
	}
	return id.String(), nil
}

// ValidateID reports whether id is a well-formed file ID. Drivers call this
// before touching their backend so a malformed ID never reaches a filesystem
// path or network request, and so callers receive ErrInvalidID rather than
// ErrNotFound for garbage input.
func ValidateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
