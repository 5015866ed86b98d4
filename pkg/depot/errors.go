package depot

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and the registry. Wrap them with
// StorageError for context and test with errors.Is.
var (
	// ErrNotFound is returned when no file exists under the given ID.
	// A file that was deleted, or whose ID belongs to another store,
	// reports this error.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidID is returned when a file ID does not parse as an ID at
	// all. It is distinct from ErrNotFound so callers can tell a malformed
	// request from a missing file.
	ErrInvalidID = errors.New("invalid file id")

	// ErrFileClosed is returned when reading from a StoredFile after
	// Close.
	ErrFileClosed = errors.New("file already closed")

	// ErrUnsupportedContent is returned when a Content carries neither
	// bytes nor a reader, such as a zero-value Content or one built by
	// passing Intent a nil reader.
	ErrUnsupportedContent = errors.New("unsupported content source")

	// ErrStoreExists is returned when configuring a store or alias under
	// a name that is already taken.
	ErrStoreExists = errors.New("store already exists")

	// ErrStoreNotFound is returned when resolving a store name that was
	// never configured.
	ErrStoreNotFound = errors.New("store not found")

	// ErrNoDefaultStore is returned when the default store is requested
	// before any store has been configured.
	ErrNoDefaultStore = errors.New("no default store configured")
)

// StorageError wraps a driver failure with the operation, store and file it
// concerns. It implements error unwrapping, so sentinel checks keep working:
//
//	if errors.Is(err, depot.ErrNotFound) { ... }
type StorageError struct {
	// Op is the failed operation, such as "create" or "get".
	Op string

	// Store is the configured store name, empty when the store is used
	// directly without a registry.
	Store string

	// FileID is the file involved, empty for operations that do not
	// target one.
	FileID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	switch {
	case e.Store != "" && e.FileID != "":
		return fmt.Sprintf("depot: %s %s/%s: %v", e.Op, e.Store, e.FileID, e.Err)
	case e.FileID != "":
		return fmt.Sprintf("depot: %s %s: %v", e.Op, e.FileID, e.Err)
	case e.Store != "":
		return fmt.Sprintf("depot: %s %s: %v", e.Op, e.Store, e.Err)
	default:
		return fmt.Sprintf("depot: %s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError for the given operation.
func NewStorageError(op, store, fileID string, err error) *StorageError {
	return &StorageError{Op: op, Store: store, FileID: fileID, Err: err}
}
