package depot

import "context"

// Storage is the contract every backend implements. All methods validate the
// file ID before touching the backend and report failures through sentinel
// errors, so callers behave identically regardless of where the bytes live.
type Storage interface {
	// Create stores a new file and returns its generated ID.
	Create(ctx context.Context, content Content) (string, error)

	// Get returns a read-only handle to an existing file. The handle's
	// metadata is populated; the payload is opened lazily on first read.
	Get(ctx context.Context, fileID string) (*StoredFile, error)

	// Replace swaps the payload and metadata of an existing file while
	// keeping its ID. Handles obtained before the replacement are not
	// updated.
	Replace(ctx context.Context, fileID string, content Content) error

	// Delete removes a file. Deleting a file that does not exist is not
	// an error.
	Delete(ctx context.Context, fileID string) error

	// Exists reports whether a file is currently stored under the ID.
	Exists(ctx context.Context, fileID string) (bool, error)
}

// Lister is implemented by backends that can enumerate their files. Listing
// can be expensive on remote backends, so it is kept out of Storage.
type Lister interface {
	// List returns the IDs of all stored files.
	List(ctx context.Context) ([]string, error)
}
