// Package memory provides an in-memory storage backend.
//
// Files live in process memory and vanish with it, which makes this backend
// a natural fit for tests and for ephemeral stores of derived payloads.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/depotfs/depot/pkg/depot"
)

// Backend is the name this driver registers under.
const Backend = "memory"

func init() {
	depot.Register(Backend, func(ctx context.Context, options map[string]any) (depot.Storage, error) {
		return New(), nil
	})
}

type entry struct {
	data []byte
	info depot.FileInfo
}

// Store keeps every file in a map guarded by a read-write mutex. It is safe
// for concurrent use.
type Store struct {
	mu    sync.RWMutex
	files map[string]entry
}

var _ depot.Storage = (*Store)(nil)
var _ depot.Lister = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{files: make(map[string]entry)}
}

// Create implements depot.Storage.
func (s *Store) Create(ctx context.Context, content depot.Content) (string, error) {
	data, err := content.Data()
	if err != nil {
		return "", err
	}
	id, err := depot.NewID()
	if err != nil {
		return "", err
	}

	filename, contentType := content.Describe()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = newEntry(id, data, filename, contentType)
	return id, nil
}

// Get implements depot.Storage.
func (s *Store) Get(ctx context.Context, fileID string) (*depot.StoredFile, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.files[fileID]
	s.mu.RUnlock()
	if !ok {
		return nil, depot.ErrNotFound
	}

	return depot.NewStoredFile(e.info, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(e.data)), nil
	}), nil
}

// Replace implements depot.Storage.
func (s *Store) Replace(ctx context.Context, fileID string, content depot.Content) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}
	data, err := content.Data()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.files[fileID]
	if !ok {
		return depot.ErrNotFound
	}
	filename, contentType := content.DescribeReplacement(old.info)
	s.files[fileID] = newEntry(fileID, data, filename, contentType)
	return nil
}

// Delete implements depot.Storage. Deleting an absent file is a no-op.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileID)
	return nil
}

// Exists implements depot.Storage.
func (s *Store) Exists(ctx context.Context, fileID string) (bool, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[fileID]
	return ok, nil
}

// List implements depot.Lister.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of stored files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// newEntry builds an entry with a private copy of data, so later caller
// mutations of the source slice cannot corrupt the store.
func newEntry(id string, data []byte, filename, contentType string) entry {
	copied := make([]byte, len(data))
	copy(copied, data)

	return entry{
		data: copied,
		info: depot.FileInfo{
			FileID:        id,
			Filename:      filename,
			ContentType:   contentType,
			ContentLength: int64(len(copied)),
			LastModified:  depot.NormalizeTime(time.Now()),
		},
	}
}
