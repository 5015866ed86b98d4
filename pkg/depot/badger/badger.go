// Package badger provides storage backed by an embedded BadgerDB key-value
// store.
//
// Payloads and metadata live under separate key prefixes:
//
//	meta/{file_id}  JSON metadata document
//	data/{file_id}  raw payload bytes
//
// Create and Replace write both keys in a single transaction, so readers
// never observe metadata without its payload. The backend suits single-node
// deployments that want durable storage without a filesystem layout to
// manage.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/depotfs/depot/pkg/depot"
)

// Backend is the name this driver registers under.
const Backend = "badger"

func init() {
	depot.Register(Backend, func(ctx context.Context, options map[string]any) (depot.Storage, error) {
		cfg := DefaultConfig()
		if err := depot.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// Config holds BadgerDB storage configuration.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string `mapstructure:"dir"`

	// InMemory keeps the database entirely off disk. Badger then runs
	// without a value log, which caps each stored payload at 1 MiB; use
	// the on-disk mode for larger files.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites syncs every write to disk before acknowledging it.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// DefaultConfig returns the default BadgerDB storage configuration.
func DefaultConfig() Config {
	return Config{Dir: "./depot-badger"}
}

// Store is a BadgerDB-backed storage driver. It is safe for concurrent use.
type Store struct {
	db    *badger.DB
	owned bool
}

var (
	_ depot.Storage = (*Store)(nil)
	_ depot.Lister  = (*Store)(nil)
)

// New opens a BadgerDB at the configured directory and owns it until Close.
func New(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger: dir must not be empty")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening database: %w", err)
	}
	return &Store{db: db, owned: true}, nil
}

// NewWithDB wraps an already-open database. The caller keeps ownership and
// closes it; Close on the store is then a no-op.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close releases the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Create implements depot.Storage.
func (s *Store) Create(ctx context.Context, content depot.Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := content.Data()
	if err != nil {
		return "", err
	}
	id, err := depot.NewID()
	if err != nil {
		return "", err
	}

	filename, contentType := content.Describe()
	meta, err := encodeMeta(buildInfo(id, filename, contentType, int64(len(data))))
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(id), data); err != nil {
			return fmt.Errorf("storing payload: %w", err)
		}
		if err := txn.Set(metaKey(id), meta); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("badger: create %s: %w", id, err)
	}
	return id, nil
}

// Get implements depot.Storage.
func (s *Store) Get(ctx context.Context, fileID string) (*depot.StoredFile, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info depot.FileInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(fileID))
		if err == badger.ErrKeyNotFound {
			return depot.ErrNotFound
		} else if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		info, err = decodeMeta(fileID, raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	return depot.NewStoredFile(info, func() (io.ReadCloser, error) {
		var data []byte
		err := s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(dataKey(fileID))
			if err == badger.ErrKeyNotFound {
				return depot.ErrNotFound
			} else if err != nil {
				return err
			}
			data, err = item.ValueCopy(nil)
			return err
		})
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}), nil
}

// Replace implements depot.Storage.
func (s *Store) Replace(ctx context.Context, fileID string, content depot.Content) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := content.Data()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(fileID))
		if err == badger.ErrKeyNotFound {
			return depot.ErrNotFound
		} else if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		existing, err := decodeMeta(fileID, raw)
		if err != nil {
			return err
		}

		filename, contentType := content.DescribeReplacement(existing)
		meta, err := encodeMeta(buildInfo(fileID, filename, contentType, int64(len(data))))
		if err != nil {
			return err
		}
		if err := txn.Set(dataKey(fileID), data); err != nil {
			return fmt.Errorf("replacing payload: %w", err)
		}
		if err := txn.Set(metaKey(fileID), meta); err != nil {
			return fmt.Errorf("replacing metadata: %w", err)
		}
		return nil
	})
}

// Delete implements depot.Storage. Deleting an absent file is a no-op.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(fileID)); err != nil {
			return err
		}
		return txn.Delete(dataKey(fileID))
	})
}

// Exists implements depot.Storage.
func (s *Store) Exists(ctx context.Context, fileID string) (bool, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(fileID))
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// List implements depot.Lister. Keys iterate in order, so IDs come back
// sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(metaPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(metaPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

const (
	metaPrefix = "meta/"
	dataPrefix = "data/"
)

func metaKey(id string) []byte { return []byte(metaPrefix + id) }
func dataKey(id string) []byte { return []byte(dataPrefix + id) }

// metaDoc is the stored metadata document.
type metaDoc struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length"`
	LastModified  string `json:"last_modified"`
}

func encodeMeta(info depot.FileInfo) ([]byte, error) {
	return json.Marshal(metaDoc{
		Filename:      info.Filename,
		ContentType:   info.ContentType,
		ContentLength: info.ContentLength,
		LastModified:  info.LastModified.Format(depot.TimeFormat),
	})
}

func decodeMeta(id string, raw []byte) (depot.FileInfo, error) {
	var doc metaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return depot.FileInfo{}, fmt.Errorf("parsing metadata for %s: %w", id, err)
	}
	modified, err := time.Parse(depot.TimeFormat, doc.LastModified)
	if err != nil {
		return depot.FileInfo{}, fmt.Errorf("parsing modification time for %s: %w", id, err)
	}
	return depot.FileInfo{
		FileID:        id,
		Filename:      doc.Filename,
		ContentType:   doc.ContentType,
		ContentLength: doc.ContentLength,
		LastModified:  modified,
	}, nil
}

// buildInfo assembles the metadata to record for freshly written content.
func buildInfo(id, filename, contentType string, size int64) depot.FileInfo {
	return depot.FileInfo{
		FileID:        id,
		Filename:      filename,
		ContentType:   contentType,
		ContentLength: size,
		LastModified:  depot.NormalizeTime(time.Now()),
	}
}
