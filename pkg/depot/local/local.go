// Package local provides filesystem-backed storage.
//
// Each file occupies its own directory under the configured root:
//
//	{root}/{file_id}/file           payload
//	{root}/{file_id}/metadata.json  filename, content type, size, mtime
//
// Both entries are written to a temporary file first and renamed into
// place, payload before metadata. A crash mid-write leaves a directory
// without metadata.json, which readers treat as absent and List skips.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/pkg/bufpool"
	"github.com/depotfs/depot/pkg/depot"
)

// Backend is the name this driver registers under.
const Backend = "local"

const (
	payloadName  = "file"
	metadataName = "metadata.json"
)

func init() {
	depot.Register(Backend, func(ctx context.Context, options map[string]any) (depot.Storage, error) {
		cfg := DefaultConfig()
		if err := depot.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		// storage_path is accepted as an older name for root.
		if _, ok := options["root"]; !ok {
			if path, ok := options["storage_path"].(string); ok && path != "" {
				cfg.Root = path
			}
		}
		return New(cfg)
	})
}

// Config holds filesystem storage configuration.
type Config struct {
	// Root is the directory files are stored under.
	Root string `mapstructure:"root"`

	// CreateRoot creates Root when it does not exist.
	CreateRoot bool `mapstructure:"create_root"`

	// DirMode is the permission for created directories.
	DirMode os.FileMode `mapstructure:"dir_mode"`

	// FileMode is the permission for stored files.
	FileMode os.FileMode `mapstructure:"file_mode"`
}

// DefaultConfig returns the default filesystem storage configuration.
func DefaultConfig() Config {
	return Config{
		Root:       "./depot",
		CreateRoot: true,
		DirMode:    0755,
		FileMode:   0644,
	}
}

// Store is a filesystem-backed storage driver. It is safe for concurrent
// use; atomicity of writes relies on rename within the root filesystem.
type Store struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
}

var (
	_ depot.Storage = (*Store)(nil)
	_ depot.Lister  = (*Store)(nil)
)

// New creates a filesystem store from the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("local: root must not be empty")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateRoot {
		if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("local: creating root %s: %w", cfg.Root, err)
		}
	} else {
		info, err := os.Stat(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("local: root %s: %w", cfg.Root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("local: root %s is not a directory", cfg.Root)
		}
	}

	return &Store{
		root:     cfg.Root,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// NewWithRoot creates a filesystem store rooted at the given directory with
// default modes.
func NewWithRoot(root string) (*Store, error) {
	cfg := DefaultConfig()
	cfg.Root = root
	return New(cfg)
}

// Root returns the directory files are stored under.
func (s *Store) Root() string {
	return s.root
}

// Create implements depot.Storage.
func (s *Store) Create(ctx context.Context, content depot.Content) (string, error) {
	src, err := content.Source()
	if err != nil {
		return "", err
	}

	id, err := depot.NewID()
	if err != nil {
		return "", err
	}

	dir := s.fileDir(id)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	size, err := s.writePayload(id, src)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("storing payload for %s: %w", id, err)
	}

	filename, contentType := content.Describe()
	if err := s.writeMetadata(id, buildInfo(id, filename, contentType, size)); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("storing metadata for %s: %w", id, err)
	}
	return id, nil
}

// Get implements depot.Storage.
func (s *Store) Get(ctx context.Context, fileID string) (*depot.StoredFile, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return nil, err
	}

	info, err := s.readMetadata(fileID)
	if err != nil {
		return nil, err
	}

	path := s.payloadPath(fileID)
	return depot.NewStoredFile(info, func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, depot.ErrNotFound
			}
			return nil, err
		}
		return f, nil
	}), nil
}

// Replace implements depot.Storage.
func (s *Store) Replace(ctx context.Context, fileID string, content depot.Content) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}
	src, err := content.Source()
	if err != nil {
		return err
	}
	existing, err := s.readMetadata(fileID)
	if err != nil {
		return err
	}

	size, err := s.writePayload(fileID, src)
	if err != nil {
		return fmt.Errorf("replacing payload for %s: %w", fileID, err)
	}
	filename, contentType := content.DescribeReplacement(existing)
	if err := s.writeMetadata(fileID, buildInfo(fileID, filename, contentType, size)); err != nil {
		return fmt.Errorf("replacing metadata for %s: %w", fileID, err)
	}
	return nil
}

// Delete implements depot.Storage. Removal errors are logged and swallowed,
// so deleting an absent file or racing another delete is not an error.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}

	dir := s.fileDir(fileID)
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("could not remove stored file",
			logger.FileID(fileID),
			logger.Path(dir),
			logger.Err(err))
	}
	return nil
}

// Exists implements depot.Storage. A file exists once its metadata is in
// place.
func (s *Store) Exists(ctx context.Context, fileID string) (bool, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return false, err
	}

	if _, err := os.Stat(s.metadataPath(fileID)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List implements depot.Lister. Directories without metadata, such as
// half-written creates, are skipped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.root, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if depot.ValidateID(id) != nil {
			continue
		}
		if _, err := os.Stat(s.metadataPath(id)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) fileDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Store) payloadPath(id string) string {
	return filepath.Join(s.root, id, payloadName)
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.root, id, metadataName)
}

// writePayload streams src into the payload file through a temporary name
// and renames it into place.
func (s *Store) writePayload(id string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(s.fileDir(id), ".upload-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	buf := bufpool.GetChunk()
	size, err := io.CopyBuffer(tmp, src, buf)
	bufpool.Put(buf)

	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpPath, s.fileMode)
	}
	if err == nil {
		err = os.Rename(tmpPath, s.payloadPath(id))
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return size, nil
}

// metadataFile is the on-disk metadata document.
type metadataFile struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	ContentLength int64  `json:"content_length"`
	LastModified  string `json:"last_modified"`
}

func (s *Store) writeMetadata(id string, info depot.FileInfo) error {
	data, err := json.Marshal(metadataFile{
		Filename:      info.Filename,
		ContentType:   info.ContentType,
		ContentLength: info.ContentLength,
		LastModified:  info.LastModified.Format(depot.TimeFormat),
	})
	if err != nil {
		return err
	}

	path := s.metadataPath(id)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, s.fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) readMetadata(id string) (depot.FileInfo, error) {
	data, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return depot.FileInfo{}, depot.ErrNotFound
		}
		return depot.FileInfo{}, err
	}

	var meta metadataFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return depot.FileInfo{}, fmt.Errorf("parsing metadata for %s: %w", id, err)
	}
	modified, err := time.Parse(depot.TimeFormat, meta.LastModified)
	if err != nil {
		return depot.FileInfo{}, fmt.Errorf("parsing modification time for %s: %w", id, err)
	}

	return depot.FileInfo{
		FileID:        id,
		Filename:      meta.Filename,
		ContentType:   meta.ContentType,
		ContentLength: meta.ContentLength,
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
