// Package attachment binds stored files to database rows.
//
// An AttachedFile is the row-side record of a file kept in a depot store: it
// is uploaded through New, serialized into a single column as JSON, and
// materialized back with Decode or sql.Scanner. Once a value has been
// persisted it is frozen; every later mutation is refused. The Tracker keys
// its bookkeeping on the paths a value carried when it entered a row, so a
// value that kept changing afterwards would leave files untracked.
package attachment

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/pkg/depot"
)

// ErrFrozen is returned when mutating an AttachedFile that has already been
// persisted or decoded from a row.
var ErrFrozen = errors.New("attached file is frozen")

// Reserved JSON keys of the serialized form. Extension attributes may use
// any other key.
const (
	keyDepotName   = "depot_name"
	keyFiles       = "files"
	keyFileID      = "file_id"
	keyPath        = "path"
	keyFilename    = "filename"
	keyContentType = "content_type"
	keyUploadedAt  = "uploaded_at"
	keyPublicURL   = "_public_url"
)

var reservedKeys = map[string]bool{
	keyDepotName:   true,
	keyFiles:       true,
	keyFileID:      true,
	keyPath:        true,
	keyFilename:    true,
	keyContentType: true,
	keyUploadedAt:  true,
	keyPublicURL:   true,
}

// AttachedFile references a stored file from a database row. It records the
// store the file lives in by name, so the reference keeps working when the
// registry's default store changes later.
//
// An AttachedFile is not safe for concurrent use.
type AttachedFile struct {
	registry *depot.Registry

	depotName   string
	fileID      string
	path        string
	files       []string
	filename    string
	contentType string
	uploadedAt  time.Time
	publicURL   string

	// extra holds extension attributes and any unknown keys found while
	// decoding, so round-tripping through a row loses nothing.
	extra map[string]json.RawMessage

	frozen bool
}

// Option configures New.
type Option func(*options)

type options struct {
	store   string
	filters []Filter
}

// WithStore uploads to the named store or alias instead of the registry
// default.
func WithStore(name string) Option {
	return func(o *options) { o.store = name }
}

// WithFilters runs the given filters, in order, after the upload.
func WithFilters(filters ...Filter) Option {
	return func(o *options) { o.filters = append(o.filters, filters...) }
}

// New uploads content to a store and returns the row-side record for it.
// The store name is resolved through reg's aliases and persisted in its
// canonical form; an unresolvable name fails before anything is uploaded.
// A nil reg uses the process-wide registry.
//
// The returned value is not yet frozen: filters have run, but extension
// attributes can still be set until the value is persisted.
func New(ctx context.Context, reg *depot.Registry, content depot.Content, opts ...Option) (*AttachedFile, error) {
	if reg == nil {
		reg = depot.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	name, err := reg.Resolve(o.store)
	if err != nil {
		return nil, err
	}
	store, err := reg.Get(name)
	if err != nil {
		return nil, err
	}

	id, err := store.Create(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("uploading attachment to %q: %w", name, err)
	}

	// Read the stored metadata back so the row carries exactly what the
	// store recorded, including a public URL when the backend has one.
	stored, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading back attachment %s/%s: %w", name, id, err)
	}
	info := stored.Info()
	stored.Close()

	f := &AttachedFile{
		registry:    reg,
		depotName:   name,
		fileID:      id,
		path:        name + "/" + id,
		files:       []string{name + "/" + id},
		filename:    info.Filename,
		contentType: info.ContentType,
		uploadedAt:  info.LastModified,
		publicURL:   info.PublicURL,
	}

	for _, filter := range o.filters {
		if err := filter.OnSave(ctx, f); err != nil {
			f.discard(ctx)
			return nil, fmt.Errorf("attachment filter: %w", err)
		}
	}
	return f, nil
}

// discard removes every file the value owns after a failed construction.
func (f *AttachedFile) discard(ctx context.Context) {
	for _, path := range f.files {
		if err := f.reg().DeleteFile(ctx, path); err != nil {
			logger.Warn("could not discard attachment file",
				logger.Path(path),
				logger.Err(err))
		}
	}
}

func (f *AttachedFile) reg() *depot.Registry {
	if f.registry != nil {
		return f.registry
	}
	return depot.Default()
}

// DepotName returns the canonical name of the store holding the file.
func (f *AttachedFile) DepotName() string { return f.depotName }

// FileID returns the file's ID within its store.
func (f *AttachedFile) FileID() string { return f.fileID }

// Path returns the "store/file_id" address of the main file.
func (f *AttachedFile) Path() string { return f.path }

// Files returns the paths of every file this value owns: the main file plus
// any derived files added by filters. The slice is a copy.
func (f *AttachedFile) Files() []string {
	files := make([]string, len(f.files))
	copy(files, f.files)
	return files
}

// Filename returns the stored filename.
func (f *AttachedFile) Filename() string { return f.filename }

// ContentType returns the stored content type.
func (f *AttachedFile) ContentType() string { return f.contentType }

// UploadedAt returns when the file was stored.
func (f *AttachedFile) UploadedAt() time.Time { return f.uploadedAt }

// PublicURL returns the backend's direct URL for the file, empty when the
// backend has none.
func (f *AttachedFile) PublicURL() string { return f.publicURL }

// URL returns the address to serve the file from: the backend's public URL
// when there is one, otherwise the depot path for the HTTP serving layer.
func (f *AttachedFile) URL() string {
	if f.publicURL != "" {
		return f.publicURL
	}
	return f.path
}

// Frozen reports whether the value refuses mutation.
func (f *AttachedFile) Frozen() bool { return f.frozen }

// Freeze marks the value immutable. Persisting or decoding a value freezes
// it implicitly.
func (f *AttachedFile) Freeze() { f.frozen = true }

// Original opens the stored file for reading. The caller closes the handle.
func (f *AttachedFile) Original(ctx context.Context) (*depot.StoredFile, error) {
	return f.reg().GetFile(ctx, f.path)
}

// Attr returns the extension attribute stored under key.
func (f *AttachedFile) Attr(key string) (json.RawMessage, bool) {
	v, ok := f.extra[key]
	return v, ok
}

// SetAttr stores an extension attribute. Reserved keys and frozen values
// are refused.
func (f *AttachedFile) SetAttr(key string, value any) error {
	if f.frozen {
		return ErrFrozen
	}
	if reservedKeys[key] {
		return fmt.Errorf("attribute %q is reserved", key)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding attribute %q: %w", key, err)
	}
	if f.extra == nil {
		f.extra = make(map[string]json.RawMessage)
	}
	f.extra[key] = data
	return nil
}

// AddFile records a derived file, such as a filter-generated artifact, as
// owned by this value. Owned files share the value's lifecycle: the Tracker
// deletes all of them together.
func (f *AttachedFile) AddFile(path string) error {
	if f.frozen {
		return ErrFrozen
	}
	if _, _, err := depot.SplitPath(path); err != nil {
		return err
	}
	f.files = append(f.files, path)
	return nil
}

// Encode serializes the value to its row form: a single JSON object with
// sorted keys, carrying the reserved fields and every extension attribute.
func (f *AttachedFile) Encode() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(f.extra)+8)
	for k, v := range f.extra {
		doc[k] = v
	}

	set := func(key string, value any) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		doc[key] = data
		return nil
	}
	fields := []struct {
		key   string
		value any
	}{
		{keyDepotName, f.depotName},
		{keyFiles, f.files},
		{keyFileID, f.fileID},
		{keyPath, f.path},
		{keyFilename, f.filename},
		{keyContentType, f.contentType},
		{keyUploadedAt, f.uploadedAt.UTC().Format(depot.TimeFormat)},
	}
	for _, field := range fields {
		if err := set(field.key, field.value); err != nil {
			return nil, err
		}
	}
	if f.publicURL != "" {
		if err := set(keyPublicURL, f.publicURL); err != nil {
			return nil, err
		}
	}
	return json.Marshal(doc)
}

// Decode materializes a value from its row form. Decoded values are frozen.
// Keys the current version does not know are kept and written back by
// Encode.
func Decode(data []byte) (*AttachedFile, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding attached file: %w", err)
	}

	f := &AttachedFile{frozen: true}
	str := func(key string) (string, error) {
		raw, ok := doc[key]
		if !ok {
			return "", nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decoding %s: %w", key, err)
		}
		return s, nil
	}

	var err error
	if f.depotName, err = str(keyDepotName); err != nil {
		return nil, err
	}
	if f.fileID, err = str(keyFileID); err != nil {
		return nil, err
	}
	if f.path, err = str(keyPath); err != nil {
		return nil, err
	}
	if f.filename, err = str(keyFilename); err != nil {
		return nil, err
	}
	if f.contentType, err = str(keyContentType); err != nil {
		return nil, err
	}
	if f.publicURL, err = str(keyPublicURL); err != nil {
		return nil, err
	}
	if raw, ok := doc[keyFiles]; ok {
		if err := json.Unmarshal(raw, &f.files); err != nil {
			return nil, fmt.Errorf("decoding files: %w", err)
		}
	}
	if uploaded, err := str(keyUploadedAt); err != nil {
		return nil, err
	} else if uploaded != "" {
		t, err := time.Parse(depot.TimeFormat, uploaded)
		if err != nil {
			return nil, fmt.Errorf("decoding uploaded_at: %w", err)
		}
		f.uploadedAt = t.UTC()
	}

	for key := range reservedKeys {
		delete(doc, key)
	}
	if len(doc) > 0 {
		f.extra = doc
	}
	return f, nil
}

// Value implements driver.Valuer. Persisting a value freezes it.
func (f *AttachedFile) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	data, err := f.Encode()
	if err != nil {
		return nil, err
	}
	f.frozen = true
	return string(data), nil
}

// Scan implements sql.Scanner.
func (f *AttachedFile) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AttachedFile", src)
	}
	if len(data) == 0 {
		return nil
	}

	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}
