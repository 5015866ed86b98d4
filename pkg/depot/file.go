package depot

import (
	"io"
	"time"
)

// TimeFormat is the layout used wherever a modification time is persisted or
// compared, including stored metadata and HTTP entity tags.
const TimeFormat = "2006-01-02 15:04:05"

// NormalizeTime converts t to UTC and drops sub-second precision, matching
// what TimeFormat can represent. Drivers normalize every modification time
// they record so equality checks survive a round trip through storage.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FileInfo is the metadata recorded for a stored file.
type FileInfo struct {
	// FileID identifies the file within its store.
	FileID string `json:"file_id"`

	// Filename is the name the file was stored under, used for the
	// Content-Disposition header when serving.
	Filename string `json:"filename"`

	// ContentType is the MIME type recorded at save time.
	ContentType string `json:"content_type"`

	// ContentLength is the payload size in bytes.
	ContentLength int64 `json:"content_length"`

	// LastModified is the normalized time of the last create or replace.
	LastModified time.Time `json:"last_modified"`

	// PublicURL is a URL the payload can be fetched from directly,
	// empty when the backend does not expose one.
	PublicURL string `json:"public_url,omitempty"`
}

// StoredFile is a read-only handle to a stored file. The metadata is
// available immediately; the payload is opened on first Read, so callers
// that only inspect metadata never touch the backend's data path.
//
// A StoredFile is not safe for concurrent use.
type StoredFile struct {
	FileInfo

	open   func() (io.ReadCloser, error)
	body   io.ReadCloser
	closed bool
}

// NewStoredFile builds a handle from recorded metadata and a function that
// opens the payload. Drivers call this from Get; open runs at most once.
func NewStoredFile(info FileInfo, open func() (io.ReadCloser, error)) *StoredFile {
	return &StoredFile{FileInfo: info, open: open}
}

// Read implements io.Reader, opening the payload on the first call. It
// returns ErrFileClosed after Close.
func (f *StoredFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	if f.body == nil {
		body, err := f.open()
		if err != nil {
			return 0, err
		}
		f.body = body
	}
	return f.body.Read(p)
}

// Close releases the payload if it was opened. Calling Close again is a
// no-op.
func (f *StoredFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.body == nil {
		return nil
	}
	err := f.body.Close()
	f.body = nil
	return err
}

// Info returns a copy of the file's metadata.
func (f *StoredFile) Info() FileInfo {
	return f.FileInfo
}
