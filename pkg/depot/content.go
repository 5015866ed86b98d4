package depot

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFilename is recorded when no filename can be derived from the
// content or its source.
const DefaultFilename = "unnamed"

// DefaultContentType is recorded when no content type can be derived from
// the filename extension.
const DefaultContentType = "application/octet-stream"

// Content describes a payload to be stored together with the metadata to
// record for it. Build one with NewContent, ReaderContent, FileContent,
// UploadContent or Intent, then optionally override Filename and ContentType
// before handing it to a store.
//
// A Content backed by a Reader can be consumed only once. The zero value
// carries no payload and is rejected with ErrUnsupportedContent.
type Content struct {
	// Bytes is the payload when it is held in memory. An empty non-nil
	// slice is a valid empty payload.
	Bytes []byte

	// Reader is the payload when it is streamed. Ignored when Bytes is
	// set. The caller remains responsible for closing it if it needs
	// closing.
	Reader io.Reader

	// Filename overrides the filename derived from the source.
	Filename string

	// ContentType overrides the content type derived from the filename.
	ContentType string

	declaredFilename    string
	declaredContentType string
	declaredSize        int64
	hasSize             bool
}

// NewContent builds Content from an in-memory payload.
func NewContent(data []byte) Content {
	return Content{
		Bytes:        data,
		declaredSize: int64(len(data)),
		hasSize:      true,
	}
}

// ReaderContent builds Content that streams its payload from r.
func ReaderContent(r io.Reader) Content {
	return Content{Reader: r}
}

// FileContent builds Content from an open file. The file's base name is used
// as the filename unless overridden. The caller keeps ownership of f and
// closes it after the store call returns.
func FileContent(f *os.File) Content {
	c := Content{
		Reader:           f,
		declaredFilename: filepath.Base(f.Name()),
	}
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		c.declaredSize = st.Size()
		c.hasSize = true
	}
	return c
}

// UploadContent builds Content from a multipart upload, taking the file and
// header as returned by http.Request.FormFile. The part's filename and
// declared content type are carried over. The caller closes f after the
// store call returns.
func UploadContent(f multipart.File, fh *multipart.FileHeader) Content {
	c := Content{Reader: f}
	if fh != nil {
		c.declaredFilename = filepath.Base(fh.Filename)
		c.declaredContentType = fh.Header.Get("Content-Type")
		c.declaredSize = fh.Size
		c.hasSize = true
	}
	return c
}

// Intent wraps a streamed payload with an explicit filename and content
// type, forcing both regardless of what the source would suggest.
func Intent(r io.Reader, filename, contentType string) Content {
	return Content{Reader: r, Filename: filename, ContentType: contentType}
}

// BytesIntent is Intent for an in-memory payload.
func BytesIntent(data []byte, filename, contentType string) Content {
	c := NewContent(data)
	c.Filename = filename
	c.ContentType = contentType
	return c
}

// Describe resolves the filename and content type to record for the payload.
// The filename falls back from the explicit override to the source's
// declared name to DefaultFilename. The content type falls back from the
// explicit override to the declared type to the filename extension to
// DefaultContentType.
func (c Content) Describe() (filename, contentType string) {
	return c.describe(nil)
}

// DescribeReplacement resolves metadata for a payload replacing an existing
// file. Filename and content type the payload does not carry are kept from
// the record being replaced instead of falling back to the defaults.
func (c Content) DescribeReplacement(existing FileInfo) (filename, contentType string) {
	return c.describe(&existing)
}

func (c Content) describe(existing *FileInfo) (filename, contentType string) {
	filename = c.Filename
	if filename == "" {
		filename = c.declaredFilename
	}
	named := filename != "" && filename != "." && filename != string(filepath.Separator)
	if !named {
		filename = ""
		if existing != nil {
			filename = existing.Filename
		}
		if filename == "" {
			filename = DefaultFilename
		}
	}

	contentType = c.ContentType
	if contentType == "" {
		contentType = c.declaredContentType
	}
	if contentType == "" && named {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" && existing != nil {
		contentType = existing.ContentType
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	// Strip parameters such as charset so stored types stay comparable.
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return filename, contentType
}

// Source returns the reader the payload can be consumed from. It returns
// ErrUnsupportedContent when the Content carries no payload at all.
func (c Content) Source() (io.Reader, error) {
	if c.Bytes != nil {
		return bytes.NewReader(c.Bytes), nil
	}
	if c.Reader != nil {
		return c.Reader, nil
	}
	return nil, ErrUnsupportedContent
}

// Data returns the whole payload in memory, reading the stream to its end
// when the Content is reader-backed.
func (c Content) Data() ([]byte, error) {
	if c.Bytes != nil {
		return c.Bytes, nil
	}
	if c.Reader != nil {
		data, err := io.ReadAll(c.Reader)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, ErrUnsupportedContent
}

// Size returns the payload size in bytes when it is known up front, and -1
// when only consuming the stream can tell.
func (c Content) Size() int64 {
	if c.hasSize {
		return c.declaredSize
	}
	return -1
}
