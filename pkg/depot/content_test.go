package depot

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFile adapts a bytes.Reader to multipart.File for upload tests.
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func uploadHeader(filename, contentType string, size int64) *multipart.FileHeader {
	header := textproto.MIMEHeader{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &multipart.FileHeader{
		Filename: filename,
		Header:   header,
		Size:     size,
	}
}

func TestContentDescribe(t *testing.T) {
	t.Run("ExplicitOverridesWin", func(t *testing.T) {
		c := UploadContent(memFile{bytes.NewReader(nil)}, uploadHeader("photo.png", "image/png", 0))
		c.Filename = "avatar.jpg"
		c.ContentType = "image/jpeg"

		filename, contentType := c.Describe()
		assert.Equal(t, "avatar.jpg", filename)
		assert.Equal(t, "image/jpeg", contentType)
	})

	t.Run("UploadDeclaresNameAndType", func(t *testing.T) {
		c := UploadContent(memFile{bytes.NewReader(nil)}, uploadHeader("photo.png", "image/png", 0))

		filename, contentType := c.Describe()
		assert.Equal(t, "photo.png", filename)
		assert.Equal(t, "image/png", contentType)
	})

	t.Run("TypeGuessedFromExtension", func(t *testing.T) {
		c := NewContent([]byte("data"))
		c.Filename = "report.pdf"

		_, contentType := c.Describe()
		assert.Equal(t, "application/pdf", contentType)
	})

	t.Run("BareContentFallsBackToDefaults", func(t *testing.T) {
		filename, contentType := NewContent([]byte("data")).Describe()
		assert.Equal(t, DefaultFilename, filename)
		assert.Equal(t, DefaultContentType, contentType)
	})

	t.Run("CharsetParameterStripped", func(t *testing.T) {
		c := ReaderContent(strings.NewReader("hi"))
		c.ContentType = "text/plain; charset=utf-8"

		_, contentType := c.Describe()
		assert.Equal(t, "text/plain", contentType)
	})

	t.Run("UnicodeFilenamePreserved", func(t *testing.T) {
		c := NewContent([]byte("cv"))
		c.Filename = "résumé.pdf"

		filename, contentType := c.Describe()
		assert.Equal(t, "résumé.pdf", filename)
		assert.Equal(t, "application/pdf", contentType)
	})

	t.Run("UploadPathReducedToBaseName", func(t *testing.T) {
		c := UploadContent(memFile{bytes.NewReader(nil)}, uploadHeader("../../etc/passwd", "", 0))

		filename, _ := c.Describe()
		assert.Equal(t, "passwd", filename)
	})
}

func TestContentDescribeReplacement(t *testing.T) {
	existing := FileInfo{Filename: "ledger.csv", ContentType: "text/csv"}

	t.Run("BarePayloadKeepsRecord", func(t *testing.T) {
		filename, contentType := NewContent([]byte("x")).DescribeReplacement(existing)
		assert.Equal(t, "ledger.csv", filename)
		assert.Equal(t, "text/csv", contentType)
	})

	t.Run("NewNameRefreshesType", func(t *testing.T) {
		c := NewContent([]byte("x"))
		c.Filename = "chart.png"

		filename, contentType := c.DescribeReplacement(existing)
		assert.Equal(t, "chart.png", filename)
		assert.Equal(t, "image/png", contentType)
	})

	t.Run("UnknownExtensionKeepsRecordType", func(t *testing.T) {
		c := NewContent([]byte("x"))
		c.Filename = "dump.qqz"

		filename, contentType := c.DescribeReplacement(existing)
		assert.Equal(t, "dump.qqz", filename)
		assert.Equal(t, "text/csv", contentType)
	})

	t.Run("ExplicitOverridesWin", func(t *testing.T) {
		c := NewContent([]byte("x"))
		c.Filename = "archive.dat"
		c.ContentType = "application/x-archive"

		filename, contentType := c.DescribeReplacement(existing)
		assert.Equal(t, "archive.dat", filename)
		assert.Equal(t, "application/x-archive", contentType)
	})

	t.Run("EmptyRecordFallsBackToDefaults", func(t *testing.T) {
		filename, contentType := NewContent([]byte("x")).DescribeReplacement(FileInfo{})
		assert.Equal(t, DefaultFilename, filename)
		assert.Equal(t, DefaultContentType, contentType)
	})
}

func TestContentSource(t *testing.T) {
	t.Run("Bytes", func(t *testing.T) {
		src, err := NewContent([]byte("payload")).Source()
		require.NoError(t, err)

		data, err := io.ReadAll(src)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), data)
	})

	t.Run("EmptyBytesIsValid", func(t *testing.T) {
		src, err := NewContent([]byte{}).Source()
		require.NoError(t, err)

		data, err := io.ReadAll(src)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("Reader", func(t *testing.T) {
		src, err := ReaderContent(strings.NewReader("streamed")).Source()
		require.NoError(t, err)

		data, err := io.ReadAll(src)
		require.NoError(t, err)
		assert.Equal(t, "streamed", string(data))
	})

	t.Run("IntentWithReader", func(t *testing.T) {
		src, err := Intent(strings.NewReader("streamed"), "a.txt", "text/plain").Source()
		require.NoError(t, err)

		data, err := io.ReadAll(src)
		require.NoError(t, err)
		assert.Equal(t, "streamed", string(data))
	})

	t.Run("IntentNilReaderRejected", func(t *testing.T) {
		_, err := Intent(nil, "a.txt", "text/plain").Source()
		assert.ErrorIs(t, err, ErrUnsupportedContent)
	})

	t.Run("ZeroValueRejected", func(t *testing.T) {
		_, err := Content{}.Source()
		assert.ErrorIs(t, err, ErrUnsupportedContent)
	})
}

func TestContentData(t *testing.T) {
	t.Run("ReaderSlurped", func(t *testing.T) {
		data, err := ReaderContent(strings.NewReader("streamed")).Data()
		require.NoError(t, err)
		assert.Equal(t, []byte("streamed"), data)
	})

	t.Run("ZeroValueRejected", func(t *testing.T) {
		_, err := Content{}.Data()
		assert.ErrorIs(t, err, ErrUnsupportedContent)
	})
}

func TestContentSize(t *testing.T) {
	assert.Equal(t, int64(4), NewContent([]byte("data")).Size())
	assert.Equal(t, int64(-1), ReaderContent(strings.NewReader("data")).Size())
	assert.Equal(t, int64(0), NewContent([]byte{}).Size())

	c := UploadContent(memFile{bytes.NewReader(make([]byte, 9))}, uploadHeader("x.bin", "", 9))
	assert.Equal(t, int64(9), c.Size())
}

func TestFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	c := FileContent(f)
	filename, _ := c.Describe()
	assert.Equal(t, "notes.txt", filename)
	assert.Equal(t, int64(9), c.Size())

	data, err := c.Data()
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(data))
}

func TestIntent(t *testing.T) {
	c := Intent(strings.NewReader("x"), "forced.bin", "application/x-custom")

	filename, contentType := c.Describe()
	assert.Equal(t, "forced.bin", filename)
	assert.Equal(t, "application/x-custom", contentType)

	c = BytesIntent([]byte("x"), "forced.txt", "text/plain")
	filename, contentType = c.Describe()
	assert.Equal(t, "forced.txt", filename)
	assert.Equal(t, "text/plain", contentType)
	assert.Equal(t, int64(1), c.Size())
}
