package s3

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/depotfs/depot/pkg/bufpool"
)

// spool holds a fully drained payload with a known size, so it can be sent
// to S3 with an exact Content-Length. Payloads up to the threshold stay in
// memory; larger ones land in a temporary file that Close removes.
type spool struct {
	size int64
	mem  *bytes.Reader
	file *os.File
}

// spoolReader drains src into a spool. The caller must Close the spool even
// on error-free paths to release any temporary file.
func spoolReader(src io.Reader, threshold int64) (*spool, error) {
	var head bytes.Buffer
	n, err := io.CopyN(&head, src, threshold+1)
	if err == io.EOF {
		return &spool{size: n, mem: bytes.NewReader(head.Bytes())}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("buffering payload: %w", err)
	}

	// Over the threshold: continue on disk.
	f, err := os.CreateTemp("", "depot-s3-spool-*")
	if err != nil {
		return nil, fmt.Errorf("creating spill file: %w", err)
	}
	sp := &spool{file: f}

	if _, err := f.Write(head.Bytes()); err != nil {
		sp.Close()
		return nil, fmt.Errorf("spilling payload: %w", err)
	}
	chunk := bufpool.GetChunk()
	rest, err := io.CopyBuffer(f, src, chunk)
	bufpool.Put(chunk)
	if err != nil {
		sp.Close()
		return nil, fmt.Errorf("spilling payload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		sp.Close()
		return nil, fmt.Errorf("rewinding spill file: %w", err)
	}

	sp.size = n + rest
	return sp, nil
}

func (sp *spool) Reader() io.Reader {
	if sp.file != nil {
		return sp.file
	}
	return sp.mem
}

func (sp *spool) Size() int64 {
	return sp.size
}

// Close releases the spill file, if any. Safe to call more than once.
func (sp *spool) Close() error {
	if sp.file == nil {
		return nil
	}
	name := sp.file.Name()
	err := sp.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	sp.file = nil
	return err
}
