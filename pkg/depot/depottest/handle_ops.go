package depottest

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/depotfs/depot/pkg/depot"
)

// runHandleOpsTests runs all StoredFile handle conformance tests.
func runHandleOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("MetadataWithoutRead", func(t *testing.T) { testMetadataWithoutRead(t, factory) })
	t.Run("ReadAfterClose", func(t *testing.T) { testReadAfterClose(t, factory) })
	t.Run("CloseIdempotent", func(t *testing.T) { testCloseIdempotent(t, factory) })
	t.Run("IndependentHandles", func(t *testing.T) { testIndependentHandles(t, factory) })
	t.Run("PartialRead", func(t *testing.T) { testPartialRead(t, factory) })
}

// testMetadataWithoutRead verifies that a handle can be inspected and closed
// without ever touching the payload.
func testMetadataWithoutRead(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("payload"), "meta.txt", "text/plain")

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if f.Filename != "meta.txt" {
		t.Errorf("Filename = %q, want meta.txt", f.Filename)
	}
	if f.ContentLength != 7 {
		t.Errorf("ContentLength = %d, want 7", f.ContentLength)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

// testReadAfterClose verifies that a closed handle rejects reads.
func testReadAfterClose(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("payload"), "closed.txt", "")

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := f.Read(buf); !errors.Is(err, depot.ErrFileClosed) {
		t.Errorf("Read after Close error = %v, want ErrFileClosed", err)
	}
}

// testCloseIdempotent verifies that closing twice is harmless, with and
// without a prior read.
func testCloseIdempotent(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("payload"), "twice.txt", "")

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if _, err := io.ReadAll(f); err != nil {
		t.Fatalf("reading failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

// testIndependentHandles verifies that two handles to the same file do not
// share read state.
func testIndependentHandles(t *testing.T, factory StoreFactory) {
	store := factory(t)
	payload := []byte("shared payload")
	id := createFile(t, store, payload, "shared.txt", "")

	first, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer first.Close()

	second, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("second Get() failed: %v", err)
	}
	defer second.Close()

	firstData, err := io.ReadAll(first)
	if err != nil {
		t.Fatalf("reading first handle failed: %v", err)
	}
	secondData, err := io.ReadAll(second)
	if err != nil {
		t.Fatalf("reading second handle failed: %v", err)
	}

	if !bytes.Equal(firstData, payload) || !bytes.Equal(secondData, payload) {
		t.Error("handles must each read the full payload")
	}
}

// testPartialRead verifies that a handle can be abandoned mid-read.
func testPartialRead(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("a longer payload"), "partial.txt", "")

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("partial read failed: %v", err)
	}
	if string(buf) != "a lo" {
		t.Errorf("partial read = %q, want %q", buf, "a lo")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() after partial read failed: %v", err)
	}
}
