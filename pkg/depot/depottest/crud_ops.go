package depottest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/depotfs/depot/pkg/depot"
)

// runCrudOpsTests runs all create/get/replace/delete/exists conformance
// tests.
func runCrudOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("CreateRoundTrip", func(t *testing.T) { testCreateRoundTrip(t, factory) })
	t.Run("CreateFromReader", func(t *testing.T) { testCreateFromReader(t, factory) })
	t.Run("CreateEmptyPayload", func(t *testing.T) { testCreateEmptyPayload(t, factory) })
	t.Run("CreateLargePayload", func(t *testing.T) { testCreateLargePayload(t, factory) })
	t.Run("CreateWithoutSource", func(t *testing.T) { testCreateWithoutSource(t, factory) })
	t.Run("CreateUniqueIDs", func(t *testing.T) { testCreateUniqueIDs(t, factory) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, factory) })
	t.Run("GetInvalidID", func(t *testing.T) { testGetInvalidID(t, factory) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, factory) })
	t.Run("ReplaceKeepsMetadata", func(t *testing.T) { testReplaceKeepsMetadata(t, factory) })
	t.Run("ReplaceDerivesTypeFromName", func(t *testing.T) { testReplaceDerivesTypeFromName(t, factory) })
	t.Run("ReplaceNotFound", func(t *testing.T) { testReplaceNotFound(t, factory) })
	t.Run("ReplaceWithoutSource", func(t *testing.T) { testReplaceWithoutSource(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory) })
	t.Run("DeleteInvalidID", func(t *testing.T) { testDeleteInvalidID(t, factory) })
	t.Run("Exists", func(t *testing.T) { testExists(t, factory) })
}

// testCreateRoundTrip verifies that a stored payload comes back intact with
// full metadata.
func testCreateRoundTrip(t *testing.T, factory StoreFactory) {
	store := factory(t)
	before := time.Now().Add(-2 * time.Second)

	id := createFile(t, store, []byte("hello depot"), "greeting.txt", "text/plain")
	data, info := fetchFile(t, store, id)

	if !bytes.Equal(data, []byte("hello depot")) {
		t.Errorf("payload = %q, want %q", data, "hello depot")
	}
	if info.FileID != id {
		t.Errorf("FileID = %q, want %q", info.FileID, id)
	}
	if info.Filename != "greeting.txt" {
		t.Errorf("Filename = %q, want greeting.txt", info.Filename)
	}
	if info.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", info.ContentType)
	}
	if info.ContentLength != int64(len("hello depot")) {
		t.Errorf("ContentLength = %d, want %d", info.ContentLength, len("hello depot"))
	}
	if info.LastModified.Before(before) || info.LastModified.After(time.Now().Add(2*time.Second)) {
		t.Errorf("LastModified = %v, want close to now", info.LastModified)
	}
}

// testCreateFromReader verifies that streamed payloads of unknown size are
// stored completely.
func testCreateFromReader(t *testing.T, factory StoreFactory) {
	store := factory(t)

	content := depot.ReaderContent(strings.NewReader("streamed payload"))
	content.Filename = "stream.bin"

	id, err := store.Create(t.Context(), content)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	data, info := fetchFile(t, store, id)
	if string(data) != "streamed payload" {
		t.Errorf("payload = %q, want %q", data, "streamed payload")
	}
	if info.ContentLength != int64(len("streamed payload")) {
		t.Errorf("ContentLength = %d, want %d", info.ContentLength, len("streamed payload"))
	}
}

// testCreateEmptyPayload verifies that zero-byte files are valid.
func testCreateEmptyPayload(t *testing.T, factory StoreFactory) {
	store := factory(t)

	id := createFile(t, store, []byte{}, "empty.txt", "text/plain")
	data, info := fetchFile(t, store, id)

	if len(data) != 0 {
		t.Errorf("payload length = %d, want 0", len(data))
	}
	if info.ContentLength != 0 {
		t.Errorf("ContentLength = %d, want 0", info.ContentLength)
	}
}

// testCreateLargePayload verifies that payloads larger than any internal
// buffer survive the round trip.
func testCreateLargePayload(t *testing.T, factory StoreFactory) {
	store := factory(t)

	// Just over 1MiB so it crosses common buffer and spill thresholds.
	payload := bytes.Repeat([]byte("0123456789abcdef"), 65537)

	id, err := store.Create(t.Context(), depot.ReaderContent(bytes.NewReader(payload)))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	data, info := fetchFile(t, store, id)
	if !bytes.Equal(data, payload) {
		t.Errorf("payload mismatch: got %d bytes, want %d", len(data), len(payload))
	}
	if info.ContentLength != int64(len(payload)) {
		t.Errorf("ContentLength = %d, want %d", info.ContentLength, len(payload))
	}
}

// testCreateWithoutSource verifies that a Content with no payload is
// rejected.
func testCreateWithoutSource(t *testing.T, factory StoreFactory) {
	store := factory(t)

	_, err := store.Create(t.Context(), depot.Content{})
	if !errors.Is(err, depot.ErrUnsupportedContent) {
		t.Errorf("Create(empty) error = %v, want ErrUnsupportedContent", err)
	}
}

// testCreateUniqueIDs verifies that every create yields a distinct, valid
// ID.
func testCreateUniqueIDs(t *testing.T, factory StoreFactory) {
	store := factory(t)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id := createFile(t, store, []byte("x"), "x.bin", "")
		if seen[id] {
			t.Fatalf("duplicate ID %q", id)
		}
		seen[id] = true
	}
}

// testGetNotFound verifies that a well-formed unknown ID reports
// ErrNotFound.
func testGetNotFound(t *testing.T, factory StoreFactory) {
	store := factory(t)

	_, err := store.Get(t.Context(), missingID(t, store))
	if !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

// testGetInvalidID verifies that a malformed ID is distinguished from a
// missing file.
func testGetInvalidID(t *testing.T, factory StoreFactory) {
	store := factory(t)

	for _, id := range []string{"", "not-an-id", "../escape"} {
		_, err := store.Get(t.Context(), id)
		if !errors.Is(err, depot.ErrInvalidID) {
			t.Errorf("Get(%q) error = %v, want ErrInvalidID", id, err)
		}
		if errors.Is(err, depot.ErrNotFound) {
			t.Errorf("Get(%q) must not report ErrNotFound", id)
		}
	}
}

// testReplace verifies that replacing swaps payload and metadata while
// keeping the ID.
func testReplace(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("version one"), "v1.txt", "text/plain")

	replacement := depot.NewContent([]byte("v2"))
	replacement.Filename = "v2.json"
	replacement.ContentType = "application/json"

	if err := store.Replace(t.Context(), id, replacement); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	data, info := fetchFile(t, store, id)
	if string(data) != "v2" {
		t.Errorf("payload = %q, want v2", data)
	}
	if info.FileID != id {
		t.Errorf("FileID = %q, want %q (replace must keep the ID)", info.FileID, id)
	}
	if info.Filename != "v2.json" {
		t.Errorf("Filename = %q, want v2.json", info.Filename)
	}
	if info.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", info.ContentType)
	}
	if info.ContentLength != 2 {
		t.Errorf("ContentLength = %d, want 2", info.ContentLength)
	}
}

// testReplaceKeepsMetadata verifies that a bare payload replacement keeps
// the filename and content type already on record.
func testReplaceKeepsMetadata(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("first"), "report.csv", "text/csv")

	if err := store.Replace(t.Context(), id, depot.NewContent([]byte("second"))); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	data, info := fetchFile(t, store, id)
	if string(data) != "second" {
		t.Errorf("payload = %q, want second", data)
	}
	if info.Filename != "report.csv" {
		t.Errorf("Filename = %q, want report.csv kept from the old record", info.Filename)
	}
	if info.ContentType != "text/csv" {
		t.Errorf("ContentType = %q, want text/csv kept from the old record", info.ContentType)
	}
}

// testReplaceDerivesTypeFromName verifies that supplying only a new filename
// refreshes the content type from its extension.
func testReplaceDerivesTypeFromName(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("first"), "a.bin", "application/octet-stream")

	replacement := depot.NewContent([]byte{0x89, 0x50, 0x4e, 0x47})
	replacement.Filename = "b.png"
	if err := store.Replace(t.Context(), id, replacement); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	_, info := fetchFile(t, store, id)
	if info.Filename != "b.png" {
		t.Errorf("Filename = %q, want b.png", info.Filename)
	}
	if info.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png derived from the new name", info.ContentType)
	}
}

// testReplaceNotFound verifies that replacing a missing or malformed ID
// fails with the matching sentinel.
func testReplaceNotFound(t *testing.T, factory StoreFactory) {
	store := factory(t)

	err := store.Replace(t.Context(), missingID(t, store), depot.NewContent([]byte("x")))
	if !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("Replace(unknown) error = %v, want ErrNotFound", err)
	}

	err = store.Replace(t.Context(), "not-an-id", depot.NewContent([]byte("x")))
	if !errors.Is(err, depot.ErrInvalidID) {
		t.Errorf("Replace(invalid) error = %v, want ErrInvalidID", err)
	}
}

// testReplaceWithoutSource verifies that a sourceless replacement leaves the
// file untouched.
func testReplaceWithoutSource(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("keep me"), "keep.txt", "text/plain")

	err := store.Replace(t.Context(), id, depot.Content{})
	if !errors.Is(err, depot.ErrUnsupportedContent) {
		t.Errorf("Replace(empty) error = %v, want ErrUnsupportedContent", err)
	}

	data, _ := fetchFile(t, store, id)
	if string(data) != "keep me" {
		t.Errorf("payload = %q, want original content preserved", data)
	}
}

// testDelete verifies that a deleted file is gone.
func testDelete(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("transient"), "tmp.txt", "")

	if err := store.Delete(t.Context(), id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	_, err := store.Get(t.Context(), id)
	if !errors.Is(err, depot.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
}

// testDeleteIdempotent verifies that deleting twice, or deleting a file
// that never existed, succeeds.
func testDeleteIdempotent(t *testing.T, factory StoreFactory) {
	store := factory(t)
	id := createFile(t, store, []byte("transient"), "tmp.txt", "")

	if err := store.Delete(t.Context(), id); err != nil {
		t.Fatalf("first Delete() failed: %v", err)
	}
	if err := store.Delete(t.Context(), id); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
	if err := store.Delete(t.Context(), missingID(t, store)); err != nil {
		t.Errorf("Delete(unknown) failed: %v", err)
	}
}

// testDeleteInvalidID verifies that malformed IDs are rejected rather than
// silently ignored.
func testDeleteInvalidID(t *testing.T, factory StoreFactory) {
	store := factory(t)

	err := store.Delete(t.Context(), "not-an-id")
	if !errors.Is(err, depot.ErrInvalidID) {
		t.Errorf("Delete(invalid) error = %v, want ErrInvalidID", err)
	}
}

// testExists verifies existence reporting across the file lifecycle.
func testExists(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	id := createFile(t, store, []byte("here"), "here.txt", "")

	exists, err := store.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !exists {
		t.Error("Exists() = false for a stored file")
	}

	exists, err = store.Exists(ctx, missingID(t, store))
	if err != nil {
		t.Fatalf("Exists(unknown) failed: %v", err)
	}
	if exists {
		t.Error("Exists() = true for an unknown ID")
	}

	if _, err := store.Exists(ctx, "not-an-id"); !errors.Is(err, depot.ErrInvalidID) {
		t.Errorf("Exists(invalid) error = %v, want ErrInvalidID", err)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	exists, err = store.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists(deleted) failed: %v", err)
	}
	if exists {
		t.Error("Exists() = true after delete")
	}
}
