package depottest

import (
	"sort"
	"testing"
	"time"

	"github.com/depotfs/depot/pkg/depot"
)

// runMetadataTests runs all metadata derivation conformance tests.
func runMetadataTests(t *testing.T, factory StoreFactory) {
	t.Run("FilenameFallback", func(t *testing.T) { testFilenameFallback(t, factory) })
	t.Run("ContentTypeFromExtension", func(t *testing.T) { testContentTypeFromExtension(t, factory) })
	t.Run("ExplicitContentTypeWins", func(t *testing.T) { testExplicitContentTypeWins(t, factory) })
	t.Run("UnicodeFilename", func(t *testing.T) { testUnicodeFilename(t, factory) })
	t.Run("LastModifiedNormalized", func(t *testing.T) { testLastModifiedNormalized(t, factory) })
}

// testFilenameFallback verifies that anonymous payloads get the default
// filename and content type.
func testFilenameFallback(t *testing.T, factory StoreFactory) {
	store := factory(t)

	id, err := store.Create(t.Context(), depot.NewContent([]byte("anonymous")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	_, info := fetchFile(t, store, id)
	if info.Filename != depot.DefaultFilename {
		t.Errorf("Filename = %q, want %q", info.Filename, depot.DefaultFilename)
	}
	if info.ContentType != depot.DefaultContentType {
		t.Errorf("ContentType = %q, want %q", info.ContentType, depot.DefaultContentType)
	}
}

// testContentTypeFromExtension verifies that the content type is guessed
// from the filename when not given.
func testContentTypeFromExtension(t *testing.T, factory StoreFactory) {
	store := factory(t)

	id := createFile(t, store, []byte("%PDF-1.4"), "report.pdf", "")
	_, info := fetchFile(t, store, id)

	if info.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, want application/pdf", info.ContentType)
	}
}

// testExplicitContentTypeWins verifies that an explicit type beats the
// extension guess.
func testExplicitContentTypeWins(t *testing.T, factory StoreFactory) {
	store := factory(t)

	id := createFile(t, store, []byte("{}"), "data.bin", "application/json")
	_, info := fetchFile(t, store, id)

	if info.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", info.ContentType)
	}
}

// testUnicodeFilename verifies that non-ASCII filenames survive storage
// unaltered.
func testUnicodeFilename(t *testing.T, factory StoreFactory) {
	store := factory(t)

	names := []string{
		"résumé.pdf",
		"履歴書.txt",
		"zalącznik żółty.png",
	}
	sort.Strings(names)

	for _, name := range names {
		id := createFile(t, store, []byte("x"), name, "")
		_, info := fetchFile(t, store, id)
		if info.Filename != name {
			t.Errorf("Filename = %q, want %q", info.Filename, name)
		}
	}
}

// testLastModifiedNormalized verifies that modification times come back in
// UTC at second precision.
func testLastModifiedNormalized(t *testing.T, factory StoreFactory) {
	store := factory(t)

	id := createFile(t, store, []byte("timed"), "timed.txt", "")
	_, info := fetchFile(t, store, id)

	if info.LastModified.IsZero() {
		t.Fatal("LastModified is zero")
	}
	if info.LastModified.Nanosecond() != 0 {
		t.Errorf("LastModified has sub-second precision: %v", info.LastModified)
	}
	if info.LastModified.Location() != time.UTC {
		t.Errorf("LastModified location = %v, want UTC", info.LastModified.Location())
	}
	if !info.LastModified.Equal(depot.NormalizeTime(info.LastModified)) {
		t.Errorf("LastModified %v is not normalized", info.LastModified)
	}
}

// runListTests runs the listing conformance tests for backends implementing
// Lister. Other backends skip.
func runListTests(t *testing.T, factory StoreFactory) {
	t.Run("ListAll", func(t *testing.T) {
		store := factory(t)
		lister, ok := store.(depot.Lister)
		if !ok {
			t.Skip("store does not implement Lister")
		}

		want := []string{
			createFile(t, store, []byte("one"), "1.txt", ""),
			createFile(t, store, []byte("two"), "2.txt", ""),
			createFile(t, store, []byte("three"), "3.txt", ""),
		}
		sort.Strings(want)

		got, err := lister.List(t.Context())
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		sort.Strings(got)

		if len(got) != len(want) {
			t.Fatalf("List() returned %d IDs, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("ListExcludesDeleted", func(t *testing.T) {
		store := factory(t)
		lister, ok := store.(depot.Lister)
		if !ok {
			t.Skip("store does not implement Lister")
		}

		keep := createFile(t, store, []byte("keep"), "keep.txt", "")
		drop := createFile(t, store, []byte("drop"), "drop.txt", "")

		if err := store.Delete(t.Context(), drop); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}

		got, err := lister.List(t.Context())
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		if len(got) != 1 || got[0] != keep {
			t.Errorf("List() = %v, want [%s]", got, keep)
		}
	})
}
