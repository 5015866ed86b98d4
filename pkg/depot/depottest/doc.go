// Package depottest provides a conformance test suite for storage backends.
//
// All backends (local, memory, badger, s3, gcs, gridfs) should pass these
// tests. The suite verifies that every driver satisfies the Storage
// behavioral contract, catching regressions when driver code changes.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    depottest.RunConformanceSuite(t, func(t *testing.T) depot.Storage {
//	        return memory.New()
//	    })
//	}
//
// The factory function receives *testing.T so it can call t.TempDir() for
// backends that need filesystem paths (e.g., local, badger) and t.Cleanup
// for teardown. Each test gets a fresh, empty store.
package depottest
