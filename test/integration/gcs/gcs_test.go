//go:build integration

// Package gcs_test runs the storage conformance suite and driver-specific
// tests against fake-gcs-server via testcontainers.
//
// Run with: go test -tags=integration -v ./test/integration/gcs/
// Set STORAGE_EMULATOR_HOST to reuse an already running emulator instead of
// starting a container.
package gcs_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/depotfs/depot/pkg/depot"
	"github.com/depotfs/depot/pkg/depot/depottest"
	gcsstore "github.com/depotfs/depot/pkg/depot/gcs"
)

const testProject = "depot-test"

// emulatorHelper manages the fake-gcs-server container for GCS integration
// tests.
type emulatorHelper struct {
	container testcontainers.Container
	endpoint  string
	client    *storage.Client
}

// newEmulatorHelper starts a fake-gcs-server container or connects to an
// existing emulator.
func newEmulatorHelper(t *testing.T) *emulatorHelper {
	t.Helper()
	ctx := context.Background()

	if endpoint := os.Getenv("STORAGE_EMULATOR_HOST"); endpoint != "" {
		helper := &emulatorHelper{endpoint: endpoint}
		helper.createClient(t)
		return helper
	}

	req := testcontainers.ContainerRequest{
		Image:        "fsouza/fake-gcs-server:1.47.8",
		ExposedPorts: []string{"4443/tcp"},
		Cmd:          []string{"-scheme", "http", "-backend", "memory"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4443/tcp"),
			wait.ForHTTP("/storage/v1/b").
				WithPort("4443/tcp").
				WithStartupTimeout(60*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start fake-gcs-server container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4443")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	helper := &emulatorHelper{
		container: container,
		endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
	}
	// The storage client and the driver's own client construction both read
	// this variable.
	t.Setenv("STORAGE_EMULATOR_HOST", helper.endpoint)
	helper.createClient(t)
	return helper
}

// createClient creates a storage client talking to the emulator.
func (eh *emulatorHelper) createClient(t *testing.T) {
	t.Helper()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("failed to create storage client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	eh.client = client
}

// createBucket creates a bucket and registers its cleanup.
func (eh *emulatorHelper) createBucket(t *testing.T, bucket string) {
	t.Helper()

	if err := eh.client.Bucket(bucket).Create(context.Background(), testProject, nil); err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}
	t.Cleanup(func() { eh.cleanupBucket(bucket) })
}

// cleanupBucket removes a bucket and all its contents.
func (eh *emulatorHelper) cleanupBucket(bucket string) {
	ctx := context.Background()
	bkt := eh.client.Bucket(bucket)

	it := bkt.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done || err != nil {
			break
		}
		_ = bkt.Object(attrs.Name).Delete(ctx)
	}
	_ = bkt.Delete(ctx)
}

// TestGCSStore_Conformance runs the full storage conformance suite against
// the emulator, isolating each test under its own object prefix.
func TestGCSStore_Conformance(t *testing.T) {
	helper := newEmulatorHelper(t)

	bucket := "depot-conformance"
	helper.createBucket(t, bucket)

	testCounter := 0
	depottest.RunConformanceSuite(t, func(t *testing.T) depot.Storage {
		testCounter++
		store, err := gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
			Bucket: bucket,
			Prefix: fmt.Sprintf("test-%d/", testCounter),
		})
		if err != nil {
			t.Fatalf("failed to create GCS store: %v", err)
		}
		return store
	})
}

func TestGCSStore_CreateBucket(t *testing.T) {
	helper := newEmulatorHelper(t)

	bucket := "depot-created-on-demand"
	t.Cleanup(func() { helper.cleanupBucket(bucket) })

	_, err := gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
		Bucket: bucket,
	})
	if err == nil {
		t.Fatal("expected an error for a missing bucket without create_bucket")
	}

	_, err = gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
		Bucket:       bucket,
		CreateBucket: true,
	})
	if err == nil {
		t.Fatal("expected an error when create_bucket is set without project_id")
	}

	store, err := gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
		Bucket:       bucket,
		ProjectID:    testProject,
		CreateBucket: true,
	})
	if err != nil {
		t.Fatalf("failed to create store with create_bucket: %v", err)
	}

	id, err := store.Create(t.Context(), depot.NewContent([]byte("hello")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	exists, err := store.Exists(t.Context(), id)
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !exists {
		t.Error("stored file should exist in the freshly created bucket")
	}
}

func TestGCSStore_UnicodeFilenameRoundTrip(t *testing.T) {
	helper := newEmulatorHelper(t)

	bucket := "depot-unicode"
	helper.createBucket(t, bucket)

	store, err := gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
		Bucket: bucket,
	})
	if err != nil {
		t.Fatalf("failed to create GCS store: %v", err)
	}

	content := depot.NewContent([]byte("cv"))
	content.Filename = "résumé.pdf"

	id, err := store.Create(t.Context(), content)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer f.Close()

	if got := f.Info().Filename; got != "résumé.pdf" {
		t.Errorf("Filename = %q, want résumé.pdf", got)
	}
	if got := f.Info().ContentType; got != "application/pdf" {
		t.Errorf("ContentType = %q, want application/pdf", got)
	}
}

// TestGCSStore_ForeignObject verifies that objects uploaded by other tooling,
// without depot metadata, are still readable with fallback metadata.
func TestGCSStore_ForeignObject(t *testing.T) {
	helper := newEmulatorHelper(t)

	bucket := "depot-foreign"
	helper.createBucket(t, bucket)

	store, err := gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
		Bucket: bucket,
	})
	if err != nil {
		t.Fatalf("failed to create GCS store: %v", err)
	}

	id, err := depot.NewID()
	if err != nil {
		t.Fatalf("NewID() failed: %v", err)
	}
	w := helper.client.Bucket(bucket).Object(id).NewWriter(t.Context())
	if _, err := w.Write([]byte("raw upload")); err != nil {
		t.Fatalf("writing foreign object failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing foreign object failed: %v", err)
	}

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer f.Close()

	if got := f.Info().Filename; got != depot.DefaultFilename {
		t.Errorf("Filename = %q, want the default", got)
	}
	if f.Info().LastModified.IsZero() {
		t.Error("LastModified should fall back to the object timestamp")
	}
}

func TestGCSStore_PrefixIsolation(t *testing.T) {
	helper := newEmulatorHelper(t)

	bucket := "depot-prefixes"
	helper.createBucket(t, bucket)

	newStore := func(prefix string) *gcsstore.Store {
		store, err := gcsstore.NewWithClient(t.Context(), helper.client, gcsstore.Config{
			Bucket: bucket,
			Prefix: prefix,
		})
		if err != nil {
			t.Fatalf("failed to create GCS store: %v", err)
		}
		return store
	}

	a := newStore("tenant-a/")
	b := newStore("tenant-b/")

	idA, err := a.Create(t.Context(), depot.NewContent([]byte("a")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := b.Create(t.Context(), depot.NewContent([]byte("b"))); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	idsA, err := a.List(t.Context())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(idsA) != 1 || idsA[0] != idA {
		t.Errorf("List() = %v, want exactly [%s]", idsA, idA)
	}

	exists, err := b.Exists(t.Context(), idA)
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("file from tenant-a must not be visible under tenant-b")
	}
}
