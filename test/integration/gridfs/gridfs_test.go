//go:build integration

// Package gridfs_test runs the storage conformance suite and driver-specific
// tests against MongoDB via testcontainers.
//
// Run with: go test -tags=integration -v ./test/integration/gridfs/
// Set MONGODB_URI to reuse an already running server instead of starting a
// container.
package gridfs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/depotfs/depot/pkg/depot"
	"github.com/depotfs/depot/pkg/depot/depottest"
	gridfsstore "github.com/depotfs/depot/pkg/depot/gridfs"
)

const testDatabase = "depot_test"

// mongoHelper manages the MongoDB container for GridFS integration tests.
type mongoHelper struct {
	container testcontainers.Container
	uri       string
	client    *mongo.Client
}

// newMongoHelper starts a MongoDB container or connects to an existing
// server.
func newMongoHelper(t *testing.T) *mongoHelper {
	t.Helper()
	ctx := context.Background()

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		helper := &mongoHelper{uri: uri}
		helper.createClient(t)
		return helper
	}

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(60*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start MongoDB container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	helper := &mongoHelper{
		container: container,
		uri:       fmt.Sprintf("mongodb://%s:%s", host, port.Port()),
	}
	helper.createClient(t)
	return helper
}

// createClient connects a client to the server and registers its cleanup.
func (mh *mongoHelper) createClient(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(mh.uri))
	if err != nil {
		t.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		t.Fatalf("failed to ping MongoDB: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	mh.client = client
}

// dropDatabase removes a database and registers nothing; call from t.Cleanup.
func (mh *mongoHelper) dropDatabase(name string) {
	_ = mh.client.Database(name).Drop(context.Background())
}

// TestGridFSStore_Conformance runs the full storage conformance suite,
// isolating each test under its own bucket collection.
func TestGridFSStore_Conformance(t *testing.T) {
	helper := newMongoHelper(t)
	t.Cleanup(func() { helper.dropDatabase(testDatabase) })

	testCounter := 0
	depottest.RunConformanceSuite(t, func(t *testing.T) depot.Storage {
		testCounter++
		store, err := gridfsstore.NewWithClient(helper.client, gridfsstore.Config{
			Database:   testDatabase,
			Collection: fmt.Sprintf("depot_test_%d", testCounter),
		})
		if err != nil {
			t.Fatalf("failed to create GridFS store: %v", err)
		}
		return store
	})
}

// TestGridFSStore_ConnectAndClose exercises the full New path, including the
// connection ping and the owned-client disconnect.
func TestGridFSStore_ConnectAndClose(t *testing.T) {
	helper := newMongoHelper(t)
	t.Cleanup(func() { helper.dropDatabase(testDatabase) })

	store, err := gridfsstore.New(t.Context(), gridfsstore.Config{
		URI:            helper.uri,
		Database:       testDatabase,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	id, err := store.Create(t.Context(), depot.NewContent([]byte("hello")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	f.Close()

	if err := store.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}

// TestGridFSStore_DatabaseFromURI verifies that the database named in the
// connection string path is used when none is configured.
func TestGridFSStore_DatabaseFromURI(t *testing.T) {
	helper := newMongoHelper(t)

	dbName := "depot_uri_db"
	t.Cleanup(func() { helper.dropDatabase(dbName) })

	store, err := gridfsstore.NewWithClient(helper.client, gridfsstore.Config{
		URI: helper.uri + "/" + dbName,
	})
	if err != nil {
		t.Fatalf("failed to create GridFS store: %v", err)
	}

	if _, err := store.Create(t.Context(), depot.NewContent([]byte("routed"))); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	count, err := helper.client.Database(dbName).
		Collection(gridfsstore.DefaultCollection + ".files").
		CountDocuments(t.Context(), bson.D{})
	if err != nil {
		t.Fatalf("counting files documents failed: %v", err)
	}
	if count != 1 {
		t.Errorf("files collection in %s has %d documents, want 1", dbName, count)
	}
}

// TestGridFSStore_NativeObjectIDs verifies that IDs are ObjectID hex, not
// UUIDs, and that malformed IDs are rejected before any query.
func TestGridFSStore_NativeObjectIDs(t *testing.T) {
	helper := newMongoHelper(t)
	t.Cleanup(func() { helper.dropDatabase(testDatabase) })

	store, err := gridfsstore.NewWithClient(helper.client, gridfsstore.Config{
		Database:   testDatabase,
		Collection: "depot_oids",
	})
	if err != nil {
		t.Fatalf("failed to create GridFS store: %v", err)
	}

	id, err := store.Create(t.Context(), depot.NewContent([]byte("native")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		t.Errorf("Create() returned %q, want an ObjectID hex string", id)
	}

	uid, err := depot.NewID()
	if err != nil {
		t.Fatalf("NewID() failed: %v", err)
	}
	if _, err := store.Get(t.Context(), uid); !errors.Is(err, depot.ErrInvalidID) {
		t.Errorf("Get() with a UUID returned %v, want ErrInvalidID", err)
	}
}

func TestGridFSStore_UnicodeFilenameRoundTrip(t *testing.T) {
	helper := newMongoHelper(t)
	t.Cleanup(func() { helper.dropDatabase(testDatabase) })

	store, err := gridfsstore.NewWithClient(helper.client, gridfsstore.Config{
		Database:   testDatabase,
		Collection: "depot_unicode",
	})
	if err != nil {
		t.Fatalf("failed to create GridFS store: %v", err)
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

// TestGridFSStore_ForeignFile verifies that files uploaded by other tooling,
// without depot metadata, are still readable with fallback metadata.
func TestGridFSStore_ForeignFile(t *testing.T) {
	helper := newMongoHelper(t)
	t.Cleanup(func() { helper.dropDatabase(testDatabase) })

	store, err := gridfsstore.NewWithClient(helper.client, gridfsstore.Config{
		Database:   testDatabase,
		Collection: "depot_foreign",
	})
	if err != nil {
		t.Fatalf("failed to create GridFS store: %v", err)
	}

	// Upload through a plain bucket handle, the way mongofiles would.
	bucket, err := gridfs.NewBucket(helper.client.Database(testDatabase),
		mongooptions.GridFSBucket().SetName("depot_foreign"))
	if err != nil {
		t.Fatalf("failed to open raw bucket: %v", err)
	}
	oid, err := bucket.UploadFromStream("tool.bin", bytes.NewReader([]byte("raw upload")))
	if err != nil {
		t.Fatalf("raw upload failed: %v", err)
	}

	f, err := store.Get(t.Context(), oid.Hex())
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer f.Close()

	if got := f.Info().ContentType; got != depot.DefaultContentType {
		t.Errorf("ContentType = %q, want the default", got)
	}
	if got := f.Info().Filename; got != "tool.bin" {
		t.Errorf("Filename = %q, want tool.bin", got)
	}
	if f.Info().LastModified.IsZero() {
		t.Error("LastModified should fall back to the upload date")
	}
}

// TestGridFSStore_ReplaceKeepsID verifies the stored file keeps its ObjectID
// across a replace and the chunks belong to the new payload.
func TestGridFSStore_ReplaceKeepsID(t *testing.T) {
	helper := newMongoHelper(t)
	t.Cleanup(func() { helper.dropDatabase(testDatabase) })

	store, err := gridfsstore.NewWithClient(helper.client, gridfsstore.Config{
		Database:   testDatabase,
		Collection: "depot_replace",
	})
	if err != nil {
		t.Fatalf("failed to create GridFS store: %v", err)
	}

	id, err := store.Create(t.Context(), depot.NewContent([]byte("first draft")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := store.Replace(t.Context(), id, depot.NewContent([]byte("final"))); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	f, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("reading payload failed: %v", err)
	}
	if string(data) != "final" {
		t.Errorf("payload = %q, want final", data)
	}

	ids, err := store.List(t.Context())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("List() = %v, want exactly [%s]", ids, id)
	}
}
