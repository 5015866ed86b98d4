//go:build integration

// Package gormadapter_test runs the attachment lifecycle against PostgreSQL
// via testcontainers, exercising the GORM callbacks on a production driver
// rather than the in-process SQLite used by the unit tests.
//
// Run with: go test -tags=integration -v ./test/integration/gormadapter/
// Set POSTGRES_DSN to reuse an already running server instead of starting a
// container.
package gormadapter_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/depotfs/depot/pkg/attachment"
	"github.com/depotfs/depot/pkg/attachment/gormadapter"
	"github.com/depotfs/depot/pkg/depot"
	_ "github.com/depotfs/depot/pkg/depot/memory"
)

type document struct {
	ID    uint   `gorm:"primarykey"`
	Title string
	File  *attachment.AttachedFile `gorm:"type:text"`
}

// postgresDSN starts a PostgreSQL container unless POSTGRES_DSN points at an
// existing server.
func postgresDSN(t *testing.T) string {
	t.Helper()

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	// PostgreSQL logs "ready to accept connections" twice during startup,
	// once during bootstrap and once when fully ready.
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("depot_test"),
		tcpostgres.WithUsername("depot"),
		tcpostgres.WithPassword("depot"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func setup(t *testing.T) (*gorm.DB, *depot.Registry) {
	t.Helper()

	reg := depot.NewRegistry()
	_, err := reg.Configure(t.Context(), "docs", map[string]any{"backend": "memory"})
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(postgresDSN(t)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Use(gormadapter.New(reg)))

	require.NoError(t, db.Migrator().DropTable(&document{}))
	require.NoError(t, db.AutoMigrate(&document{}))
	return db, reg
}

func newAttachment(t *testing.T, reg *depot.Registry, payload, filename string) *attachment.AttachedFile {
	t.Helper()
	f, err := attachment.New(t.Context(), reg,
		depot.BytesIntent([]byte(payload), filename, "text/plain"),
		attachment.WithStore("docs"))
	require.NoError(t, err)
	return f
}

func storedIDs(t *testing.T, reg *depot.Registry) []string {
	t.Helper()
	store, err := reg.Get("docs")
	require.NoError(t, err)
	lister, ok := store.(depot.Lister)
	require.True(t, ok)
	ids, err := lister.List(t.Context())
	require.NoError(t, err)
	return ids
}

func TestPostgresRoundTrip(t *testing.T) {
	db, reg := setup(t)

	f := newAttachment(t, reg, "hello postgres", "doc.txt")
	doc := document{Title: "first", File: f}
	require.NoError(t, db.Create(&doc).Error)

	var loaded document
	require.NoError(t, db.First(&loaded, doc.ID).Error)
	require.NotNil(t, loaded.File)
	assert.Equal(t, f.Path(), loaded.File.Path())
	assert.Equal(t, "doc.txt", loaded.File.Filename())
	assert.Equal(t, "text/plain", loaded.File.ContentType())
	assert.True(t, loaded.File.Frozen())
	assert.WithinDuration(t, time.Now(), loaded.File.UploadedAt(), time.Minute)
}

func TestPostgresReplaceDeletesOldPayload(t *testing.T) {
	db, reg := setup(t)

	first := newAttachment(t, reg, "v1", "a.txt")
	doc := document{Title: "doc", File: first}
	require.NoError(t, db.Create(&doc).Error)

	second := newAttachment(t, reg, "v2", "b.txt")
	doc.File = second
	require.NoError(t, db.Save(&doc).Error)

	ids := storedIDs(t, reg)
	require.Len(t, ids, 1)
	assert.Equal(t, second.FileID(), ids[0])
}

func TestPostgresDeleteRowDeletesFile(t *testing.T) {
	db, reg := setup(t)

	doc := document{Title: "doc", File: newAttachment(t, reg, "bye", "c.txt")}
	require.NoError(t, db.Create(&doc).Error)
	require.Len(t, storedIDs(t, reg), 1)

	require.NoError(t, db.Delete(&document{}, doc.ID).Error)
	assert.Empty(t, storedIDs(t, reg))
}

func TestPostgresTransactionRollbackDiscardsNewFile(t *testing.T) {
	db, reg := setup(t)

	sentinel := errors.New("boom")
	f := newAttachment(t, reg, "orphan", "d.txt")

	err := gormadapter.Transaction(t.Context(), db, reg, func(tx *gorm.DB) error {
		if err := tx.Create(&document{Title: "doomed", File: f}).Error; err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// The row never committed and the payload was reclaimed.
	var count int64
	require.NoError(t, db.Model(&document{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, storedIDs(t, reg))
}

func TestPostgresRejectsUnknownStore(t *testing.T) {
	db, reg := setup(t)

	f := newAttachment(t, reg, "misplaced", "e.txt")
	reg.Clear()

	err := db.Create(&document{Title: "bad", File: f}).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, depot.ErrStoreNotFound) ||
		strings.Contains(err.Error(), "store"))
}
