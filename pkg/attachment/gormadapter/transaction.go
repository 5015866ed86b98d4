package gormadapter

import (
	"context"

	"gorm.io/gorm"

	"github.com/depotfs/depot/pkg/attachment"
	"github.com/depotfs/depot/pkg/depot"
)

// trackerKey is the statement setting the bound Tracker travels under.
const trackerKey = "depot:tracker"

// WithTracker binds a tracker to the session, so the plugin's callbacks
// defer file deletes to its drains instead of running them after each
// statement. Transaction does this for the common case; WithTracker is for
// callers managing the transaction themselves.
func WithTracker(db *gorm.DB, tracker *attachment.Tracker) *gorm.DB {
	return db.Set(trackerKey, tracker)
}

// trackerFor returns the tracker bound to the statement, nil when the
// statement runs outside a tracked transaction.
func trackerFor(db *gorm.DB) *attachment.Tracker {
	v, ok := db.Get(trackerKey)
	if !ok {
		return nil
	}
	tracker, ok := v.(*attachment.Tracker)
	if !ok {
		return nil
	}
	return tracker
}

// Transaction runs fn inside a database transaction with a Tracker bound to
// it. When fn returns nil the transaction commits and the files it replaced
// or deleted are removed from their stores; when fn returns an error the
// transaction rolls back and the files it uploaded are removed instead.
//
// The drains run after the database has settled, so a file is never deleted
// while a row still referencing it could become visible.
func Transaction(ctx context.Context, db *gorm.DB, reg *depot.Registry, fn func(tx *gorm.DB) error) error {
	tracker := attachment.NewTracker(reg)

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTracker(tx, tracker))
	})
	if err != nil {
		tracker.Rollback(ctx)
		return err
	}
	tracker.Commit(ctx)
	return nil
}
