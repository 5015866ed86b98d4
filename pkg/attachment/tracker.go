package attachment

import (
	"context"
	"sync"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/pkg/depot"
)

// Tracker defers physical file deletes to the outcome of a surrounding
// database transaction. Attachment writes report their old and new values as
// they happen; the stores are only touched when the transaction's fate is
// known, so a rollback never loses a committed file and a commit never keeps
// a replaced one.
//
// It keeps two path sets: files to remove once the transaction commits
// (replaced and row-deleted values) and files to remove if it rolls back
// (values uploaded inside the transaction). A Tracker is safe for concurrent
// use and is meant to live for exactly one transaction.
type Tracker struct {
	registry *depot.Registry

	mu         sync.Mutex
	onCommit   map[string]struct{}
	onRollback map[string]struct{}
}

// NewTracker creates a tracker deleting through reg. A nil reg uses the
// process-wide registry.
func NewTracker(reg *depot.Registry) *Tracker {
	if reg == nil {
		reg = depot.Default()
	}
	return &Tracker{
		registry:   reg,
		onCommit:   make(map[string]struct{}),
		onRollback: make(map[string]struct{}),
	}
}

// Add records that f was stored into a row inside the transaction. Its
// files are deleted if the transaction rolls back. Paths previously marked
// for delete-on-commit are unmarked: the value is live again.
func (t *Tracker) Add(f *AttachedFile) {
	if f == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, path := range f.Files() {
		delete(t.onCommit, path)
		t.onRollback[path] = struct{}{}
	}
}

// Delete records that the row holding f was deleted, or that f was replaced.
// Its files are deleted once the transaction commits. A path also marked for
// delete-on-rollback keeps that mark: a file both created and dropped inside
// one transaction must vanish whichever way it ends.
func (t *Tracker) Delete(f *AttachedFile) {
	if f == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, path := range f.Files() {
		t.onCommit[path] = struct{}{}
	}
}

// Swap records that new replaced old in a row. Either may be nil.
func (t *Tracker) Swap(old, new *AttachedFile) {
	t.Delete(old)
	t.Add(new)
}

// Commit drains the delete-on-commit set. Individual delete failures are
// logged and skipped; driver deletes are idempotent, so a later sweep can
// retry them. The tracker is empty afterwards.
func (t *Tracker) Commit(ctx context.Context) {
	t.drain(ctx, t.take(true))
}

// Rollback drains the delete-on-rollback set, removing the files the rolled
// back transaction had uploaded. The tracker is empty afterwards.
func (t *Tracker) Rollback(ctx context.Context) {
	t.drain(ctx, t.take(false))
}

// PendingCommit returns how many paths await a commit drain.
func (t *Tracker) PendingCommit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.onCommit)
}

// PendingRollback returns how many paths await a rollback drain.
func (t *Tracker) PendingRollback() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.onRollback)
}

// take removes and returns one set, resetting both: once the transaction
// outcome is known the other set is dead weight.
func (t *Tracker) take(commit bool) map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	var paths map[string]struct{}
	if commit {
		paths = t.onCommit
	} else {
		paths = t.onRollback
	}
	t.onCommit = make(map[string]struct{})
	t.onRollback = make(map[string]struct{})
	return paths
}

func (t *Tracker) drain(ctx context.Context, paths map[string]struct{}) {
	for path := range paths {
		if err := t.registry.DeleteFile(ctx, path); err != nil {
			logger.Warn("deferred attachment delete failed",
				logger.Path(path),
				logger.Err(err))
		}
	}
}
