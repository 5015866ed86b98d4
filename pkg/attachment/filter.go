package attachment

import "context"

// Filter post-processes a freshly uploaded attachment before it is handed to
// the caller. Filters run in registration order and may set extension
// attributes or store derived files; derived files must be recorded with
// AddFile so they share the attachment's lifecycle.
//
// Filters do not run for values decoded from a row: the original upload is
// no longer available, and the row already carries the filter output.
type Filter interface {
	OnSave(ctx context.Context, f *AttachedFile) error
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(ctx context.Context, f *AttachedFile) error

// OnSave implements Filter.
func (fn FilterFunc) OnSave(ctx context.Context, f *AttachedFile) error {
	return fn(ctx, f)
}
