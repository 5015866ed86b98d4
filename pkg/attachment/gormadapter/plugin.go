// Package gormadapter ties attachment lifecycles to GORM's unit of work.
//
// The Plugin watches models carrying *attachment.AttachedFile fields and
// reports every create, replace, and row delete to the transaction's
// Tracker, so stored files are garbage-collected when the transaction's
// outcome is known. Statements running outside Transaction fall back to
// autocommit semantics: replaced and deleted rows have their files removed
// as soon as the statement succeeds.
package gormadapter

import (
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/pkg/attachment"
	"github.com/depotfs/depot/pkg/depot"
)

const (
	pluginName = "depot:attachments"

	// oldFilesKey carries the pre-statement attachment values from the
	// before callback to the after callback of the same statement.
	oldFilesKey = "depot:attachment_old"
)

var attachedFileType = reflect.TypeOf((*attachment.AttachedFile)(nil))

// Plugin registers the attachment callbacks on a GORM database.
type Plugin struct {
	// Registry resolves store names for validation and autocommit
	// deletes. Nil uses the process-wide registry.
	Registry *depot.Registry
}

var _ gorm.Plugin = (*Plugin)(nil)

// New creates a plugin deleting through reg.
func New(reg *depot.Registry) *Plugin {
	return &Plugin{Registry: reg}
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string { return pluginName }

// Initialize implements gorm.Plugin.
func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").
		Register("depot:attachment_create", p.beforeCreate); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").
		Register("depot:attachment_update", p.beforeUpdate); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").
		Register("depot:attachment_update_cleanup", p.afterWrite); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").
		Register("depot:attachment_delete", p.beforeDelete); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:delete").
		Register("depot:attachment_delete_cleanup", p.afterWrite)
}

func (p *Plugin) registry() *depot.Registry {
	if p.Registry != nil {
		return p.Registry
	}
	return depot.Default()
}

// beforeCreate validates new attachment values and marks them for cleanup
// should the surrounding transaction roll back.
func (p *Plugin) beforeCreate(db *gorm.DB) {
	fields := p.attachmentFields(db)
	if len(fields) == 0 {
		return
	}
	tracker := trackerFor(db)

	eachModel(db.Statement.ReflectValue, func(rv reflect.Value) {
		for _, field := range fields {
			af := fieldValue(db, field, rv)
			if af == nil {
				continue
			}
			if err := p.checkStore(af); err != nil {
				db.AddError(err)
				return
			}
			if tracker != nil {
				tracker.Add(af)
			}
		}
	})
}

// beforeUpdate loads the row being updated and reports the per-field delta:
// a replaced value's files go to delete-on-commit, the incoming value's
// files to delete-on-rollback. Fields whose attachment did not change are
// left alone.
func (p *Plugin) beforeUpdate(db *gorm.DB) {
	fields := p.attachmentFields(db)
	if len(fields) == 0 {
		return
	}

	olds, ok := p.loadCurrent(db, fields)
	if !ok {
		return
	}
	tracker := trackerFor(db)

	rv := db.Statement.ReflectValue
	if rv.Kind() != reflect.Struct {
		return
	}

	var replaced []*attachment.AttachedFile
	for _, field := range fields {
		newValue := fieldValue(db, field, rv)
		oldValue := olds[field.Name]
		if samePath(oldValue, newValue) {
			continue
		}
		if newValue != nil {
			if err := p.checkStore(newValue); err != nil {
				db.AddError(err)
				return
			}
		}
		if tracker != nil {
			tracker.Swap(oldValue, newValue)
		} else if oldValue != nil {
			replaced = append(replaced, oldValue)
		}
	}
	if len(replaced) > 0 {
		db.InstanceSet(oldFilesKey, replaced)
	}
}

// beforeDelete reports the deleted row's attachments for removal on commit.
func (p *Plugin) beforeDelete(db *gorm.DB) {
	fields := p.attachmentFields(db)
	if len(fields) == 0 {
		return
	}

	olds, ok := p.loadCurrent(db, fields)
	if !ok {
		return
	}
	tracker := trackerFor(db)

	var removed []*attachment.AttachedFile
	for _, field := range fields {
		old := olds[field.Name]
		if old == nil {
			continue
		}
		if tracker != nil {
			tracker.Delete(old)
		} else {
			removed = append(removed, old)
		}
	}
	if len(removed) > 0 {
		db.InstanceSet(oldFilesKey, removed)
	}
}

// afterWrite performs the autocommit cleanup queued by the before callbacks
// once the statement succeeded. With a tracker bound, the before callbacks
// queue nothing here and the tracker drains decide instead.
func (p *Plugin) afterWrite(db *gorm.DB) {
	v, ok := db.InstanceGet(oldFilesKey)
	if !ok || db.Error != nil {
		return
	}
	files, ok := v.([]*attachment.AttachedFile)
	if !ok {
		return
	}

	reg := p.registry()
	for _, f := range files {
		for _, path := range f.Files() {
			if err := reg.DeleteFile(db.Statement.Context, path); err != nil {
				logger.Warn("autocommit attachment delete failed",
					logger.Path(path),
					logger.Err(err))
			}
		}
	}
}

// checkStore refuses values pointing at a store this process cannot
// resolve; persisting such a value would strand the file.
func (p *Plugin) checkStore(f *attachment.AttachedFile) error {
	if _, err := p.registry().Resolve(f.DepotName()); err != nil {
		return fmt.Errorf("attachment %s: %w", f.Path(), err)
	}
	return nil
}

// attachmentFields returns the model's *attachment.AttachedFile fields.
func (p *Plugin) attachmentFields(db *gorm.DB) []*schema.Field {
	if db.Statement.Schema == nil {
		return nil
	}
	var fields []*schema.Field
	for _, field := range db.Statement.Schema.Fields {
		if field.FieldType == attachedFileType {
			fields = append(fields, field)
		}
	}
	return fields
}

// loadCurrent fetches the persisted attachment values of the row the
// statement targets, through the statement's own connection so an open
// transaction sees its earlier writes. Statements that do not carry their
// primary key, such as batch updates, are not tracked.
func (p *Plugin) loadCurrent(db *gorm.DB, fields []*schema.Field) (map[string]*attachment.AttachedFile, bool) {
	stmt := db.Statement
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		return nil, false
	}
	rv := stmt.ReflectValue
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	pkValue, zero := pk.ValueOf(stmt.Context, rv)
	if zero {
		return nil, false
	}

	current := reflect.New(stmt.Schema.ModelType)
	session := db.Session(&gorm.Session{NewDB: true, SkipHooks: true})
	result := session.Table(stmt.Table).
		Where(pk.DBName+" = ?", pkValue).
		Limit(1).
		Find(current.Interface())
	if result.Error != nil || result.RowsAffected == 0 {
		return nil, false
	}

	olds := make(map[string]*attachment.AttachedFile, len(fields))
	for _, field := range fields {
		olds[field.Name] = fieldValue(db, field, current.Elem())
	}
	return olds, true
}

// fieldValue extracts the attachment behind a schema field, nil when unset.
func fieldValue(db *gorm.DB, field *schema.Field, rv reflect.Value) *attachment.AttachedFile {
	v, zero := field.ValueOf(db.Statement.Context, rv)
	if zero {
		return nil
	}
	af, ok := v.(*attachment.AttachedFile)
	if !ok {
		return nil
	}
	return af
}

// eachModel visits the statement destination, which is a single model for
// most statements and a slice for batch creates.
func eachModel(rv reflect.Value, visit func(reflect.Value)) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i)
			for elem.Kind() == reflect.Ptr {
				elem = elem.Elem()
			}
			visit(elem)
		}
	case reflect.Struct:
		visit(rv)
	}
}

// samePath reports whether two values reference the same stored files.
func samePath(a, b *attachment.AttachedFile) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Path() == b.Path()
}
