package depot

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Storage from backend-specific options. Drivers register
// one under their backend name from an init function.
type Factory func(ctx context.Context, options map[string]any) (Storage, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a storage backend available under the given name. It is
// intended to be called from driver init functions and panics when the name
// is already taken or the factory is nil.
func Register(backend string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("depot: Register factory is nil")
	}
	if _, dup := drivers[backend]; dup {
		panic("depot: Register called twice for backend " + backend)
	}
	drivers[backend] = factory
}

// Backends returns the names of all registered backends, sorted.
func Backends() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds a Storage for the given backend. The options map is
// interpreted by the driver; unknown backends report the registered names in
// the error.
func Open(ctx context.Context, backend string, options map[string]any) (Storage, error) {
	driversMu.RLock()
	factory, ok := drivers[backend]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q (registered: %v)", backend, Backends())
	}
	return factory(ctx, options)
}
