package depot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds named stores and routes "store/file_id" paths to them. The
// first store configured becomes the default, so single-store applications
// never name their store explicitly. A Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	stores      map[string]Storage
	aliases     map[string]string
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores:  make(map[string]Storage),
		aliases: make(map[string]string),
	}
}

// Configure builds a store from options and adds it under the given name.
// The backend is taken from the "backend" option and defaults to "local".
// The first configured store becomes the default.
func (r *Registry) Configure(ctx context.Context, name string, options map[string]any) (Storage, error) {
	backend := "local"
	if b, ok := options["backend"].(string); ok && b != "" {
		backend = b
	}

	store, err := Open(ctx, backend, options)
	if err != nil {
		return nil, fmt.Errorf("configuring store %q: %w", name, err)
	}
	if err := r.Add(name, store); err != nil {
		return nil, err
	}
	return store, nil
}

// Add registers an already-built store under the given name. Names are
// shared between stores and aliases, so a name can be used for only one of
// the two. The first store added becomes the default.
func (r *Registry) Add(name string, store Storage) error {
	if name == "" {
		return fmt.Errorf("store name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("store %q: %w", name, ErrStoreExists)
	}
	if _, exists := r.aliases[name]; exists {
		return fmt.Errorf("store %q shadows an alias: %w", name, ErrStoreExists)
	}

	r.stores[name] = store
	if r.defaultName == "" {
		r.defaultName = name
	}
	return nil
}

// Get returns the store registered under name, following aliases. The empty
// name returns the default store.
func (r *Registry) Get(name string) (Storage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved, err := r.resolveLocked(name)
	if err != nil {
		return nil, err
	}
	return r.stores[resolved], nil
}

// Resolve returns the canonical store name behind name, following aliases.
// The empty name resolves to the default store's name.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.resolveLocked(name)
}

// resolveLocked walks the alias chain until it reaches a configured store.
// Dangling aliases and cycles report ErrStoreNotFound under the name the
// lookup started from.
func (r *Registry) resolveLocked(name string) (string, error) {
	if name == "" {
		if r.defaultName == "" {
			return "", ErrNoDefaultStore
		}
		return r.defaultName, nil
	}

	current := name
	for hops := 0; hops <= len(r.aliases); hops++ {
		if _, ok := r.stores[current]; ok {
			return current, nil
		}
		next, ok := r.aliases[current]
		if !ok {
			return "", fmt.Errorf("store %q: %w", name, ErrStoreNotFound)
		}
		current = next
	}
	return "", fmt.Errorf("store %q: alias cycle: %w", name, ErrStoreNotFound)
}

// Alias makes alias resolve to target, which may be a store or another
// alias. The target must already resolve to a configured store, so dangling
// aliases and cycles are rejected up front and every alias in the table is
// guaranteed to resolve. Re-pointing an existing alias is allowed; taking
// the name of a configured store is not. Aliases let stored paths keep
// working after files migrate to a new store.
func (r *Registry) Alias(alias, target string) error {
	if alias == "" {
		return fmt.Errorf("alias name must not be empty")
	}
	if target == "" {
		return fmt.Errorf("alias %q: target must not be empty", alias)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[alias]; exists {
		return fmt.Errorf("alias %q shadows a store: %w", alias, ErrStoreExists)
	}

	current := target
	for hops := 0; hops <= len(r.aliases); hops++ {
		if current == alias {
			return fmt.Errorf("alias %q: target %q resolves through the alias itself: %w",
				alias, target, ErrStoreNotFound)
		}
		if _, ok := r.stores[current]; ok {
			r.aliases[alias] = target
			return nil
		}
		next, ok := r.aliases[current]
		if !ok {
			return fmt.Errorf("alias %q: target %q: %w", alias, target, ErrStoreNotFound)
		}
		current = next
	}
	return fmt.Errorf("alias %q: target %q: %w", alias, target, ErrStoreNotFound)
}

// SetDefault changes which store the empty name resolves to.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved, err := r.resolveLocked(name)
	if err != nil {
		return err
	}
	r.defaultName = resolved
	return nil
}

// DefaultName returns the canonical name of the default store.
func (r *Registry) DefaultName() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultName == "" {
		return "", ErrNoDefaultStore
	}
	return r.defaultName, nil
}

// Names returns the canonical names of all configured stores, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns a copy of the alias table.
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make(map[string]string, len(r.aliases))
	for alias, target := range r.aliases {
		aliases[alias] = target
	}
	return aliases
}

// Clear removes every store and alias and unsets the default. Intended for
// tests that reconfigure storage between cases.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stores = make(map[string]Storage)
	r.aliases = make(map[string]string)
	r.defaultName = ""
}

// SplitPath splits a "store/file_id" path at the first separator. The store
// part may be empty in neither position.
func SplitPath(path string) (store, fileID string, err error) {
	store, fileID, ok := strings.Cut(path, "/")
	if !ok || store == "" || fileID == "" {
		return "", "", fmt.Errorf("malformed depot path %q: %w", path, ErrInvalidID)
	}
	return store, fileID, nil
}

// GetFile fetches a file through its "store/file_id" path.
func (r *Registry) GetFile(ctx context.Context, path string) (*StoredFile, error) {
	store, fileID, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s, err := r.Get(store)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, fileID)
}

// DeleteFile deletes a file through its "store/file_id" path.
func (r *Registry) DeleteFile(ctx context.Context, path string) error {
	store, fileID, err := SplitPath(path)
	if err != nil {
		return err
	}
	s, err := r.Get(store)
	if err != nil {
		return err
	}
	return s.Delete(ctx, fileID)
}

// std is the process-wide registry used by the package-level helpers.
var std = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return std
}

// Configure adds a store to the process-wide registry.
func Configure(ctx context.Context, name string, options map[string]any) (Storage, error) {
	return std.Configure(ctx, name, options)
}

// Get returns a store from the process-wide registry. The empty name
// returns the default store.
func Get(name string) (Storage, error) {
	return std.Get(name)
}
