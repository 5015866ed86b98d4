package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/pkg/depot"
)

// BuildRegistry constructs a registry with every declared store configured,
// aliases installed, and the default store selected. Store construction
// reaches the backends, so a bad credential or unreachable endpoint fails
// here rather than on the first request.
func BuildRegistry(ctx context.Context, cfg *Config) (*depot.Registry, error) {
	reg := depot.NewRegistry()

	// Deterministic order: the configured default first, then the rest
	// sorted, so the registry's first-store-is-default rule agrees with
	// the file even before SetDefault runs.
	names := make([]string, 0, len(cfg.Stores))
	for name := range cfg.Stores {
		if name != cfg.Default {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if cfg.Default != "" {
		if _, declared := cfg.Stores[cfg.Default]; declared {
			names = append([]string{cfg.Default}, names...)
		}
	}

	for _, name := range names {
		options := cfg.Stores[name]
		if _, err := reg.Configure(ctx, name, options); err != nil {
			return nil, err
		}
		backend, _ := options["backend"].(string)
		if backend == "" {
			backend = "local"
		}
		logger.Info("configured store",
			logger.Store(name),
			logger.Backend(backend))
	}

	// The registry accepts an alias only once its target resolves, so
	// chained aliases must be installed target-first. Sweep until a pass
	// makes no progress; whatever remains is dangling or cyclic and the
	// registry's error for it is reported.
	pending := make(map[string]string, len(cfg.Aliases))
	for alias, target := range cfg.Aliases {
		pending[alias] = target
	}
	for len(pending) > 0 {
		progressed := false
		aliases := make([]string, 0, len(pending))
		for alias := range pending {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			if err := reg.Alias(alias, pending[alias]); err != nil {
				continue
			}
			delete(pending, alias)
			progressed = true
		}
		if !progressed {
			return nil, reg.Alias(aliases[0], pending[aliases[0]])
		}
	}

	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return nil, fmt.Errorf("selecting default store: %w", err)
		}
	}
	return reg, nil
}
