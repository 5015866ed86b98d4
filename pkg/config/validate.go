package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural problems: invalid field
// values, a default pointing at an undeclared store, dangling or cyclic
// aliases, and aliases shadowing store names.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if len(cfg.Stores) == 0 {
		return fmt.Errorf("at least one store must be declared")
	}
	for name := range cfg.Stores {
		if name == "" {
			return fmt.Errorf("store name must not be empty")
		}
	}

	if cfg.Default != "" {
		if err := resolvable(cfg, cfg.Default); err != nil {
			return fmt.Errorf("default store: %w", err)
		}
	}

	for alias, target := range cfg.Aliases {
		if _, shadowed := cfg.Stores[alias]; shadowed {
			return fmt.Errorf("alias %q shadows a declared store", alias)
		}
		if err := resolvable(cfg, alias); err != nil {
			return fmt.Errorf("alias %q -> %q: %w", alias, target, err)
		}
	}
	return nil
}

// resolvable walks the alias chain from name and checks it terminates at a
// declared store.
func resolvable(cfg *Config, name string) error {
	current := name
	for hops := 0; hops <= len(cfg.Aliases); hops++ {
		if _, ok := cfg.Stores[current]; ok {
			return nil
		}
		next, ok := cfg.Aliases[current]
		if !ok {
			return fmt.Errorf("%q does not resolve to a declared store", current)
		}
		current = next
	}
	return fmt.Errorf("alias cycle through %q", name)
}
