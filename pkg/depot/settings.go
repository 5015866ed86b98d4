package depot

import (
	"context"
	"fmt"
	"strings"
)

// DefaultSettingsPrefix is the prefix FromSettings strips when none is
// given.
const DefaultSettingsPrefix = "depot."

// FromSettings configures a store from a flat settings map, as loaded from
// environment variables or INI-style configuration. Keys carrying the prefix
// are stripped of it and handed to the driver as options:
//
//	depot.backend = s3
//	depot.bucket  = avatars
//
// with the default prefix configures an S3 store with a "bucket" option.
// Keys without the prefix are ignored. The backend defaults to "local" when
// the settings do not name one.
func (r *Registry) FromSettings(ctx context.Context, name string, settings map[string]any, prefix string) (Storage, error) {
	if prefix == "" {
		prefix = DefaultSettingsPrefix
	}

	options := make(map[string]any)
	for key, value := range settings {
		if strings.HasPrefix(key, prefix) {
			options[strings.TrimPrefix(key, prefix)] = value
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("store %q: no settings with prefix %q", name, prefix)
	}
	return r.Configure(ctx, name, options)
}
