package depot

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeOptions decodes a driver options map into a typed config struct.
// Decoding is weakly typed, so settings that arrive as strings from flat
// configuration sources still fill numeric and boolean fields; durations
// decode from "30s" notation and fields implementing
// encoding.TextUnmarshaler, such as byte sizes, decode from their text form.
// Keys the config does not declare, such as "backend", are ignored.
func DecodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("building options decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}
	return nil
}
