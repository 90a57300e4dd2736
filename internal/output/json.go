// Package output serializes records as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// Encode writes v as one JSON document followed by a newline. Pretty output
// is indented by two spaces.
func Encode(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

// Marshal is Encode into a byte slice, without the trailing newline.
func Marshal(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// IsPretty maps an output format name to the pretty flag.
func IsPretty(format string) bool {
	return format != "json"
}
