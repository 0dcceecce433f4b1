package codec

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSON reads and writes "application/json" using the standard encoding/json package.
type JSON struct{}

// ContentType returns "application/json".
func (JSON) ContentType() string {
	return "application/json"
}

// Encode writes the value's JSON followed by a newline.
func (JSON) Encode(writer io.Writer, value any) error {
	if writer == nil {
		return fmt.Errorf("json codec: encode: nil writer")
	}
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		return fmt.Errorf("json codec: encode: %w", err)
	}
	return nil
}

// Decode reads a single JSON value onto 'out'. Numbers that don't fit the target field
// (e.g. 2^31 into an int32) are errors, not silent truncation.
func (JSON) Decode(reader io.Reader, out any) error {
	if emptyBody(reader) {
		return nil
	}
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return fmt.Errorf("json codec: decode: %w", err)
	}
	return nil
}
