package codec

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack reads and writes "application/msgpack". Field names follow the "json" struct tags
// so that both formats share one naming scheme.
type Msgpack struct{}

// ContentType returns "application/msgpack".
func (Msgpack) ContentType() string {
	return "application/msgpack"
}

// Encode writes the MessagePack representation of the value.
func (Msgpack) Encode(writer io.Writer, value any) error {
	if writer == nil {
		return fmt.Errorf("msgpack codec: encode: nil writer")
	}
	enc := msgpack.NewEncoder(writer)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("msgpack codec: encode: %w", err)
	}
	return nil
}

// Decode reads a single MessagePack value onto 'out'.
func (Msgpack) Decode(reader io.Reader, out any) error {
	if emptyBody(reader) {
		return nil
	}
	dec := msgpack.NewDecoder(reader)
	dec.SetCustomStructTag("json")
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("msgpack codec: decode: %w", err)
	}
	return nil
}
