package codec

import (
	"io"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// Encoder writes service structs in some data format (JSON, MessagePack, etc).
type Encoder interface {
	// ContentType is the MIME type of the data this encoder writes (e.g. "application/json").
	ContentType() string
	// Encode writes the formatted value to the writer.
	Encode(writer io.Writer, value any) error
}

// Decoder reads data in some format back onto service structs.
type Decoder interface {
	// Decode reads the formatted data onto 'out'. A nil reader or http.NoBody leaves 'out' untouched.
	Decode(reader io.Reader, out any) error
}

// Codec is a data format we can both read and write.
type Codec interface {
	Encoder
	Decoder
}

// New creates the registry used by the HTTP gateway. JSON is the fallback while MessagePack
// is available to callers that ask for it via Content-Type/Accept headers.
func New() *Registry {
	registry := NewRegistry(JSON{})
	registry.Register(Msgpack{}, "application/x-msgpack")
	return registry
}

// NewRegistry creates a registry whose only format is the fallback. Use Register to add more.
func NewRegistry(fallback Codec) *Registry {
	registry := &Registry{fallback: fallback, codecs: map[string]Codec{}}
	registry.Register(fallback)
	return registry
}

// Registry picks the Codec to use for a request based on the media types the caller sent
// (Content-Type) or is willing to receive (Accept).
type Registry struct {
	fallback Codec
	codecs   map[string]Codec
}

// Register makes the codec available under its own content type plus any aliases.
func (reg *Registry) Register(codec Codec, aliases ...string) {
	for _, contentType := range append([]string{codec.ContentType()}, aliases...) {
		reg.codecs[strings.ToLower(contentType)] = codec
	}
}

// Fallback is the codec used when the caller has no preference we support.
func (reg *Registry) Fallback() Codec {
	return reg.fallback
}

// Lookup returns the codec for the first content type we support, or the fallback.
func (reg *Registry) Lookup(contentTypes ...string) Codec {
	contentType, ok := lo.Find(contentTypes, func(contentType string) bool {
		_, ok := reg.codecs[contentType]
		return ok
	})
	if !ok {
		return reg.fallback
	}
	return reg.codecs[contentType]
}

// ContentTypes breaks down a Content-Type or Accept header value into the bare media types
// it lists, in order. Parameters such as "charset=utf-8" or "q=0.9" are dropped, so the header
// "application/json; charset=utf-8, application/msgpack;q=0.5" results in the slice
// ["application/json", "application/msgpack"].
func ContentTypes(header string) []string {
	var contentTypes []string
	for _, part := range strings.Split(header, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		if mediaType != "" {
			contentTypes = append(contentTypes, mediaType)
		}
	}
	return contentTypes
}

// emptyBody reports whether there's nothing at all to decode.
func emptyBody(reader io.Reader) bool {
	return reader == nil || reader == http.NoBody
}
