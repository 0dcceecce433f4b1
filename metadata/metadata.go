// Package metadata carries the request-scoped values that follow a calculation around: the
// trace id, the caller's network address, and the route that triggered it.
package metadata

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// TraceHeader is the HTTP header/gRPC metadata key used to carry trace ids between processes.
const TraceHeader = "X-Request-ID"

// UnknownAddr is the placeholder reported by RemoteAddr() when the caller's network
// address could not be determined.
const UnknownAddr = "unknown"

type contextKey int

const (
	keyTraceID contextKey = iota
	keyRemoteAddr
	keyRoute
)

func lookup[T any](ctx context.Context, key contextKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	value, ok := ctx.Value(key).(T)
	return value, ok
}

func store(ctx context.Context, key contextKey, value any) context.Context {
	if ctx == nil {
		return nil
	}
	return context.WithValue(ctx, key, value)
}

// TraceID returns the identifier used to follow a request as it goes from service to service.
func TraceID(ctx context.Context) string {
	id, _ := lookup[string](ctx, keyTraceID)
	return id
}

// WithTraceID stores the trace id on the request context. The gateways infer, generate, and
// propagate this for you, so you rarely need to call it yourself.
func WithTraceID(ctx context.Context, id string) context.Context {
	return store(ctx, keyTraceID, id)
}

// NewTraceID generates a random (UUID) trace id for callers that didn't supply one.
func NewTraceID() string {
	return uuid.NewString()
}

// RemoteAddr returns the network address of the client that made the current request
// (e.g. "[::1]:53412"). This never fails: when the gateway could not determine the address,
// or the operation was invoked in-process, you get UnknownAddr instead.
func RemoteAddr(ctx context.Context) string {
	if addr, ok := lookup[string](ctx, keyRemoteAddr); ok {
		return addr
	}
	return UnknownAddr
}

// WithRemoteAddr stores the caller's network address on the request context. Blank values
// are ignored so that RemoteAddr() keeps reporting whatever it did before.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	if addr = strings.TrimSpace(addr); addr == "" || ctx == nil {
		return ctx
	}
	return store(ctx, keyRemoteAddr, addr)
}

// Route returns info about the endpoint currently being invoked.
func Route(ctx context.Context) EndpointRoute {
	route, _ := lookup[EndpointRoute](ctx, keyRoute)
	return route
}

// WithRoute stores the endpoint being invoked. The gateways and services.Server do this for you.
func WithRoute(ctx context.Context, route EndpointRoute) context.Context {
	return store(ctx, keyRoute, route)
}

// transport is the subset of request metadata that follows an invocation when it triggers
// other work asynchronously (e.g. event handlers firing after Calculator.Add completes).
type transport struct {
	TraceID    string `json:",omitempty"`
	RemoteAddr string `json:",omitempty"`
}

// EncodedBytes is the JSON representation of a context's metadata.
type EncodedBytes string

// Encode captures the context's metadata so that it can be carried along with an event.
// The route is not included; the receiving side has a route of its own.
func Encode(ctx context.Context) EncodedBytes {
	meta := transport{TraceID: TraceID(ctx)}
	if addr := RemoteAddr(ctx); addr != UnknownAddr {
		meta.RemoteAddr = addr
	}
	if meta == (transport{}) {
		return ""
	}

	encodedJSON, _ := json.Marshal(meta)
	return EncodedBytes(encodedJSON)
}

// Decode restores metadata captured by Encode() onto the given context. Garbage input
// results in a context with default values rather than an error.
func Decode(ctx context.Context, encodedMetadata EncodedBytes) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	meta := transport{}
	_ = json.Unmarshal([]byte(encodedMetadata), &meta)

	ctx = WithTraceID(ctx, meta.TraceID)
	return WithRemoteAddr(ctx, meta.RemoteAddr)
}
