package apis

import (
	"net/http"
	"slices"
	"strings"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/rs/cors"
	"github.com/samber/lo"
)

// MetadataHeader holds the caller's encoded metadata (see metadata.Encode) so that a trace
// id survives a hop from one service to the next.
const MetadataHeader = "X-RPC-Metadata"

// HTTPMiddlewareFunc wraps raw HTTP handling for an API route. Call next to continue.
type HTTPMiddlewareFunc func(w http.ResponseWriter, req *http.Request, next http.HandlerFunc)

// HTTPMiddlewareFuncs runs in order, the first one outermost.
type HTTPMiddlewareFuncs []HTTPMiddlewareFunc

// Append returns a new pipeline with functions added after the receiver's.
func (funcs HTTPMiddlewareFuncs) Append(functions ...HTTPMiddlewareFunc) HTTPMiddlewareFuncs {
	return append(slices.Clone(funcs), functions...)
}

// Then wraps handler in the whole pipeline.
func (funcs HTTPMiddlewareFuncs) Then(handler http.HandlerFunc) http.HandlerFunc {
	return lo.ReduceRight(funcs, func(next http.HandlerFunc, mw HTTPMiddlewareFunc, _ int) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			mw(w, req, next)
		}
	}, handler)
}

// recoverFromPanic turns a panic in HTTP middleware into a 500 response. The services.Server
// already recovers panics raised by service handlers.
func recoverFromPanic(codecs *codec.Registry) HTTPMiddlewareFunc {
	return func(w http.ResponseWriter, req *http.Request, next http.HandlerFunc) {
		defer func() {
			recovery := recover()
			if recovery == nil {
				return
			}
			encoder := codecs.Lookup(codec.ContentTypes(req.Header.Get("Accept"))...)
			respondFailure(w, encoder, fail.Unexpected("%v", recovery))
		}()
		next(w, req)
	}
}

// requestContext fills the request context with everything a handler may read through the
// metadata package. In order: values forwarded in MetadataHeader, the connection's remote
// address, the route for this call, and a trace id. The trace id is reused from the forwarded
// metadata or the X-Request-ID header when present and echoed back in the response.
func requestContext(route services.EndpointRoute) HTTPMiddlewareFunc {
	return func(w http.ResponseWriter, req *http.Request, next http.HandlerFunc) {
		ctx := metadata.Decode(req.Context(), metadata.EncodedBytes(req.Header.Get(MetadataHeader)))
		ctx = metadata.WithRemoteAddr(ctx, req.RemoteAddr)
		ctx = metadata.WithRoute(ctx, route.Metadata(req.URL.Path))

		traceID := lo.CoalesceOrEmpty(
			metadata.TraceID(ctx),
			strings.TrimSpace(req.Header.Get(metadata.TraceHeader)),
		)
		if traceID == "" {
			traceID = metadata.NewTraceID()
		}
		w.Header().Set(metadata.TraceHeader, traceID)

		next(w, req.WithContext(metadata.WithTraceID(ctx, traceID)))
	}
}

// applyCorsHeaders answers preflight requests and decorates responses when CORS is enabled.
func applyCorsHeaders(c *cors.Cors) HTTPMiddlewareFunc {
	if c == nil {
		return func(w http.ResponseWriter, req *http.Request, next http.HandlerFunc) {
			next(w, req)
		}
	}
	return c.ServeHTTP
}
