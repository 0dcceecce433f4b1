package clients

import (
	"context"
	"strings"

	"github.com/bridgekit-io/mathteacher/metadata"
	"google.golang.org/grpc"
	grpcmeta "google.golang.org/grpc/metadata"
)

// InvokerFunc performs the actual unary call (or the rest of the middleware chain leading up to it).
type InvokerFunc func(ctx context.Context, method string, req any, res any) error

// ClientMiddlewareFunc accepts the outgoing call info, but also accepts 'next' (the rest of
// the computation) so that you can short circuit the execution as you see fit.
type ClientMiddlewareFunc func(ctx context.Context, method string, req any, res any, next InvokerFunc) error

// ClientMiddlewareFuncs is an ordered chain of client middleware handlers that should fire
// one after another.
type ClientMiddlewareFuncs []ClientMiddlewareFunc

// Then creates a single invoker that runs every middleware function and terminates with 'invoker'.
func (funcs ClientMiddlewareFuncs) Then(invoker InvokerFunc) InvokerFunc {
	for i := len(funcs) - 1; i >= 0; i-- {
		mw := funcs[i]
		next := invoker
		invoker = func(ctx context.Context, method string, req any, res any) error {
			return mw(ctx, method, req, res, next)
		}
	}
	return invoker
}

// Interceptor adapts the chain so that it runs as a gRPC unary client interceptor.
func (funcs ClientMiddlewareFuncs) Interceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return funcs.Then(func(ctx context.Context, method string, req any, res any) error {
			return invoker(ctx, method, req, res, cc, opts...)
		})(ctx, method, req, reply)
	}
}

// writeTraceID forwards the context's trace id to the remote service so that both sides of
// the call log the same id.
func writeTraceID(ctx context.Context, method string, req any, res any, next InvokerFunc) error {
	if traceID := metadata.TraceID(ctx); traceID != "" {
		ctx = grpcmeta.AppendToOutgoingContext(ctx, strings.ToLower(metadata.TraceHeader), traceID)
	}
	return next(ctx, method, req, res)
}
