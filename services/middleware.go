package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/samber/lo"
)

// MiddlewareFunc wraps an endpoint's handler. Call 'next' to continue down the chain or return
// without calling it to short circuit the request.
type MiddlewareFunc func(ctx context.Context, req any, next HandlerFunc) (any, error)

// MiddlewareFuncs is an ordered chain of middleware; the first one is the outermost.
type MiddlewareFuncs []MiddlewareFunc

// Then wraps the handler in every middleware function so that the result runs the whole chain.
func (funcs MiddlewareFuncs) Then(handler HandlerFunc) HandlerFunc {
	return lo.ReduceRight(funcs, func(next HandlerFunc, mw MiddlewareFunc, _ int) HandlerFunc {
		return func(ctx context.Context, req any) (any, error) {
			return mw(ctx, req, next)
		}
	}, handler)
}

// Append returns a new chain with 'mw' running after (inside of) the existing functions.
// The original chain is left untouched.
func (funcs MiddlewareFuncs) Append(mw ...MiddlewareFunc) MiddlewareFuncs {
	return append(slices.Clone(funcs), mw...)
}

// recoverMiddleware is the outermost middleware on every endpoint. A panic anywhere below it
// fails just that one request and gets reported to the handler along with the stack.
func recoverMiddleware(handler OnPanicFunc) MiddlewareFunc {
	return func(ctx context.Context, req any, next HandlerFunc) (res any, err error) {
		defer func() {
			if recovery := recover(); recovery != nil {
				err = panicError(recovery)
				handler(err, debug.Stack())
			}
		}()
		return next(ctx, req)
	}
}

// panicError turns whatever value was passed to panic() into an error.
func panicError(recovery any) error {
	switch value := recovery.(type) {
	case error:
		return value
	case fmt.Stringer:
		return fail.Unexpected("%s", value.String())
	default:
		return fail.Unexpected("%v", value)
	}
}
