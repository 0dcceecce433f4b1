package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/juju/ratelimit"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial constructs the RPC client that does the "heavy lifting" when communicating with remote
// gRPC services. The 'target' is either a plain "host:port" or any target string that
// grpc.NewClient() understands (e.g. "passthrough:///bufconn").
//
// The underlying connection is established lazily, so an unreachable server surfaces as an
// Unavailable error on the first call rather than here.
func Dial(target string, options ...ClientOption) (*Client, error) {
	client := Client{
		Target:     strings.TrimSpace(target),
		middleware: ClientMiddlewareFuncs{},
	}
	for _, option := range options {
		option(&client)
	}
	if client.Target == "" {
		return nil, fail.BadRequest("rpc client: target address is required")
	}

	// Let the user's custom middleware do whatever it wants to the context/request
	// before our standard middleware finalizes everything.
	client.middleware = append(client.middleware, writeTraceID)

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec.ProtoCodec{})),
		grpc.WithChainUnaryInterceptor(client.middleware.Interceptor()),
	}, client.dialOptions...)

	conn, err := grpc.NewClient(client.Target, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("rpc client: dial %s: %w", client.Target, err)
	}
	client.conn = conn
	return &client, nil
}

// ClientOption is a single configurable setting that modifies some attribute of the RPC client
// when building one via Dial().
type ClientOption func(*Client)

// Client manages all RPC communication with remote services over a single gRPC connection.
// It is safe for concurrent use.
type Client struct {
	// Target is the gRPC target (typically "host:port") this client connects to.
	Target string

	conn        *grpc.ClientConn
	dialOptions []grpc.DialOption
	middleware  ClientMiddlewareFuncs
	breaker     *gobreaker.CircuitBreaker
	bucket      *ratelimit.Bucket
}

// Invoke performs a unary call to the given full method name (e.g. "/teacher.Calculator/Add"),
// encoding 'req' and decoding the reply onto 'res'. Failures are converted to fail.StatusError
// values, so the usual fail.IsXxx() checks work on them.
func (client *Client) Invoke(ctx context.Context, fullMethod string, req any, res any) error {
	if client.bucket != nil {
		client.bucket.Wait(1)
	}

	call := func() error {
		return fail.FromGRPC(client.conn.Invoke(ctx, fullMethod, req, res))
	}
	if client.breaker == nil {
		return call()
	}

	_, err := client.breaker.Execute(func() (any, error) {
		return nil, call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fail.Unavailable("rpc client: %s: %v", client.breaker.Name(), err)
	}
	return err
}

// Close tears down the underlying connection. The client is unusable afterwards.
func (client *Client) Close() error {
	if client.conn == nil {
		return nil
	}
	return client.conn.Close()
}

// WithDialOptions supplies additional options used to establish the gRPC connection such as
// a custom dialer.
func WithDialOptions(options ...grpc.DialOption) ClientOption {
	return func(client *Client) {
		client.dialOptions = append(client.dialOptions, options...)
	}
}

// WithMiddleware sets the chain of client middleware functions that run before every call
// goes out over the wire.
func WithMiddleware(funcs ...ClientMiddlewareFunc) ClientOption {
	return func(client *Client) {
		client.middleware = funcs
	}
}

// WithCircuitBreaker wraps every call in a circuit breaker built from the given settings. Once
// the breaker trips, calls fail fast with an Unavailable error until it lets requests through again.
func WithCircuitBreaker(settings gobreaker.Settings) ClientOption {
	return func(client *Client) {
		client.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// WithRateLimit throttles outgoing calls using the given token bucket. Each call takes one token,
// blocking until one is available.
func WithRateLimit(bucket *ratelimit.Bucket) ClientOption {
	return func(client *Client) {
		client.bucket = bucket
	}
}
