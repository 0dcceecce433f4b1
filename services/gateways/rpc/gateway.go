package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	grpcmeta "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// traceKey is the gRPC metadata key (always lower case on the wire) for the trace id.
var traceKey = strings.ToLower(metadata.TraceHeader)

// NewGateway creates a gateway that exposes service operations as unary gRPC methods. The
// 'address' is the "host:port" that the gRPC server binds to once Listen() is called.
//
// There is no generated code involved. Every RPC route's path is a gRPC full method name
// like "teacher.Calculator/Add", and the gateway assembles the service descriptors itself.
// Request/response values travel using codec.ProtoCodec, so they must implement codec.Message.
func NewGateway(address string, options ...GatewayOption) *Gateway {
	gw := Gateway{
		address:     address,
		logger:      logging.Discard(),
		health:      health.NewServer(),
		descriptors: map[string]*grpc.ServiceDesc{},
	}
	for _, option := range options {
		option(&gw)
	}

	serverOptions := append([]grpc.ServerOption{grpc.ForceServerCodec(codec.ProtoCodec{})}, gw.serverOptions...)
	gw.server = grpc.NewServer(serverOptions...)
	grpc_health_v1.RegisterHealthServer(gw.server, gw.health)
	return &gw
}

// Gateway encapsulates all of the gRPC server machinery required to route unary calls to
// service endpoints. You should not create one of these yourself; use NewGateway() instead.
type Gateway struct {
	address       string
	listener      net.Listener
	server        *grpc.Server
	serverOptions []grpc.ServerOption
	health        *health.Server
	logger        *slog.Logger

	mutex       sync.Mutex
	descriptors map[string]*grpc.ServiceDesc
	stopped     bool
}

// Type returns "RPC" to indicate the tagging value for this gateway.
func (gw *Gateway) Type() services.GatewayType {
	return services.GatewayTypeRPC
}

// Register adds a unary method for the given endpoint to the gRPC service named in the route
// path. A route path of "teacher.Calculator/Add" results in the full method "/teacher.Calculator/Add".
// Routes whose path doesn't look like "Service/Method" are ignored.
func (gw *Gateway) Register(endpoint services.Endpoint, route services.EndpointRoute) {
	if route.GatewayType != services.GatewayTypeRPC {
		return
	}

	serviceName, methodName, ok := splitFullMethod(route.Path)
	if !ok {
		gw.logger.Warn(fmt.Sprintf("Ignoring invalid RPC route '%s' for %s", route.Path, endpoint.QualifiedName()))
		return
	}

	gw.mutex.Lock()
	defer gw.mutex.Unlock()

	desc, ok := gw.descriptors[serviceName]
	if !ok {
		desc = &grpc.ServiceDesc{
			ServiceName: serviceName,
			HandlerType: (*any)(nil),
			Metadata:    serviceName,
		}
		gw.descriptors[serviceName] = desc
	}
	desc.Methods = append(desc.Methods, grpc.MethodDesc{
		MethodName: methodName,
		Handler:    gw.toMethodHandler(endpoint, route),
	})
}

// methodHandler is the shape grpc.MethodDesc expects for a unary method handler.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func (gw *Gateway) toMethodHandler(endpoint services.Endpoint, route services.EndpointRoute) methodHandler {
	fullMethod := "/" + strings.TrimPrefix(route.Path, "/")

	invoke := func(ctx context.Context, req any) (any, error) {
		ctx = metadata.WithRoute(ctx, route.Metadata(fullMethod))
		ctx = restoreMetadata(ctx)

		res, err := endpoint.Handler(ctx, req)
		if err != nil {
			return nil, fail.GRPCStatus(err).Err()
		}
		return res, nil
	}

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		// The runtime reports decoding failures with an Internal status for us.
		req := endpoint.NewInput()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, invoke)
	}
}

// restoreMetadata pulls the caller's address and trace id off of the incoming call so that
// handlers can access them through the metadata package.
func restoreMetadata(ctx context.Context) context.Context {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ctx = metadata.WithRemoteAddr(ctx, p.Addr.String())
	}

	traceID := ""
	if md, ok := grpcmeta.FromIncomingContext(ctx); ok {
		traceID = lo.FirstOr(md.Get(traceKey), "")
	}
	if traceID == "" {
		traceID = metadata.NewTraceID()
	}

	// Let the caller know which trace id we ended up with. Failing to send it is no reason to fail the call.
	_ = grpc.SetHeader(ctx, grpcmeta.Pairs(traceKey, traceID))
	return metadata.WithTraceID(ctx, traceID)
}

// Listen binds the gRPC server to the gateway's address (or the listener supplied via the
// WithListener() option) and serves calls until Shutdown() is called or the context is canceled.
func (gw *Gateway) Listen(ctx context.Context) error {
	gw.mutex.Lock()
	if gw.stopped {
		gw.mutex.Unlock()
		return nil
	}

	listener := gw.listener
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", gw.address); err != nil {
			gw.mutex.Unlock()
			return fmt.Errorf("rpc gateway error: listen: %w", err)
		}
	}

	for _, desc := range gw.descriptors {
		gw.server.RegisterService(desc, nil)
	}
	gw.descriptors = map[string]*grpc.ServiceDesc{}
	gw.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	gw.mutex.Unlock()

	stop := context.AfterFunc(ctx, gw.server.Stop)
	defer stop()

	gw.logger.Debug("RPC gateway listening on " + listener.Addr().String())
	if err := gw.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("rpc gateway error: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting new calls and waits for in-flight ones to finish. Once the context
// is canceled or hits its deadline, any remaining calls are terminated.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.mutex.Lock()
	gw.stopped = true
	gw.mutex.Unlock()

	gw.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		gw.server.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		gw.server.Stop()
		<-drained
		return nil
	}
}

// splitFullMethod breaks "teacher.Calculator/Add" into "teacher.Calculator" and "Add".
func splitFullMethod(path string) (string, string, bool) {
	serviceName, methodName, ok := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !ok || serviceName == "" || methodName == "" || strings.Contains(methodName, "/") {
		return "", "", false
	}
	return serviceName, methodName, true
}

// GatewayOption defines a setting you can apply when creating an RPC gateway via 'NewGateway()'.
type GatewayOption func(*Gateway)

// WithListener makes the gateway serve calls on an existing listener rather than binding to its
// address. Tests use this to run the gateway over an in-memory connection.
func WithListener(listener net.Listener) GatewayOption {
	return func(gw *Gateway) {
		gw.listener = listener
	}
}

// WithLogger sets the logger the gateway uses for its own diagnostics.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(gw *Gateway) {
		if logger != nil {
			gw.logger = logger
		}
	}
}

// WithServerOptions supplies additional options (interceptors, keepalive settings, etc.) to
// the underlying grpc.Server. The gateway always forces the protobuf codec.
func WithServerOptions(options ...grpc.ServerOption) GatewayOption {
	return func(gw *Gateway) {
		gw.serverOptions = append(gw.serverOptions, options...)
	}
}
