package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/internal/wait"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/samber/lo"
)

// Service bundles a handler with the endpoints that gateways use to reach it.
type Service struct {
	Name      string
	Version   string
	Handler   any
	Endpoints []Endpoint
}

// Endpoint finds the operation with the given method name.
func (svc Service) Endpoint(name string) (Endpoint, bool) {
	return lo.Find(svc.Endpoints, func(endpoint Endpoint) bool {
		return endpoint.Name == name
	})
}

// Server ties services to the gateways that expose them and runs those gateways
// until it is shut down. Build one using NewServer().
//
//	handler := calculator.NewCalculatorServiceHandler(logger)
//	server := services.NewServer(
//		services.Listen(rpc.NewGateway("[::1]:10000")),
//		services.Register(gen.CalculatorServiceServer(handler)),
//	)
//	go server.ShutdownOnInterrupt(ctx, 10*time.Second)
//	err := server.Run(ctx)
type Server struct {
	logger    *slog.Logger
	onPanic   OnPanicFunc
	gateways  map[GatewayType]Gateway
	services  []*Service
	endpoints map[string]Endpoint
	// stopped is closed by the first Shutdown() so that Run() can return.
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewServer applies the options and then registers every service endpoint with the
// gateways named by its routes.
func NewServer(options ...ServerOption) *Server {
	server := &Server{
		logger:    logging.Discard(),
		gateways:  map[GatewayType]Gateway{},
		endpoints: map[string]Endpoint{},
		stopped:   make(chan struct{}),
	}
	for _, option := range options {
		option(server)
	}
	if server.onPanic == nil {
		server.onPanic = server.logPanic
	}

	pipeline := MiddlewareFuncs{recoverMiddleware(server.onPanic)}.Append(server.gatewayMiddleware()...)
	for _, service := range server.services {
		for _, endpoint := range service.Endpoints {
			server.mount(endpoint, pipeline)
		}
	}
	return server
}

func (server *Server) logPanic(err error, stack []byte) {
	server.logger.Error(fmt.Sprintf("Panic: %v\n%s", err, stack))
}

// gatewayMiddleware collects the middleware that gateways want applied to all endpoints.
func (server *Server) gatewayMiddleware() MiddlewareFuncs {
	var funcs MiddlewareFuncs
	for _, gw := range server.gateways {
		if mw, ok := gw.(GatewayMiddleware); ok {
			funcs = append(funcs, mw.Middleware()...)
		}
	}
	return funcs
}

// mount wraps the endpoint's handler in the server pipeline and hands it to its gateways.
// Panic recovery is always outermost.
func (server *Server) mount(endpoint Endpoint, pipeline MiddlewareFuncs) {
	endpoint.Handler = pipeline.Then(endpoint.Handler)
	server.endpoints[endpoint.QualifiedName()] = endpoint

	for _, route := range endpoint.Routes {
		gw, ok := server.gateways[route.GatewayType]
		if !ok {
			continue
		}
		gw.Register(endpoint, route)
	}
}

// Routes lists the routes registered for one gateway type, ordered by path and method.
func (server *Server) Routes(gatewayType GatewayType) []EndpointRoute {
	var routes []EndpointRoute
	for _, service := range server.services {
		for _, endpoint := range service.Endpoints {
			routes = append(routes, lo.Filter(endpoint.Routes, func(route EndpointRoute, _ int) bool {
				return route.GatewayType == gatewayType
			})...)
		}
	}
	slices.SortFunc(routes, func(a, b EndpointRoute) int {
		if byPath := strings.Compare(a.Path, b.Path); byPath != 0 {
			return byPath
		}
		return strings.Compare(a.Method, b.Method)
	})
	return routes
}

// Invoke runs an endpoint in-process, bypassing every gateway. It goes through the same
// middleware pipeline a gateway call would.
func (server *Server) Invoke(ctx context.Context, serviceName string, methodName string, req any) (any, error) {
	route := metadata.EndpointRoute{ServiceName: serviceName, Name: methodName, Status: 200}
	endpoint, ok := server.endpoints[route.QualifiedName()]
	if !ok {
		return nil, fail.NotFound("server operation not found: %s", route.QualifiedName())
	}
	return endpoint.Handler(metadata.WithRoute(ctx, route), req)
}

// Run starts every gateway and blocks until Shutdown() finishes or ctx is canceled.
// When one gateway fails to start, the others are stopped and the failures are returned.
func (server *Server) Run(ctx context.Context) error {
	group, groupCtx := fail.NewGroup(ctx)
	for _, gw := range server.gateways {
		server.logger.Info("Starting gateway: " + gw.Type().String())
		group.Go(func() error {
			return gw.Listen(groupCtx)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Listeners are done, but Shutdown() may still be draining in-flight requests.
	select {
	case <-server.stopped:
	case <-ctx.Done():
	}
	return nil
}

// Shutdown stops every gateway, giving in-flight requests until ctx expires to finish.
// It is safe to call more than once.
func (server *Server) Shutdown(ctx context.Context) error {
	defer server.stopOnce.Do(func() { close(server.stopped) })

	group, _ := fail.NewGroup(ctx)
	for _, gw := range server.gateways {
		group.Go(func() error {
			return gw.Shutdown(ctx)
		})
	}
	return group.Wait()
}

// ShutdownOnInterrupt waits for SIGINT/SIGTERM (or for ctx to be done) and then calls
// Shutdown(), allowing gracefulTimeout for in-flight requests. Run it in its own goroutine.
func (server *Server) ShutdownOnInterrupt(ctx context.Context, gracefulTimeout time.Duration) {
	interrupt, stop := wait.Interrupt()
	defer stop()

	select {
	case <-interrupt:
	case <-ctx.Done():
	}

	server.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		server.logger.Error(fmt.Sprintf("Error shutting down services: %v", err))
	}
}

// ServerOption customizes a Server created by NewServer().
type ServerOption func(*Server)

// Listen adds a gateway. A second gateway of the same type replaces the first.
func Listen(gw Gateway) ServerOption {
	return func(server *Server) {
		server.gateways[gw.Type()] = gw
	}
}

// Register adds services whose endpoints should be exposed through the server's gateways.
func Register(services ...*Service) ServerOption {
	return func(server *Server) {
		server.services = append(server.services, services...)
	}
}

// OnPanicFunc observes a panic recovered from an endpoint handler.
type OnPanicFunc func(err error, stack []byte)

// OnPanic replaces the default behavior of writing recovered panics to the server's logger.
func OnPanic(handler OnPanicFunc) ServerOption {
	return func(server *Server) {
		server.onPanic = handler
	}
}

// WithLogger sets the logger that receives the server's lifecycle messages. A nil logger is ignored.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}
