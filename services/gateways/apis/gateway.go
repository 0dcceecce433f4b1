package apis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/dimfeld/httptreemux/v5"
	"github.com/rs/cors"
)

// NewGateway builds the HTTP/JSON gateway. Each operation is reachable as "POST /Service.Method"
// with a JSON or MessagePack body, chosen by the Content-Type and Accept headers.
func NewGateway(address string, options ...GatewayOption) *Gateway {
	gw := &Gateway{
		router: httptreemux.New(),
		codecs: codec.New(),
		paths:  map[string]struct{}{},
		logger: logging.Discard(),
	}
	gw.server = &http.Server{Addr: address, Handler: gw.router}
	for _, option := range options {
		option(gw)
	}

	gw.router.NotFoundHandler = gw.notFound
	gw.router.MethodNotAllowedHandler = func(w http.ResponseWriter, req *http.Request, _ map[string]httptreemux.HandlerFunc) {
		gw.methodNotAllowed(w, req)
	}
	for _, raw := range gw.handlers {
		gw.router.UsingContext().Handler(raw.method, raw.path, raw.handler)
	}
	return gw
}

// Gateway serves service endpoints over HTTP using an httptreemux router. Create it
// with NewGateway().
type Gateway struct {
	codecs     *codec.Registry
	middleware HTTPMiddlewareFuncs
	router     *httptreemux.TreeMux
	server     *http.Server
	cors       *cors.Cors
	handlers   []rawHandler
	logger     *slog.Logger
	tlsCert    string
	tlsKey     string

	mutex sync.Mutex
	// paths that already have an OPTIONS route.
	paths   map[string]struct{}
	stopped bool
}

func (gw *Gateway) Type() services.GatewayType {
	return services.GatewayTypeAPI
}

// Listen binds the address and serves until Shutdown() or until ctx is canceled, which
// closes the server without waiting. A graceful stop returns nil.
func (gw *Gateway) Listen(ctx context.Context) error {
	listener, err := gw.listen()
	if err != nil || listener == nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = gw.server.Close() })
	defer stop()

	gw.logger.Debug("API gateway listening on " + listener.Addr().String())
	if gw.UseTLS() {
		err = gw.server.ServeTLS(listener, gw.tlsCert, gw.tlsKey)
	} else {
		err = gw.server.Serve(listener)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api gateway error: %w", err)
	}
	return nil
}

// listen returns a nil listener when the gateway was shut down before it ever started.
func (gw *Gateway) listen() (net.Listener, error) {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()

	if gw.stopped {
		return nil, nil
	}
	listener, err := net.Listen("tcp", gw.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("api gateway error: listen: %w", err)
	}
	return listener, nil
}

// Shutdown waits for in-flight requests until ctx expires, then closes the server regardless.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.mutex.Lock()
	gw.stopped = true
	gw.mutex.Unlock()

	err := gw.server.Shutdown(ctx)
	if err == nil {
		return nil
	}
	_ = gw.server.Close()
	return fmt.Errorf("api gateway error: shutdown: %w", err)
}

// ServeHTTP lets the gateway's routes be used without Listen(), e.g. from httptest.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	gw.router.ServeHTTP(w, req)
}

// Register mounts an API route. Routes for other gateway types are ignored.
func (gw *Gateway) Register(endpoint services.Endpoint, route services.EndpointRoute) {
	if route.GatewayType != services.GatewayTypeAPI {
		return
	}

	path := normalizePath(route.Path)
	pipeline := HTTPMiddlewareFuncs{
		applyCorsHeaders(gw.cors),
		recoverFromPanic(gw.codecs),
		requestContext(route),
	}
	handler := pipeline.Append(gw.middleware...).Then(gw.endpointHandler(endpoint, route))

	gw.mutex.Lock()
	defer gw.mutex.Unlock()
	gw.router.UsingContext().Handle(strings.ToUpper(route.Method), path, handler)

	// CORS preflight needs an OPTIONS route; without CORS it just answers 405.
	if _, ok := gw.paths[path]; !ok {
		gw.paths[path] = struct{}{}
		preflight := HTTPMiddlewareFuncs{applyCorsHeaders(gw.cors)}.Then(gw.methodNotAllowed)
		gw.router.UsingContext().Handle(http.MethodOptions, path, preflight)
	}
}

func (gw *Gateway) endpointHandler(endpoint services.Endpoint, route services.EndpointRoute) http.HandlerFunc {
	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}

	return func(w http.ResponseWriter, req *http.Request) {
		encoder := gw.encoderFor(req)
		decoder := gw.codecs.Lookup(codec.ContentTypes(req.Header.Get("Content-Type"))...)

		input := endpoint.NewInput()
		if err := decoder.Decode(req.Body, input); err != nil {
			respondFailure(w, encoder, fail.BadRequest("invalid request body: %v", err))
			return
		}
		output, err := endpoint.Handler(req.Context(), input)
		if err != nil {
			respondFailure(w, encoder, err)
			return
		}
		respond(w, encoder, status, output)
	}
}

// UseTLS reports whether Listen() serves HTTPS.
func (gw *Gateway) UseTLS() bool {
	return gw.tlsCert != "" || gw.tlsKey != "" || gw.server.TLSConfig != nil
}

// encoderFor picks the response codec from the Accept header, falling back to JSON.
func (gw *Gateway) encoderFor(req *http.Request) codec.Encoder {
	return gw.codecs.Lookup(codec.ContentTypes(req.Header.Get("Accept"))...)
}

func (gw *Gateway) methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	respondFailure(w, gw.encoderFor(req), fail.MethodNotAllowed("method not allowed: %v", req.Method))
}

func (gw *Gateway) notFound(w http.ResponseWriter, req *http.Request) {
	respondFailure(w, gw.encoderFor(req), fail.NotFound("not found: %s %s", req.Method, req.URL.Path))
}

// normalizePath roots a route path: "Calculator.Add" becomes "/Calculator.Add".
func normalizePath(path string) string {
	return "/" + strings.TrimPrefix(strings.TrimSpace(path), "/")
}

// respondFailure writes the error as {"Status":..., "Message":...} with the matching HTTP status.
func respondFailure(w http.ResponseWriter, encoder codec.Encoder, err error) {
	status := fail.Status(err)
	respond(w, encoder, status, fail.New(status, "%s", err.Error()))
}

func respond(w http.ResponseWriter, encoder codec.Encoder, status int, body any) {
	w.Header().Set("Content-Type", encoder.ContentType())
	w.WriteHeader(status)
	_ = encoder.Encode(w, body)
}

// rawHandler is a plain HTTP handler mounted next to the service endpoints (e.g. "GET /metrics").
type rawHandler struct {
	method  string
	path    string
	handler http.Handler
}

// GatewayOption customizes a Gateway created by NewGateway().
type GatewayOption func(*Gateway)

// WithMiddleware adds HTTP-specific middleware that runs after the gateway's own bookkeeping
// and before the endpoint. Logic that should apply to every gateway belongs in
// services.MiddlewareFunc instead.
func WithMiddleware(funcs ...HTTPMiddlewareFunc) GatewayOption {
	return func(gw *Gateway) {
		gw.middleware = append(gw.middleware, funcs...)
	}
}

// WithCORS enables cross-origin requests from browsers using the given settings.
func WithCORS(options cors.Options) GatewayOption {
	return func(gw *Gateway) {
		gw.cors = cors.New(options)
	}
}

// WithHandler mounts a plain HTTP handler on the gateway's router in addition to the service
// endpoints. The server uses this to expose "GET /metrics".
func WithHandler(method string, path string, handler http.Handler) GatewayOption {
	return func(gw *Gateway) {
		gw.handlers = append(gw.handlers, rawHandler{
			method:  strings.ToUpper(method),
			path:    normalizePath(path),
			handler: handler,
		})
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

// WithTLSConfig serves HTTPS using the given config.
func WithTLSConfig(config *tls.Config) GatewayOption {
	return func(gw *Gateway) {
		gw.server.TLSConfig = config
	}
}

// WithTLSFiles serves HTTPS using the certificate and key files.
func WithTLSFiles(certFile string, keyFile string) GatewayOption {
	return func(gw *Gateway) {
		gw.tlsCert = certFile
		gw.tlsKey = keyFile
	}
}
