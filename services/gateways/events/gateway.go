package events

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bridgekit-io/mathteacher/codec"
	"github.com/bridgekit-io/mathteacher/eventsource"
	"github.com/bridgekit-io/mathteacher/eventsource/local"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/internal/wait"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
)

// NewGateway creates the publish/subscribe gateway. Every service call publishes a
// "Service.Method" event when it succeeds or "Service.Method.Error" when it fails, and
// endpoints with EVENTS routes run when a matching event arrives.
//
// Events stay inside this process unless WithBroker() supplies a distributed broker such as NATS.
func NewGateway(options ...GatewayOption) *Gateway {
	gw := &Gateway{
		codec:   codec.JSON{},
		broker:  local.Broker(),
		logger:  logging.Discard(),
		stopped: make(chan struct{}),
	}
	for _, option := range options {
		option(gw)
	}
	if gw.errorListener == nil {
		gw.errorListener = gw.logError
	}
	return gw
}

// Gateway runs endpoints in response to events. Create it with NewGateway().
type Gateway struct {
	codec         codec.Codec
	broker        eventsource.Broker
	logger        *slog.Logger
	errorListener ErrorListener
	inFlight      sync.WaitGroup

	mutex    sync.Mutex
	routes   []*route
	closing  bool
	stopped  chan struct{}
	stopOnce sync.Once
}

type route struct {
	key          string
	group        string
	handler      eventsource.EventHandlerFunc
	subscription eventsource.Subscription
}

func (gw *Gateway) logError(route metadata.EndpointRoute, err error) {
	gw.logger.Error(fmt.Sprintf("[%s] %v", route.QualifiedName(), err))
}

func (gw *Gateway) Type() services.GatewayType {
	return services.GatewayTypeEvents
}

// consumerGroup decides who shares an event. With no group, all instances of one endpoint
// share a group named after it, so each event runs once per endpoint. "*" gives every
// instance its own copy.
func consumerGroup(endpoint services.Endpoint, group string) string {
	switch group {
	case "":
		return endpoint.QualifiedName()
	case "*":
		return ""
	default:
		return group
	}
}

// Register subscribes the endpoint to its route's key once Listen() runs.
func (gw *Gateway) Register(endpoint services.Endpoint, endpointRoute services.EndpointRoute) {
	if endpointRoute.GatewayType != services.GatewayTypeEvents {
		return
	}

	r := &route{
		key:     endpointRoute.Path,
		group:   consumerGroup(endpoint, endpointRoute.Group),
		handler: gw.eventHandler(endpoint, endpointRoute.Metadata(endpointRoute.Path)),
	}

	gw.mutex.Lock()
	gw.routes = append(gw.routes, r)
	gw.mutex.Unlock()
}

// eventHandler decodes the envelope, then decodes its payload into the endpoint's input. The
// handler runs with the publisher's metadata but with its own route. Undecodable events are
// reported and dropped.
func (gw *Gateway) eventHandler(endpoint services.Endpoint, routeInfo metadata.EndpointRoute) eventsource.EventHandlerFunc {
	return func(ctx context.Context, msg *eventsource.EventMessage) error {
		if !gw.begin() {
			return fail.Unavailable("event gateway is shutting down: %s", msg.Key)
		}
		defer gw.inFlight.Done()

		var envelope message
		if err := gw.codec.Decode(bytes.NewReader(msg.Payload), &envelope); err != nil {
			gw.errorListener(routeInfo, fmt.Errorf("event decode error: %w", err))
			return nil
		}
		input := endpoint.NewInput()
		if err := gw.codec.Decode(bytes.NewReader(envelope.Payload), input); err != nil {
			gw.errorListener(routeInfo, fmt.Errorf("event payload decode error: %w", err))
			return nil
		}

		ctx = metadata.WithRoute(metadata.Decode(ctx, envelope.Metadata), routeInfo)
		if _, err := endpoint.Handler(ctx, input); err != nil {
			gw.errorListener(routeInfo, err)
			return err
		}
		return nil
	}
}

// begin registers an in-flight event unless Shutdown() has started. Adding to the wait
// group happens under the mutex so that it can never race with Shutdown() waiting on it.
func (gw *Gateway) begin() bool {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()
	if gw.closing {
		return false
	}
	gw.inFlight.Add(1)
	return true
}

// Middleware publishes an event after every service call, whichever gateway served it.
func (gw *Gateway) Middleware() services.MiddlewareFuncs {
	return services.MiddlewareFuncs{
		publishMiddleware(gw.broker, gw.codec, gw.errorListener),
	}
}

// Listen subscribes every registered route and then blocks until Shutdown() or until ctx
// is canceled. A failed subscription undoes the others.
func (gw *Gateway) Listen(ctx context.Context) error {
	select {
	case <-gw.stopped:
		return nil
	default:
	}

	gw.mutex.Lock()
	routes := slices.Clone(gw.routes)
	gw.mutex.Unlock()

	group, _ := fail.NewGroup(ctx)
	for _, r := range routes {
		group.Go(func() error {
			return gw.subscribe(ctx, r)
		})
	}
	if err := group.Wait(); err != nil {
		_ = gw.unsubscribe(context.Background())
		return fmt.Errorf("event gateway error: listen: %w", err)
	}

	select {
	case <-gw.stopped:
		return nil
	case <-ctx.Done():
		return gw.unsubscribe(context.Background())
	}
}

func (gw *Gateway) subscribe(ctx context.Context, r *route) error {
	var sub eventsource.Subscription
	var err error
	if r.group == "" {
		sub, err = gw.broker.Subscribe(ctx, r.key, r.handler)
	} else {
		sub, err = gw.broker.SubscribeGroup(ctx, r.key, r.group, r.handler)
	}

	gw.mutex.Lock()
	r.subscription = sub
	gw.mutex.Unlock()
	return err
}

// Shutdown stops listening for events and then waits, until ctx expires, for handlers
// that are still running.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	defer gw.stopOnce.Do(func() { close(gw.stopped) })

	gw.mutex.Lock()
	gw.closing = true
	gw.mutex.Unlock()

	if err := gw.unsubscribe(ctx); err != nil {
		return fmt.Errorf("event gateway error: shutdown: %w", err)
	}
	if err := wait.Group(ctx, &gw.inFlight); err != nil {
		gw.logger.Warn(fmt.Sprintf("Event gateway stopped with requests in flight: %v", err))
	}
	return nil
}

func (gw *Gateway) unsubscribe(ctx context.Context) error {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()

	group, _ := fail.NewGroup(ctx)
	for _, r := range gw.routes {
		if sub := r.subscription; sub != nil {
			r.subscription = nil
			group.Go(sub.Close)
		}
	}
	return group.Wait()
}

// GatewayOption customizes a Gateway created by NewGateway().
type GatewayOption func(gw *Gateway)

// WithBroker sets the broker used to publish and receive events. A nil broker is ignored.
func WithBroker(broker eventsource.Broker) GatewayOption {
	return func(gw *Gateway) {
		if broker != nil {
			gw.broker = broker
		}
	}
}

// WithCodec changes the format of the messages sent through the broker. By default, the
// gateway uses JSON. Every process publishing or subscribing to the same keys must agree.
func WithCodec(c codec.Codec) GatewayOption {
	return func(gw *Gateway) {
		if c != nil {
			gw.codec = c
		}
	}
}

// WithLogger sets the logger that the default error listener writes to.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(gw *Gateway) {
		if logger != nil {
			gw.logger = logger
		}
	}
}

// WithErrorListener replaces the default of logging asynchronous failures: events that could
// not be published or decoded, and event handlers that returned an error.
func WithErrorListener(listener ErrorListener) GatewayOption {
	return func(gw *Gateway) {
		gw.errorListener = listener
	}
}

// ErrorListener receives failures that happen outside of any caller's request.
type ErrorListener func(route metadata.EndpointRoute, err error)
