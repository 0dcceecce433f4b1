package services

import (
	"context"
)

// GatewayType classifies a gateway so that routes can find the one that should serve them.
type GatewayType string

func (t GatewayType) String() string {
	return string(t)
}

const (
	// GatewayTypeAPI is the HTTP/JSON gateway.
	GatewayTypeAPI = GatewayType("API")
	// GatewayTypeRPC is the gRPC gateway.
	GatewayTypeRPC = GatewayType("RPC")
	// GatewayTypeEvents is the publish/subscribe gateway.
	GatewayTypeEvents = GatewayType("EVENTS")
)

// Gateway exposes service endpoints over some transport (gRPC, HTTP, an event broker).
// The Server owns the lifecycle: it registers routes, calls Listen() once for every
// gateway, and calls Shutdown() when it is time to stop.
type Gateway interface {
	// Type identifies the gateway. A server holds at most one gateway per type.
	Type() GatewayType
	// Register makes the endpoint reachable through this gateway using the given route.
	Register(endpoint Endpoint, route EndpointRoute)
	// Listen serves requests until Shutdown() is called or ctx is canceled. A normal
	// stop returns nil; only real failures (e.g. the port is taken) return an error.
	Listen(ctx context.Context) error
	// Shutdown stops accepting new requests and waits for in-flight ones until ctx expires.
	Shutdown(ctx context.Context) error
}

// GatewayMiddleware is implemented by gateways that need to see every endpoint invocation,
// not just the ones that arrive through them. The events gateway uses it to publish a
// "Service.Method" event after each call no matter which transport the call came from.
type GatewayMiddleware interface {
	Gateway
	Middleware() MiddlewareFuncs
}
