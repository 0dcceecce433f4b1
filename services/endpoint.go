package services

import (
	"context"

	"github.com/bridgekit-io/mathteacher/metadata"
)

// HandlerFunc runs one service operation against an already decoded request.
type HandlerFunc func(ctx context.Context, req any) (any, error)

// StructPointer marks values that are pointers to a request or response struct.
type StructPointer any

// Endpoint is a single service operation plus every route that can reach it.
type Endpoint struct {
	ServiceName string
	Name        string
	// Handler calls the operation on the service handler, with any service middleware applied.
	Handler HandlerFunc
	// NewInput allocates an empty request (e.g. &calculator.Numbers{}) for gateways to decode into.
	NewInput func() StructPointer
	Routes   []EndpointRoute
}

// QualifiedName is "ServiceName.Name".
func (end Endpoint) QualifiedName() string {
	return end.ServiceName + "." + end.Name
}

// EndpointRoute tells one gateway how to reach an endpoint.
//
//	GatewayType  Method  Path
//	RPC          UNARY   teacher.Calculator/Add
//	API          POST    /Calculator.Add
//	EVENTS       ON      Calculator.Add
type EndpointRoute struct {
	GatewayType GatewayType
	Method      string
	Path        string
	// Group is the consumer group for event routes.
	Group string
	// Status is the HTTP status for a successful API call. Zero means 200.
	Status      int
	ServiceName string
	Name        string
}

// QualifiedName is "ServiceName.Name".
func (route EndpointRoute) QualifiedName() string {
	return route.ServiceName + "." + route.Name
}

// Metadata builds the route info that handlers read through metadata.Route(). The
// gateway passes the path the current call actually arrived on.
func (route EndpointRoute) Metadata(resolvedPath string) metadata.EndpointRoute {
	info := metadata.EndpointRoute{
		ServiceName: route.ServiceName,
		Name:        route.Name,
		Type:        route.GatewayType.String(),
		Method:      route.Method,
		Path:        resolvedPath,
		Group:       route.Group,
		Status:      route.Status,
	}
	if info.Status == 0 {
		info.Status = 200
	}
	return info
}
