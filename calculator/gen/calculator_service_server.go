package gen

import (
	"context"

	"github.com/bridgekit-io/mathteacher/calculator"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/services"
)

// RPCServiceName is the protobuf package-qualified service name that gRPC callers use.
const RPCServiceName = "teacher.Calculator"

// CalculatorServiceServer binds the handler's operations to endpoints that the RPC, API, and
// event gateways can route to. Any middleware runs (in order) before each operation.
func CalculatorServiceServer(handler calculator.CalculatorService, middleware ...services.MiddlewareFunc) *services.Service {
	middlewareFuncs := services.MiddlewareFuncs(middleware)

	return &services.Service{
		Name:    "Calculator",
		Version: "0.0.1",
		Handler: handler,
		Endpoints: []services.Endpoint{
			calculatorEndpoint("Add", middlewareFuncs, handler.Add),
			calculatorEndpoint("Sub", middlewareFuncs, handler.Sub),
			calculatorEndpoint("Mul", middlewareFuncs, handler.Mul),
		},
	}
}

type calculatorFunc func(context.Context, *calculator.Numbers) (*calculator.Result, error)

func calculatorEndpoint(name string, middlewareFuncs services.MiddlewareFuncs, fn calculatorFunc) services.Endpoint {
	return services.Endpoint{
		ServiceName: "Calculator",
		Name:        name,
		NewInput:    func() services.StructPointer { return &calculator.Numbers{} },
		Handler: middlewareFuncs.Then(func(ctx context.Context, req any) (any, error) {
			typedReq, ok := req.(*calculator.Numbers)
			if !ok {
				return nil, fail.Unexpected("invalid request argument type")
			}
			return fn(ctx, typedReq)
		}),
		Routes: []services.EndpointRoute{
			{
				GatewayType: services.GatewayTypeRPC,
				Method:      "UNARY",
				Path:        RPCServiceName + "/" + name,
				ServiceName: "Calculator",
				Name:        name,
			},
			{
				GatewayType: services.GatewayTypeAPI,
				Method:      "POST",
				Path:        "/Calculator." + name,
				Status:      200,
				ServiceName: "Calculator",
				Name:        name,
			},
		},
	}
}
