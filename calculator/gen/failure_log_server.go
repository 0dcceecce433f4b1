package gen

import (
	"context"

	"github.com/bridgekit-io/mathteacher/calculator"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/services"
)

// FailureLogErrorKey matches the error event of every Calculator operation.
const FailureLogErrorKey = "Calculator.*.Error"

// FailureLogServer subscribes the handler to Calculator error events. Instances of the server
// share one consumer group, so each failure is recorded once no matter how many are running.
func FailureLogServer(handler calculator.FailureLog, middleware ...services.MiddlewareFunc) *services.Service {
	middlewareFuncs := services.MiddlewareFuncs(middleware)

	return &services.Service{
		Name:    "FailureLog",
		Version: "0.0.1",
		Handler: handler,
		Endpoints: []services.Endpoint{
			{
				ServiceName: "FailureLog",
				Name:        "Record",
				NewInput:    func() services.StructPointer { return &calculator.Numbers{} },
				Handler: middlewareFuncs.Then(func(ctx context.Context, req any) (any, error) {
					typedReq, ok := req.(*calculator.Numbers)
					if !ok {
						return nil, fail.Unexpected("invalid request argument type")
					}
					return nil, handler.Record(ctx, typedReq)
				}),
				Routes: []services.EndpointRoute{
					{
						GatewayType: services.GatewayTypeEvents,
						Method:      "ON",
						Path:        FailureLogErrorKey,
						ServiceName: "FailureLog",
						Name:        "Record",
					},
				},
			},
		},
	}
}
