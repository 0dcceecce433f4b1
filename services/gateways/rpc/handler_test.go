//go:build unit

package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/bridgekit-io/mathteacher/calculator"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
)

func TestMethodHandlerSuite(t *testing.T) {
	suite.Run(t, new(MethodHandlerSuite))
}

// MethodHandlerSuite drives the handler that the gateway plugs into grpc.MethodDesc
// without going through a connection.
type MethodHandlerSuite struct {
	suite.Suite
	desc  grpc.MethodDesc
	route string
}

func (suite *MethodHandlerSuite) SetupTest() {
	suite.route = ""
	endpoint := services.Endpoint{
		ServiceName: "Calculator",
		Name:        "Add",
		NewInput:    func() services.StructPointer { return &calculator.Numbers{} },
		Handler: func(ctx context.Context, req any) (any, error) {
			suite.route = metadata.Route(ctx).Path
			n := req.(*calculator.Numbers)
			return &calculator.Result{Result: int64(n.Num1) + int64(n.Num2)}, nil
		},
	}
	route := services.EndpointRoute{
		GatewayType: services.GatewayTypeRPC,
		Method:      "UNARY",
		Path:        "teacher.Calculator/Add",
		ServiceName: "Calculator",
		Name:        "Add",
	}
	suite.desc = grpc.MethodDesc{
		MethodName: "Add",
		Handler:    NewGateway("bufconn").toMethodHandler(endpoint, route),
	}
}

func decodeNumbers(a, b int32) func(any) error {
	return func(out any) error {
		*out.(*calculator.Numbers) = calculator.Numbers{Num1: a, Num2: b}
		return nil
	}
}

func (suite *MethodHandlerSuite) TestNoInterceptor() {
	res, err := suite.desc.Handler(nil, context.Background(), decodeNumbers(2, 3), nil)
	suite.Require().NoError(err)
	suite.Equal(int64(5), res.(*calculator.Result).Result)
	suite.Equal("/teacher.Calculator/Add", suite.route)
}

func (suite *MethodHandlerSuite) TestInterceptor() {
	var fullMethod string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		fullMethod = info.FullMethod
		return handler(ctx, req)
	}

	res, err := suite.desc.Handler(nil, context.Background(), decodeNumbers(-3, 7), interceptor)
	suite.Require().NoError(err)
	suite.Equal(int64(4), res.(*calculator.Result).Result)
	suite.Equal("/teacher.Calculator/Add", fullMethod)
	suite.Equal("/teacher.Calculator/Add", suite.route)
}

func (suite *MethodHandlerSuite) TestDecodeFailure() {
	broken := func(any) error { return errors.New("truncated message") }

	_, err := suite.desc.Handler(nil, context.Background(), broken, nil)
	suite.EqualError(err, "truncated message")
	suite.Empty(suite.route)
}
