package gen

import (
	"context"

	"github.com/bridgekit-io/mathteacher/calculator"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/services/clients"
)

// CalculatorServiceClient returns a calculator.CalculatorService whose operations are performed
// by a remote server over gRPC.
func CalculatorServiceClient(client *clients.Client) calculator.CalculatorService {
	return calculatorServiceClient{client: client}
}

type calculatorServiceClient struct {
	client *clients.Client
}

func (c calculatorServiceClient) Add(ctx context.Context, req *calculator.Numbers) (*calculator.Result, error) {
	return c.invoke(ctx, "Add", req)
}

func (c calculatorServiceClient) Sub(ctx context.Context, req *calculator.Numbers) (*calculator.Result, error) {
	return c.invoke(ctx, "Sub", req)
}

func (c calculatorServiceClient) Mul(ctx context.Context, req *calculator.Numbers) (*calculator.Result, error) {
	return c.invoke(ctx, "Mul", req)
}

func (c calculatorServiceClient) invoke(ctx context.Context, method string, req *calculator.Numbers) (*calculator.Result, error) {
	if ctx == nil {
		return nil, fail.Unexpected("precondition failed: nil context")
	}
	if req == nil {
		return nil, fail.BadRequest("numbers are required")
	}

	res := &calculator.Result{}
	if err := c.client.Invoke(ctx, "/"+RPCServiceName+"/"+method, req, res); err != nil {
		return nil, err
	}
	return res, nil
}
