package calculator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metadata"
)

// NewCalculatorServiceHandler creates the service implementation that does the actual math. Every
// operation writes two lines to the logger: one with the operands before the calculation and one
// with the result afterward. Both include the caller's network address (or "unknown").
func NewCalculatorServiceHandler(logger *slog.Logger) CalculatorServiceHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return CalculatorServiceHandler{logger: logger}
}

// CalculatorServiceHandler implements CalculatorService. Create one via NewCalculatorServiceHandler().
type CalculatorServiceHandler struct {
	logger *slog.Logger
}

func (svc CalculatorServiceHandler) Add(ctx context.Context, req *Numbers) (*Result, error) {
	return svc.calculate(ctx, req, operation{verb: "Adding", noun: "addition"}, func(a, b int64) int64 {
		return a + b
	})
}

func (svc CalculatorServiceHandler) Sub(ctx context.Context, req *Numbers) (*Result, error) {
	return svc.calculate(ctx, req, operation{verb: "Subtracting", noun: "subtraction"}, func(a, b int64) int64 {
		return a - b
	})
}

func (svc CalculatorServiceHandler) Mul(ctx context.Context, req *Numbers) (*Result, error) {
	return svc.calculate(ctx, req, operation{verb: "Multiplying", noun: "multiplication"}, func(a, b int64) int64 {
		return a * b
	})
}

type operation struct {
	verb string
	noun string
}

func (svc CalculatorServiceHandler) calculate(ctx context.Context, req *Numbers, op operation, fn func(a, b int64) int64) (*Result, error) {
	if req == nil {
		return nil, fail.BadRequest("numbers are required")
	}

	caller := metadata.RemoteAddr(ctx)
	svc.logger.InfoContext(ctx, fmt.Sprintf("%s [%s] %d and %d", op.verb, caller, req.Num1, req.Num2))

	// Widen before the math; int32 operands can never overflow an int64.
	result := fn(int64(req.Num1), int64(req.Num2))

	svc.logger.InfoContext(ctx, fmt.Sprintf("Result of %s [%s]: %d", op.noun, caller, result))
	return &Result{Result: result}, nil
}
