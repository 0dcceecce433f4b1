package calculator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metadata"
)

// FailureLog keeps a record of calculations that did not produce a result.
type FailureLog interface {
	// Record writes the operands of a failed calculation to the log.
	//
	// ON Calculator.*.Error
	Record(context.Context, *Numbers) error
}

// NewFailureLogHandler creates a FailureLog that writes one WARN line per failed calculation,
// tagged with the address of the caller whose request failed.
func NewFailureLogHandler(logger *slog.Logger) FailureLogHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return FailureLogHandler{logger: logger}
}

// FailureLogHandler implements FailureLog. Create one via NewFailureLogHandler().
type FailureLogHandler struct {
	logger *slog.Logger
}

func (svc FailureLogHandler) Record(ctx context.Context, req *Numbers) error {
	// A request that failed because it was missing still shows up here as zeros.
	if req == nil {
		req = &Numbers{}
	}
	svc.logger.WarnContext(ctx, fmt.Sprintf("Calculation failed [%s] %d and %d", metadata.RemoteAddr(ctx), req.Num1, req.Num2))
	return nil
}
