package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/bridgekit-io/mathteacher/calculator"
	"github.com/bridgekit-io/mathteacher/calculator/gen"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/internal/quiet"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/services/clients"
	"github.com/juju/ratelimit"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
)

// CallRequest contains all of the command line options used to send calculations to the server.
type CallRequest struct {
	// Host is the server's host name or IP. Brackets around IPv6 literals are optional.
	Host string
	// Port is the server's gRPC port.
	Port int
	// Operation is "Add", "Sub", or "Mul" (case-insensitive).
	Operation string
	// Numbers are the two operands. When empty, we pick two random ones.
	Numbers []int32
	// LogFile is the path of the file that every log line is appended to.
	LogFile string
	// Stderr mirrors every log line to standard error as well.
	Stderr bool
	// Timeout bounds how long we wait for the server to answer each call.
	Timeout time.Duration
	// Count is how many times to send the calculation. Anything below 1 means once.
	Count int
	// RateLimit caps how many calls per second we send. Zero means no limit.
	RateLimit float64
}

// tripAfter is how many calls in a row may fail before the client stops trying and fails
// the rest of them immediately.
const tripAfter = 3

// Call handles the execution of the client command.
type Call struct {
	// Stdout is where the result is printed. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr is where "--stderr" mirrors log lines. Defaults to os.Stderr.
	Stderr io.Writer
	// DialOptions are passed along to the underlying RPC client.
	DialOptions []clients.ClientOption
}

// Command creates the Cobra struct describing this CLI command and its flags.
func (c Call) Command() *cobra.Command {
	request := &CallRequest{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Sends a calculation to the calculator service and prints the result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Exec(cmd.Context(), request)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&request.Host, "host", "[::1]", "The host of the calculator server")
	cmd.Flags().IntVar(&request.Port, "port", 10000, "The port of the calculator server")
	cmd.Flags().StringVar(&request.Operation, "operation", "Mul", "The operation to perform: Add, Sub, or Mul")
	cmd.Flags().Int32SliceVar(&request.Numbers, "numbers", nil, "The two operands, comma separated (default: two random numbers)")
	cmd.Flags().StringVar(&request.LogFile, "log-file", "client.log", "The file that log lines are appended to")
	cmd.Flags().BoolVar(&request.Stderr, "stderr", false, "Also write log lines to standard error")
	cmd.Flags().DurationVar(&request.Timeout, "timeout", 10*time.Second, "How long to wait for the server to respond")
	cmd.Flags().IntVar(&request.Count, "count", 1, "How many times to send the calculation")
	cmd.Flags().Float64Var(&request.RateLimit, "rate-limit", 0, "The most calls to send per second (0 for no limit)")
	return cmd
}

// Exec sends the calculation described by the request and prints each result. An unknown
// operation is logged and returned as an error right away. Failed calls are logged, and the
// first failure is returned once every call has been attempted.
func (c Call) Exec(ctx context.Context, request *CallRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logFile, err := logging.OpenFile(request.LogFile)
	if err != nil {
		return err
	}
	defer quiet.Close(logFile)

	logger := logging.New(logWriter(logFile, request.Stderr, c.Stderr), logging.WithSource("client"))

	op, ok := lookupOperation(request.Operation)
	if !ok {
		logger.Error(fmt.Sprintf("Unknown operation: %s", request.Operation))
		return fail.BadRequest("unknown operation: %s", request.Operation)
	}

	numbers, err := operands(request.Numbers)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	target := JoinHostPort(request.Host, request.Port)
	logger.Info(fmt.Sprintf("Connecting to server %s", target))

	client, err := clients.Dial(target, append(request.clientOptions(target), c.DialOptions...)...)
	if err != nil {
		logger.Error(fmt.Sprintf("Unable to connect to %s: %v", target, err))
		return err
	}
	defer quiet.Close(client)

	service := gen.CalculatorServiceClient(client)
	var firstErr error
	for range max(request.Count, 1) {
		if err = c.send(ctx, logger, service, op, numbers, request.Timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// clientOptions builds the circuit breaker and, when asked for, the rate limiter that every call goes through.
func (request *CallRequest) clientOptions(target string) []clients.ClientOption {
	options := []clients.ClientOption{
		clients.WithCircuitBreaker(gobreaker.Settings{
			Name: target,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= tripAfter
			},
		}),
	}
	if request.RateLimit > 0 {
		options = append(options, clients.WithRateLimit(ratelimit.NewBucketWithRate(request.RateLimit, 1)))
	}
	return options
}

func (c Call) send(ctx context.Context, logger *slog.Logger, service calculator.CalculatorService, op operation, numbers *calculator.Numbers, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Info(fmt.Sprintf("Send %s %d and %d", op.verb, numbers.Num1, numbers.Num2))
	res, err := op.call(service, ctx, numbers)
	if err != nil {
		logger.Error(fmt.Sprintf("RPC failed: %v", err))
		return err
	}

	logger.Info(fmt.Sprintf("Received result: %d", res.Result))
	_, err = fmt.Fprintln(c.stdout(), res.Result)
	return err
}

func (c Call) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

type operation struct {
	verb string
	call func(calculator.CalculatorService, context.Context, *calculator.Numbers) (*calculator.Result, error)
}

var operations = map[string]operation{
	"add": {verb: "adding", call: calculator.CalculatorService.Add},
	"sub": {verb: "subtracting", call: calculator.CalculatorService.Sub},
	"mul": {verb: "multiplying", call: calculator.CalculatorService.Mul},
}

func lookupOperation(name string) (operation, bool) {
	op, ok := operations[strings.ToLower(strings.TrimSpace(name))]
	return op, ok
}

// operands turns the "--numbers" values into a request, making up random ones when none were given.
func operands(values []int32) (*calculator.Numbers, error) {
	switch len(values) {
	case 0:
		return &calculator.Numbers{Num1: int32(rand.Uint32()), Num2: int32(rand.Uint32())}, nil
	case 2:
		return &calculator.Numbers{Num1: values[0], Num2: values[1]}, nil
	default:
		return nil, fail.BadRequest("expected exactly 2 numbers, got %d", len(values))
	}
}
