package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bridgekit-io/mathteacher/calculator"
	"github.com/bridgekit-io/mathteacher/calculator/gen"
	"github.com/bridgekit-io/mathteacher/eventsource/local"
	"github.com/bridgekit-io/mathteacher/eventsource/nats"
	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/internal/quiet"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metrics"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/bridgekit-io/mathteacher/services/gateways/apis"
	"github.com/bridgekit-io/mathteacher/services/gateways/events"
	"github.com/bridgekit-io/mathteacher/services/gateways/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// ServeRequest contains all of the command line options used to run the calculator server.
type ServeRequest struct {
	// Host is the interface the gRPC gateway binds to. Brackets around IPv6 literals are optional.
	Host string
	// Port is the TCP port the gRPC gateway binds to.
	Port int
	// LogFile is the path of the file that every log line is appended to.
	LogFile string
	// Stderr mirrors every log line to standard error as well.
	Stderr bool
	// HTTPAddress enables the HTTP/JSON gateway (and /metrics) on this "host:port" when not empty.
	HTTPAddress string
	// NATSAddress sends calculator events through this NATS server instead of keeping them
	// inside the process.
	NATSAddress string
	// ShutdownTimeout is how long in-flight calls get to finish after an interrupt.
	ShutdownTimeout time.Duration
}

// Serve handles the execution of the server command.
type Serve struct {
	// Stderr is where "--stderr" mirrors log lines. Defaults to os.Stderr.
	Stderr io.Writer
}

// Command creates the Cobra struct describing this CLI command and its flags.
func (c Serve) Command() *cobra.Command {
	request := &ServeRequest{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Runs the calculator service until it receives SIGINT/SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Exec(cmd.Context(), request)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&request.Host, "host", "[::1]", "The interface the gRPC server listens on")
	cmd.Flags().IntVar(&request.Port, "port", 10000, "The port the gRPC server listens on")
	cmd.Flags().StringVar(&request.LogFile, "log-file", "server.log", "The file that log lines are appended to")
	cmd.Flags().BoolVar(&request.Stderr, "stderr", false, "Also write log lines to standard error")
	cmd.Flags().StringVar(&request.HTTPAddress, "http", "", "Also serve HTTP/JSON and /metrics on this host:port")
	cmd.Flags().StringVar(&request.NATSAddress, "nats", "", "Send calculator events through this NATS server")
	cmd.Flags().DurationVar(&request.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "How long in-flight calls get to finish during shutdown")
	return cmd
}

// Exec starts every configured gateway and blocks until the server shuts down. Anything
// that prevents the server from starting (bad port, log file we can't write to, address
// already in use, unreachable NATS server) is returned as an error.
func (c Serve) Exec(ctx context.Context, request *ServeRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if request.Port < 0 || request.Port > 65535 {
		return fail.BadRequest("invalid port: %d", request.Port)
	}

	logFile, err := logging.OpenFile(request.LogFile)
	if err != nil {
		return err
	}
	defer quiet.Close(logFile)

	logger := logging.New(logWriter(logFile, request.Stderr, c.Stderr), logging.WithSource("server"))
	address := JoinHostPort(request.Host, request.Port)

	// Bind up front so that a port conflict fails the command before we claim to be running.
	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Error(fmt.Sprintf("Unable to listen on %s: %v", address, err))
		return fmt.Errorf("rpc gateway error: listen: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		quiet.Close(listener)
		return err
	}

	options := []services.ServerOption{
		services.WithLogger(logger),
		services.Listen(rpc.NewGateway(address, rpc.WithListener(listener), rpc.WithLogger(logger))),
	}
	if request.HTTPAddress != "" {
		options = append(options, services.Listen(apis.NewGateway(request.HTTPAddress,
			apis.WithLogger(logger),
			apis.WithHandler("GET", "/metrics", metrics.Handler(registry)),
		)))
	}
	broker := local.Broker(local.WithLogger(logger))
	if request.NATSAddress != "" {
		natsBroker, err := nats.Broker(nats.WithAddress(request.NATSAddress), nats.WithName("mathteacher"), nats.WithLogger(logger))
		if err != nil {
			quiet.Close(listener)
			logger.Error(fmt.Sprintf("Unable to connect to NATS at %s: %v", request.NATSAddress, err))
			return err
		}
		defer quiet.Close(natsBroker)
		broker = natsBroker
	}
	options = append(options, services.Listen(events.NewGateway(events.WithBroker(broker), events.WithLogger(logger))))

	calculatorLogger := logger.With(logging.Source("calculator"))
	options = append(options,
		services.Register(gen.CalculatorServiceServer(calculator.NewCalculatorServiceHandler(calculatorLogger), collector.Middleware())),
		services.Register(gen.FailureLogServer(calculator.NewFailureLogHandler(calculatorLogger))),
	)
	server := services.NewServer(options...)

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go server.ShutdownOnInterrupt(shutdownCtx, request.ShutdownTimeout)

	logger.Info(fmt.Sprintf("Starting server on %s:%d", request.Host, request.Port))
	if request.HTTPAddress != "" {
		logger.Info(fmt.Sprintf("Serving HTTP on %s", request.HTTPAddress))
	}

	// Graceful shutdown is driven by ShutdownOnInterrupt, so Run() itself should not
	// tear the gateways down the instant the parent context goes away.
	if err = server.Run(context.WithoutCancel(ctx)); err != nil {
		logger.Error(fmt.Sprintf("Server failure: %v", err))
		return err
	}
	return nil
}
