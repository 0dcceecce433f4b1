//go:build unit

package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bridgekit-io/mathteacher/fail"
	"github.com/bridgekit-io/mathteacher/internal/testext"
	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/bridgekit-io/mathteacher/metadata"
	"github.com/bridgekit-io/mathteacher/services"
	"github.com/stretchr/testify/suite"
)

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

type ServerSuite struct {
	suite.Suite
}

type echoRequest struct {
	Text string
}

// echoService builds a tiny service whose endpoints record what they saw in the sequence.
func echoService(sequence *testext.Sequence) *services.Service {
	echo := func(ctx context.Context, req any) (any, error) {
		route := metadata.Route(ctx)
		sequence.Append(route.QualifiedName() + ":" + req.(*echoRequest).Text)
		return req, nil
	}
	explode := func(ctx context.Context, req any) (any, error) {
		panic("don't")
	}
	newInput := func() services.StructPointer { return &echoRequest{} }

	return &services.Service{
		Name: "EchoService",
		Endpoints: []services.Endpoint{
			{
				ServiceName: "EchoService",
				Name:        "Echo",
				Handler:     echo,
				NewInput:    newInput,
				Routes: []services.EndpointRoute{
					{GatewayType: services.GatewayTypeRPC, Method: "UNARY", Path: "echo.Echo/Echo", ServiceName: "EchoService", Name: "Echo"},
					{GatewayType: services.GatewayTypeAPI, Method: "POST", Path: "/EchoService.Echo", ServiceName: "EchoService", Name: "Echo"},
				},
			},
			{
				ServiceName: "EchoService",
				Name:        "Explode",
				Handler:     explode,
				NewInput:    newInput,
				Routes: []services.EndpointRoute{
					{GatewayType: services.GatewayTypeRPC, Method: "UNARY", Path: "echo.Echo/Explode", ServiceName: "EchoService", Name: "Explode"},
				},
			},
		},
	}
}

// fakeGateway blocks in Listen() until it is shut down or its context is canceled.
type fakeGateway struct {
	gatewayType services.GatewayType
	listenErr   error
	middleware  services.MiddlewareFuncs

	mutex    sync.Mutex
	routes   []string
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeGateway(gatewayType services.GatewayType) *fakeGateway {
	return &fakeGateway{gatewayType: gatewayType, stopped: make(chan struct{})}
}

func (gw *fakeGateway) Type() services.GatewayType {
	return gw.gatewayType
}

func (gw *fakeGateway) Register(_ services.Endpoint, route services.EndpointRoute) {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()
	gw.routes = append(gw.routes, route.Path)
}

func (gw *fakeGateway) Listen(ctx context.Context) error {
	if gw.listenErr != nil {
		return gw.listenErr
	}
	select {
	case <-gw.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (gw *fakeGateway) Shutdown(context.Context) error {
	gw.stopOnce.Do(func() { close(gw.stopped) })
	return nil
}

func (gw *fakeGateway) Routes() []string {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()
	return append([]string(nil), gw.routes...)
}

// middlewareGateway is a fake gateway that contributes middleware to every endpoint.
type middlewareGateway struct {
	*fakeGateway
}

func (gw middlewareGateway) Middleware() services.MiddlewareFuncs {
	return gw.middleware
}

func (suite *ServerSuite) TestInvoke() {
	sequence := &testext.Sequence{}
	server := services.NewServer(services.Register(echoService(sequence)))

	res, err := server.Invoke(context.Background(), "EchoService", "Echo", &echoRequest{Text: "Hello"})
	suite.Require().NoError(err)
	suite.Equal("Hello", res.(*echoRequest).Text)
	suite.Equal([]string{"EchoService.Echo:Hello"}, sequence.Values())
}

func (suite *ServerSuite) TestInvoke_notFound() {
	server := services.NewServer(services.Register(echoService(&testext.Sequence{})))

	_, err := server.Invoke(context.Background(), "EchoService", "Nope", &echoRequest{})
	suite.Require().Error(err)
	suite.True(fail.IsNotFound(err))

	_, err = server.Invoke(context.Background(), "Nope", "Echo", &echoRequest{})
	suite.True(fail.IsNotFound(err))
}

func (suite *ServerSuite) TestPanic() {
	var panics []string
	server := services.NewServer(
		services.Register(echoService(&testext.Sequence{})),
		services.OnPanic(func(err error, stack []byte) {
			panics = append(panics, "OnPanic:"+err.Error())
		}),
	)

	_, err := server.Invoke(context.Background(), "EchoService", "Explode", &echoRequest{Text: "Abide"})
	suite.Require().Error(err)
	suite.Equal("don't", err.Error())
	suite.True(fail.IsUnexpected(err))
	suite.Equal([]string{"OnPanic:don't"}, panics)
}

// Only the routes for the gateway's own type should be registered with it.
func (suite *ServerSuite) TestRegister_routesByType() {
	rpcGateway := newFakeGateway(services.GatewayTypeRPC)
	apiGateway := newFakeGateway(services.GatewayTypeAPI)

	server := services.NewServer(
		services.Listen(rpcGateway),
		services.Listen(apiGateway),
		services.Register(echoService(&testext.Sequence{})),
	)

	suite.ElementsMatch([]string{"echo.Echo/Echo", "echo.Echo/Explode"}, rpcGateway.Routes())
	suite.ElementsMatch([]string{"/EchoService.Echo"}, apiGateway.Routes())

	routes := server.Routes(services.GatewayTypeRPC)
	suite.Require().Len(routes, 2)
	suite.Equal("echo.Echo/Echo", routes[0].Path)
	suite.Equal("echo.Echo/Explode", routes[1].Path)
	suite.Empty(server.Routes(services.GatewayTypeEvents))
}

func (suite *ServerSuite) TestGatewayMiddleware() {
	sequence := &testext.Sequence{}
	gw := middlewareGateway{fakeGateway: newFakeGateway(services.GatewayTypeEvents)}
	gw.middleware = services.MiddlewareFuncs{
		func(ctx context.Context, req any, next services.HandlerFunc) (any, error) {
			sequence.Append("BEFORE")
			res, err := next(ctx, req)
			sequence.Append("AFTER")
			return res, err
		},
	}

	server := services.NewServer(
		services.Listen(gw),
		services.Register(echoService(sequence)),
	)
	_, err := server.Invoke(context.Background(), "EchoService", "Echo", &echoRequest{Text: "Hi"})
	suite.Require().NoError(err)
	suite.Equal([]string{"BEFORE", "EchoService.Echo:Hi", "AFTER"}, sequence.Values())
}

func (suite *ServerSuite) TestRunShutdown() {
	rpcGateway := newFakeGateway(services.GatewayTypeRPC)
	apiGateway := newFakeGateway(services.GatewayTypeAPI)
	server := services.NewServer(
		services.Listen(rpcGateway),
		services.Listen(apiGateway),
		services.Register(echoService(&testext.Sequence{})),
	)

	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()

	time.Sleep(25 * time.Millisecond)
	suite.Require().NoError(server.Shutdown(context.Background()))

	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(2 * time.Second):
		suite.Fail("Run() did not return after Shutdown()")
	}

	// Shutting down twice should not panic.
	suite.NoError(server.Shutdown(context.Background()))
}

func (suite *ServerSuite) TestRun_contextCanceled() {
	server := services.NewServer(services.Listen(newFakeGateway(services.GatewayTypeRPC)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(2 * time.Second):
		suite.Fail("Run() did not return after the context was canceled")
	}
}

// Canceling the context handed to ShutdownOnInterrupt() behaves just like a SIGINT.
func (suite *ServerSuite) TestShutdownOnInterrupt() {
	logs := &testext.Buffer{}
	server := services.NewServer(
		services.Listen(newFakeGateway(services.GatewayTypeRPC)),
		services.WithLogger(logging.New(logs, logging.WithSource("server"))),
	)

	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	go server.ShutdownOnInterrupt(ctx, time.Second)
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(2 * time.Second):
		suite.Fail("Run() did not return after the interrupt")
	}
	suite.Contains(logs.String(), " - server - INFO - Shutting down server")
}

// A gateway that can't start should stop the others and make Run() report the failure.
func (suite *ServerSuite) TestRun_gatewayFailure() {
	broken := newFakeGateway(services.GatewayTypeRPC)
	broken.listenErr = errors.New("address already in use")

	server := services.NewServer(
		services.Listen(broken),
		services.Listen(newFakeGateway(services.GatewayTypeAPI)),
	)

	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()

	select {
	case err := <-done:
		suite.Require().Error(err)
		suite.True(strings.Contains(err.Error(), "address already in use"))
	case <-time.After(2 * time.Second):
		suite.Fail("Run() did not return after a gateway failed")
	}
}

func (suite *ServerSuite) TestServiceEndpoint() {
	service := echoService(&testext.Sequence{})

	endpoint, ok := service.Endpoint("Echo")
	suite.True(ok)
	suite.Equal("EchoService.Echo", endpoint.QualifiedName())

	_, ok = service.Endpoint("Nope")
	suite.False(ok)
}
