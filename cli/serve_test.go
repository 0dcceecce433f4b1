//go:build integration

package cli_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bridgekit-io/mathteacher/cli"
	"github.com/bridgekit-io/mathteacher/internal/testext"
	"github.com/stretchr/testify/suite"
)

func TestServeSuite(t *testing.T) {
	suite.Run(t, new(ServeSuite))
}

type ServeSuite struct {
	suite.Suite
	dir      string
	port     int
	httpAddr string
	cancel   context.CancelFunc
	done     chan error
}

func (suite *ServeSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	port, err := testext.FreePort("127.0.0.1")
	suite.Require().NoError(err)
	suite.port = port
	suite.httpAddr, err = testext.FreeAddress("127.0.0.1")
	suite.Require().NoError(err)

	// Existing lines must survive; the log is append-only.
	suite.Require().NoError(os.WriteFile(suite.path("server.log"), []byte("previous run\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.done = make(chan error, 1)

	cmd := cli.Serve{}.Command()
	cmd.SetArgs([]string{
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(suite.port),
		"--log-file", suite.path("server.log"),
		"--http", suite.httpAddr,
		"--shutdown-timeout", "2s",
	})
	go func() { suite.done <- cmd.ExecuteContext(ctx) }()

	suite.Require().Eventually(func() bool {
		conn, err := net.Dial("tcp", suite.httpAddr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "server never started")
}

func (suite *ServeSuite) TearDownTest() {
	suite.stop()
}

func (suite *ServeSuite) stop() {
	if suite.cancel == nil {
		return
	}
	suite.cancel()
	suite.cancel = nil

	select {
	case err := <-suite.done:
		suite.NoError(err)
	case <-time.After(5 * time.Second):
		suite.Fail("server did not shut down")
	}
}

func (suite *ServeSuite) path(name string) string {
	return filepath.Join(suite.dir, name)
}

func (suite *ServeSuite) readLog(name string) string {
	data, err := os.ReadFile(suite.path(name))
	suite.Require().NoError(err)
	return string(data)
}

func (suite *ServeSuite) call(operation string, numbers string, extraArgs ...string) (string, error) {
	stdout := &bytes.Buffer{}
	cmd := cli.Call{Stdout: stdout}.Command()
	cmd.SetArgs(append([]string{
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(suite.port),
		"--operation", operation,
		"--numbers", numbers,
		"--log-file", suite.path("client.log"),
	}, extraArgs...))
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(stdout.String()), err
}

func (suite *ServeSuite) TestCalculate() {
	result, err := suite.call("Add", "2,3")
	suite.Require().NoError(err)
	suite.Equal("5", result)

	result, err = suite.call("sub", "10,4")
	suite.Require().NoError(err)
	suite.Equal("6", result)

	result, err = suite.call("MUL", "-3,7")
	suite.Require().NoError(err)
	suite.Equal("-21", result)

	clientLog := suite.readLog("client.log")
	suite.Contains(clientLog, " - client - INFO - Connecting to server 127.0.0.1:"+strconv.Itoa(suite.port))
	suite.Contains(clientLog, " - client - INFO - Send adding 2 and 3")
	suite.Contains(clientLog, " - client - INFO - Send subtracting 10 and 4")
	suite.Contains(clientLog, " - client - INFO - Send multiplying -3 and 7")
	suite.Contains(clientLog, " - client - INFO - Received result: -21")
}

func (suite *ServeSuite) TestCalculate_repeated() {
	result, err := suite.call("Mul", "6,7", "--count", "3", "--rate-limit", "100")
	suite.Require().NoError(err)
	suite.Equal("42\n42\n42", result)
	suite.Equal(3, strings.Count(suite.readLog("client.log"), " - client - INFO - Received result: 42"))
}

func (suite *ServeSuite) TestServerLog() {
	_, err := suite.call("Add", "2,3")
	suite.Require().NoError(err)
	suite.stop()

	lines := strings.Split(strings.TrimSpace(suite.readLog("server.log")), "\n")
	suite.Equal("previous run", lines[0])
	suite.Contains(lines[1], " - server - INFO - Starting server on 127.0.0.1:"+strconv.Itoa(suite.port))
	suite.Contains(suite.readLog("server.log"), " - server - INFO - Starting gateway: EVENTS")

	var calculatorLines []string
	for _, line := range lines {
		if strings.Contains(line, " - calculator - ") {
			calculatorLines = append(calculatorLines, line)
		}
	}
	suite.Require().Len(calculatorLines, 2)
	suite.Contains(calculatorLines[0], " - calculator - INFO - Adding [127.0.0.1:")
	suite.True(strings.HasSuffix(calculatorLines[0], "] 2 and 3"), calculatorLines[0])
	suite.Contains(calculatorLines[1], " - calculator - INFO - Result of addition [127.0.0.1:")
	suite.True(strings.HasSuffix(calculatorLines[1], "]: 5"), calculatorLines[1])

	suite.Contains(lines[len(lines)-1], " - server - INFO - Shutting down server")
}

func (suite *ServeSuite) TestHTTP() {
	res, err := http.Post("http://"+suite.httpAddr+"/Calculator.Mul", "application/json", strings.NewReader(`{"Num1":-3,"Num2":7}`))
	suite.Require().NoError(err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	suite.Equal(http.StatusOK, res.StatusCode)
	suite.JSONEq(`{"Result":-21}`, string(body))

	res, err = http.Get("http://" + suite.httpAddr + "/metrics")
	suite.Require().NoError(err)
	body, _ = io.ReadAll(res.Body)
	_ = res.Body.Close()
	suite.Equal(http.StatusOK, res.StatusCode)
	suite.Contains(string(body), `mathteacher_services_request_count{method="Mul",service="Calculator",status="200"} 1`)
}

// A second server on the same port should fail to start rather than hang around.
func (suite *ServeSuite) TestPortInUse() {
	err := cli.Serve{}.Exec(context.Background(), &cli.ServeRequest{
		Host:    "127.0.0.1",
		Port:    suite.port,
		LogFile: suite.path("second.log"),
	})
	suite.Require().Error(err)
	suite.Contains(err.Error(), "rpc gateway error: listen")
	suite.Contains(suite.readLog("second.log"), " - server - ERROR - Unable to listen on 127.0.0.1:"+strconv.Itoa(suite.port))
}

func (suite *ServeSuite) TestCall_unknownOperation() {
	_, err := suite.call("Div", "1,2")
	suite.Require().Error(err)
	suite.Contains(suite.readLog("client.log"), " - client - ERROR - Unknown operation: Div")
}
