//go:build unit

package logging_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/bridgekit-io/mathteacher/logging"
	"github.com/stretchr/testify/suite"
)

func TestLoggingSuite(t *testing.T) {
	suite.Run(t, new(LoggingSuite))
}

type LoggingSuite struct {
	suite.Suite
}

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} - ([^ ]+) - (DEBUG|INFO|WARN|ERROR) - (.*)$`)

// lines splits the buffer into lines, failing if any of them doesn't follow the standard format.
func (suite *LoggingSuite) lines(buf *bytes.Buffer) [][]string {
	var results [][]string
	for _, line := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		match := linePattern.FindStringSubmatch(line)
		suite.Require().NotNil(match, "Malformed log line: %q", line)
		results = append(results, match[1:])
	}
	return results
}

func (suite *LoggingSuite) TestFormat() {
	buf := &bytes.Buffer{}
	logger := logging.New(buf)

	logger.Info("Adding [127.0.0.1:5000] 2 and 3")
	logger.Warn("Careful")
	logger.Error("Oops", "error", errors.New("it broke"))

	lines := suite.lines(buf)
	suite.Require().Len(lines, 3)
	suite.Equal([]string{"mathteacher", "INFO", "Adding [127.0.0.1:5000] 2 and 3"}, lines[0])
	suite.Equal([]string{"mathteacher", "WARN", "Careful"}, lines[1])
	suite.Equal([]string{"mathteacher", "ERROR", `Oops error="it broke"`}, lines[2])
}

func (suite *LoggingSuite) TestLevel() {
	buf := &bytes.Buffer{}
	logger := logging.New(buf)
	logger.Debug("Hidden")
	suite.Equal("", buf.String())

	buf.Reset()
	logger = logging.New(buf, logging.WithLevel(slog.LevelDebug))
	logger.Debug("Visible")
	suite.Equal([]string{"mathteacher", "DEBUG", "Visible"}, suite.lines(buf)[0])

	buf.Reset()
	logger = logging.New(buf, logging.WithLevel(slog.LevelError))
	logger.Info("Hidden")
	logger.Warn("Hidden")
	suite.Equal("", buf.String())
}

func (suite *LoggingSuite) TestSource() {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, logging.WithSource("server"))
	logger.Info("A")
	logger.With(logging.Source("calculator")).Info("B")
	logger.Info("C", logging.Source("client"))
	logging.New(buf, logging.WithSource("   ")).Info("D")

	lines := suite.lines(buf)
	suite.Require().Len(lines, 4)
	suite.Equal("server", lines[0][0])
	suite.Equal("calculator", lines[1][0])
	suite.Equal("client", lines[2][0])
	suite.Equal("mathteacher", lines[3][0])
}

func (suite *LoggingSuite) TestAttributes() {
	buf := &bytes.Buffer{}
	logger := logging.New(buf).With("port", 10000)

	logger.Info("Listening", "host", "::1")
	logger.WithGroup("request").Info("Call", "method", "Add", slog.Group("numbers", "a", 2, "b", 3))
	logger.Info("Quoted", "text", "hello world", "blank", "")

	lines := suite.lines(buf)
	suite.Require().Len(lines, 3)
	suite.Equal("Listening port=10000 host=::1", lines[0][2])
	suite.Equal("Call port=10000 request.method=Add request.numbers.a=2 request.numbers.b=3", lines[1][2])
	suite.Equal(`Quoted port=10000 text="hello world" blank=""`, lines[2][2])
}

// Many goroutines hammering the same sink should still produce whole, well-formed lines.
func (suite *LoggingSuite) TestConcurrentWrites() {
	buf := &bytes.Buffer{}
	logger := logging.New(buf)

	wg := sync.WaitGroup{}
	for worker := 0; worker < 20; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			derived := logger.With(logging.Source(fmt.Sprintf("worker%d", worker)))
			for i := 0; i < 50; i++ {
				derived.Info(fmt.Sprintf("Result of addition [unknown]: %d", i), "worker", worker)
			}
		}(worker)
	}
	wg.Wait()

	lines := suite.lines(buf)
	suite.Len(lines, 1000)
	for _, line := range lines {
		suite.Regexp(`^worker\d+$`, line[0])
		suite.Regexp(`^Result of addition \[unknown\]: \d+ worker=\d+$`, line[2])
	}
}

func (suite *LoggingSuite) TestTee() {
	a := &bytes.Buffer{}
	b := &bytes.Buffer{}
	logger := logging.New(logging.Tee(a, b))
	logger.Info("Both")

	suite.Equal(a.String(), b.String())
	suite.Equal([]string{"mathteacher", "INFO", "Both"}, suite.lines(a)[0])
}

func (suite *LoggingSuite) TestDiscard() {
	logger := logging.Discard()
	suite.False(logger.Enabled(context.Background(), slog.LevelError))
}

// Opening the same file twice should append rather than truncate.
func (suite *LoggingSuite) TestOpenFile_append() {
	path := filepath.Join(suite.T().TempDir(), "server.log")

	file, err := logging.OpenFile(path)
	suite.Require().NoError(err)
	logging.New(file).Info("First")
	suite.Require().NoError(file.Close())

	file, err = logging.OpenFile(path)
	suite.Require().NoError(err)
	logging.New(file).Info("Second")
	suite.Require().NoError(file.Close())

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)

	lines := suite.lines(bytes.NewBuffer(data))
	suite.Require().Len(lines, 2)
	suite.Equal("First", lines[0][2])
	suite.Equal("Second", lines[1][2])
}

func (suite *LoggingSuite) TestOpenFile_unwritable() {
	path := filepath.Join(suite.T().TempDir(), "does", "not", "exist", "server.log")
	file, err := logging.OpenFile(path)
	suite.Error(err)
	suite.Nil(file)
	suite.ErrorIs(err, os.ErrNotExist)
}
