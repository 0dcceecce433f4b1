// Package cli contains the cobra commands behind the calculator's server and client binaries.
package cli

import (
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/bridgekit-io/mathteacher/logging"
)

// JoinHostPort combines the host and port into a dialable/listenable address. The host may
// be an IPv6 literal with or without brackets (e.g. "[::1]" or "::1").
func JoinHostPort(host string, port int) string {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(host), "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// logWriter returns the log file itself or, when mirroring, a writer that copies every line to stderr too.
func logWriter(file io.Writer, mirror bool, stderr io.Writer) io.Writer {
	if !mirror {
		return file
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return logging.Tee(file, stderr)
}
