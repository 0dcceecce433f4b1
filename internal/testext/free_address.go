package testext

import (
	"net"
	"strconv"
)

// FreePort asks the OS for a TCP port on the given host that nobody is listening on. The port
// is released before returning, so another process could grab it, but that's rare enough for tests.
func FreePort(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// FreeAddress is the "host:port" equivalent of FreePort.
func FreeAddress(host string) (string, error) {
	port, err := FreePort(host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
