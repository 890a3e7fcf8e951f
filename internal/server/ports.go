package server

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/logging"
)

const (
	defaultPortWaitAttempts = 40
	defaultPortWaitInterval = 50 * time.Millisecond
)

// portFree reports whether host:port can be bound right now.
func portFree(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// waitForPort polls until port is free, the attempts run out or ctx ends.
// Port 0 asks the OS for any port and never waits.
func waitForPort(ctx context.Context, host string, port, attempts int, interval time.Duration) bool {
	if port == 0 {
		return true
	}
	for i := 0; i < attempts; i++ {
		if portFree(host, port) {
			if i > 0 {
				logging.Debug("Port became free", zap.Int("port", port), zap.Int("attempts", i+1))
			}
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	logging.Warn("Port still busy after wait", zap.Int("port", port), zap.Int("attempts", attempts))
	return false
}

// listen binds host:port, mapping failures to PortUnavailableError.
func listen(host string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, &PortUnavailableError{Port: port, Err: err}
	}
	return ln, nil
}
