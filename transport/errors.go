package transport

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrUnsupportedProtocol is returned by New when the host protocol is
	// neither http nor https.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrAgentClosed is returned when a socket is requested from a pool
	// that has already been drained.
	ErrAgentClosed = errors.New("connection pool is closed")

	// ErrRequestAborted is delivered through the completion callback when
	// the cancellation function wins the race against natural completion.
	ErrRequestAborted = errors.New("request aborted")
)

// UseOfClosedNetworkConnection is a special string some parts of
// go standard lib are using that is the only way to identify some errors
var UseOfClosedNetworkConnection = "use of closed network connection"

// IsUseOfClosedNetworkError returns true if the specified error
// indicates the use of a closed network connection.
func IsUseOfClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), UseOfClosedNetworkConnection)
}

// IsHostResponded returns true when the error proves the peer is alive
// even though the connection attempt failed.
func IsHostResponded(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errors.Is(errno, syscall.ECONNREFUSED) || errors.Is(errno, syscall.ECONNRESET) || errors.Is(errno, syscall.ECONNABORTED)
	}
	return false
}
