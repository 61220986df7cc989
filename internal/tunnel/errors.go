package tunnel

import "errors"

var (
	// ErrInProgress means a non-blocking handshake cannot advance right now.
	// Call Continue once the transport is ready; no data has been lost.
	ErrInProgress = errors.New("proxy handshake in progress")

	// ErrNetFailure is a protocol failure: the proxy reply was malformed,
	// too large, or refused the tunnel.
	ErrNetFailure = errors.New("proxy protocol failure")

	// ErrNotTunneled is returned by Read and Write before the handshake
	// has completed.
	ErrNotTunneled = errors.New("socket is not tunneled")

	// ErrFailed is returned by any operation other than Close on a socket
	// whose handshake failed.
	ErrFailed = errors.New("socket failed; close it before reconnecting")

	// ErrAlreadyConnected is returned when a connected or connecting socket
	// is asked for a different target, or its proxy is changed after the
	// first connect.
	ErrAlreadyConnected = errors.New("socket already connected")

	// ErrNoDialer is returned by Connect when Config.Dial is nil.
	ErrNoDialer = errors.New("no dial function configured")
)

// ReplyError reports a well-formed proxy reply whose status is not 2xx.
type ReplyError struct {
	StatusLine string
}

func (e *ReplyError) Error() string {
	return "proxy refused connect: " + e.StatusLine
}

func (e *ReplyError) Unwrap() error {
	return ErrNetFailure
}
