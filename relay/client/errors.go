package client

import (
	"errors"

	"github.com/jupiter/notifier/relay/transport"
)

var (
	// ErrNotConnected is returned when a frame is sent while the session is not Open or Degraded.
	// Nothing is queued for a later connection.
	ErrNotConnected = transport.ErrNotConnected
	errCloseTimeout = errors.New("timeout waiting for the connection to close")
)
