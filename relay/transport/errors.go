package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when the connection is not open. Frames are never queued for
	// a later connection.
	ErrNotConnected   = errors.New("not connected")
	ErrSendBufferFull = errors.New("send buffer is full")
	ErrInvalidURL     = errors.New("invalid relay url")
)

// ConnectError is reported when the connection could not be established (DNS, TLS, refused, bad URL)
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %s", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// CloseError carries the close frame sent by the remote side
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed by peer: %d %s", e.Code, e.Reason)
}
