package gorilla

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jupiter/notifier/relay/transport"
)

const (
	controlTimeout = 5 * time.Second
	closeTimeout   = 5 * time.Second
)

// Conn adapts a gorilla connection. Gorilla has no context support, the deadlines are derived from the
// contexts instead.
type Conn struct {
	conn *websocket.Conn

	pongs      chan struct{}
	readClosed chan struct{}
	readOnce   sync.Once
}

func NewConn(wsConn *websocket.Conn) *Conn {
	c := &Conn{
		conn:       wsConn,
		pongs:      make(chan struct{}, 1),
		readClosed: make(chan struct{}),
	}
	wsConn.SetPongHandler(func(string) error {
		select {
		case c.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	return c
}

func (c *Conn) Read(_ context.Context) (transport.MessageType, []byte, error) {
	t, payload, err := c.conn.ReadMessage()
	if err != nil {
		c.readOnce.Do(func() { close(c.readClosed) })

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return 0, nil, &transport.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return 0, nil, err
	}

	if t == websocket.BinaryMessage {
		return transport.MessageBinary, payload, nil
	}
	return transport.MessageText, payload, nil
}

func (c *Conn) Write(ctx context.Context, payload []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) Ping(ctx context.Context) error {
	// drop a stale pong of an earlier ping
	select {
	case <-c.pongs:
	default:
	}

	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline(ctx, controlTimeout)); err != nil {
		return err
	}

	select {
	case <-c.pongs:
		return nil
	case <-c.readClosed:
		return transport.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends the close frame and waits a bit for the peer to answer it
func (c *Conn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout)); err != nil {
		return err
	}

	select {
	case <-c.readClosed:
	case <-time.After(closeTimeout):
	}
	return nil
}

func (c *Conn) CloseNow() error {
	return c.conn.Close()
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}
