package ws

import (
	"context"
	"errors"

	"github.com/coder/websocket"

	"github.com/jupiter/notifier/relay/transport"
)

type Conn struct {
	*websocket.Conn
}

func NewConn(wsConn *websocket.Conn) *Conn {
	return &Conn{
		Conn: wsConn,
	}
}

func (c *Conn) Read(ctx context.Context) (transport.MessageType, []byte, error) {
	t, payload, err := c.Conn.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return 0, nil, &transport.CloseError{Code: int(closeErr.Code), Reason: closeErr.Reason}
		}
		return 0, nil, err
	}

	if t == websocket.MessageBinary {
		return transport.MessageBinary, payload, nil
	}
	return transport.MessageText, payload, nil
}

func (c *Conn) Write(ctx context.Context, payload []byte) error {
	return c.Conn.Write(ctx, websocket.MessageText, payload)
}

func (c *Conn) Close(code int, reason string) error {
	return c.Conn.Close(websocket.StatusCode(code), reason)
}
