package listener

import (
	"context"

	"github.com/coder/websocket"
)

// AcceptFn handles one accepted connection. The connection lives as long as the function runs.
type AcceptFn func(ctx context.Context, conn *websocket.Conn, remoteAddr string)

type Listener interface {
	Listen(acceptFn AcceptFn) error
	Close(ctx context.Context) error
}
