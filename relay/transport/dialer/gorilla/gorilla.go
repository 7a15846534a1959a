package gorilla

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/transport"
)

const (
	handshakeTimeout = 30 * time.Second
	readLimit        = 64 * 1024
)

type Dialer struct {
	dialer *websocket.Dialer
}

func NewDialer() *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *Dialer) Protocol() string {
	return "gorilla-ws"
}

func (d *Dialer) Dial(ctx context.Context, address string) (transport.WSConn, error) {
	wsConn, resp, err := d.dialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		log.Debugf("failed to dial to relay server '%s': %s", address, err)
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	return NewConn(wsConn), nil
}
