package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/transport"
)

const readLimit = 64 * 1024

type Dialer struct {
	httpClient *http.Client
}

func NewDialer() *Dialer {
	return &Dialer{}
}

// NewDialerWithClient uses the given http client for the upgrade request
func NewDialerWithClient(httpClient *http.Client) *Dialer {
	return &Dialer{httpClient: httpClient}
}

func (d *Dialer) Protocol() string {
	return "ws"
}

func (d *Dialer) Dial(ctx context.Context, address string) (transport.WSConn, error) {
	opts := &websocket.DialOptions{
		HTTPClient: d.httpClient,
	}

	wsConn, resp, err := websocket.Dial(ctx, address, opts)
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
