package client

import (
	"context"

	"github.com/jupiter/notifier/relay/transport"
)

// Handle is one relay connection as the Guard sees it. *transport.Conn implements it.
type Handle interface {
	ID() uint64
	Send(payload []byte) error
	Ping(ctx context.Context) error
	Close(code int, reason string)
	Done() <-chan struct{}
}

// ConnListener receives the events of the handles opened by an Opener
type ConnListener interface {
	OnOpen(h Handle)
	OnMessage(h Handle, payload []byte)
	OnPong(h Handle)
	OnClosing(h Handle, code int, reason string)
	OnFailure(h Handle, err error)
}

// Opener starts a connection attempt. It must not block on the network and must not call the
// listener before it returned.
type Opener interface {
	Open(address string, l ConnListener) (Handle, error)
}

type transportOpener struct {
	transport *transport.Transport
}

func newTransportOpener(t *transport.Transport) *transportOpener {
	return &transportOpener{transport: t}
}

func (o *transportOpener) Open(address string, l ConnListener) (Handle, error) {
	conn, err := o.transport.Open(address, listenerAdapter{l: l})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type listenerAdapter struct {
	l ConnListener
}

func (a listenerAdapter) OnOpen(c *transport.Conn) {
	a.l.OnOpen(c)
}

func (a listenerAdapter) OnMessage(c *transport.Conn, payload []byte) {
	a.l.OnMessage(c, payload)
}

func (a listenerAdapter) OnPong(c *transport.Conn) {
	a.l.OnPong(c)
}

func (a listenerAdapter) OnClosing(c *transport.Conn, code int, reason string) {
	a.l.OnClosing(c, code, reason)
}

func (a listenerAdapter) OnFailure(c *transport.Conn, err error) {
	a.l.OnFailure(c, err)
}
