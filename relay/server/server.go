package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/metric"

	"github.com/jupiter/notifier/relay/server/listener/ws"
)

// Server is the development relay hub with its websocket listener
type Server struct {
	relay *Relay

	mu         sync.Mutex
	wsListener *ws.Listener
}

func NewServer(meter metric.Meter) (*Server, error) {
	relay, err := NewRelay(meter)
	if err != nil {
		return nil, err
	}
	return &Server{
		relay: relay,
	}, nil
}

// Listen serves the hub on the address until Shutdown is called
func (r *Server) Listen(address string) error {
	l := ws.NewListener(address)
	r.mu.Lock()
	r.wsListener = l
	r.mu.Unlock()

	if err := l.Listen(r.relay.Accept); err != nil {
		return fmt.Errorf("failed to bind ws server: %w", err)
	}
	return nil
}

// Handler returns the websocket handler of the hub without binding a port
func (r *Server) Handler() http.Handler {
	return ws.NewListener("").Handler(r.relay.Accept)
}

func (r *Server) Relay() *Relay {
	return r.relay
}

// Shutdown closes the accepted connections and stops the listener. The listener waits for the
// handlers, so the clients are closed first.
func (r *Server) Shutdown(ctx context.Context) error {
	r.relay.Shutdown(ctx)

	r.mu.Lock()
	l := r.wsListener
	r.mu.Unlock()

	var merr *multierror.Error
	if l != nil {
		if err := l.Close(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close ws listener: %w", err))
		}
	}
	return merr.ErrorOrNil()
}
