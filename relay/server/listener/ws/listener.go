package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/server/listener"
)

// URLPath is the path the relay hub serves the websocket on
const URLPath = "/"

type Listener struct {
	address string

	wg       sync.WaitGroup
	serverMu sync.Mutex
	server   *http.Server
}

func NewListener(address string) *Listener {
	return &Listener{
		address: address,
	}
}

func (l *Listener) Listen(acceptFn listener.AcceptFn) error {
	mux := http.NewServeMux()
	mux.Handle(URLPath, l.Handler(acceptFn))

	server := &http.Server{
		Addr:    l.address,
		Handler: mux,
	}
	l.serverMu.Lock()
	l.server = server
	l.serverMu.Unlock()

	log.Infof("WS server is listening on address: %s", l.address)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler upgrades the requests to websocket and hands them over to acceptFn
func (l *Listener) Handler(acceptFn listener.AcceptFn) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.wg.Add(1)
		defer l.wg.Done()

		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Errorf("failed to accept ws connection: %s", err)
			return
		}
		defer func() {
			_ = wsConn.CloseNow()
		}()

		acceptFn(r.Context(), wsConn, r.RemoteAddr)
	})
}

func (l *Listener) Close(ctx context.Context) error {
	l.serverMu.Lock()
	server := l.server
	l.serverMu.Unlock()
	if server == nil {
		return nil
	}

	log.Debugf("closing WS server")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %v", err)
	}

	l.wg.Wait()
	return nil
}
