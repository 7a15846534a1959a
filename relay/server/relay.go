package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/metrics"
)

const (
	registerTimeout = 10 * time.Second
	fanOutLimit     = 16
)

var errRegistrationExpected = errors.New("the first frame must be a register frame")

// Relay is the hub: it registers the clients and fans the notifications and the dismisses out to
// every other registered client
type Relay struct {
	metrics *metrics.Metrics

	store *Store

	closed  bool
	closeMu sync.RWMutex
}

// NewRelay creates a new Relay instance. The meter is used to create the hub metrics.
func NewRelay(meter metric.Meter) (*Relay, error) {
	store := NewStore()
	m, err := metrics.NewMetrics(meter, store)
	if err != nil {
		return nil, fmt.Errorf("creating app metrics: %v", err)
	}

	return &Relay{
		metrics: m,
		store:   store,
	}, nil
}

// Accept handles a new client connection until it is closed
func (r *Relay) Accept(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	if r.isClosed() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	identity, err := r.handshake(ctx, conn)
	if err != nil {
		log.Errorf("failed to handshake with %s: %s", remoteAddr, err)
		_ = conn.Close(websocket.StatusPolicyViolation, "registration required")
		return
	}

	peer := NewPeer(r, r.metrics, uuid.NewString(), identity, conn)

	registered, err := messages.MarshalRegisteredMsg(peer.ID())
	if err != nil {
		peer.log.Errorf("failed to marshal registered message: %s", err)
		return
	}
	if err := peer.Send(registered); err != nil {
		peer.log.Errorf("failed to send registered message: %s", err)
		return
	}

	r.closeMu.RLock()
	if r.closed {
		r.closeMu.RUnlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}
	r.store.AddPeer(peer)
	r.closeMu.RUnlock()

	peer.log.Infof("client registered from: %s (%s)", remoteAddr, identity)
	r.metrics.ClientRegistered()

	peer.Work(ctx)

	r.store.DeletePeer(peer)
	r.metrics.ClientGone()
	peer.log.Debugf("relay connection closed")
}

func (r *Relay) handshake(ctx context.Context, conn *websocket.Conn) (messages.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	msgType, payload, err := conn.Read(ctx)
	if err != nil {
		return messages.Identity{}, fmt.Errorf("read register message: %w", err)
	}
	if msgType != websocket.MessageText {
		return messages.Identity{}, errRegistrationExpected
	}

	frameType, err := messages.DetermineMsgType(payload)
	if err != nil {
		return messages.Identity{}, err
	}
	if frameType != messages.MsgTypeRegister {
		return messages.Identity{}, fmt.Errorf("%w, got %s", errRegistrationExpected, frameType)
	}

	return messages.UnmarshalRegisterMsg(payload)
}

func (r *Relay) broadcast(from *Peer, msgType messages.MsgType, payload []byte) {
	peers := r.store.Others(from)

	var g errgroup.Group
	g.SetLimit(fanOutLimit)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			if err := p.Send(payload); err != nil {
				p.log.Debugf("failed to relay %s: %s", msgType, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	from.log.Debugf("relayed %s to %d clients", msgType, len(peers))
	r.metrics.FrameFannedOut(msgType.String(), len(peers))
}

// Peers returns the registered clients
func (r *Relay) Peers() []*Peer {
	return r.store.Peers()
}

// Shutdown closes the connection with all clients gracefully and stops accepting new ones
func (r *Relay) Shutdown(ctx context.Context) {
	log.Infof("close connection with all clients")
	r.closeMu.Lock()
	r.closed = true
	r.closeMu.Unlock()

	wg := sync.WaitGroup{}
	for _, peer := range r.store.Peers() {
		wg.Add(1)
		go func(p *Peer) {
			p.CloseGracefully(ctx)
			wg.Done()
		}(peer)
	}
	wg.Wait()
}

func (r *Relay) isClosed() bool {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	return r.closed
}
