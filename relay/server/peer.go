package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/metrics"
)

const (
	writeTimeout = 5 * time.Second

	notificationRate  = rate.Limit(20)
	notificationBurst = 40
)

// Peer is a registered client of the hub
type Peer struct {
	log      *log.Entry
	id       string
	identity messages.Identity
	conn     *websocket.Conn
	relay    *Relay
	metrics  *metrics.Metrics
	limiter  *rate.Limiter

	// lastActivity is the unix nano time of the last frame, the register frame included
	lastActivity atomic.Int64
}

func NewPeer(relay *Relay, m *metrics.Metrics, id string, identity messages.Identity, conn *websocket.Conn) *Peer {
	p := &Peer{
		log: log.WithFields(log.Fields{
			"client_id":   id,
			"client_type": identity.ClientType(),
		}),
		id:       id,
		identity: identity,
		conn:     conn,
		relay:    relay,
		metrics:  m,
		limiter:  rate.NewLimiter(notificationRate, notificationBurst),
	}
	p.markActive(time.Now())
	return p
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Identity() messages.Identity {
	return p.identity
}

// LastActivity returns when the client sent its last frame
func (p *Peer) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

func (p *Peer) markActive(t time.Time) {
	p.lastActivity.Store(t.UnixNano())
}

// Work reads the frames of the client until the connection is closed
func (p *Peer) Work(ctx context.Context) {
	for {
		msgType, payload, err := p.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				p.log.Debugf("connection closed: %s", err)
			} else {
				p.log.Infof("failed to read message: %s", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			p.log.Debugf("drop non text frame")
			p.metrics.FrameDropped("binary")
			continue
		}

		p.markActive(time.Now())
		p.handleMsg(payload)
	}
}

func (p *Peer) handleMsg(payload []byte) {
	msgType, err := messages.DetermineMsgType(payload)
	if err != nil {
		p.log.Warnf("drop malformed frame: %s", err)
		p.metrics.FrameDropped("malformed")
		return
	}

	switch msgType {
	case messages.MsgTypeNotification:
		n, err := messages.UnmarshalNotificationMsg(payload)
		if err != nil {
			p.log.Warnf("drop invalid notification: %s", err)
			p.metrics.FrameDropped("invalid")
			return
		}
		if !p.limiter.Allow() {
			p.log.Warnf("notification rate exceeded, drop: %s", n.Title)
			p.metrics.FrameDropped("rate_limited")
			return
		}
		out, err := messages.MarshalNotificationMsg(n)
		if err != nil {
			p.log.Errorf("failed to marshal notification: %s", err)
			return
		}
		p.relay.broadcast(p, msgType, out)
	case messages.MsgTypeDismiss:
		out, err := messages.MarshalDismissMsg(p.id, p.identity.ClientType())
		if err != nil {
			p.log.Errorf("failed to marshal dismiss: %s", err)
			return
		}
		p.relay.broadcast(p, msgType, out)
	case messages.MsgTypePing:
		out, err := messages.MarshalPongMsg(time.Now())
		if err != nil {
			p.log.Errorf("failed to marshal pong: %s", err)
			return
		}
		if err := p.Send(out); err != nil {
			p.log.Debugf("failed to send pong: %s", err)
		}
	case messages.MsgTypeRegister:
		p.log.Debugf("client is already registered")
	default:
		p.log.Debugf("ignore frame of type %s", msgType)
	}
}

// Send writes a text frame to the client. A client that does not take the frame within the write
// timeout is disconnected.
func (p *Peer) Send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, payload)
}

// CloseGracefully closes the connection with a going away status
func (p *Peer) CloseGracefully(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		if err := p.conn.Close(websocket.StatusGoingAway, "server shutdown"); err != nil {
			p.log.Debugf("failed to close connection: %s", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = p.conn.CloseNow()
	}
}
