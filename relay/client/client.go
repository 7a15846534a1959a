package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/healthcheck"
	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/metrics"
	"github.com/jupiter/notifier/relay/overlay"
	"github.com/jupiter/notifier/relay/transport"
	"github.com/jupiter/notifier/relay/transport/dialer/ws"
)

type Options struct {
	// Dialer defaults to the coder websocket dialer
	Dialer    transport.Dialer
	Transport transport.Options
	Clock     clockwork.Clock

	BaseDelay time.Duration
	MaxDelay  time.Duration

	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	// DisplayDuration closes a shown overlay automatically, 0 keeps it until dismissed
	DisplayDuration time.Duration

	Metrics *metrics.ClientMetrics
}

// Session is one Start/Stop cycle of the client
type Session struct {
	ID        string
	URL       string
	Identity  messages.Identity
	StartedAt time.Time

	clientID atomic.Value
}

// ClientID returns the id assigned by the relay server, empty until the registration is acknowledged
func (s *Session) ClientID() string {
	id, _ := s.clientID.Load().(string)
	return id
}

func (s *Session) setClientID(id string) {
	s.clientID.Store(id)
}

// Client is the relay client of one device. It publishes notifications to the relay, delivers the
// received ones to the overlay renderer and keeps the dismiss state of the overlays in sync with the
// other devices.
type Client struct {
	log     *log.Entry
	clock   clockwork.Clock
	opts    Options
	opener  Opener
	metrics *metrics.ClientMetrics
	overlay *overlay.Coordinator

	lifecycleMu sync.Mutex
	session     atomic.Pointer[Session]
	guard       atomic.Pointer[Guard]

	handlersMu     sync.RWMutex
	onNotification func(n messages.Notification)
	onDismiss      func(ev messages.DismissEvent)
	onStateChange  func(old, new ConnectionState)
}

func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = ws.NewDialer()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopClientMetrics()
	}

	c := &Client{
		log:     log.WithField("component", "relay-client"),
		clock:   opts.Clock,
		opts:    opts,
		opener:  newTransportOpener(transport.NewWithOpts(opts.Dialer, opts.Transport)),
		metrics: opts.Metrics,
	}
	c.overlay = overlay.NewCoordinator(c.log, overlay.Options{
		DisplayDuration: opts.DisplayDuration,
		Clock:           opts.Clock,
	}, c.broadcastDismiss)
	return c
}

// Start creates a session and connects to the relay in the background. Calling Start on a running
// client returns the running session.
func (c *Client) Start(address string, identity messages.Identity) (*Session, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if s := c.session.Load(); s != nil {
		c.log.Debugf("relay client is already started")
		return s, nil
	}

	if err := transport.ValidateURL(address); err != nil {
		return nil, &transport.ConnectError{URL: address, Err: err}
	}

	s := &Session{
		ID:        uuid.NewString(),
		URL:       address,
		Identity:  identity,
		StartedAt: c.clock.Now(),
	}

	sessionLog := c.log.WithFields(log.Fields{
		"session": s.ID,
		"relay":   address,
	})
	g := NewGuard(sessionLog, c.opener, address, GuardOptions{
		Clock:     c.clock,
		BaseDelay: c.opts.BaseDelay,
		MaxDelay:  c.opts.MaxDelay,
		Keepalive: healthcheck.Options{
			Interval: c.opts.KeepaliveInterval,
			Timeout:  c.opts.KeepaliveTimeout,
		},
		Metrics: c.metrics,
	}, func(h Handle) error {
		return c.register(h, identity)
	}, func(payload []byte) {
		c.handleFrame(s, payload)
	})
	g.OnStateChange(c.notifyStateChange)

	c.session.Store(s)
	c.guard.Store(g)
	sessionLog.Infof("starting relay session as %s", identity)
	g.Start()
	return s, nil
}

// Stop closes the session. It is a no-op when the client is not started.
func (c *Client) Stop() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	s := c.session.Load()
	g := c.guard.Load()
	if s == nil || g == nil {
		return nil
	}

	err := g.Stop()
	c.guard.Store(nil)
	c.session.Store(nil)
	if err != nil {
		return fmt.Errorf("stop relay session %s: %w", s.ID, err)
	}
	c.log.Infof("relay session %s stopped", s.ID)
	return nil
}

// Session returns the running session or nil
func (c *Client) Session() *Session {
	return c.session.Load()
}

func (c *Client) State() ConnectionState {
	g := c.guard.Load()
	if g == nil {
		return StateDisconnected
	}
	return g.State()
}

// SendNotification publishes the notification to the other clients. It fails with ErrNotConnected
// unless the connection is Open or Degraded.
func (c *Client) SendNotification(n messages.Notification) error {
	g := c.guard.Load()
	if g == nil {
		return ErrNotConnected
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.clock.Now()
	}
	payload, err := messages.MarshalNotificationMsg(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := g.Send(payload); err != nil {
		return err
	}
	c.metrics.NotificationSent()
	return nil
}

// Dismiss closes the visible overlay on behalf of the user and tells the other clients about it
func (c *Client) Dismiss() error {
	var origin string
	if s := c.session.Load(); s != nil {
		origin = s.ClientID()
	}

	err := c.overlay.DismissLocal(origin)
	if errors.Is(err, overlay.ErrNoActiveOverlay) {
		return err
	}
	c.metrics.Dismiss(overlay.Originating.String())
	return err
}

// ActiveOverlay returns the overlay currently visible on this device
func (c *Client) ActiveOverlay() (overlay.Token, bool) {
	return c.overlay.Active()
}

// OnNotification registers the overlay renderer. Without it the received notifications are dropped.
func (c *Client) OnNotification(fn func(n messages.Notification)) {
	c.handlersMu.Lock()
	c.onNotification = fn
	c.handlersMu.Unlock()

	if fn == nil {
		c.overlay.SetRenderer(nil)
		return
	}
	c.overlay.SetRenderer(overlay.RendererFuncs{
		ShowFn:    c.show,
		DismissFn: c.dismissed,
	})
}

// OnDismiss registers the callback that removes the overlay on a received or local dismiss
func (c *Client) OnDismiss(fn func(ev messages.DismissEvent)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onDismiss = fn
}

// OnStateChange registers a listener of the connection state. It runs outside the connection lock and
// may query the client or send frames, but it must not call Start or Stop.
func (c *Client) OnStateChange(fn func(old, new ConnectionState)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onStateChange = fn
}

func (c *Client) register(h Handle, identity messages.Identity) error {
	payload, err := messages.MarshalRegisterMsg(identity)
	if err != nil {
		return err
	}
	return h.Send(payload)
}

func (c *Client) handleFrame(s *Session, payload []byte) {
	msgType, err := messages.DetermineMsgType(payload)
	if err != nil {
		c.log.Warnf("drop malformed frame: %s", err)
		c.metrics.FrameDropped("malformed")
		return
	}
	c.metrics.FrameReceived(msgType.String())

	switch msgType {
	case messages.MsgTypeRegistered:
		clientID, err := messages.UnmarshalRegisteredMsg(payload)
		if err != nil {
			c.dropFrame(err)
			return
		}
		s.setClientID(clientID)
		c.log.Infof("registered on relay server as %s", clientID)
	case messages.MsgTypeNotification:
		n, err := messages.UnmarshalNotificationMsg(payload)
		if err != nil {
			c.dropFrame(err)
			return
		}
		if c.overlay.Present(n) {
			c.metrics.Overlay("shown")
		} else {
			c.metrics.Overlay("dropped")
		}
	case messages.MsgTypeDismiss:
		origin, clientType, err := messages.UnmarshalDismissMsg(payload)
		if err != nil {
			c.dropFrame(err)
			return
		}
		if origin != "" && origin == s.ClientID() {
			c.log.Debugf("ignore own dismiss")
			return
		}
		ev := messages.DismissEvent{OriginClientID: origin, OriginClientType: clientType, Timestamp: c.clock.Now()}
		if c.overlay.DismissReceived(ev) {
			c.metrics.Dismiss(overlay.Received.String())
		}
	case messages.MsgTypePing:
		c.replyPong()
	case messages.MsgTypePong:
	default:
		c.log.Debugf("ignore frame of type %s", msgType)
	}
}

func (c *Client) dropFrame(err error) {
	c.log.Warnf("drop invalid frame: %s", err)
	c.metrics.FrameDropped("invalid")
}

func (c *Client) replyPong() {
	g := c.guard.Load()
	if g == nil {
		return
	}
	payload, err := messages.MarshalPongMsg(c.clock.Now())
	if err != nil {
		c.log.Errorf("failed to marshal pong: %s", err)
		return
	}
	if err := g.Send(payload); err != nil {
		c.log.Debugf("failed to send pong: %s", err)
	}
}

func (c *Client) broadcastDismiss() error {
	g := c.guard.Load()
	s := c.session.Load()
	if g == nil || s == nil {
		return ErrNotConnected
	}

	payload, err := messages.MarshalDismissMsg(s.ClientID(), s.Identity.ClientType())
	if err != nil {
		return fmt.Errorf("encode dismiss: %w", err)
	}
	return g.Send(payload)
}

func (c *Client) show(n messages.Notification) {
	c.handlersMu.RLock()
	fn := c.onNotification
	c.handlersMu.RUnlock()

	if fn != nil {
		fn(n)
	}
}

func (c *Client) dismissed(ev messages.DismissEvent) {
	c.handlersMu.RLock()
	fn := c.onDismiss
	c.handlersMu.RUnlock()

	if fn != nil {
		fn(ev)
	}
}

func (c *Client) notifyStateChange(old, new ConnectionState) {
	c.handlersMu.RLock()
	fn := c.onStateChange
	c.handlersMu.RUnlock()

	if fn != nil {
		fn(old, new)
	}
}
