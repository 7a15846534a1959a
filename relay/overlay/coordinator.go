package overlay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/messages"
)

var ErrNoActiveOverlay = errors.New("no active overlay")

// Origin tells why an overlay went away
type Origin int

const (
	// Originating is a dismiss made by the user of this device. It is the only origin that is broadcast.
	Originating Origin = iota
	// Received is a dismiss that arrived from the relay. It is terminal and never re-broadcast.
	Received
	// Expired is a local display timeout, it is not broadcast.
	Expired
)

func (o Origin) String() string {
	switch o {
	case Originating:
		return "originating"
	case Received:
		return "received"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Token represents the overlay that is currently visible on this device
type Token struct {
	id           uint64
	notification messages.Notification
	shownAt      time.Time
}

func (t Token) ID() uint64 {
	return t.id
}

func (t Token) Notification() messages.Notification {
	return t.notification
}

func (t Token) ShownAt() time.Time {
	return t.shownAt
}

type Options struct {
	// DisplayDuration closes the overlay automatically, 0 keeps it until it is dismissed
	DisplayDuration time.Duration
	Clock           clockwork.Clock
}

// Coordinator keeps at most one overlay visible and makes sure a dismiss travels through the relay
// exactly once: a local dismiss is broadcast, a received dismiss is not. The renderer is called
// outside the coordinator lock, in the order of the state changes, so it may call back into the
// coordinator.
type Coordinator struct {
	log             *log.Entry
	clock           clockwork.Clock
	displayDuration time.Duration
	broadcast       func() error

	mu          sync.Mutex
	renderer    Renderer
	token       *Token
	lastTokenID uint64
	expiry      clockwork.Timer

	renders   []func()
	rendering bool
}

// NewCoordinator creates a coordinator. The broadcast function sends the dismiss frame to the relay.
func NewCoordinator(log *log.Entry, opts Options, broadcast func() error) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		log:             log,
		clock:           opts.Clock,
		displayDuration: opts.DisplayDuration,
		broadcast:       broadcast,
	}
}

// SetRenderer attaches the renderer. Passing nil detaches it, a visible overlay disappears with it.
// Calls already queued for the previous renderer are still delivered to it.
func (c *Coordinator) SetRenderer(r Renderer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r == nil && c.token != nil {
		c.log.Debugf("renderer detached, forget overlay %d", c.token.id)
		c.clearLocked()
	}
	c.renderer = r
}

// Active returns the token of the visible overlay
func (c *Coordinator) Active() (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return Token{}, false
	}
	return *c.token, true
}

// Present shows the notification. A visible overlay is replaced without any broadcast. Without an
// attached renderer the notification is dropped and false is returned.
func (c *Coordinator) Present(n messages.Notification) bool {
	defer c.render()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.renderer == nil {
		c.log.Errorf("overlay renderer is not available, drop notification: %s", n.Title)
		return false
	}

	if c.token != nil {
		c.log.Infof("overlay %d is visible, replace it", c.token.id)
		c.clearLocked()
	}

	c.lastTokenID++
	c.token = &Token{
		id:           c.lastTokenID,
		notification: n,
		shownAt:      c.clock.Now(),
	}
	r := c.renderer
	c.renders = append(c.renders, func() { r.Show(n) })

	if c.displayDuration > 0 {
		id := c.token.id
		c.expiry = c.clock.AfterFunc(c.displayDuration, func() {
			c.expire(id)
		})
	}
	return true
}

// DismissLocal handles a dismiss made by the user of this device: the overlay is cleared first, then
// the dismiss is broadcast to the other clients.
func (c *Coordinator) DismissLocal(originID string) error {
	c.mu.Lock()
	if c.token == nil {
		c.mu.Unlock()
		return ErrNoActiveOverlay
	}

	c.dismissLocked(messages.DismissEvent{OriginClientID: originID, Timestamp: c.clock.Now()}, Originating)
	c.mu.Unlock()
	c.render()

	if err := c.broadcast(); err != nil {
		return fmt.Errorf("broadcast dismiss: %w", err)
	}
	return nil
}

// DismissReceived handles a dismiss that came from the relay. It is idempotent and never broadcast.
func (c *Coordinator) DismissReceived(ev messages.DismissEvent) bool {
	defer c.render()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		c.log.Debugf("received dismiss from %q without active overlay", ev.OriginClientID)
		return false
	}

	c.dismissLocked(ev, Received)
	return true
}

func (c *Coordinator) expire(id uint64) {
	defer c.render()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.id != id {
		return
	}
	c.dismissLocked(messages.DismissEvent{Timestamp: c.clock.Now()}, Expired)
}

func (c *Coordinator) dismissLocked(ev messages.DismissEvent, origin Origin) {
	c.log.Infof("dismiss overlay %d (%s)", c.token.id, origin)
	c.clearLocked()
	if r := c.renderer; r != nil {
		c.renders = append(c.renders, func() { r.Dismiss(ev) })
	}
}

// render runs the queued renderer calls. It must be called without holding the lock. A call made while
// another goroutine, or the renderer itself, is rendering leaves the queue to that goroutine.
func (c *Coordinator) render() {
	c.mu.Lock()
	if c.rendering {
		c.mu.Unlock()
		return
	}
	c.rendering = true
	for len(c.renders) > 0 {
		fn := c.renders[0]
		c.renders = c.renders[1:]
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.rendering = false
	c.mu.Unlock()
}

func (c *Coordinator) clearLocked() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.token = nil
}
