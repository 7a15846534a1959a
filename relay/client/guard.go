package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/healthcheck"
	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/metrics"
	"github.com/jupiter/notifier/relay/transport"
)

var (
	closeTimeout = 10 * time.Second
	pingTimeout  = 10 * time.Second
)

type GuardOptions struct {
	Clock     clockwork.Clock
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Keepalive healthcheck.Options
	Metrics   *metrics.ClientMetrics
}

// Guard keeps the relay connection of one session alive. It owns at most one handle at a time: a
// failed or stale handle is closed before the next one is opened, and the events of a superseded
// handle are ignored. Reconnect attempts wait with exponential backoff and a pending attempt is
// cancelled by Stop.
type Guard struct {
	log       *log.Entry
	clock     clockwork.Clock
	opener    Opener
	address   string
	keepalive healthcheck.Options
	metrics   *metrics.ClientMetrics

	// register is called with the fresh handle before the state becomes Open
	register func(h Handle) error
	dispatch func(payload []byte)

	mu             sync.Mutex
	state          ConnectionState
	epoch          uint64
	budget         *ReconnectBudget
	handle         Handle
	monitor        *healthcheck.Monitor
	monitorCancel  context.CancelFunc
	reconnectTimer clockwork.Timer
	stateListeners []func(old, new ConnectionState)

	// transitions wait here until the lock is released; notifying marks the goroutine draining them
	transitions []stateTransition
	notifying   bool
}

type stateTransition struct {
	old, new ConnectionState
}

func NewGuard(log *log.Entry, opener Opener, address string, opts GuardOptions, register func(h Handle) error, dispatch func(payload []byte)) *Guard {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopClientMetrics()
	}
	opts.Keepalive.Clock = opts.Clock

	return &Guard{
		log:       log,
		clock:     opts.Clock,
		opener:    opener,
		address:   address,
		keepalive: opts.Keepalive,
		metrics:   opts.Metrics,
		register:  register,
		dispatch:  dispatch,
		state:     StateDisconnected,
		budget:    newReconnectBudget(opts.BaseDelay, opts.MaxDelay, opts.Clock),
	}
}

// OnStateChange registers a listener of the state transitions. Listeners run outside the Guard lock,
// one at a time and in transition order, so they may call back into the Guard.
func (g *Guard) OnStateChange(fn func(old, new ConnectionState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateListeners = append(g.stateListeners, fn)
}

func (g *Guard) State() ConnectionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Budget returns a copy of the current reconnect budget
func (g *Guard) Budget() ReconnectBudget {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ReconnectBudget{Attempt: g.budget.Attempt, NextDelay: g.budget.NextDelay}
}

// Start opens the first connection. It has no effect unless the Guard is Disconnected.
func (g *Guard) Start() {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateDisconnected {
		return
	}

	g.epoch++
	g.budget.Reset()
	g.setStateLocked(StateConnecting)
	g.openLocked()
}

// Stop cancels the pending reconnect, closes the current handle and waits for its teardown
func (g *Guard) Stop() error {
	defer g.notifyStateListeners()
	g.mu.Lock()
	if g.state == StateDisconnected || g.state == StateClosing {
		g.mu.Unlock()
		return nil
	}

	g.epoch++
	g.setStateLocked(StateClosing)
	g.stopReconnectTimerLocked()
	g.stopMonitorLocked()
	h := g.handle
	g.handle = nil
	g.mu.Unlock()
	g.notifyStateListeners()

	var err error
	if h != nil {
		h.Close(transport.StatusNormalClosure, "client stopped")
		select {
		case <-h.Done():
		case <-g.clock.After(closeTimeout):
			err = errCloseTimeout
		}
	}

	g.mu.Lock()
	g.setStateLocked(StateDisconnected)
	g.mu.Unlock()
	return err
}

// Send writes the frame to the current handle. Frames are not queued while the connection is down.
func (g *Guard) Send(payload []byte) error {
	g.mu.Lock()
	h := g.handle
	connected := g.state.IsConnected()
	g.mu.Unlock()

	if !connected || h == nil {
		return ErrNotConnected
	}
	return h.Send(payload)
}

func (g *Guard) OnOpen(h Handle) {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if h != g.handle || g.state != StateConnecting {
		g.log.Debugf("ignore open of superseded connection %d", h.ID())
		h.Close(transport.StatusGoingAway, "superseded")
		return
	}

	if err := g.register(h); err != nil {
		g.failLocked(h, fmt.Errorf("register: %w", err))
		return
	}

	g.budget.Reset()
	g.setStateLocked(StateOpen)
	g.startMonitorLocked(h)
}

func (g *Guard) OnMessage(h Handle, payload []byte) {
	g.mu.Lock()
	if h != g.handle {
		g.mu.Unlock()
		g.log.Tracef("drop frame of superseded connection %d", h.ID())
		return
	}
	g.markActivityLocked()
	g.mu.Unlock()
	g.notifyStateListeners()

	g.dispatch(payload)
}

func (g *Guard) OnPong(h Handle) {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if h != g.handle {
		return
	}
	g.markActivityLocked()
}

func (g *Guard) OnClosing(h Handle, code int, reason string) {
	g.down(h, &transport.CloseError{Code: code, Reason: reason})
}

func (g *Guard) OnFailure(h Handle, err error) {
	g.down(h, err)
}

func (g *Guard) down(h Handle, err error) {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if h != g.handle {
		g.log.Debugf("ignore failure of superseded connection %d: %s", h.ID(), err)
		return
	}
	g.failLocked(h, err)
}

func (g *Guard) onStale(h Handle) {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if h != g.handle {
		return
	}
	g.failLocked(h, healthcheck.ErrStale)
}

func (g *Guard) onDegraded(h Handle) {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if h != g.handle || g.state != StateOpen {
		return
	}
	g.setStateLocked(StateDegraded)
}

func (g *Guard) sendKeepalive(h Handle) {
	payload, err := messages.MarshalPingMsg(g.clock.Now())
	if err != nil {
		g.log.Errorf("failed to marshal ping: %s", err)
		return
	}
	if err := h.Send(payload); err != nil {
		g.log.Debugf("failed to send keepalive: %s", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			g.log.Debugf("transport ping: %s", err)
		}
	}()
}

func (g *Guard) openLocked() {
	h, err := g.opener.Open(g.address, g)
	if err != nil {
		g.log.Errorf("failed to open relay connection: %s", err)
		g.scheduleReconnectLocked()
		return
	}
	g.handle = h
}

func (g *Guard) failLocked(h Handle, err error) {
	g.log.Warnf("relay connection %d is down: %s", h.ID(), err)
	g.stopMonitorLocked()
	g.handle = nil
	h.Close(transport.StatusGoingAway, "reconnecting")

	if g.state == StateClosing || g.state == StateDisconnected {
		return
	}
	g.setStateLocked(StateConnecting)
	g.scheduleReconnectLocked()
}

func (g *Guard) scheduleReconnectLocked() {
	if g.reconnectTimer != nil {
		g.log.Debugf("reconnect is already scheduled")
		return
	}

	delay := g.budget.Failure()
	epoch := g.epoch
	g.metrics.ReconnectScheduled()
	g.log.Infof("reconnect to relay server in %s (attempt %d)", delay, g.budget.Attempt)
	g.reconnectTimer = g.clock.AfterFunc(delay, func() {
		g.onReconnectTimer(epoch)
	})
}

func (g *Guard) onReconnectTimer(epoch uint64) {
	defer g.notifyStateListeners()
	g.mu.Lock()
	defer g.mu.Unlock()

	if epoch != g.epoch || g.state != StateConnecting {
		return
	}
	g.reconnectTimer = nil
	g.openLocked()
}

func (g *Guard) stopReconnectTimerLocked() {
	if g.reconnectTimer == nil {
		return
	}
	g.reconnectTimer.Stop()
	g.reconnectTimer = nil
}

func (g *Guard) startMonitorLocked(h Handle) {
	ctx, cancel := context.WithCancel(context.Background())
	m := healthcheck.NewMonitor(g.log, g.keepalive, func() { g.sendKeepalive(h) }, func() { g.onDegraded(h) })
	g.monitor = m
	g.monitorCancel = cancel

	go m.Start(ctx)
	go func() {
		select {
		case <-m.Stale:
			g.onStale(h)
		case <-ctx.Done():
		}
	}()
}

func (g *Guard) stopMonitorLocked() {
	if g.monitorCancel != nil {
		g.monitorCancel()
		g.monitorCancel = nil
	}
	g.monitor = nil
}

func (g *Guard) markActivityLocked() {
	if g.monitor != nil {
		g.monitor.OnActivity()
	}
	if g.state == StateDegraded {
		g.setStateLocked(StateOpen)
	}
}

func (g *Guard) setStateLocked(state ConnectionState) {
	if g.state == state {
		return
	}

	old := g.state
	g.state = state
	g.log.Infof("relay connection state: %s -> %s", old, state)
	g.metrics.StateChanged(state.String())
	g.transitions = append(g.transitions, stateTransition{old: old, new: state})
}

// notifyStateListeners delivers the queued transitions. It must be called without holding the lock. When
// another goroutine is already draining the queue, it delivers our transitions after its own.
func (g *Guard) notifyStateListeners() {
	g.mu.Lock()
	if g.notifying {
		g.mu.Unlock()
		return
	}
	g.notifying = true
	for len(g.transitions) > 0 {
		tr := g.transitions[0]
		g.transitions = g.transitions[1:]
		listeners := append([]func(old, new ConnectionState){}, g.stateListeners...)
		g.mu.Unlock()

		for _, fn := range listeners {
			fn(tr.old, tr.new)
		}

		g.mu.Lock()
	}
	g.notifying = false
	g.mu.Unlock()
}
