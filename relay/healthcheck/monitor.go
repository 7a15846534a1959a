package healthcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 60 * time.Second
)

var ErrStale = errors.New("connection is stale")

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clockwork.Clock
}

// Monitor watches the inbound activity of one open connection.
// On every interval it checks the time passed since the last activity. When it is longer than the
// timeout it sends a single Stale signal and stops to work, otherwise it asks for a keepalive ping.
// The monitor does not rely on the transport to detect a dead peer.
type Monitor struct {
	// Stale receives exactly one signal when the connection is considered dead
	Stale chan struct{}

	log      *log.Entry
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration

	ping       func()
	onDegraded func()

	lastActivity atomic.Int64
}

// NewMonitor creates a monitor. The ping function is called on every healthy tick, onDegraded on every tick
// that found the connection quiet for longer than one interval. Both callbacks are optional.
func NewMonitor(log *log.Entry, opts Options, ping func(), onDegraded func()) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = getTimeoutFromEnv()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	m := &Monitor{
		Stale:      make(chan struct{}, 1),
		log:        log,
		clock:      opts.Clock,
		interval:   opts.Interval,
		timeout:    opts.Timeout,
		ping:       ping,
		onDegraded: onDegraded,
	}
	m.OnActivity()
	return m
}

// OnActivity records inbound traffic: application frames, pings and pongs
func (m *Monitor) OnActivity() {
	m.lastActivity.Store(m.clock.Now().UnixNano())
}

// LastActivity returns the time of the latest recorded inbound traffic
func (m *Monitor) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

// Start runs the check loop until the context is done or the connection went stale
func (m *Monitor) Start(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if m.check() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) check() bool {
	idle := m.clock.Since(m.LastActivity())
	if idle > m.timeout {
		m.log.Warnf("no activity since %s, connection is stale", idle)
		select {
		case m.Stale <- struct{}{}:
		default:
		}
		return true
	}

	if idle > m.interval && m.onDegraded != nil {
		m.log.Debugf("no activity since %s", idle)
		m.onDegraded()
	}

	if m.ping != nil {
		m.ping()
	}
	return false
}
