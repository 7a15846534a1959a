package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	StatusNormalClosure = 1000
	StatusGoingAway     = 1001

	defaultDialTimeout  = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	sendBufferSize      = 16
)

type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// WSConn is the part of a websocket library connection the transport relies on. Read is only called
// from a single goroutine and Write only from the write pump.
type WSConn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, payload []byte) error
	Ping(ctx context.Context) error
	// Close performs the closing handshake
	Close(code int, reason string) error
	// CloseNow tears down the underlying socket without a handshake
	CloseNow() error
}

type Dialer interface {
	Dial(ctx context.Context, address string) (WSConn, error)
	Protocol() string
}

// Listener receives the asynchronous events of a Conn. The callbacks of one Conn are never invoked
// concurrently with each other except OnFailure raised by a broken write.
type Listener interface {
	OnOpen(c *Conn)
	OnMessage(c *Conn, payload []byte)
	OnPong(c *Conn)
	OnClosing(c *Conn, code int, reason string)
	OnFailure(c *Conn, err error)
}

type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Transport opens relay connections. It never retries, retry policy belongs to the caller.
type Transport struct {
	dialer       Dialer
	dialTimeout  time.Duration
	writeTimeout time.Duration
	lastConnID   atomic.Uint64
}

func New(dialer Dialer) *Transport {
	return NewWithOpts(dialer, Options{})
}

func NewWithOpts(dialer Dialer, opts Options) *Transport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Transport{
		dialer:       dialer,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
	}
}

// Open validates the address and starts dialing in the background. The outcome is reported to the
// listener with OnOpen or OnFailure. Every call creates exactly one socket.
func (t *Transport) Open(address string, listener Listener) (*Conn, error) {
	if err := ValidateURL(address); err != nil {
		return nil, &ConnectError{URL: address, Err: err}
	}

	id := t.lastConnID.Add(1)
	c := newConn(id, address, t.dialer, listener, t.writeTimeout)
	c.log.Debugf("dialing relay server via %s", t.dialer.Protocol())
	go c.run(t.dialTimeout)
	return c, nil
}

// ValidateURL accepts ws and wss urls with a host
func ValidateURL(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

func connLogger(id uint64, address string) *log.Entry {
	return log.WithFields(log.Fields{
		"conn_id": id,
		"relay":   address,
	})
}
