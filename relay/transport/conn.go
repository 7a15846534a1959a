package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Conn is the handle of a single relay socket. It is created by Transport.Open and becomes usable
// once OnOpen has been delivered.
type Conn struct {
	id           uint64
	address      string
	log          *log.Entry
	dialer       Dialer
	listener     Listener
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	ws          WSConn
	open        bool
	closed      bool
	closeCode   int
	closeReason string

	sendCh  chan []byte
	closing chan struct{}
	done    chan struct{}
}

func newConn(id uint64, address string, dialer Dialer, listener Listener, writeTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:           id,
		address:      address,
		log:          connLogger(id, address),
		dialer:       dialer,
		listener:     listener,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		sendCh:       make(chan []byte, sendBufferSize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) Address() string {
	return c.address
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn-%d(%s)", c.id, c.address)
}

// Done is closed when the socket and all the pumps of this connection are gone
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// IsOpen reports whether frames can be sent right now
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

// Send queues a text frame to the ordered write pump. Frames are written in the order Send was called.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.closed {
		return ErrNotConnected
	}

	select {
	case c.sendCh <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a transport level ping and waits for the pong. A received pong is reported with OnPong.
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	ws := c.ws
	usable := c.open && !c.closed
	c.mu.Unlock()

	if !usable {
		return ErrNotConnected
	}

	if err := ws.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if c.IsOpen() {
		c.listener.OnPong(c)
	}
	return nil
}

// Close starts the closing handshake. It does not block, use Done to wait for the teardown. After
// Close no callback is delivered for this connection.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	c.closeCode = code
	c.closeReason = reason
	dialing := c.ws == nil
	c.mu.Unlock()

	close(c.closing)
	if dialing {
		c.cancel()
	}
}

func (c *Conn) run(dialTimeout time.Duration) {
	defer close(c.done)
	defer c.cancel()

	dialCtx, cancel := context.WithTimeout(c.ctx, dialTimeout)
	ws, err := c.dialer.Dial(dialCtx, c.address)
	cancel()
	if err != nil {
		if c.terminate() {
			c.listener.OnFailure(c, &ConnectError{URL: c.address, Err: err})
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debugf("connection has been closed while dialing")
		_ = ws.CloseNow()
		return
	}
	c.ws = ws
	c.open = true
	c.mu.Unlock()

	c.log.Infof("connected to relay server")
	c.listener.OnOpen(c)

	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go c.readLoop(ws, readDone)
	go c.writePump(ws, writeDone)

	select {
	case <-c.closing:
		if err := ws.Close(c.closeCode, c.closeReason); err != nil {
			c.log.Debugf("closing handshake: %s", err)
		}
	case <-readDone:
	case <-writeDone:
	}

	c.cancel()
	_ = ws.CloseNow()
	<-readDone
	<-writeDone
	c.log.Tracef("exit from connection runner")
}

func (c *Conn) readLoop(ws WSConn, done chan struct{}) {
	defer close(done)
	for {
		msgType, payload, err := ws.Read(c.ctx)
		if err != nil {
			c.onReadError(err)
			return
		}

		if msgType != MessageText {
			c.log.Debugf("drop non text frame, %d bytes", len(payload))
			continue
		}

		if !c.IsOpen() {
			return
		}
		c.listener.OnMessage(c, payload)
	}
}

func (c *Conn) onReadError(err error) {
	if !c.terminate() {
		return
	}

	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		c.log.Infof("relay server is closing the connection: %d %s", closeErr.Code, closeErr.Reason)
		c.listener.OnClosing(c, closeErr.Code, closeErr.Reason)
		return
	}

	c.log.Debugf("failed to read message from relay server: %s", err)
	c.listener.OnFailure(c, fmt.Errorf("read: %w", err))
}

func (c *Conn) writePump(ws WSConn, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.sendCh:
			ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := ws.Write(ctx, payload)
			cancel()
			if err == nil {
				continue
			}

			if c.terminate() {
				c.log.Errorf("failed to write message: %s", err)
				c.listener.OnFailure(c, fmt.Errorf("write: %w", err))
			}
			return
		}
	}
}

// terminate marks the connection as closed and reports whether the caller is the one who did it
func (c *Conn) terminate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.open = false
	return true
}
