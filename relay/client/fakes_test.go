package client

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/transport"
	"github.com/jupiter/notifier/util"
)

const eventTimeout = 2 * time.Second

var testIdentity = messages.NewIdentity("test_notifier", "1.0.0")

func TestMain(m *testing.M) {
	_ = util.InitLog("error", util.LogConsole)
	code := m.Run()
	os.Exit(code)
}

type fakeHandle struct {
	id   uint64
	done chan struct{}

	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	closeCode int
	// stuck handles never finish their teardown
	stuck bool
}

func newFakeHandle(id uint64) *fakeHandle {
	return &fakeHandle{id: id, done: make(chan struct{})}
}

func (h *fakeHandle) ID() uint64 {
	return h.id
}

func (h *fakeHandle) Send(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.ErrNotConnected
	}
	h.sent = append(h.sent, payload)
	return nil
}

func (h *fakeHandle) Ping(context.Context) error {
	return nil
}

func (h *fakeHandle) Close(code int, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.closeCode = code
	if !h.stuck {
		close(h.done)
	}
}

func (h *fakeHandle) Done() <-chan struct{} {
	return h.done
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) frames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	frames := make([]string, 0, len(h.sent))
	for _, f := range h.sent {
		frames = append(frames, string(f))
	}
	return frames
}

func (h *fakeHandle) countOf(msgType messages.MsgType) int {
	var n int
	for _, f := range h.frames() {
		if t, err := messages.DetermineMsgType([]byte(f)); err == nil && t == msgType {
			n++
		}
	}
	return n
}

type fakeOpener struct {
	mu       sync.Mutex
	err      error
	stuck    bool
	handles  []*fakeHandle
	listener ConnListener
}

func (o *fakeOpener) Open(_ string, l ConnListener) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = l
	if o.err != nil {
		return nil, o.err
	}
	h := newFakeHandle(uint64(len(o.handles) + 1))
	h.stuck = o.stuck
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *fakeOpener) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *fakeOpener) conn() ConnListener {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listener
}

// waitOpens waits until n handles have been opened and returns the last one
func (o *fakeOpener) waitOpens(t *testing.T, n int) *fakeHandle {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.count() >= n
	}, eventTimeout, 5*time.Millisecond, "expected %d opens", n)
	require.Equal(t, n, o.count(), "unexpected number of opens")

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[n-1]
}

func waitWaiters(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}
