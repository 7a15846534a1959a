package overlay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiter/notifier/relay/messages"
)

type fakeRenderer struct {
	mu        sync.Mutex
	shown     []messages.Notification
	dismissed []messages.DismissEvent
}

func (r *fakeRenderer) Show(n messages.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
}

func (r *fakeRenderer) Dismiss(ev messages.DismissEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed = append(r.dismissed, ev)
}

func (r *fakeRenderer) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown), len(r.dismissed)
}

type broadcastCounter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (b *broadcastCounter) broadcast() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.err
}

func (b *broadcastCounter) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestCoordinator(displayDuration time.Duration) (*Coordinator, *fakeRenderer, *broadcastCounter, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	b := &broadcastCounter{}
	c := NewCoordinator(log.WithField("test", "overlay"), Options{DisplayDuration: displayDuration, Clock: clock}, b.broadcast)
	r := &fakeRenderer{}
	c.SetRenderer(r)
	return c, r, b, clock
}

func TestCoordinator_LocalDismissIsBroadcastOnce(t *testing.T) {
	c, r, b, _ := newTestCoordinator(0)

	require.True(t, c.Present(messages.Notification{Title: "t", Body: "m"}))
	_, ok := c.Active()
	require.True(t, ok)

	require.NoError(t, c.DismissLocal("client_1"))
	assert.Equal(t, 1, b.count())
	_, ok = c.Active()
	assert.False(t, ok)

	assert.ErrorIs(t, c.DismissLocal("client_1"), ErrNoActiveOverlay)
	assert.Equal(t, 1, b.count())

	shown, dismissed := r.counts()
	assert.Equal(t, 1, shown)
	assert.Equal(t, 1, dismissed)
}

func TestCoordinator_ReceivedDismissIsNotEchoed(t *testing.T) {
	c, r, b, _ := newTestCoordinator(0)

	require.True(t, c.Present(messages.Notification{Title: "t", Body: "m"}))
	assert.True(t, c.DismissReceived(messages.DismissEvent{OriginClientID: "client_2"}))
	assert.False(t, c.DismissReceived(messages.DismissEvent{OriginClientID: "client_2"}), "second dismiss must be a no-op")

	assert.Equal(t, 0, b.count())
	_, dismissed := r.counts()
	assert.Equal(t, 1, dismissed)
	assert.Equal(t, "client_2", r.dismissed[0].OriginClientID)
}

func TestCoordinator_ReplaceIsSilent(t *testing.T) {
	c, r, b, _ := newTestCoordinator(0)

	require.True(t, c.Present(messages.Notification{Title: "first", Body: "1"}))
	first, _ := c.Active()
	require.True(t, c.Present(messages.Notification{Title: "second", Body: "2"}))
	second, ok := c.Active()
	require.True(t, ok)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, "second", second.Notification().Title)
	assert.Equal(t, 0, b.count())

	shown, dismissed := r.counts()
	assert.Equal(t, 2, shown)
	assert.Equal(t, 0, dismissed)
}

func TestCoordinator_DropWithoutRenderer(t *testing.T) {
	b := &broadcastCounter{}
	c := NewCoordinator(log.WithField("test", "overlay"), Options{}, b.broadcast)

	assert.False(t, c.Present(messages.Notification{Title: "t", Body: "m"}))
	_, ok := c.Active()
	assert.False(t, ok)
}

func TestCoordinator_DetachRendererClearsOverlay(t *testing.T) {
	c, _, b, _ := newTestCoordinator(0)

	require.True(t, c.Present(messages.Notification{Title: "t", Body: "m"}))
	c.SetRenderer(nil)

	_, ok := c.Active()
	assert.False(t, ok)
	assert.ErrorIs(t, c.DismissLocal("client_1"), ErrNoActiveOverlay)
	assert.Equal(t, 0, b.count())
}

func TestCoordinator_ExpireWithoutBroadcast(t *testing.T) {
	c, r, b, clock := newTestCoordinator(10 * time.Second)

	require.True(t, c.Present(messages.Notification{Title: "t", Body: "m"}))
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		_, dismissed := r.counts()
		return dismissed == 1
	}, time.Second, 10*time.Millisecond)

	_, ok := c.Active()
	assert.False(t, ok)
	assert.Equal(t, 0, b.count())
}

func TestCoordinator_ExpiryOfReplacedOverlayIsIgnored(t *testing.T) {
	c, _, _, clock := newTestCoordinator(10 * time.Second)

	require.True(t, c.Present(messages.Notification{Title: "first", Body: "1"}))
	clock.Advance(6 * time.Second)
	require.True(t, c.Present(messages.Notification{Title: "second", Body: "2"}))
	clock.Advance(6 * time.Second)

	// the timer of the first overlay was stopped, the second one has 4s left
	time.Sleep(50 * time.Millisecond)
	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, "second", active.Notification().Title)
}

func TestCoordinator_BroadcastFailure(t *testing.T) {
	c, _, b, _ := newTestCoordinator(0)
	b.err = errors.New("not connected")

	require.True(t, c.Present(messages.Notification{Title: "t", Body: "m"}))
	err := c.DismissLocal("client_1")
	assert.ErrorContains(t, err, "not connected")

	// the local overlay is gone even if the relay could not be told
	_, ok := c.Active()
	assert.False(t, ok)
}

// reentrantRenderer dismisses the overlay from inside Show, like a user closing it right away
type reentrantRenderer struct {
	fakeRenderer
	c      *Coordinator
	active []bool
	errs   []error
}

func (r *reentrantRenderer) Show(n messages.Notification) {
	r.fakeRenderer.Show(n)
	_, ok := r.c.Active()
	err := r.c.DismissLocal("client_1")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, ok)
	r.errs = append(r.errs, err)
}

func TestCoordinator_RendererMayCallBack(t *testing.T) {
	b := &broadcastCounter{}
	c := NewCoordinator(log.WithField("test", "overlay"), Options{}, b.broadcast)
	r := &reentrantRenderer{c: c}
	c.SetRenderer(r)

	done := make(chan bool)
	go func() {
		done <- c.Present(messages.Notification{Title: "t", Body: "m"})
	}()

	select {
	case shown := <-done:
		assert.True(t, shown)
	case <-time.After(2 * time.Second):
		t.Fatal("renderer callback deadlocked the coordinator")
	}

	r.mu.Lock()
	assert.Equal(t, []bool{true}, r.active)
	assert.Equal(t, []error{nil}, r.errs)
	r.mu.Unlock()

	shown, dismissed := r.counts()
	assert.Equal(t, 1, shown)
	assert.Equal(t, 1, dismissed, "the dismiss is rendered after the show returns")
	assert.Equal(t, 1, b.count())
	_, ok := c.Active()
	assert.False(t, ok)
}
