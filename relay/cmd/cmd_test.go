package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/jupiter/notifier/relay/client"
	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/server"
	"github.com/jupiter/notifier/relay/transport"
	"github.com/jupiter/notifier/util"
)

const eventTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	_ = util.InitLog("error", util.LogConsole)
	code := m.Run()
	os.Exit(code)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func validConfig() ClientConfig {
	return ClientConfig{
		URL:           "ws://localhost:8080",
		Transport:     transportWS,
		ClientType:    defaultSubscriberType,
		ClientVersion: "1.0.0",
	}
}

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *ClientConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(c *ClientConfig) {}},
		{name: "race transport", modify: func(c *ClientConfig) { c.Transport = transportRace }},
		{name: "missing url", modify: func(c *ClientConfig) { c.URL = "" }, wantErr: true},
		{name: "http url", modify: func(c *ClientConfig) { c.URL = "http://localhost" }, wantErr: true},
		{name: "unknown transport", modify: func(c *ClientConfig) { c.Transport = "quic" }, wantErr: true},
		{name: "missing client type", modify: func(c *ClientConfig) { c.ClientType = "" }, wantErr: true},
		{name: "invalid version", modify: func(c *ClientConfig) { c.ClientVersion = "latest" }, wantErr: true},
		{name: "negative display duration", modify: func(c *ClientConfig) { c.DisplayDuration = -time.Second }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClientConfig_ApplyKeepsFlags(t *testing.T) {
	fc := FileConfig{URL: "ws://saved:1", Transport: transportGorilla, DisplayDuration: 7}

	cfg := validConfig()
	cfg.apply(fc, false, false, false)
	assert.Equal(t, "ws://saved:1", cfg.URL)
	assert.Equal(t, transportGorilla, cfg.Transport)
	assert.Equal(t, 7*time.Second, cfg.DisplayDuration)

	cfg = validConfig()
	cfg.apply(fc, true, true, true)
	assert.Equal(t, validConfig(), cfg)
}

func TestFileConfig_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", configFileName)

	cfg, err := readFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, FileConfig{}, cfg)

	saved := FileConfig{URL: "wss://relay.example.com", AutoStart: true, Transport: transportRace, DisplayDuration: 10}
	require.NoError(t, writeFileConfig(context.Background(), path, saved))

	cfg, err = readFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, saved, cfg)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"auto_start": true`)
}

func TestNewDialer(t *testing.T) {
	for name, protocol := range map[string]string{
		"":               "ws",
		transportWS:      "ws",
		transportGorilla: "gorilla-ws",
		transportRace:    "race(ws,gorilla-ws)",
	} {
		d, err := newDialer(name)
		require.NoError(t, err)
		assert.Equal(t, protocol, d.Protocol())
	}

	_, err := newDialer("udp")
	assert.Error(t, err)
}

func TestBoot_AutoStartDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	require.NoError(t, writeFileConfig(context.Background(), path, FileConfig{URL: "ws://localhost:1"}))

	done := make(chan error, 1)
	go func() {
		done <- boot(context.Background(), path, 0, strings.NewReader(""), io.Discard)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(eventTimeout):
		t.Fatalf("boot must return when auto start is disabled")
	}
}

func TestBoot_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	require.NoError(t, writeFileConfig(context.Background(), path, FileConfig{URL: "http://localhost", AutoStart: true}))

	err := boot(context.Background(), path, 0, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func startHub(t *testing.T) (string, *server.Server) {
	t.Helper()
	srv, err := server.NewServer(noop.NewMeterProvider().Meter(""))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http"), srv
}

func waitPeers(t *testing.T, srv *server.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(srv.Relay().Peers()) == n
	}, eventTimeout, 10*time.Millisecond)
}

func connectedClient(t *testing.T, address, clientType string) *client.Client {
	t.Helper()
	c := client.NewClient(client.Options{})
	_, err := c.Start(address, messages.NewIdentity(clientType, "1.0.0"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Stop()
	})
	require.Eventually(t, func() bool {
		return c.State() == client.StateOpen
	}, eventTimeout, 10*time.Millisecond)
	return c
}

func TestRunSubscriber(t *testing.T) {
	address, srv := startHub(t)

	cfg := validConfig()
	cfg.URL = address

	input, inputWriter := io.Pipe()
	t.Cleanup(func() {
		_ = inputWriter.Close()
	})
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runSubscriber(ctx, cfg, 0, input, out)
	}()
	waitPeers(t, srv, 1)

	sender := connectedClient(t, address, defaultSourceType)
	waitPeers(t, srv, 2)

	require.NoError(t, sender.SendNotification(messages.Notification{Title: "Discord通知", Body: "hi", Sender: "alice"}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[Discord通知] alice: hi")
	}, eventTimeout, 10*time.Millisecond)

	_, err := inputWriter.Write([]byte("\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "dismissed by ")
	}, eventTimeout, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(eventTimeout):
		t.Fatalf("subscriber did not stop")
	}
}

func TestRunSource(t *testing.T) {
	address, srv := startHub(t)

	received := make(chan messages.Notification, 8)
	subscriber := client.NewClient(client.Options{})
	subscriber.OnNotification(func(n messages.Notification) { received <- n })
	_, err := subscriber.Start(address, messages.NewIdentity(defaultSubscriberType, "1.0.0"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = subscriber.Stop()
	})
	waitPeers(t, srv, 1)

	cfg := sendConfig{
		ClientConfig: validConfig(),
		DedupeWindow: time.Minute,
		Rate:         100,
		Burst:        10,
	}
	cfg.URL = address
	cfg.ClientType = defaultSourceType

	input := strings.Join([]string{
		`{"title":"Discord通知","body":"hi","sender":"alice","app":"Discord"}`,
		`{"title":"Discord通知","body":"hi","sender":"alice","app":"Discord"}`,
	}, "\n")
	require.NoError(t, runSource(context.Background(), cfg, 0, strings.NewReader(input)))

	select {
	case n := <-received:
		assert.Equal(t, "hi", n.Body)
		assert.Equal(t, "Discord", n.SourceApp)
	case <-time.After(eventTimeout):
		t.Fatalf("notification not received")
	}

	select {
	case n := <-received:
		t.Fatalf("duplicate notification received: %v", n)
	case <-time.After(200 * time.Millisecond):
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRunSubscriber_StartFailureStopsMetrics(t *testing.T) {
	port := freePort(t)
	cfg := validConfig()
	cfg.URL = "https://relay.test"

	done := make(chan error, 1)
	go func() {
		done <- runSubscriber(context.Background(), cfg, port, strings.NewReader(""), &syncBuffer{})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrInvalidURL)
	case <-time.After(eventTimeout):
		t.Fatalf("subscriber did not return after the start failure")
	}

	// the metrics server has been shut down and released the port
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	_ = l.Close()
}
