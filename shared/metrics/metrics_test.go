package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaymetrics "github.com/jupiter/notifier/relay/metrics"
)

func TestServer_ExposesClientMetrics(t *testing.T) {
	m, err := NewServer(0, "")
	require.NoError(t, err)
	defer func() {
		_ = m.provider.Shutdown(context.Background())
	}()
	assert.Equal(t, defaultEndpoint, m.Endpoint)

	cm, err := relaymetrics.NewClientMetrics(m.Meter)
	require.NoError(t, err)
	cm.NotificationSent()
	cm.StateChanged("Open")

	ts := httptest.NewServer(m.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + defaultEndpoint)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_client_notifications_sent_total")
	assert.Contains(t, string(body), `state="Open"`)
	assert.Contains(t, string(body), "go_goroutines")
}
