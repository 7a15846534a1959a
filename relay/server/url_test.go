package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInstanceURL(t *testing.T) {
	tests := []struct {
		name           string
		exposedAddress string
		tlsSupported   bool
		expectedURL    string
		expectErr      bool
	}{
		{"Valid address with TLS", "example.com", true, "wss://example.com", false},
		{"Valid address without TLS", "example.com", false, "ws://example.com", false},
		{"Valid address with wss prefix", "wss://example.com", true, "wss://example.com", false},
		{"Valid address with ws prefix", "ws://example.com", false, "ws://example.com", false},
		{"Valid address with port", "example.com:8080", false, "ws://example.com:8080", false},
		{"Invalid address with multiple schemes", "ws://wss://example.com", false, "", true},
		{"Invalid scheme", "http://example.com", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := getInstanceURL(tt.exposedAddress, tt.tlsSupported)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedURL, url)
		})
	}
}

func TestInstanceURL_ListenAddress(t *testing.T) {
	url, err := InstanceURL(":8080", false)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080", url)

	url, err = InstanceURL("10.0.0.1:443", true)
	require.NoError(t, err)
	assert.Equal(t, "wss://10.0.0.1:443", url)
}
