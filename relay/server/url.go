package server

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// getInstanceURL checks if user supplied a URL scheme otherwise adds to the provided address according
// to the TLS definition. The result is the url the clients have to connect to.
func getInstanceURL(exposedAddress string, tlsSupported bool) (string, error) {
	addr := exposedAddress
	split := strings.Split(exposedAddress, "://")
	switch {
	case len(split) == 1 && tlsSupported:
		addr = "wss://" + exposedAddress
	case len(split) == 1 && !tlsSupported:
		addr = "ws://" + exposedAddress
	case len(split) > 2:
		return "", fmt.Errorf("invalid exposed address: %s", exposedAddress)
	}

	parsedURL, err := url.ParseRequestURI(addr)
	if err != nil {
		return "", fmt.Errorf("invalid exposed address: %v", err)
	}

	if parsedURL.Scheme != "ws" && parsedURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme: %s", parsedURL.Scheme)
	}

	return parsedURL.String(), nil
}

// InstanceURL returns the url the clients use to reach a hub listening on the given address. An
// address without host, like ":8080", is exposed on localhost.
func InstanceURL(listenAddress string, tlsSupported bool) (string, error) {
	host, port, err := net.SplitHostPort(listenAddress)
	if err == nil && host == "" {
		listenAddress = net.JoinHostPort("localhost", port)
	}
	return getInstanceURL(listenAddress, tlsSupported)
}
