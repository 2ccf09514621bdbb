package session

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// DefaultPort is the messaging endpoint's well-known port.
const DefaultPort = "5000"

// dialConfig is the parsed server address plus the dial functions for
// it. fallback is nil when the scheme pins a single transport.
type dialConfig struct {
	display  string // address with scheme, for logging
	raw      string // bare host:port
	primary  DialFunc
	fallback DialFunc
}

// parseServerAddress resolves a server address into dial functions.
// Supported forms:
//
//	host, host:port        WebSocket preferred, long-poll fallback
//	ws://..., wss://...    WebSocket only
//	http://..., https://.. long polling only
func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := ""
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		scheme = strings.ToLower(u.Scheme)
		if u.Host != "" {
			hostPort = u.Host
		} else if u.Path != "" {
			hostPort = strings.TrimPrefix(u.Path, "//")
		}
	}

	host, port, err := splitHostPortWithDefault(hostPort, DefaultPort)
	if err != nil {
		return nil, err
	}
	address := net.JoinHostPort(host, port)

	switch scheme {
	case "":
		// Preferred-then-fallback: try the low-latency transport first,
		// degrade to polling against the same host.
		return &dialConfig{
			display: fmt.Sprintf("ws://%s", address),
			raw:     address,
			primary: func(id Identity, timeout time.Duration) (Transport, error) {
				return dialWebSocket(address, id, timeout, false)
			},
			fallback: func(id Identity, timeout time.Duration) (Transport, error) {
				return dialLongPoll(address, id, timeout, false)
			},
		}, nil

	case "ws", "wss":
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s", scheme, address),
			raw:     address,
			primary: func(id Identity, timeout time.Duration) (Transport, error) {
				return dialWebSocket(address, id, timeout, useTLS)
			},
		}, nil

	case "http", "https":
		useTLS := scheme == "https"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s", scheme, address),
			raw:     address,
			primary: func(id Identity, timeout time.Duration) (Transport, error) {
				return dialLongPoll(address, id, timeout, useTLS)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}
