package session

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// SocketPath is the well-known path of the realtime WebSocket endpoint.
const SocketPath = "/socket"

// wsTransport carries envelopes as WebSocket text frames. This is the
// preferred transport; the session falls back to long polling when the
// dial fails.
type wsTransport struct {
	conn    *websocket.Conn
	scheme  string
	writeMu sync.Mutex // gorilla allows one concurrent writer

	closeMu sync.Mutex
	closed  bool
}

// dialWebSocket connects and authenticates in one step: the identity
// travels as query parameters on the upgrade request, matching what the
// server expects in its connection handshake.
func dialWebSocket(host string, id Identity, timeout time.Duration, useTLS bool) (Transport, error) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: host, Path: SocketPath}
	q := u.Query()
	q.Set("userId", id.UserID)
	q.Set("username", id.Username)
	q.Set("token", id.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return &wsTransport{conn: conn, scheme: scheme}, nil
}

func (t *wsTransport) Recv() (protocol.Event, error) {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			if t.isClosed() {
				return nil, ErrTransportClosed
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		ev, err := protocol.DecodeEvent(raw)
		if err != nil {
			// A malformed frame should not kill the connection.
			continue
		}
		return ev, nil
	}
}

func (t *wsTransport) Send(cmd protocol.Command) error {
	raw, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return ErrTransportClosed
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	// Best-effort close frame so the server can clean up presence fast.
	t.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *wsTransport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

func (t *wsTransport) Scheme() string { return t.scheme }
