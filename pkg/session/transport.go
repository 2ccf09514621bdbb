package session

import (
	"errors"
	"time"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// Identity is the authentication payload presented when the transport
// connects. The session holds it for the lifetime of the connection and
// clears it on Disconnect; it is never persisted here.
type Identity struct {
	UserID   string
	Username string
	Token    string
}

// Transport is one established, bidirectional, message-framed
// connection to the realtime endpoint. Implementations decode inbound
// frames into typed events and encode outbound commands.
type Transport interface {
	// Recv blocks until the next server event arrives or the transport
	// fails. After Close it returns ErrTransportClosed.
	Recv() (protocol.Event, error)

	// Send writes one command to the wire. It reports only that the
	// command was handed to the transport, not delivery.
	Send(cmd protocol.Command) error

	// Close tears down the connection. Safe to call more than once.
	Close() error

	// Scheme names the transport mechanism ("ws", "wss", "poll").
	Scheme() string
}

// DialFunc opens a transport authenticated as the given identity.
type DialFunc func(id Identity, timeout time.Duration) (Transport, error)

var ErrTransportClosed = errors.New("transport closed")
