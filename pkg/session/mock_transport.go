package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// MockTransport is a test implementation of Transport. Tests push
// server events with PushEvent and inspect what the session emitted via
// SentCommands.
type MockTransport struct {
	mu       sync.Mutex
	incoming chan protocol.Event
	sent     []protocol.Command
	sendErr  error
	closed   bool
}

// NewMockTransport creates a mock transport ready for use.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		incoming: make(chan protocol.Event, 100),
	}
}

// Dialer returns a DialFunc handing out this transport, counting dials.
func (m *MockTransport) Dialer(dialCount *int32) DialFunc {
	return func(id Identity, timeout time.Duration) (Transport, error) {
		if dialCount != nil {
			atomic.AddInt32(dialCount, 1)
		}
		return m, nil
	}
}

// PushEvent simulates a server-pushed event.
func (m *MockTransport) PushEvent(ev protocol.Event) {
	m.incoming <- ev
}

// Fail simulates an unexpected transport drop: pending and future Recv
// calls return an error.
func (m *MockTransport) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.incoming)
	}
}

// SetSendErr makes subsequent Send calls fail.
func (m *MockTransport) SetSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SentCommands returns a copy of every command handed to the transport.
func (m *MockTransport) SentCommands() []protocol.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Command, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockTransport) Recv() (protocol.Event, error) {
	ev, ok := <-m.incoming
	if !ok {
		return nil, ErrTransportClosed
	}
	return ev, nil
}

func (m *MockTransport) Send(cmd protocol.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, cmd)
	return nil
}

func (m *MockTransport) Close() error {
	m.Fail()
	return nil
}

func (m *MockTransport) Scheme() string { return "mock" }
