// Package session owns the single persistent connection to the OmniVibe
// realtime endpoint: the login/presence handshake, the reconnection
// policy, outbound command emission and the synchronous fan-out of every
// inbound server event to subscribers.
package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// State is the session's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventConnectionState is the local (never on the wire) event the
// session dispatches when its connection state changes.
const EventConnectionState protocol.EventName = "connection_state"

// ConnectionStateEvent reports a session state transition to
// subscribers. Attempt is non-zero while reconnecting.
type ConnectionStateEvent struct {
	State   State
	Attempt int
	Err     error
}

func (ConnectionStateEvent) EventName() protocol.EventName { return EventConnectionState }

// Defaults mirror the reference client's fixed reconnection policy.
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 1 * time.Second
	DefaultHandshakeTimeout  = 20 * time.Second
)

// Config configures a Session.
type Config struct {
	// ServerURL is the realtime endpoint. See parseServerAddress for
	// accepted forms. Ignored when Dial is set.
	ServerURL string

	// ReconnectAttempts bounds the retries after an unexpected drop
	// (and after a failed initial dial). Zero means the default.
	ReconnectAttempts int

	// ReconnectDelay is the fixed delay between attempts.
	ReconnectDelay time.Duration

	// HandshakeTimeout bounds one dial.
	HandshakeTimeout time.Duration

	// Dial overrides transport selection. Tests and the load generator
	// inject transports through it.
	Dial DialFunc

	// Logger receives connection diagnostics. Nil disables logging.
	Logger *log.Logger

	// Metrics receives counters when non-nil.
	Metrics *Metrics
}

func (c *Config) applyDefaults() {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Session is the client's one live attachment to the messaging server.
// Construct it explicitly and hand it to whatever needs it; call Close
// on logout. All public methods are non-blocking and never panic or
// return errors across the API: failure surfaces as a boolean or as a
// forwarded event.
type Session struct {
	cfg     Config
	bus     *Bus
	dialCfg *dialConfig
	logger  *log.Logger
	metrics *Metrics

	mu        sync.RWMutex
	state     State
	identity  Identity
	transport Transport
	presence  *presenceSet
	stop      chan struct{}

	wg sync.WaitGroup
}

// New creates a Session. The only synchronous failure is an unusable
// server address.
func New(cfg Config) (*Session, error) {
	cfg.applyDefaults()

	s := &Session{
		cfg:      cfg,
		bus:      NewBus(),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		state:    StateDisconnected,
		presence: newPresenceSet(),
	}
	s.bus.SetLogger(cfg.Logger)

	if cfg.Dial == nil {
		dialCfg, err := parseServerAddress(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		s.dialCfg = dialCfg
	}
	return s, nil
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Connect starts the session as the given identity and returns
// immediately; the handshake completes asynchronously and is observable
// through connection_state events. Calling Connect while a connection
// is live or in progress is a no-op, which guards against a second
// transport being opened by racing callers.
func (s *Session) Connect(id Identity) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		s.logf("connect ignored: session already %s", s.state)
		return
	}
	s.state = StateConnecting
	s.identity = id
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(id, stop)
}

// run is the session's single event-processing goroutine: it dials,
// performs the login handshake, forwards inbound events, and applies
// the reconnection policy until told to stop. All bus dispatch happens
// here, which is what makes handler execution single-threaded.
func (s *Session) run(id Identity, stop chan struct{}) {
	defer s.wg.Done()

	attempt := 0
	var lastErr error

	for {
		transport, err := s.dialTransport(id)

		// A Disconnect that landed while the dial was in flight wins:
		// drop whatever the dial produced and exit without announcing
		// presence or touching the state it already cleared.
		if stopped(stop) {
			if err == nil {
				transport.Close()
			}
			return
		}

		if err == nil {
			err = s.handshake(transport, id)
			if err == nil {
				if !s.adopt(transport, stop) {
					transport.Close()
					return
				}
				attempt = 0
				s.bus.Dispatch(ConnectionStateEvent{State: StateConnected})
				s.metrics.recordConnected(true)
				s.logf("connected to %s via %s", s.displayAddr(), transport.Scheme())

				err = s.readLoop(transport, stop)
				s.metrics.recordConnected(false)
				if stopped(stop) {
					return
				}
				s.logf("connection lost: %v", err)
				s.clearTransport()
			} else {
				transport.Close()
				s.logf("login handshake failed: %v", err)
			}
		} else {
			s.logf("dial failed: %v", err)
		}
		lastErr = err

		attempt++
		if attempt > s.cfg.ReconnectAttempts {
			s.giveUp(stop, lastErr)
			return
		}

		if !s.setStateIfRunning(stop, StateReconnecting) {
			return
		}
		s.metrics.recordReconnectAttempt()
		s.bus.Dispatch(ConnectionStateEvent{State: StateReconnecting, Attempt: attempt, Err: lastErr})
		s.logf("reconnect attempt %d/%d in %v", attempt, s.cfg.ReconnectAttempts, s.cfg.ReconnectDelay)

		select {
		case <-stop:
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// dialTransport opens a transport using the preferred mechanism,
// degrading to the fallback when one exists.
func (s *Session) dialTransport(id Identity) (Transport, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(id, s.cfg.HandshakeTimeout)
	}

	transport, err := s.dialCfg.primary(id, s.cfg.HandshakeTimeout)
	if err == nil {
		return transport, nil
	}
	if s.dialCfg.fallback == nil {
		return nil, err
	}

	s.logf("primary transport failed (%v), trying long-poll fallback", err)
	transport, fallbackErr := s.dialCfg.fallback(id, s.cfg.HandshakeTimeout)
	if fallbackErr != nil {
		return nil, fmt.Errorf("all transports failed - websocket: %v, poll: %w", err, fallbackErr)
	}
	return transport, nil
}

// handshake announces presence. The transport being up does not make
// this user visible to peers; only the explicit login does.
func (s *Session) handshake(t Transport, id Identity) error {
	return t.Send(protocol.UserLoginCommand{UserID: id.UserID, Username: id.Username})
}

// readLoop forwards every inbound event until the transport fails or
// the session is stopped.
func (s *Session) readLoop(t Transport, stop chan struct{}) error {
	for {
		ev, err := t.Recv()
		if err != nil {
			return err
		}
		if stopped(stop) {
			return nil
		}
		s.handleEvent(ev)
	}
}

// handleEvent applies presence side effects, then forwards the event
// verbatim to subscribers.
func (s *Session) handleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.OnlineUsersEvent:
		s.mu.Lock()
		s.presence.replaceAll(e)
		s.mu.Unlock()
	case protocol.UserOnlineEvent:
		s.mu.Lock()
		s.presence.add(protocol.User(e))
		s.mu.Unlock()
	case protocol.UserOfflineEvent:
		s.mu.Lock()
		s.presence.remove(e.UserID)
		s.mu.Unlock()
	}

	s.metrics.recordEvent(ev.EventName())
	s.bus.Dispatch(ev)
}

// giveUp ends the retry loop: back to Disconnected, with the failure
// surfaced to subscribers as an error event rather than thrown anywhere.
// A session stopped by Disconnect gives up silently.
func (s *Session) giveUp(stop chan struct{}, err error) {
	if !s.setStateIfRunning(stop, StateDisconnected) {
		return
	}
	s.logf("giving up after %d reconnect attempts: %v", s.cfg.ReconnectAttempts, err)
	s.bus.Dispatch(ConnectionStateEvent{State: StateDisconnected, Err: err})
	s.bus.Dispatch(protocol.ErrorEvent{Message: fmt.Sprintf("connection failed: %v", err)})
}

// Disconnect closes the transport if open, clears the session identity
// and the presence set, and cancels any pending reconnect attempt. It
// is always safe to call, including before Connect ever completed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.identity = Identity{}
	s.presence.clear()
	transport := s.transport
	s.transport = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	s.logf("disconnected")
}

/// Close is the teardown path: Disconnect plus waiting for the event
// goroutine to drain. Do not call it from an event handler.
func (s *Session) Close() {
	s.Disconnect()
	s.wg.Wait()
}

// On subscribes a handler to a named event.
func (s *Session) On(event protocol.EventName, fn Handler) Subscription {
	return s.bus.Subscribe(event, fn)
}

// Off removes a previously registered handler.
func (s *Session) Off(sub Subscription) {
	s.bus.Unsubscribe(sub)
}

// State reports the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the identity supplied to Connect, or the zero value
// when disconnected.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// TransportScheme reports the active transport ("ws", "wss", "http",
// "https", "poll"), or "" when not connected.
func (s *Session) TransportScheme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Scheme()
}

// OnlineUsers returns the currently known online peers.
func (s *Session) OnlineUsers() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence.list()
}

// IsUserOnline reports whether a peer is in the presence set.
func (s *Session) IsUserOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence.contains(userID)
}

// SendMessage emits a send command for the message. The return value
// means "handed to the transport", not delivered: confirmation arrives
// later as a message_sent event. False means the session is not
// connected and the caller should fall back (typically to the HTTP
// API); the session does not retry internally.
func (s *Session) SendMessage(m protocol.Message) bool {
	return s.emit(protocol.SendMessageCommand(m))
}

// StartTyping signals the peer that this user is composing.
// Fire-and-forget; the inactivity window that ends it is caller policy.
func (s *Session) StartTyping(receiverID, conversationID string) {
	s.emit(protocol.TypingStartCommand{
		SenderID:       s.Identity().UserID,
		ReceiverID:     receiverID,
		ConversationID: conversationID,
	})
}

// StopTyping signals the peer that this user stopped composing.
func (s *Session) StopTyping(receiverID, conversationID string) {
	s.emit(protocol.TypingStopCommand{
		SenderID:       s.Identity().UserID,
		ReceiverID:     receiverID,
		ConversationID: conversationID,
	})
}

// MarkMessageRead records a read receipt. Fire-and-forget.
func (s *Session) MarkMessageRead(messageID string) {
	s.emit(protocol.MarkMessageReadCommand{MessageID: messageID, UserID: s.Identity().UserID})
}

// AddReaction attaches a reaction to a message. Fire-and-forget.
func (s *Session) AddReaction(messageID, reaction string) {
	s.emit(protocol.AddReactionCommand{MessageID: messageID, UserID: s.Identity().UserID, Reaction: reaction})
}

// ForwardMessage forwards an existing message to other users.
// Fire-and-forget.
func (s *Session) ForwardMessage(originalMessageID string, forwardToUsers []string) {
	s.emit(protocol.ForwardMessageCommand{
		OriginalMessageID: originalMessageID,
		ForwardToUsers:    forwardToUsers,
		SenderID:          s.Identity().UserID,
	})
}

// UpdateStatus publishes the user's status line. Fire-and-forget.
func (s *Session) UpdateStatus(status string) {
	s.emit(protocol.UpdateStatusCommand{Status: status})
}

// emit is the guarded best-effort emission every outbound command goes
// through: silently dropped unless the session is Connected.
func (s *Session) emit(cmd protocol.Command) bool {
	s.mu.RLock()
	transport := s.transport
	state := s.state
	s.mu.RUnlock()

	if state != StateConnected || transport == nil {
		s.logf("dropping %s: session is %s", cmd.CommandName(), state)
		return false
	}
	if err := transport.Send(cmd); err != nil {
		s.logf("send %s failed: %v", cmd.CommandName(), err)
		return false
	}
	s.metrics.recordCommand(cmd.CommandName())
	return true
}

// adopt installs the transport and flips to Connected. It refuses when
// the stop channel closed in the meantime, so the run goroutine cannot
// revive a session that Disconnect already tore down. Disconnect closes
// stop while holding s.mu, which makes the check here race free.
func (s *Session) adopt(t Transport, stop chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stopped(stop) {
		return false
	}
	s.state = StateConnected
	s.transport = t
	return true
}

// setStateIfRunning is the same stop-aware guard for plain state moves.
func (s *Session) setStateIfRunning(stop chan struct{}, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stopped(stop) {
		return false
	}
	s.state = state
	return true
}

func (s *Session) clearTransport() {
	s.mu.Lock()
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	s.mu.Unlock()
}

func (s *Session) displayAddr() string {
	if s.dialCfg != nil {
		return s.dialCfg.display
	}
	return "injected transport"
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
