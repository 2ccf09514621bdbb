// Package outbox tracks optimistically sent messages until the server
// confirms them. A message is rendered immediately under a temporary ID
// and swapped for the persisted record when the confirmation arrives,
// whether over the socket or from the HTTP fallback.
package outbox

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/omnivibe/wavelink/pkg/crypto"
	"github.com/omnivibe/wavelink/pkg/protocol"
)

// tempIDPrefix marks IDs assigned locally, never by the server.
const tempIDPrefix = "temp-"

// Pending is a message awaiting server confirmation. Message.ID holds
// the temporary ID so callers can render the record as-is.
type Pending struct {
	TempID     string
	Message    protocol.Message
	EnqueuedAt time.Time
}

// Outbox is safe for concurrent use.
type Outbox struct {
	mu      sync.Mutex
	pending map[string]Pending
	logger  *log.Logger

	now func() time.Time // test hook
}

func New() *Outbox {
	return &Outbox{
		pending: make(map[string]Pending),
		now:     time.Now,
	}
}

// SetLogger sets the logger for outbox diagnostics. Nil disables them.
func (o *Outbox) SetLogger(logger *log.Logger) {
	o.mu.Lock()
	o.logger = logger
	o.mu.Unlock()
}

func (o *Outbox) logf(format string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

// Add registers a message for confirmation tracking and returns the
// pending record carrying its temporary ID.
func (o *Outbox) Add(m protocol.Message) (Pending, error) {
	suffix, err := crypto.SecureRandom(8)
	if err != nil {
		return Pending{}, fmt.Errorf("assign temp id: %w", err)
	}
	tempID := tempIDPrefix + suffix

	m.ID = tempID
	p := Pending{
		TempID:     tempID,
		Message:    m,
		EnqueuedAt: o.now(),
	}

	o.mu.Lock()
	o.pending[tempID] = p
	o.mu.Unlock()
	return p, nil
}

// Resolve confirms the pending message with the given temporary ID,
// returning the persisted record that replaces it. The boolean is false
// when the ID is unknown (already confirmed, or never tracked).
func (o *Outbox) Resolve(tempID string, saved protocol.Message) (protocol.Message, bool) {
	o.mu.Lock()
	p, ok := o.pending[tempID]
	if ok {
		delete(o.pending, tempID)
	}
	o.mu.Unlock()

	if !ok {
		return protocol.Message{}, false
	}
	o.logf("confirmed %s as %s", p.TempID, saved.ID)
	return saved, true
}

// Confirm matches a server confirmation against the pending set. The
// socket's message_sent event carries the persisted record but not our
// temporary ID, so the match is by conversation, sender and content,
// oldest first. Returns the replaced pending record.
func (o *Outbox) Confirm(saved protocol.Message) (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var best Pending
	found := false
	for _, p := range o.pending {
		if p.Message.ConversationID != saved.ConversationID ||
			p.Message.SenderID != saved.SenderID ||
			p.Message.Content != saved.Content {
			continue
		}
		if !found || p.EnqueuedAt.Before(best.EnqueuedAt) {
			best = p
			found = true
		}
	}
	if !found {
		return Pending{}, false
	}

	delete(o.pending, best.TempID)
	o.logf("confirmed %s as %s", best.TempID, saved.ID)
	return best, true
}

// Fail abandons a pending message, typically after both the socket send
// and the HTTP fallback failed. Returns the abandoned record.
func (o *Outbox) Fail(tempID string) (Pending, bool) {
	o.mu.Lock()
	p, ok := o.pending[tempID]
	if ok {
		delete(o.pending, tempID)
	}
	o.mu.Unlock()

	if ok {
		o.logf("abandoned %s", tempID)
	}
	return p, ok
}

// Pending lists unconfirmed messages, oldest first.
func (o *Outbox) Pending() []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Pending, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

// Len reports the number of unconfirmed messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// IsTempID reports whether an ID was assigned locally by an outbox.
func IsTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}
