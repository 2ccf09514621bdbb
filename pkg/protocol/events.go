// Package protocol defines the wire format for the OmniVibe realtime
// messaging endpoint: a JSON envelope carrying a named event (server to
// client) or command (client to server). Event names match the server
// exactly; payloads are decoded into one concrete type per event so
// subscribers never have to re-parse raw JSON.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventName identifies a server-pushed event.
type EventName string

const (
	EventOnlineUsers        EventName = "online_users"
	EventUserOnline         EventName = "user_online"
	EventUserOffline        EventName = "user_offline"
	EventReceiveMessage     EventName = "receive_message"
	EventMessageSent        EventName = "message_sent"
	EventMessageError       EventName = "message_error"
	EventUserTyping         EventName = "user_typing"
	EventMessageRead        EventName = "message_read"
	EventMessageReaction    EventName = "message_reaction"
	EventConversationUpdate EventName = "conversation_update"
	EventUserStatusUpdate   EventName = "user_status_update"
	EventError              EventName = "error"
)

var ErrEmptyEventName = errors.New("envelope has no event name")

// Event is the closed set of inbound payload types. Each wire event
// decodes to exactly one implementation.
type Event interface {
	EventName() EventName
}

// User identifies a peer as the presence events carry it.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Message is the wire-level message envelope. The client fills SenderID,
// ReceiverID, Content, ConversationID and ClientTimestamp; ID and
// CreatedAt are assigned by the server and present only on records it
// has persisted.
type Message struct {
	ID              string `json:"_id,omitempty"`
	SenderID        string `json:"senderId"`
	ReceiverID      string `json:"receiverId"`
	Content         string `json:"content"`
	ConversationID  string `json:"conversationId"`
	ClientTimestamp int64  `json:"clientTimestamp,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

// OnlineUsersEvent is the full presence snapshot sent once per connection.
type OnlineUsersEvent []User

func (OnlineUsersEvent) EventName() EventName { return EventOnlineUsers }

// UserOnlineEvent announces a peer joining.
type UserOnlineEvent User

func (UserOnlineEvent) EventName() EventName { return EventUserOnline }

// UserOfflineEvent announces a peer leaving.
type UserOfflineEvent User

func (UserOfflineEvent) EventName() EventName { return EventUserOffline }

// ReceiveMessageEvent carries an incoming message.
type ReceiveMessageEvent Message

func (ReceiveMessageEvent) EventName() EventName { return EventReceiveMessage }

// MessageSentEvent is the server's delivery confirmation for a message
// this client sent. It carries the canonical record including the
// server-assigned ID.
type MessageSentEvent Message

func (MessageSentEvent) EventName() EventName { return EventMessageSent }

// MessageErrorEvent reports a rejected send. There is no synchronous
// error path for sends; callers correlate by conversation ID.
type MessageErrorEvent struct {
	Error          string `json:"error"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (MessageErrorEvent) EventName() EventName { return EventMessageError }

// UserTypingEvent signals a peer's typing state for a conversation.
type UserTypingEvent struct {
	SenderID       string `json:"senderId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func (UserTypingEvent) EventName() EventName { return EventUserTyping }

// MessageReadEvent is a read receipt.
type MessageReadEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

func (MessageReadEvent) EventName() EventName { return EventMessageRead }

// MessageReactionEvent carries a reaction added to a message.
type MessageReactionEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Reaction  string `json:"reaction"`
}

func (MessageReactionEvent) EventName() EventName { return EventMessageReaction }

// ConversationUpdateEvent notifies that a conversation's metadata
// changed (new last message, unread counts).
type ConversationUpdateEvent struct {
	ConversationID string   `json:"conversationId"`
	LastMessage    *Message `json:"lastMessage,omitempty"`
}

func (ConversationUpdateEvent) EventName() EventName { return EventConversationUpdate }

// UserStatusUpdateEvent carries a peer's status change.
type UserStatusUpdateEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

func (UserStatusUpdateEvent) EventName() EventName { return EventUserStatusUpdate }

// ErrorEvent is the server's generic error channel. The session also
// uses it to surface connection failures to subscribers.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventName() EventName { return EventError }

// UnknownEvent preserves events this client does not recognize so they
// still reach subscribers registered under the raw name.
type UnknownEvent struct {
	Name EventName
	Data json.RawMessage
}

func (e UnknownEvent) EventName() EventName { return e.Name }

// Envelope is the framing for both directions: a name plus an opaque
// payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses a raw envelope into its typed event. Events with
// unrecognized names come back as UnknownEvent rather than an error so
// a newer server does not break dispatch.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Event == "" {
		return nil, ErrEmptyEventName
	}

	decode := func(v interface{}) error {
		if len(env.Data) == 0 {
			return nil
		}
		return json.Unmarshal(env.Data, v)
	}

	var (
		ev  Event
		err error
	)
	switch EventName(env.Event) {
	case EventOnlineUsers:
		var e OnlineUsersEvent
		err = decode(&e)
		ev = e
	case EventUserOnline:
		var e UserOnlineEvent
		err = decode(&e)
		ev = e
	case EventUserOffline:
		var e UserOfflineEvent
		err = decode(&e)
		ev = e
	case EventReceiveMessage:
		var e ReceiveMessageEvent
		err = decode(&e)
		ev = e
	case EventMessageSent:
		var e MessageSentEvent
		err = decode(&e)
		ev = e
	case EventMessageError:
		var e MessageErrorEvent
		err = decode(&e)
		ev = e
	case EventUserTyping:
		var e UserTypingEvent
		err = decode(&e)
		ev = e
	case EventMessageRead:
		var e MessageReadEvent
		err = decode(&e)
		ev = e
	case EventMessageReaction:
		var e MessageReactionEvent
		err = decode(&e)
		ev = e
	case EventConversationUpdate:
		var e ConversationUpdateEvent
		err = decode(&e)
		ev = e
	case EventUserStatusUpdate:
		var e UserStatusUpdateEvent
		err = decode(&e)
		ev = e
	case EventError:
		var e ErrorEvent
		err = decode(&e)
		ev = e
	default:
		return UnknownEvent{Name: EventName(env.Event), Data: env.Data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return ev, nil
}

// EncodeEvent marshals a typed event back into its wire envelope. Used
// by tests and tooling that play the server side.
func EncodeEvent(ev Event) ([]byte, error) {
	var data json.RawMessage
	if u, ok := ev.(UnknownEvent); ok {
		data = u.Data
	} else {
		encoded, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", ev.EventName(), err)
		}
		data = encoded
	}
	return json.Marshal(Envelope{Event: string(ev.EventName()), Data: data})
}
