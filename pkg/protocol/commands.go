package protocol

import (
	"encoding/json"
	"fmt"
)

// CommandName identifies a client-emitted command.
type CommandName string

const (
	CommandUserLogin       CommandName = "user_login"
	CommandSendMessage     CommandName = "send_message"
	CommandTypingStart     CommandName = "typing_start"
	CommandTypingStop      CommandName = "typing_stop"
	CommandMarkMessageRead CommandName = "mark_message_read"
	CommandAddReaction     CommandName = "add_reaction"
	CommandForwardMessage  CommandName = "forward_message"
	CommandUpdateStatus    CommandName = "update_status"
)

// Command is the closed set of outbound payload types.
type Command interface {
	CommandName() CommandName
}

// UserLoginCommand is the presence announcement sent right after the
// transport connects. Until it is sent the peer is not visible to
// others even though the connection is up.
type UserLoginCommand struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (UserLoginCommand) CommandName() CommandName { return CommandUserLogin }

// SendMessageCommand asks the server to deliver and persist a message.
type SendMessageCommand Message

func (SendMessageCommand) CommandName() CommandName { return CommandSendMessage }

// TypingStartCommand signals that the sender began composing.
type TypingStartCommand struct {
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
}

func (TypingStartCommand) CommandName() CommandName { return CommandTypingStart }

// TypingStopCommand signals that the sender stopped composing. The
// inactivity window that triggers it lives in the caller.
type TypingStopCommand struct {
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
}

func (TypingStopCommand) CommandName() CommandName { return CommandTypingStop }

// MarkMessageReadCommand records a read receipt.
type MarkMessageReadCommand struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

func (MarkMessageReadCommand) CommandName() CommandName { return CommandMarkMessageRead }

// AddReactionCommand attaches a reaction to a message.
type AddReactionCommand struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Reaction  string `json:"reaction"`
}

func (AddReactionCommand) CommandName() CommandName { return CommandAddReaction }

// ForwardMessageCommand forwards an existing message to other users.
type ForwardMessageCommand struct {
	OriginalMessageID string   `json:"originalMessageId"`
	ForwardToUsers    []string `json:"forwardToUsers"`
	SenderID          string   `json:"senderId"`
}

func (ForwardMessageCommand) CommandName() CommandName { return CommandForwardMessage }

// UpdateStatusCommand publishes the user's status line.
type UpdateStatusCommand struct {
	Status string `json:"status"`
}

func (UpdateStatusCommand) CommandName() CommandName { return CommandUpdateStatus }

// EncodeCommand marshals a command into its wire envelope.
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd.CommandName(), err)
	}
	return json.Marshal(Envelope{Event: string(cmd.CommandName()), Data: data})
}

// DecodeCommand parses a raw envelope into its typed command. The
// client never consumes commands; this exists for the mock servers the
// tests and load generator run.
func DecodeCommand(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	decode := func(v interface{}) error {
		if len(env.Data) == 0 {
			return nil
		}
		return json.Unmarshal(env.Data, v)
	}

	var (
		cmd Command
		err error
	)
	switch CommandName(env.Event) {
	case CommandUserLogin:
		var c UserLoginCommand
		err = decode(&c)
		cmd = c
	case CommandSendMessage:
		var c SendMessageCommand
		err = decode(&c)
		cmd = c
	case CommandTypingStart:
		var c TypingStartCommand
		err = decode(&c)
		cmd = c
	case CommandTypingStop:
		var c TypingStopCommand
		err = decode(&c)
		cmd = c
	case CommandMarkMessageRead:
		var c MarkMessageReadCommand
		err = decode(&c)
		cmd = c
	case CommandAddReaction:
		var c AddReactionCommand
		err = decode(&c)
		cmd = c
	case CommandForwardMessage:
		var c ForwardMessageCommand
		err = decode(&c)
		cmd = c
	case CommandUpdateStatus:
		var c UpdateStatusCommand
		err = decode(&c)
		cmd = c
	default:
		return nil, fmt.Errorf("unknown command %q", env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return cmd, nil
}
