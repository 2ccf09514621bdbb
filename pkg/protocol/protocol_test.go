package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "online users snapshot",
			raw:  `{"event":"online_users","data":[{"userId":"u1","username":"ana"},{"userId":"u2","username":"bruno"}]}`,
			want: OnlineUsersEvent{{UserID: "u1", Username: "ana"}, {UserID: "u2", Username: "bruno"}},
		},
		{
			name: "empty snapshot",
			raw:  `{"event":"online_users","data":[]}`,
			want: OnlineUsersEvent{},
		},
		{
			name: "user online",
			raw:  `{"event":"user_online","data":{"userId":"u3","username":"carla"}}`,
			want: UserOnlineEvent{UserID: "u3", Username: "carla"},
		},
		{
			name: "user offline",
			raw:  `{"event":"user_offline","data":{"userId":"u3","username":"carla"}}`,
			want: UserOfflineEvent{UserID: "u3", Username: "carla"},
		},
		{
			name: "receive message",
			raw:  `{"event":"receive_message","data":{"_id":"m1","senderId":"u1","receiverId":"u2","content":"hi","conversationId":"u1_u2","createdAt":"2024-06-01T10:00:00Z"}}`,
			want: ReceiveMessageEvent{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi", ConversationID: "u1_u2", CreatedAt: "2024-06-01T10:00:00Z"},
		},
		{
			name: "message sent confirmation",
			raw:  `{"event":"message_sent","data":{"_id":"m2","senderId":"u1","receiverId":"u2","content":"hi","conversationId":"u1_u2"}}`,
			want: MessageSentEvent{ID: "m2", SenderID: "u1", ReceiverID: "u2", Content: "hi", ConversationID: "u1_u2"},
		},
		{
			name: "message error",
			raw:  `{"event":"message_error","data":{"error":"invalid recipient","conversationId":"u1_u9"}}`,
			want: MessageErrorEvent{Error: "invalid recipient", ConversationID: "u1_u9"},
		},
		{
			name: "typing indicator",
			raw:  `{"event":"user_typing","data":{"senderId":"u2","conversationId":"u1_u2","isTyping":true}}`,
			want: UserTypingEvent{SenderID: "u2", ConversationID: "u1_u2", IsTyping: true},
		},
		{
			name: "read receipt",
			raw:  `{"event":"message_read","data":{"messageId":"m1","userId":"u2"}}`,
			want: MessageReadEvent{MessageID: "m1", UserID: "u2"},
		},
		{
			name: "reaction",
			raw:  `{"event":"message_reaction","data":{"messageId":"m1","userId":"u2","reaction":"👍"}}`,
			want: MessageReactionEvent{MessageID: "m1", UserID: "u2", Reaction: "👍"},
		},
		{
			name: "status update",
			raw:  `{"event":"user_status_update","data":{"userId":"u2","status":"away"}}`,
			want: UserStatusUpdateEvent{UserID: "u2", Status: "away"},
		},
		{
			name: "server error",
			raw:  `{"event":"error","data":{"message":"rate limited"}}`,
			want: ErrorEvent{Message: "rate limited"},
		},
		{
			name: "event without payload",
			raw:  `{"event":"error"}`,
			want: ErrorEvent{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	got, err := DecodeEvent([]byte(`{"event":"server_maintenance","data":{"at":"soon"}}`))
	require.NoError(t, err)

	unknown, ok := got.(UnknownEvent)
	require.True(t, ok, "expected UnknownEvent, got %T", got)
	assert.Equal(t, EventName("server_maintenance"), unknown.EventName())
	assert.JSONEq(t, `{"at":"soon"}`, string(unknown.Data))
}

func TestDecodeEvent_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"missing event name", `{"data":{"x":1}}`},
		{"payload shape mismatch", `{"event":"online_users","data":{"userId":"u1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestEncodeEvent_RoundTrip(t *testing.T) {
	events := []Event{
		OnlineUsersEvent{{UserID: "u1", Username: "ana"}},
		UserOnlineEvent{UserID: "u2", Username: "bruno"},
		ReceiveMessageEvent{SenderID: "u1", ReceiverID: "u2", Content: "olá", ConversationID: "u1_u2", ClientTimestamp: 1717236000000},
		MessageErrorEvent{Error: "boom"},
		UserTypingEvent{SenderID: "u1", ConversationID: "u1_u2", IsTyping: true},
	}

	for _, ev := range events {
		raw, err := EncodeEvent(ev)
		require.NoError(t, err)

		decoded, err := DecodeEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, ev, decoded)
	}
}

func TestEncodeCommand(t *testing.T) {
	raw, err := EncodeCommand(SendMessageCommand{
		SenderID:       "u1",
		ReceiverID:     "u2",
		Content:        "hello",
		ConversationID: "u1_u2",
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "send_message", env.Event)
	assert.JSONEq(t, `{"senderId":"u1","receiverId":"u2","content":"hello","conversationId":"u1_u2"}`, string(env.Data))
}

func TestDecodeCommand_RoundTrip(t *testing.T) {
	commands := []Command{
		UserLoginCommand{UserID: "u1", Username: "ana"},
		SendMessageCommand{SenderID: "u1", ReceiverID: "u2", Content: "hi", ConversationID: "u1_u2"},
		TypingStartCommand{SenderID: "u1", ReceiverID: "u2", ConversationID: "u1_u2"},
		TypingStopCommand{SenderID: "u1", ReceiverID: "u2", ConversationID: "u1_u2"},
		MarkMessageReadCommand{MessageID: "m1", UserID: "u2"},
		AddReactionCommand{MessageID: "m1", UserID: "u2", Reaction: "❤️"},
		ForwardMessageCommand{OriginalMessageID: "m1", ForwardToUsers: []string{"u3", "u4"}, SenderID: "u1"},
		UpdateStatusCommand{Status: "busy"},
	}

	for _, cmd := range commands {
		raw, err := EncodeCommand(cmd)
		require.NoError(t, err)

		decoded, err := DecodeCommand(raw)
		require.NoError(t, err)
		assert.Equal(t, cmd, decoded)
	}
}

func TestDecodeCommand_Unknown(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"event":"self_destruct","data":{}}`))
	assert.Error(t, err)
}

func TestConversationID(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"u1", "u2", "u1_u2"},
		{"u2", "u1", "u1_u2"},
		{"alice", "bob", "alice_bob"},
		{"bob", "alice", "alice_bob"},
		{"same", "same", "same_same"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ConversationID(tt.a, tt.b))
	}
}
