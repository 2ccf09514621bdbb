package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// TestConversationIDSymmetry checks that both participants always derive
// the same conversation identifier, no matter the argument order.
func TestConversationIDSymmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-z0-9]{1,24}`).Draw(t, "a")
		b := rapid.StringMatching(`[a-z0-9]{1,24}`).Draw(t, "b")

		ab := ConversationID(a, b)
		ba := ConversationID(b, a)
		if ab != ba {
			t.Fatalf("ConversationID not symmetric: %q vs %q", ab, ba)
		}
		if ab != ConversationID(a, b) {
			t.Fatalf("ConversationID not stable across calls")
		}
	})
}

// TestMessageEnvelopeRoundTrip checks that any message survives the
// encode/decode cycle through the wire envelope.
func TestMessageEnvelopeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := Message{
			ID:              rapid.StringMatching(`[a-f0-9]{0,24}`).Draw(t, "id"),
			SenderID:        rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(t, "sender"),
			ReceiverID:      rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(t, "receiver"),
			Content:         rapid.String().Draw(t, "content"),
			ClientTimestamp: rapid.Int64Range(0, 1<<50).Draw(t, "ts"),
		}
		msg.ConversationID = ConversationID(msg.SenderID, msg.ReceiverID)

		raw, err := EncodeEvent(ReceiveMessageEvent(msg))
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeEvent(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		got, ok := decoded.(ReceiveMessageEvent)
		if !ok {
			t.Fatalf("decoded wrong type: %T", decoded)
		}
		if Message(got) != msg {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, msg)
		}
	})
}
