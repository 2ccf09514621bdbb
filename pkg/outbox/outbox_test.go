package outbox

import (
	"testing"
	"time"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

func testMessage(content string) protocol.Message {
	return protocol.Message{
		SenderID:       "u1",
		ReceiverID:     "u2",
		Content:        content,
		ConversationID: protocol.ConversationID("u1", "u2"),
	}
}

func TestAddAssignsTempID(t *testing.T) {
	o := New()

	p, err := o.Add(testMessage("hello"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !IsTempID(p.TempID) {
		t.Errorf("TempID = %q, want temp- prefix", p.TempID)
	}
	if p.Message.ID != p.TempID {
		t.Errorf("Message.ID = %q, want the temp ID", p.Message.ID)
	}
	if p.Message.Content != "hello" {
		t.Errorf("Message.Content = %q", p.Message.Content)
	}
	if o.Len() != 1 {
		t.Errorf("Len = %d", o.Len())
	}

	// IDs are unique across adds.
	q, err := o.Add(testMessage("hello"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if q.TempID == p.TempID {
		t.Error("two adds produced the same temp ID")
	}
}

func TestResolveByTempID(t *testing.T) {
	o := New()
	p, _ := o.Add(testMessage("hello"))

	saved := testMessage("hello")
	saved.ID = "srv-1"
	saved.CreatedAt = "2026-09-01T10:00:00Z"

	got, ok := o.Resolve(p.TempID, saved)
	if !ok {
		t.Fatal("Resolve missed a tracked temp ID")
	}
	if got.ID != "srv-1" {
		t.Errorf("resolved ID = %q", got.ID)
	}
	if o.Len() != 0 {
		t.Error("pending entry survived resolution")
	}

	// Second resolution of the same ID is a miss.
	if _, ok := o.Resolve(p.TempID, saved); ok {
		t.Error("Resolve confirmed the same temp ID twice")
	}
}

func TestConfirmMatchesOldestPending(t *testing.T) {
	o := New()
	clock := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	o.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, _ := o.Add(testMessage("same text"))
	second, _ := o.Add(testMessage("same text"))
	other, _ := o.Add(testMessage("different"))

	saved := testMessage("same text")
	saved.ID = "srv-1"

	got, ok := o.Confirm(saved)
	if !ok {
		t.Fatal("Confirm found no match")
	}
	if got.TempID != first.TempID {
		t.Errorf("Confirm matched %s, want the oldest %s", got.TempID, first.TempID)
	}

	// The newer duplicate and the unrelated message remain pending.
	remaining := o.Pending()
	if len(remaining) != 2 {
		t.Fatalf("pending = %d, want 2", len(remaining))
	}
	if remaining[0].TempID != second.TempID || remaining[1].TempID != other.TempID {
		t.Errorf("pending order = %s, %s", remaining[0].TempID, remaining[1].TempID)
	}
}

func TestConfirmNoMatch(t *testing.T) {
	o := New()
	o.Add(testMessage("hello"))

	foreign := protocol.Message{
		SenderID:       "someone-else",
		Content:        "hello",
		ConversationID: "u1_u2",
	}
	if _, ok := o.Confirm(foreign); ok {
		t.Error("Confirm matched a message from another sender")
	}
	if o.Len() != 1 {
		t.Error("unmatched confirmation mutated the pending set")
	}
}

func TestFail(t *testing.T) {
	o := New()
	p, _ := o.Add(testMessage("doomed"))

	got, ok := o.Fail(p.TempID)
	if !ok {
		t.Fatal("Fail missed a tracked temp ID")
	}
	if got.Message.Content != "doomed" {
		t.Errorf("failed record = %+v", got.Message)
	}
	if o.Len() != 0 {
		t.Error("failed entry still pending")
	}
	if _, ok := o.Fail(p.TempID); ok {
		t.Error("Fail reported an already removed entry")
	}
}

func TestIsTempID(t *testing.T) {
	if IsTempID("srv-12345") {
		t.Error("server ID classified as temporary")
	}
	if IsTempID("temp-") {
		t.Error("bare prefix classified as temporary")
	}
	if !IsTempID("temp-a1b2c3") {
		t.Error("temp ID not recognized")
	}
}
