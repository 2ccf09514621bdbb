package session

import (
	"testing"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

func TestBusDispatchOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 1; i <= 5; i++ {
		i := i
		bus.Subscribe(protocol.EventReceiveMessage, func(protocol.Event) {
			order = append(order, i)
		})
	}

	bus.Dispatch(protocol.ReceiveMessageEvent{Content: "hi"})

	if len(order) != 5 {
		t.Fatalf("invoked %d handlers, want 5", len(order))
	}
	for i, got := range order {
		if got != i+1 {
			t.Errorf("position %d invoked handler %d, want registration order", i, got)
		}
	}
}

func TestBusHandlerIsolation(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(protocol.EventReceiveMessage, func(protocol.Event) {
		panic("handler one is broken")
	})

	var got protocol.Event
	bus.Subscribe(protocol.EventReceiveMessage, func(ev protocol.Event) {
		got = ev
	})

	payload := protocol.ReceiveMessageEvent{Content: "still delivered"}
	bus.Dispatch(payload) // must not panic

	msg, ok := got.(protocol.ReceiveMessageEvent)
	if !ok {
		t.Fatalf("second handler got %T, want ReceiveMessageEvent", got)
	}
	if msg.Content != "still delivered" {
		t.Errorf("second handler payload = %q", msg.Content)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	sub := bus.Subscribe(protocol.EventUserTyping, func(protocol.Event) { calls++ })

	bus.Dispatch(protocol.UserTypingEvent{})
	bus.Unsubscribe(sub)
	bus.Dispatch(protocol.UserTypingEvent{})

	if calls != 1 {
		t.Errorf("handler invoked %d times, want 1", calls)
	}

	// Unsubscribing again is a no-op.
	bus.Unsubscribe(sub)
	if bus.HandlerCount(protocol.EventUserTyping) != 0 {
		t.Error("handler still registered after unsubscribe")
	}
}

func TestBusUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()

	var sub2 Subscription
	invoked2 := false

	// First handler removes the second mid-pass; the second must still
	// run for this dispatch, but not for the next.
	bus.Subscribe(protocol.EventMessageSent, func(protocol.Event) {
		bus.Unsubscribe(sub2)
	})
	sub2 = bus.Subscribe(protocol.EventMessageSent, func(protocol.Event) {
		invoked2 = true
	})

	bus.Dispatch(protocol.MessageSentEvent{})
	if !invoked2 {
		t.Fatal("handler removed mid-dispatch was skipped in the current pass")
	}

	invoked2 = false
	bus.Dispatch(protocol.MessageSentEvent{})
	if invoked2 {
		t.Error("handler removed mid-dispatch still ran in a later pass")
	}
}

func TestBusSubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()

	lateCalls := 0
	bus.Subscribe(protocol.EventMessageRead, func(protocol.Event) {
		bus.Subscribe(protocol.EventMessageRead, func(protocol.Event) { lateCalls++ })
	})

	bus.Dispatch(protocol.MessageReadEvent{})
	if lateCalls != 0 {
		t.Error("handler added mid-dispatch ran in the same pass")
	}

	bus.Dispatch(protocol.MessageReadEvent{})
	if lateCalls != 1 {
		t.Errorf("late handler invoked %d times after second dispatch, want 1", lateCalls)
	}
}

func TestBusIndependentEvents(t *testing.T) {
	bus := NewBus()

	typing, read := 0, 0
	bus.Subscribe(protocol.EventUserTyping, func(protocol.Event) { typing++ })
	bus.Subscribe(protocol.EventMessageRead, func(protocol.Event) { read++ })

	bus.Dispatch(protocol.UserTypingEvent{})
	bus.Dispatch(protocol.UserTypingEvent{})
	bus.Dispatch(protocol.MessageReadEvent{})

	if typing != 2 || read != 1 {
		t.Errorf("typing=%d read=%d, want 2 and 1", typing, read)
	}
}
