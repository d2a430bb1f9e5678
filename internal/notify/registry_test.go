package notify

import (
	"context"
	"testing"
	"time"

	"whatsapp-calling/internal/calls"
)

func drainOne(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event within 1s")
		return Event{}
	}
}

func TestRegister_ConnectedIsFirstEvent(t *testing.T) {
	reg := NewRegistry()
	s := reg.Register("user-1")
	defer reg.Unregister(s)

	ev := drainOne(t, s)
	if ev.Type != EventConnected {
		t.Fatalf("first event = %q, want connected", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("connected event missing timestamp")
	}
}

func TestPublish_FansOutToAllUserSessions(t *testing.T) {
	reg := NewRegistry()
	a := reg.Register("user-1")
	b := reg.Register("user-1")
	other := reg.Register("user-2")
	defer reg.Unregister(a)
	defer reg.Unregister(b)
	defer reg.Unregister(other)
	drainOne(t, a)
	drainOne(t, b)
	drainOne(t, other)

	ok := reg.Publish(context.Background(), "user-1", Event{Type: EventIncomingCall, Timestamp: time.Now()})
	if !ok {
		t.Fatalf("publish to live sessions reported no delivery")
	}

	if ev := drainOne(t, a); ev.Type != EventIncomingCall {
		t.Fatalf("session a got %q", ev.Type)
	}
	if ev := drainOne(t, b); ev.Type != EventIncomingCall {
		t.Fatalf("session b got %q", ev.Type)
	}
	select {
	case ev := <-other.Events():
		t.Fatalf("user-2 session must not receive user-1 events, got %q", ev.Type)
	default:
	}
}

func TestPublish_NoSessionsReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	if reg.Publish(context.Background(), "nobody", Event{Type: EventPermissionUpdate}) {
		t.Fatalf("publish with no sessions must report false")
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	reg := NewRegistry()
	s := reg.Register("user-1")
	reg.Unregister(s)
	reg.Unregister(s) // second call must not panic

	if n := reg.SessionCount("user-1"); n != 0 {
		t.Fatalf("session count = %d after unregister", n)
	}
	if reg.Publish(context.Background(), "user-1", Event{Type: EventHeartbeat}) {
		t.Fatalf("publish after unregister must report false")
	}
}

func TestHeartbeat_EmittedPeriodically(t *testing.T) {
	reg := NewRegistry()
	reg.heartbeat = 10 * time.Millisecond
	s := reg.Register("user-1")
	defer reg.Unregister(s)
	drainOne(t, s)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == EventHeartbeat {
				return
			}
		case <-deadline:
			t.Fatalf("no heartbeat within 1s")
		}
	}
}

func TestPublish_SlowSessionSkippedNotBlocked(t *testing.T) {
	reg := NewRegistry()
	s := reg.Register("user-1")
	defer reg.Unregister(s)

	// Fill the buffer without draining; publishes must return, not block.
	for i := 0; i < sessionBuffer+4; i++ {
		reg.Publish(context.Background(), "user-1", Event{Type: EventCallStatusUpdate})
	}
}

type capturePublisher struct {
	events []Event
	users  []string
}

func (p *capturePublisher) Publish(ctx context.Context, userID string, ev Event) bool {
	p.users = append(p.users, userID)
	p.events = append(p.events, ev)
	return true
}

func TestService_TypedEvents(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(pub)

	c := calls.Call{CallID: "wacid.1", Status: calls.StatusRinging}
	if !svc.IncomingCall(context.Background(), "user-1", c) {
		t.Fatalf("delivery feedback lost")
	}
	svc.CallStatusUpdate(context.Background(), "user-1", c)

	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	if pub.events[0].Type != EventIncomingCall || pub.events[1].Type != EventCallStatusUpdate {
		t.Fatalf("event types = %q, %q", pub.events[0].Type, pub.events[1].Type)
	}
	if pub.events[0].Timestamp.IsZero() {
		t.Fatalf("service must stamp events")
	}
	if pub.users[0] != "user-1" {
		t.Fatalf("user routing lost: %q", pub.users[0])
	}
}
