package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/permission"
	"whatsapp-calling/internal/whatsapp"
)

const (
	lineNumber = "15550001111"
	ownerID    = "owner-1"
)

type outcomeCall struct {
	phone   string
	outcome calls.Outcome
}

type fakePerms struct {
	outcomes []outcomeCall
	replies  []permission.Reply
	replyTo  []string
}

func (f *fakePerms) ApplyReply(ctx context.Context, userID, phone string, r permission.Reply) (permission.CallPermission, error) {
	f.replies = append(f.replies, r)
	f.replyTo = append(f.replyTo, phone)
	return permission.CallPermission{UserID: userID, PhoneNumber: phone}, nil
}

func (f *fakePerms) ApplyCallOutcome(ctx context.Context, userID, phone string, outcome calls.Outcome, at time.Time) (permission.CallPermission, permission.OutcomeEffects, error) {
	f.outcomes = append(f.outcomes, outcomeCall{phone: phone, outcome: outcome})
	return permission.CallPermission{}, permission.OutcomeEffects{}, nil
}

type fakeNotifier struct {
	incoming []calls.Call
	updates  []calls.Call
}

func (f *fakeNotifier) IncomingCall(ctx context.Context, userID string, c calls.Call) bool {
	f.incoming = append(f.incoming, c)
	return true
}

func (f *fakeNotifier) CallStatusUpdate(ctx context.Context, userID string, c calls.Call) {
	f.updates = append(f.updates, c)
}

type fakeSlots struct {
	released int
}

func (f *fakeSlots) Release(ctx context.Context) error {
	f.released++
	return nil
}

func newTestService() (*Service, *calls.MemoryStore, *fakePerms, *fakeNotifier) {
	store := calls.NewMemoryStore()
	perms := &fakePerms{}
	notifier := &fakeNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, perms, notifier, nil, log, lineNumber, ownerID)
	return svc, store, perms, notifier
}

func callEvent(id, from, to, status, ts string) whatsapp.CallEvent {
	return whatsapp.CallEvent{ID: id, From: from, To: to, Status: status, Timestamp: ts}
}

func process(t *testing.T, svc *Service, events ...whatsapp.CallEvent) {
	t.Helper()
	svc.ProcessWebhook(context.Background(), whatsapp.WebhookPayload{
		Entry: []whatsapp.Entry{{
			Changes: []whatsapp.Change{{
				Field: "calls",
				Value: whatsapp.ChangeValue{Calls: events},
			}},
		}},
	})
}

// A call that rings and then ends without connecting is stored as missed, and
// a single missed outcome reaches the permission machine.
func TestRingingThenEndedBecomesMissed(t *testing.T) {
	svc, store, perms, notifier := newTestService()

	process(t, svc, callEvent("wacid.1", "15557770001", lineNumber, "RINGING", "1717243200"))
	process(t, svc, callEvent("wacid.1", "15557770001", lineNumber, "ENDED", "1717243230"))

	c, err := store.Get(context.Background(), "wacid.1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != calls.StatusMissed {
		t.Fatalf("status = %q, want missed", c.Status)
	}
	if c.Type != calls.TypeIncoming {
		t.Fatalf("type = %q, want incoming", c.Type)
	}
	if c.EndTime == nil {
		t.Fatalf("terminal call must carry end_time")
	}

	if len(perms.outcomes) != 1 {
		t.Fatalf("outcomes fed = %d, want 1", len(perms.outcomes))
	}
	if perms.outcomes[0] != (outcomeCall{phone: "15557770001", outcome: calls.OutcomeMissed}) {
		t.Fatalf("outcome = %+v", perms.outcomes[0])
	}
	if len(notifier.incoming) != 1 {
		t.Fatalf("incoming notifications = %d, want 1", len(notifier.incoming))
	}
}

// Connected then ended is a connected call: duration derived from the
// timestamps, a single connected outcome fed.
func TestConnectedCallLifecycle(t *testing.T) {
	svc, store, perms, notifier := newTestService()

	process(t, svc,
		callEvent("wacid.2", "15557770001", lineNumber, "RINGING", "1717243200"),
		callEvent("wacid.2", "15557770001", lineNumber, "CONNECTED", "1717243210"),
		callEvent("wacid.2", "15557770001", lineNumber, "ENDED", "1717243330"),
	)

	c, _ := store.Get(context.Background(), "wacid.2")
	if c.Status != calls.StatusEnded {
		t.Fatalf("status = %q, want ended", c.Status)
	}
	if c.DurationSeconds == nil || *c.DurationSeconds != 130 {
		t.Fatalf("duration = %v, want 130", c.DurationSeconds)
	}

	if len(perms.outcomes) != 1 || perms.outcomes[0].outcome != calls.OutcomeConnected {
		t.Fatalf("outcomes = %+v, want one connected", perms.outcomes)
	}
	// ringing announce plus connected and ended updates
	if len(notifier.updates) != 2 {
		t.Fatalf("status updates = %d, want 2", len(notifier.updates))
	}
}

// Redelivered events with an already-stored status repeat no side effects.
func TestDuplicateEventsAreIdempotent(t *testing.T) {
	svc, _, perms, notifier := newTestService()

	process(t, svc, callEvent("wacid.3", "15557770001", lineNumber, "RINGING", "1717243200"))
	process(t, svc, callEvent("wacid.3", "15557770001", lineNumber, "RINGING", "1717243200"))
	process(t, svc, callEvent("wacid.3", "15557770001", lineNumber, "MISSED", "1717243240"))
	process(t, svc, callEvent("wacid.3", "15557770001", lineNumber, "MISSED", "1717243240"))

	if len(perms.outcomes) != 1 {
		t.Fatalf("outcomes fed = %d, want 1 despite redelivery", len(perms.outcomes))
	}
	if len(notifier.incoming) != 1 {
		t.Fatalf("incoming notifications = %d, want 1", len(notifier.incoming))
	}
	if len(notifier.updates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(notifier.updates))
	}
}

// A redelivered ENDED event must not undo the missed reclassification or
// repeat its side effects.
func TestRedeliveredEndedKeepsMissed(t *testing.T) {
	svc, store, perms, notifier := newTestService()

	process(t, svc, callEvent("wacid.8", "15557770001", lineNumber, "RINGING", "1717243200"))
	process(t, svc, callEvent("wacid.8", "15557770001", lineNumber, "ENDED", "1717243230"))
	process(t, svc, callEvent("wacid.8", "15557770001", lineNumber, "ENDED", "1717243230"))

	c, err := store.Get(context.Background(), "wacid.8")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != calls.StatusMissed {
		t.Fatalf("status = %q after duplicate ENDED, want missed", c.Status)
	}
	if len(perms.outcomes) != 1 {
		t.Fatalf("outcomes fed = %d, want 1 despite redelivery", len(perms.outcomes))
	}
	if len(notifier.updates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(notifier.updates))
	}
}

// A call accepted through the console returns its active-call slot on the
// first terminal webhook event, and only then.
func TestTerminalEventReleasesAcceptedCallSlot(t *testing.T) {
	svc, store, _, _ := newTestService()
	slots := &fakeSlots{}
	svc.slots = slots

	process(t, svc,
		callEvent("wacid.9", "15557770001", lineNumber, "RINGING", "1717243200"),
		callEvent("wacid.9", "15557770001", lineNumber, "CONNECTED", "1717243210"),
	)
	accepted := time.Unix(1717243205, 0).UTC()
	if _, err := store.Mutate(context.Background(), "wacid.9", func(c *calls.Call) error {
		c.AcceptedAt = &accepted
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if slots.released != 0 {
		t.Fatalf("slot released before the call ended")
	}

	process(t, svc, callEvent("wacid.9", "15557770001", lineNumber, "ENDED", "1717243330"))
	if slots.released != 1 {
		t.Fatalf("released = %d, want 1 on the terminal transition", slots.released)
	}

	process(t, svc, callEvent("wacid.9", "15557770001", lineNumber, "ENDED", "1717243330"))
	if slots.released != 1 {
		t.Fatalf("released = %d after redelivery, want still 1", slots.released)
	}
}

// A call never accepted here holds no slot, so its end releases nothing.
func TestTerminalEventWithoutAcceptReleasesNothing(t *testing.T) {
	svc, _, _, _ := newTestService()
	slots := &fakeSlots{}
	svc.slots = slots

	process(t, svc,
		callEvent("wacid.10", "15557770001", lineNumber, "RINGING", "1717243200"),
		callEvent("wacid.10", "15557770001", lineNumber, "ENDED", "1717243230"),
	)
	if slots.released != 0 {
		t.Fatalf("released = %d, want 0 for an unaccepted call", slots.released)
	}
}

// Outbound calls update the record but never touch the permission machine.
func TestOutboundCallFeedsNoOutcome(t *testing.T) {
	svc, store, perms, _ := newTestService()

	process(t, svc,
		callEvent("wacid.4", lineNumber, "15557770002", "RINGING", "1717243200"),
		callEvent("wacid.4", lineNumber, "15557770002", "ENDED", "1717243230"),
	)

	c, _ := store.Get(context.Background(), "wacid.4")
	if c.Type != calls.TypeOutgoing {
		t.Fatalf("type = %q, want outgoing", c.Type)
	}
	if len(perms.outcomes) != 0 {
		t.Fatalf("outbound call fed outcomes: %+v", perms.outcomes)
	}
}

// Provider status vocabulary is normalized before storage.
func TestStatusVocabularyNormalized(t *testing.T) {
	svc, store, _, _ := newTestService()

	process(t, svc,
		callEvent("wacid.5", "15557770003", lineNumber, "RINGING", "1717243200"),
		callEvent("wacid.5", "15557770003", lineNumber, "NO_ANSWER", "1717243240"),
	)

	c, _ := store.Get(context.Background(), "wacid.5")
	if c.Status != calls.StatusMissed {
		t.Fatalf("NO_ANSWER stored as %q, want missed", c.Status)
	}
}

func TestIncomingEventCapturesSDPOffer(t *testing.T) {
	svc, store, _, notifier := newTestService()

	ev := callEvent("wacid.6", "15557770004", lineNumber, "RINGING", "1717243200")
	ev.Session = &whatsapp.Session{SDPType: "offer", SDP: "v=0..."}
	process(t, svc, ev)

	c, _ := store.Get(context.Background(), "wacid.6")
	if c.SDP != "v=0..." {
		t.Fatalf("sdp not captured: %q", c.SDP)
	}
	if len(notifier.incoming) != 1 || notifier.incoming[0].SDP != "v=0..." {
		t.Fatalf("incoming notification must carry the offer")
	}
}

func TestPermissionReplyApplied(t *testing.T) {
	svc, _, perms, _ := newTestService()

	svc.ProcessWebhook(context.Background(), whatsapp.WebhookPayload{
		Entry: []whatsapp.Entry{{
			Changes: []whatsapp.Change{{
				Field: "messages",
				Value: whatsapp.ChangeValue{Messages: []whatsapp.Message{{
					From: "15557770005",
					ID:   "wamid.reply-1",
					Type: "interactive",
					Interactive: &whatsapp.Interactive{
						Type: whatsapp.InteractiveTypeCallPermissionReply,
						CallPermissionReply: &whatsapp.CallPermissionReply{
							Response:            "accept",
							ExpirationTimestamp: 1717329600,
							ResponseSource:      "user_action",
						},
					},
				}}},
			}},
		}},
	})

	if len(perms.replies) != 1 {
		t.Fatalf("replies applied = %d, want 1", len(perms.replies))
	}
	r := perms.replies[0]
	if !r.Accepted || r.IsPermanent {
		t.Fatalf("reply = %+v, want temporary accept", r)
	}
	if r.ExpiresAt == nil || r.ExpiresAt.Unix() != 1717329600 {
		t.Fatalf("expires = %v", r.ExpiresAt)
	}
	if r.Source != permission.ResponseSourceUserAction {
		t.Fatalf("source = %q", r.Source)
	}
	if perms.replyTo[0] != "15557770005" {
		t.Fatalf("reply routed to %q", perms.replyTo[0])
	}
}

// A failing event must not stop the rest of the batch.
func TestPoisonEventSkipped(t *testing.T) {
	svc, store, _, _ := newTestService()

	process(t, svc,
		whatsapp.CallEvent{From: "15557770006", To: lineNumber, Status: "RINGING"}, // no call id
		callEvent("wacid.7", "15557770006", lineNumber, "RINGING", "1717243200"),
	)

	if _, err := store.Get(context.Background(), "wacid.7"); err != nil {
		t.Fatalf("event after poison event not processed: %v", err)
	}
}
