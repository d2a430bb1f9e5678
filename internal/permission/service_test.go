package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"whatsapp-calling/internal/calls"
)

type fakeSender struct {
	sent   int
	fail   error
	lastTo string
}

func (f *fakeSender) SendPermissionRequest(ctx context.Context, to string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.sent++
	f.lastTo = to
	return "wamid.test-request", nil
}

type captureNotifier struct {
	updates []CallPermission
}

func (n *captureNotifier) PermissionUpdate(ctx context.Context, userID string, p CallPermission) {
	n.updates = append(n.updates, p)
}

func newTestService(sender *fakeSender) (*Service, *captureNotifier) {
	n := &captureNotifier{}
	svc := NewService(NewMemoryStore(), sender, n, nil)
	return svc, n
}

// Scenario: fresh row, request -> pending with counter 1; a second request is
// denied by quota; an accept with a 24h expiry lands on temporary.
func TestRequestAcceptFlow(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	svc, _ := newTestService(sender)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	p, err := svc.Request(ctx, "user-1", "15557770001")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if p.Status != StatusPending {
		t.Fatalf("status = %q, want pending", p.Status)
	}
	if p.RequestCount24h != 1 || p.RequestCount7d != 1 {
		t.Fatalf("counters = (%d, %d), want (1, 1)", p.RequestCount24h, p.RequestCount7d)
	}
	if p.PermissionMessageID != "wamid.test-request" {
		t.Fatalf("message id not correlated: %q", p.PermissionMessageID)
	}

	_, err = svc.Request(ctx, "user-1", "15557770001")
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("second request: err = %v, want limit reached", err)
	}
	var le *LimitError
	if !errors.As(err, &le) || le.Counters.RequestCount24h != 1 {
		t.Fatalf("limit error must carry counters, got %#v", err)
	}
	if sender.sent != 1 {
		t.Fatalf("provider called %d times, want 1", sender.sent)
	}

	expires := now.Add(24 * time.Hour)
	p, err = svc.ApplyReply(ctx, "user-1", "15557770001", Reply{
		Accepted:  true,
		ExpiresAt: &expires,
		Source:    ResponseSourceUserAction,
	})
	if err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}
	if p.Status != StatusTemporary {
		t.Fatalf("status = %q, want temporary", p.Status)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(expires) {
		t.Fatalf("expires_at = %v, want %v", p.ExpiresAt, expires)
	}
	if p.IsPermanent {
		t.Fatalf("temporary grant flagged permanent")
	}
}

func TestRequest_DeliveryFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{fail: errors.New("graph: 500")}
	svc, _ := newTestService(sender)

	_, err := svc.Request(ctx, "user-1", "15557770002")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want delivery failure", err)
	}

	p, err := svc.Get(ctx, "user-1", "15557770002")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != StatusNoPermission || p.RequestCount24h != 0 {
		t.Fatalf("state mutated on delivery failure: %+v", p)
	}
}

func TestApplyReply_PermanentGrantClearsExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeSender{})

	expires := time.Now().Add(time.Hour)
	p, err := svc.ApplyReply(ctx, "user-1", "15557770003", Reply{
		Accepted:    true,
		IsPermanent: true,
		ExpiresAt:   &expires, // must be ignored for permanent accepts
		Source:      ResponseSourceAutomatic,
	})
	if err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}
	if p.Status != StatusPermanent || !p.IsPermanent {
		t.Fatalf("status = %q (permanent=%v), want permanent", p.Status, p.IsPermanent)
	}
	if p.ExpiresAt != nil {
		t.Fatalf("is_permanent implies expires_at null, got %v", p.ExpiresAt)
	}
	if p.ResponseSource != ResponseSourceAutomatic {
		t.Fatalf("response_source not preserved: %q", p.ResponseSource)
	}
}

func TestApplyReply_Reject(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeSender{})

	p, err := svc.ApplyReply(ctx, "user-1", "15557770004", Reply{Accepted: false, Source: ResponseSourceUserAction})
	if err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}
	if p.Status != StatusRejected || p.RejectedAt == nil {
		t.Fatalf("reject not applied: %+v", p)
	}
}

// Four consecutive non-connected outcomes revoke the grant; the warning flag
// fires exactly once at two.
func TestAutoRevocationAfterFourMissed(t *testing.T) {
	ctx := context.Background()
	svc, n := newTestService(&fakeSender{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	expires := now.Add(48 * time.Hour)
	if _, err := svc.ApplyReply(ctx, "user-1", "15557770005", Reply{Accepted: true, ExpiresAt: &expires}); err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}

	outcomes := []calls.Outcome{calls.OutcomeMissed, calls.OutcomeMissed, calls.OutcomeRejected, calls.OutcomeMissed}
	var warnings int
	var p CallPermission
	var eff OutcomeEffects
	var err error
	for i, o := range outcomes {
		p, eff, err = svc.ApplyCallOutcome(ctx, "user-1", "15557770005", o, now)
		if err != nil {
			t.Fatalf("outcome %d: %v", i, err)
		}
		if eff.WarningFired {
			warnings++
		}
	}

	if warnings != 1 {
		t.Fatalf("warning fired %d times, want exactly once", warnings)
	}
	if !eff.AutoRevoked {
		t.Fatalf("fourth missed call must auto-revoke")
	}
	if p.Status != StatusRevoked || p.ExpiresAt != nil || p.RevokedAt == nil {
		t.Fatalf("revocation incomplete: %+v", p)
	}
	if len(n.updates) == 0 {
		t.Fatalf("auto-revoke must push a permission update")
	}
}

func TestConnectedCallResetsStreakAndQuota(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeSender{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	expires := now.Add(48 * time.Hour)
	if _, err := svc.Request(ctx, "user-1", "15557770006"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := svc.ApplyReply(ctx, "user-1", "15557770006", Reply{Accepted: true, ExpiresAt: &expires}); err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := svc.ApplyCallOutcome(ctx, "user-1", "15557770006", calls.OutcomeMissed, now); err != nil {
			t.Fatalf("missed %d: %v", i, err)
		}
	}

	p, _, err := svc.ApplyCallOutcome(ctx, "user-1", "15557770006", calls.OutcomeConnected, now)
	if err != nil {
		t.Fatalf("connected: %v", err)
	}
	if p.ConsecutiveMissed != 0 {
		t.Fatalf("consecutive_missed = %d, want 0", p.ConsecutiveMissed)
	}
	if p.WarningSent {
		t.Fatalf("warning_sent must clear on a connected call")
	}
	if p.ConnectedCalls24h != 1 {
		t.Fatalf("connected_calls_24h = %d, want 1", p.ConnectedCalls24h)
	}
	if p.RequestCount24h != 0 || p.RequestCount7d != 0 {
		t.Fatalf("request counters must reset on a connected call: (%d, %d)",
			p.RequestCount24h, p.RequestCount7d)
	}
	if p.Status != StatusTemporary {
		t.Fatalf("grant must survive a connected call, got %q", p.Status)
	}
}

func TestGet_LazyExpiryDemotesTemporary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeSender{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	expires := now.Add(time.Hour)
	if _, err := svc.ApplyReply(ctx, "user-1", "15557770007", Reply{Accepted: true, ExpiresAt: &expires}); err != nil {
		t.Fatalf("ApplyReply: %v", err)
	}

	svc.clock = func() time.Time { return now.Add(2 * time.Hour) }
	p, err := svc.Get(ctx, "user-1", "15557770007")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != StatusNoPermission {
		t.Fatalf("lapsed temporary grant = %q, want no_permission", p.Status)
	}
	if p.ExpiresAt != nil {
		t.Fatalf("expires_at must clear on lazy expiry")
	}
}

func TestMemoryStore_ResetWindows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-8 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	seed := func(userID, phone string, last time.Time) {
		if _, err := store.GetOrCreate(ctx, userID, phone); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		_, err := store.Mutate(ctx, userID, phone, func(p *CallPermission) error {
			p.RequestCount24h = 1
			p.RequestCount7d = 2
			p.ConnectedCalls24h = 3
			p.LastRequestAt = &last
			return nil
		})
		if err != nil {
			t.Fatalf("Mutate: %v", err)
		}
	}
	seed("u", "15550000001", stale)
	seed("u", "15550000002", recent)

	affected, err := store.ResetWindows(ctx, now)
	if err != nil {
		t.Fatalf("ResetWindows: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}

	p, _ := store.GetOrCreate(ctx, "u", "15550000001")
	if p.RequestCount24h != 0 || p.RequestCount7d != 0 || p.ConnectedCalls24h != 0 {
		t.Fatalf("stale row not swept: %+v", p)
	}
	p, _ = store.GetOrCreate(ctx, "u", "15550000002")
	if p.RequestCount24h != 1 || p.RequestCount7d != 2 {
		t.Fatalf("recent row must be untouched: %+v", p)
	}

	// Running the sweep again is a no-op.
	affected, err = store.ResetWindows(ctx, now)
	if err != nil || affected != 0 {
		t.Fatalf("second sweep = (%d, %v), want (0, nil)", affected, err)
	}
}
