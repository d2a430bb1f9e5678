package permission

import (
	"context"
	"fmt"
	"time"

	"whatsapp-calling/internal/audit"
	"whatsapp-calling/internal/calls"
)

// RequestSender delivers the interactive permission-request message to the
// counterpart. Implemented by the Graph API client.
type RequestSender interface {
	SendPermissionRequest(ctx context.Context, to string) (messageID string, err error)
}

// Notifier pushes permission_update events to the owning user's sessions.
type Notifier interface {
	PermissionUpdate(ctx context.Context, userID string, p CallPermission)
}

// Service is the call-permission state machine.
//
// Transitions:
//   no_permission            -> pending    on a successful request send
//   pending                  -> temporary | permanent | rejected  on a reply
//   temporary | permanent    -> revoked    on explicit or automatic revocation
//   temporary                -> no_permission  on lazy expiry (read path)
//   any                      -> pending    once a new request is permitted
type Service struct {
	store    Store
	sender   RequestSender
	notifier Notifier
	audit    *audit.Service
	clock    func() time.Time
}

func NewService(store Store, sender RequestSender, notifier Notifier, auditSvc *audit.Service) *Service {
	return &Service{
		store:    store,
		sender:   sender,
		notifier: notifier,
		audit:    auditSvc,
		clock:    time.Now,
	}
}

// Get returns the permission row for a (user, number) pair, creating it
// lazily. A lapsed temporary grant is demoted to no_permission here: expiry is
// detected on the read path, not by a timer.
func (s *Service) Get(ctx context.Context, userID, phoneNumber string) (CallPermission, error) {
	if userID == "" || phoneNumber == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	p, err := s.store.GetOrCreate(ctx, userID, phoneNumber)
	if err != nil {
		return CallPermission{}, err
	}
	if p.Status == StatusTemporary && p.IsExpired(s.clock()) {
		p, err = s.store.Mutate(ctx, userID, phoneNumber, func(p *CallPermission) error {
			if p.Status != StatusTemporary || !p.IsExpired(s.clock()) {
				return nil
			}
			p.Status = StatusNoPermission
			p.ExpiresAt = nil
			return nil
		})
		if err != nil {
			return CallPermission{}, err
		}
	}
	return p, nil
}

// Request sends a permission request to the counterpart and, only on
// successful delivery, transitions the row to pending and bumps the request
// counters. Provider failures leave local state untouched.
func (s *Service) Request(ctx context.Context, userID, phoneNumber string) (CallPermission, error) {
	if userID == "" || phoneNumber == "" {
		return CallPermission{}, ErrInvalidArgument
	}

	p, err := s.Get(ctx, userID, phoneNumber)
	if err != nil {
		return CallPermission{}, err
	}

	now := s.clock().UTC()
	if ok, denial := p.CanRequestPermission(now); !ok {
		return p, limitErr(string(denial), p)
	}

	msgID, err := s.sender.SendPermissionRequest(ctx, phoneNumber)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	out, err := s.store.Mutate(ctx, userID, phoneNumber, func(p *CallPermission) error {
		p.Status = StatusPending
		p.RequestedAt = &now
		p.PermissionMessageID = msgID
		p.RequestCount24h++
		p.RequestCount7d++
		p.LastRequestAt = &now
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}

	s.notify(ctx, out)
	_ = s.audit.PermissionChange(ctx, userID, phoneNumber, "permission request sent", "")
	return out, nil
}

// ApplyReply applies an accept/reject reply from the provider webhook.
func (s *Service) ApplyReply(ctx context.Context, userID, phoneNumber string, r Reply) (CallPermission, error) {
	if userID == "" || phoneNumber == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	if _, err := s.store.GetOrCreate(ctx, userID, phoneNumber); err != nil {
		return CallPermission{}, err
	}

	now := s.clock().UTC()
	out, err := s.store.Mutate(ctx, userID, phoneNumber, func(p *CallPermission) error {
		p.ResponseSource = r.Source
		if !r.Accepted {
			p.Status = StatusRejected
			p.RejectedAt = &now
			return nil
		}
		p.ApprovedAt = &now
		if r.IsPermanent {
			p.Status = StatusPermanent
			p.IsPermanent = true
			p.ExpiresAt = nil
			return nil
		}
		p.Status = StatusTemporary
		p.IsPermanent = false
		p.ExpiresAt = r.ExpiresAt
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}

	s.notify(ctx, out)
	_ = s.audit.PermissionChange(ctx, userID, phoneNumber,
		fmt.Sprintf("permission reply applied: %s", out.Status), "")
	return out, nil
}

// OutcomeEffects reports side effects of applying a call outcome.
type OutcomeEffects struct {
	// WarningFired is set the single time consecutive_missed reaches the
	// warning threshold.
	WarningFired bool
	// AutoRevoked is set when the grant was revoked by the missed-call rule.
	AutoRevoked bool
}

// ApplyCallOutcome feeds a terminal inbound call outcome into the state
// machine. A connected call re-earns quota: it resets the missed streak, the
// warning flag and the request counters. Missed and rejected calls extend the
// streak; four in a row revoke the grant.
func (s *Service) ApplyCallOutcome(ctx context.Context, userID, phoneNumber string, outcome calls.Outcome, at time.Time) (CallPermission, OutcomeEffects, error) {
	if userID == "" || phoneNumber == "" {
		return CallPermission{}, OutcomeEffects{}, ErrInvalidArgument
	}
	if _, err := s.store.GetOrCreate(ctx, userID, phoneNumber); err != nil {
		return CallPermission{}, OutcomeEffects{}, err
	}

	var effects OutcomeEffects
	now := s.clock().UTC()
	if at.IsZero() {
		at = now
	}

	out, err := s.store.Mutate(ctx, userID, phoneNumber, func(p *CallPermission) error {
		p.LastCallAt = &at

		switch outcome {
		case calls.OutcomeConnected:
			p.ConnectedCalls24h++
			p.ConsecutiveMissed = 0
			p.WarningSent = false
			p.RequestCount24h = 0
			p.RequestCount7d = 0

		case calls.OutcomeMissed, calls.OutcomeRejected:
			p.ConsecutiveMissed++
			if p.ConsecutiveMissed == WarningAfterMissed && !p.WarningSent {
				p.WarningSent = true
				effects.WarningFired = true
			}
			if p.ConsecutiveMissed >= RevokeAfterMissed &&
				(p.Status == StatusTemporary || p.Status == StatusPermanent) {
				p.Status = StatusRevoked
				p.ExpiresAt = nil
				p.RevokedAt = &now
				effects.AutoRevoked = true
			}

		case calls.OutcomeFailed:
			// No streak or quota effect; only last_call_at moves.
		}
		return nil
	})
	if err != nil {
		return CallPermission{}, OutcomeEffects{}, err
	}

	if effects.WarningFired {
		s.notify(ctx, out)
		_ = s.audit.PermissionChange(ctx, userID, phoneNumber,
			"missed-call warning threshold reached", "")
	}
	if effects.AutoRevoked {
		s.notify(ctx, out)
		_ = s.audit.AutoRevoke(ctx, userID, phoneNumber)
	}
	return out, effects, nil
}

// Revoke applies an explicit revocation.
func (s *Service) Revoke(ctx context.Context, userID, phoneNumber string) (CallPermission, error) {
	if userID == "" || phoneNumber == "" {
		return CallPermission{}, ErrInvalidArgument
	}
	if _, err := s.store.GetOrCreate(ctx, userID, phoneNumber); err != nil {
		return CallPermission{}, err
	}

	now := s.clock().UTC()
	out, err := s.store.Mutate(ctx, userID, phoneNumber, func(p *CallPermission) error {
		p.Status = StatusRevoked
		p.ExpiresAt = nil
		p.RevokedAt = &now
		return nil
	})
	if err != nil {
		return CallPermission{}, err
	}

	s.notify(ctx, out)
	_ = s.audit.PermissionChange(ctx, userID, phoneNumber, "permission revoked", "")
	return out, nil
}

// CheckCallAllowed verifies a call may be placed to the counterpart now,
// returning a limit error with counters otherwise.
func (s *Service) CheckCallAllowed(ctx context.Context, userID, phoneNumber string) (CallPermission, error) {
	p, err := s.Get(ctx, userID, phoneNumber)
	if err != nil {
		return CallPermission{}, err
	}
	if ok, denial := p.CanMakeCall(s.clock()); !ok {
		return p, limitErr(string(denial), p)
	}
	return p, nil
}

func (s *Service) notify(ctx context.Context, p CallPermission) {
	if s.notifier == nil {
		return
	}
	s.notifier.PermissionUpdate(ctx, p.UserID, p)
}
