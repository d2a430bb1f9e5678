package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/permission"
	"whatsapp-calling/internal/whatsapp"
)

// Permissions is the slice of the permission state machine the ingest path
// drives: webhook replies and terminal call outcomes.
type Permissions interface {
	ApplyReply(ctx context.Context, userID, phoneNumber string, r permission.Reply) (permission.CallPermission, error)
	ApplyCallOutcome(ctx context.Context, userID, phoneNumber string, outcome calls.Outcome, at time.Time) (permission.CallPermission, permission.OutcomeEffects, error)
}

// Notifier pushes call events to the owning user's live sessions.
type Notifier interface {
	IncomingCall(ctx context.Context, userID string, c calls.Call) bool
	CallStatusUpdate(ctx context.Context, userID string, c calls.Call)
}

// SlotReleaser frees the line's active-call slot. Calls accepted through the
// console hold a slot; the terminal webhook event is where it comes back,
// covering calls ended by the remote side as well as explicit terminates.
type SlotReleaser interface {
	Release(ctx context.Context) error
}

// Service turns provider webhook payloads into call-record and permission
// state. Processing is per event: one malformed or failing event is logged
// and skipped, the rest of the batch still lands.
type Service struct {
	store    calls.Store
	perms    Permissions
	notifier Notifier
	slots    SlotReleaser
	log      *slog.Logger

	// lineNumber is the business line's display number, used to resolve call
	// direction from the event's from/to pair.
	lineNumber string

	// ownerUserID attributes webhook traffic to a console user; events
	// identify the line only.
	ownerUserID string

	clock func() time.Time
}

func NewService(store calls.Store, perms Permissions, notifier Notifier, slots SlotReleaser, log *slog.Logger, lineNumber, ownerUserID string) *Service {
	return &Service{
		store:       store,
		perms:       perms,
		notifier:    notifier,
		slots:       slots,
		log:         log,
		lineNumber:  lineNumber,
		ownerUserID: ownerUserID,
		clock:       time.Now,
	}
}

// ProcessWebhook walks the payload and applies every call event and
// permission reply it carries. Never returns an error: the provider retries
// on non-2xx, and a poison event must not wedge the whole feed.
func (s *Service) ProcessWebhook(ctx context.Context, p whatsapp.WebhookPayload) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, ev := range change.Value.Calls {
				if err := s.processCallEvent(ctx, ev); err != nil {
					s.log.Error("ingest: call event failed",
						"call_id", ev.ID, "status", ev.RawStatus(), "error", err)
				}
			}
			for _, msg := range change.Value.Messages {
				if msg.Interactive == nil || msg.Interactive.Type != whatsapp.InteractiveTypeCallPermissionReply {
					continue
				}
				if err := s.processPermissionReply(ctx, msg); err != nil {
					s.log.Error("ingest: permission reply failed",
						"message_id", msg.ID, "from", msg.From, "error", err)
				}
			}
		}
	}
}

func (s *Service) processCallEvent(ctx context.Context, ev whatsapp.CallEvent) error {
	if ev.ID == "" {
		return errors.New("event without call id")
	}

	next := calls.NormalizeStatus(ev.RawStatus())
	if next == "" {
		return errors.New("event without status")
	}

	direction := calls.TypeIncoming
	if ev.From == s.lineNumber {
		direction = calls.TypeOutgoing
	}

	eventTime := whatsapp.ParseTimestamp(ev.Timestamp)
	if eventTime.IsZero() {
		eventTime = s.clock().UTC()
	}

	if _, err := s.store.Get(ctx, ev.ID); errors.Is(err, calls.ErrNotFound) {
		created, err := s.createFromEvent(ctx, ev, direction, next, eventTime)
		if err == nil {
			s.afterCreate(ctx, created)
			return nil
		}
		if !errors.Is(err, calls.ErrAlreadyExists) {
			return err
		}
		// Lost the create race; apply as an update below.
	} else if err != nil {
		return err
	}

	var prev calls.CallStatus
	var applied calls.CallStatus
	updated, err := s.store.Mutate(ctx, ev.ID, func(c *calls.Call) error {
		prev = c.Status
		applied = calls.ApplyStatus(c.Status, next)
		c.Status = applied

		if c.SDP == "" && ev.Session != nil {
			c.SDP = ev.Session.SDP
		}
		if start := whatsapp.ParseTimestamp(ev.StartTime); !start.IsZero() {
			c.StartTime = start
		}
		if isTerminal(applied) && c.EndTime == nil {
			end := whatsapp.ParseTimestamp(ev.EndTime)
			if end.IsZero() {
				end = eventTime
			}
			c.EndTime = &end
		}
		c.ComputeDuration()
		return nil
	})
	if err != nil {
		return err
	}

	if applied == prev {
		// Duplicate delivery of a status already stored. State writes above
		// are idempotent; side effects must not repeat.
		return nil
	}

	s.notifier.CallStatusUpdate(ctx, s.ownerUserID, updated)
	s.feedOutcome(ctx, updated, prev, applied, eventTime)

	// A call accepted through the console holds an active-call slot; the
	// first terminal transition gives it back. The prev check keeps duplicate
	// or terminal-to-terminal deliveries from releasing twice.
	if s.slots != nil && updated.AcceptedAt != nil &&
		isTerminal(applied) && !isTerminal(prev) {
		if err := s.slots.Release(ctx); err != nil {
			s.log.Error("ingest: call slot release failed",
				"call_id", updated.CallID, "error", err)
		}
	}
	return nil
}

func (s *Service) createFromEvent(ctx context.Context, ev whatsapp.CallEvent, direction calls.CallType, status calls.CallStatus, eventTime time.Time) (calls.Call, error) {
	c := calls.Call{
		CallID:     ev.ID,
		FromNumber: ev.From,
		ToNumber:   ev.To,
		Type:       direction,
		Status:     status,
		StartTime:  eventTime,
	}
	if start := whatsapp.ParseTimestamp(ev.StartTime); !start.IsZero() {
		c.StartTime = start
	}
	if ev.Session != nil {
		c.SDP = ev.Session.SDP
	}
	if isTerminal(status) {
		end := whatsapp.ParseTimestamp(ev.EndTime)
		if end.IsZero() {
			end = eventTime
		}
		c.EndTime = &end
		c.ComputeDuration()
	}
	return s.store.Create(ctx, c)
}

func (s *Service) afterCreate(ctx context.Context, c calls.Call) {
	if c.Type == calls.TypeIncoming && c.Status == calls.StatusRinging {
		if !s.notifier.IncomingCall(ctx, s.ownerUserID, c) {
			s.log.Warn("ingest: incoming call had no live session", "call_id", c.CallID)
		}
		return
	}
	s.notifier.CallStatusUpdate(ctx, s.ownerUserID, c)
	s.feedOutcome(ctx, c, "", c.Status, c.StartTime)
}

// feedOutcome forwards terminal outcomes of inbound calls to the permission
// state machine. Outbound calls carry no permission consequence.
func (s *Service) feedOutcome(ctx context.Context, c calls.Call, prev, applied calls.CallStatus, at time.Time) {
	if c.Type != calls.TypeIncoming {
		return
	}
	outcome, ok := calls.OutcomeFor(prev, applied)
	if !ok {
		return
	}
	if _, _, err := s.perms.ApplyCallOutcome(ctx, s.ownerUserID, c.FromNumber, outcome, at); err != nil {
		s.log.Error("ingest: outcome not applied",
			"call_id", c.CallID, "outcome", outcome, "error", err)
	}
}

func (s *Service) processPermissionReply(ctx context.Context, msg whatsapp.Message) error {
	reply := msg.Interactive.CallPermissionReply
	if reply == nil {
		return errors.New("interactive reply without call_permission_reply body")
	}
	if msg.From == "" {
		return errors.New("reply without sender")
	}

	_, err := s.perms.ApplyReply(ctx, s.ownerUserID, msg.From, permission.Reply{
		Accepted:    reply.Accepted(),
		IsPermanent: reply.IsPermanent,
		ExpiresAt:   reply.ExpiresAt(),
		Source:      permission.ResponseSource(reply.ResponseSource),
	})
	return err
}

func isTerminal(s calls.CallStatus) bool {
	switch s {
	case calls.StatusEnded, calls.StatusMissed, calls.StatusRejected, calls.StatusFailed:
		return true
	default:
		return false
	}
}
