package missed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"whatsapp-calling/internal/audit"
	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/permission"
)

var (
	ErrNotMissedCall    = errors.New("missed: call is not a missed incoming call")
	ErrAlreadyCompleted = errors.New("missed: callback already completed")
)

const defaultFollowUpText = "Sorry we missed your call. Reply here or let us know a good time to call you back."

// Caller is the outbound provider surface callbacks need.
type Caller interface {
	InitiateCall(ctx context.Context, to string) (callID string, err error)
	SendText(ctx context.Context, to, body string) (messageID string, err error)
}

// PermissionGate verifies a call may be placed before the provider is
// touched.
type PermissionGate interface {
	CheckCallAllowed(ctx context.Context, userID, phoneNumber string) (permission.CallPermission, error)
}

// Group is the per-contact view of the missed-call list: every missed call
// from one number, newest first.
type Group struct {
	PhoneNumber  string       `json:"phone_number"`
	Calls        []calls.Call `json:"calls"`
	LastMissedAt time.Time    `json:"last_missed_at"`

	// CallbackPending is true while any call in the group still needs a
	// callback.
	CallbackPending bool `json:"callback_pending"`
}

type Summary struct {
	TotalMissed    int `json:"total_missed"`
	UniqueContacts int `json:"unique_contacts"`
	NeedsCallback  int `json:"needs_callback"`
}

type ListResult struct {
	Groups  []Group `json:"groups"`
	Summary Summary `json:"summary"`
}

// Service manages the missed-call queue: listing, callbacks, follow-up
// messages and handled/viewed bookkeeping.
type Service struct {
	store    calls.Store
	perms    PermissionGate
	provider Caller
	audit    *audit.Service
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(store calls.Store, perms PermissionGate, provider Caller, auditSvc *audit.Service, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		perms:    perms,
		provider: provider,
		audit:    auditSvc,
		log:      log,
		clock:    time.Now,
	}
}

// List returns missed incoming calls grouped by contact, newest group first.
// With pendingOnly, calls already stamped callback_sent or callback_completed
// are filtered out and only the still-actionable queue remains.
func (s *Service) List(ctx context.Context, pendingOnly bool) (ListResult, error) {
	rows, err := s.store.ListMissed(ctx, pendingOnly)
	if err != nil {
		return ListResult{}, err
	}

	byNumber := make(map[string]*Group)
	var needsCallback int
	for _, c := range rows {
		g := byNumber[c.FromNumber]
		if g == nil {
			g = &Group{PhoneNumber: c.FromNumber}
			byNumber[c.FromNumber] = g
		}
		g.Calls = append(g.Calls, c)
		if c.StartTime.After(g.LastMissedAt) {
			g.LastMissedAt = c.StartTime
		}
		if !c.CallbackSent && !c.CallbackCompleted {
			g.CallbackPending = true
			needsCallback++
		}
	}

	groups := make([]Group, 0, len(byNumber))
	for _, g := range byNumber {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].LastMissedAt.After(groups[j].LastMissedAt)
	})

	return ListResult{
		Groups: groups,
		Summary: Summary{
			TotalMissed:    len(rows),
			UniqueContacts: len(groups),
			NeedsCallback:  needsCallback,
		},
	}, nil
}

// InitiateCallback places a return call for a missed call. The permission
// gate runs first; the record is stamped callback_sent only after the
// provider accepted the call.
func (s *Service) InitiateCallback(ctx context.Context, userID, callID string) (string, error) {
	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	if c.Type != calls.TypeIncoming || c.Status != calls.StatusMissed {
		return "", ErrNotMissedCall
	}
	if c.CallbackCompleted {
		return "", ErrAlreadyCompleted
	}

	if _, err := s.perms.CheckCallAllowed(ctx, userID, c.FromNumber); err != nil {
		return "", err
	}

	outboundID, err := s.provider.InitiateCall(ctx, c.FromNumber)
	if err != nil {
		return "", fmt.Errorf("missed: initiate callback: %w", err)
	}

	now := s.clock().UTC()
	if _, err := s.store.Mutate(ctx, callID, func(c *calls.Call) error {
		c.CallbackSent = true
		c.CallbackSentAt = &now
		return nil
	}); err != nil {
		// The call is already ringing; the stamp is bookkeeping only.
		s.log.Error("missed: callback stamp failed", "call_id", callID, "error", err)
	}

	_ = s.audit.CallbackAction(ctx, userID, c.FromNumber, callID, "callback call initiated")
	return outboundID, nil
}

// SendFollowUp sends a text to the missed caller instead of calling back.
// Unlike a callback it needs no call permission. An empty body falls back to
// the stock follow-up text.
func (s *Service) SendFollowUp(ctx context.Context, userID, callID, body string) (string, error) {
	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	if c.Type != calls.TypeIncoming || c.Status != calls.StatusMissed {
		return "", ErrNotMissedCall
	}
	if body == "" {
		body = defaultFollowUpText
	}

	msgID, err := s.provider.SendText(ctx, c.FromNumber, body)
	if err != nil {
		return "", fmt.Errorf("missed: send follow-up: %w", err)
	}

	now := s.clock().UTC()
	if _, err := s.store.Mutate(ctx, callID, func(c *calls.Call) error {
		c.CallbackSent = true
		c.CallbackSentAt = &now
		return nil
	}); err != nil {
		s.log.Error("missed: follow-up stamp failed", "call_id", callID, "error", err)
	}

	_ = s.audit.CallbackAction(ctx, userID, c.FromNumber, callID, "follow-up message sent")
	return msgID, nil
}

// MarkHandled closes out a missed call. Marking an already-handled call is a
// no-op, not an error.
func (s *Service) MarkHandled(ctx context.Context, userID, callID string) (calls.Call, error) {
	now := s.clock().UTC()
	c, err := s.store.Mutate(ctx, callID, func(c *calls.Call) error {
		if c.CallbackCompleted {
			return nil
		}
		c.CallbackCompleted = true
		c.CallbackCompletedAt = &now
		return nil
	})
	if err != nil {
		return calls.Call{}, err
	}
	_ = s.audit.CallbackAction(ctx, userID, c.FromNumber, callID, "missed call marked handled")
	return c, nil
}

// MarkHandledBulk closes out several missed calls. Unknown ids are reported
// back, not fatal.
func (s *Service) MarkHandledBulk(ctx context.Context, userID string, callIDs []string) (handled int, notFound []string, err error) {
	for _, id := range callIDs {
		if _, err := s.MarkHandled(ctx, userID, id); err != nil {
			if errors.Is(err, calls.ErrNotFound) {
				notFound = append(notFound, id)
				continue
			}
			return handled, notFound, err
		}
		handled++
	}
	return handled, notFound, nil
}

// MarkViewed stamps first-view time; later views keep the original stamp.
func (s *Service) MarkViewed(ctx context.Context, callID string) (calls.Call, error) {
	now := s.clock().UTC()
	return s.store.Mutate(ctx, callID, func(c *calls.Call) error {
		if c.ViewedAt == nil {
			c.ViewedAt = &now
		}
		return nil
	})
}
