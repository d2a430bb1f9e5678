package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append-only: the
// trail has no update or delete operations.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Service records internal audit information. Treat all calls as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// PermissionChange records a permission state transition.
func (s *Service) PermissionChange(ctx context.Context, actorUserID, phoneNumber, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypePermissionChange,
		ActorUserID: actorUserID,
		PhoneNumber: phoneNumber,
		Message:     message,
		Metadata:    metadata,
	})
}

// AutoRevoke records a consecutive-missed auto-revocation.
func (s *Service) AutoRevoke(ctx context.Context, userID, phoneNumber string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAutoRevoke,
		ActorUserID: userID,
		PhoneNumber: phoneNumber,
		Message:     "calling permission auto-revoked after consecutive missed calls",
	})
}

// CallbackAction records a missed-call callback action by an agent.
func (s *Service) CallbackAction(ctx context.Context, actorUserID, phoneNumber, callID, message string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallbackAction,
		ActorUserID: actorUserID,
		PhoneNumber: phoneNumber,
		CallID:      callID,
		Message:     message,
	})
}
