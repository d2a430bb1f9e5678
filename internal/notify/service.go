package notify

import (
	"context"
	"time"

	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/permission"
)

// Publisher abstracts where events go: the local Registry in single-instance
// deployments and tests, the Redis Bridge otherwise.
type Publisher interface {
	Publish(ctx context.Context, userID string, ev Event) bool
}

// Service is the domain-facing face of the fan-out: typed constructors over
// the raw event stream.
type Service struct {
	pub   Publisher
	clock func() time.Time
}

func NewService(pub Publisher) *Service {
	return &Service{pub: pub, clock: time.Now}
}

// IncomingCall announces a fresh ringing inbound call. The bool is advisory
// delivery feedback: false means no live session took it, which the caller
// may record but must not treat as call-handling failure.
func (s *Service) IncomingCall(ctx context.Context, userID string, c calls.Call) bool {
	return s.pub.Publish(ctx, userID, Event{
		Type:      EventIncomingCall,
		Data:      c,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) CallStatusUpdate(ctx context.Context, userID string, c calls.Call) {
	s.pub.Publish(ctx, userID, Event{
		Type:      EventCallStatusUpdate,
		Data:      c,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) PermissionUpdate(ctx context.Context, userID string, p permission.CallPermission) {
	s.pub.Publish(ctx, userID, Event{
		Type:      EventPermissionUpdate,
		Data:      p,
		Timestamp: s.clock().UTC(),
	})
}
