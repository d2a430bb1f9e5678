package audit

import "time"

// Event is an immutable, append-only internal audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit is best-effort; callers must not block business flows on it.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated console user causing the event, or
	// empty for provider/webhook-driven events.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// PhoneNumber is the counterpart number the event concerns.
	PhoneNumber string `json:"phone_number,omitempty" db:"phone_number"`
	// CallID is the provider call id, when the event concerns a call.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypePermissionChange EventType = "permission_change"
	EventTypeAutoRevoke       EventType = "permission_auto_revoke"
	EventTypeCallbackAction   EventType = "callback_action"
)
