package notify

import "time"

// EventType tags the payload so browser clients can dispatch without
// inspecting the data shape.
type EventType string

const (
	// EventConnected is emitted once per session, immediately on subscribe.
	EventConnected EventType = "connected"

	// EventHeartbeat keeps idle connections alive through proxies.
	EventHeartbeat EventType = "heartbeat"

	EventIncomingCall     EventType = "incoming_call"
	EventCallStatusUpdate EventType = "call_status_update"
	EventPermissionUpdate EventType = "permission_update"
)

// Event is the wire unit of the notification stream. Data is the
// type-specific payload; Timestamp is set by the producer.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
