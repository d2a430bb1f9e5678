package calls

import "time"

// Call is one row per provider call id.
//
// Lifecycle: created on the first webhook event for a call id, updated in
// place on later events for the same id. Callback bookkeeping fields are set
// by agent action and never by provider events.
type Call struct {
	// CallID is the provider's call identifier. Unique.
	CallID string `json:"call_id" db:"call_id"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	Type   CallType   `json:"type" db:"type"`
	Status CallStatus `json:"status" db:"status"`

	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	// DurationSeconds is derivable only once both start and end are known.
	DurationSeconds *int `json:"duration,omitempty" db:"duration"`

	// SDP is the offer payload captured from the incoming-call event, relayed
	// to the browser client for negotiation.
	SDP string `json:"sdp,omitempty" db:"sdp"`

	// AcceptedAt marks a call answered through this console. Calls accepted
	// here hold an active-call slot until a terminal webhook event lands.
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`

	CallbackSent        bool       `json:"callback_sent" db:"callback_sent"`
	CallbackSentAt      *time.Time `json:"callback_sent_at,omitempty" db:"callback_sent_at"`
	CallbackCompleted   bool       `json:"callback_completed" db:"callback_completed"`
	CallbackCompletedAt *time.Time `json:"callback_completed_at,omitempty" db:"callback_completed_at"`

	ViewedAt *time.Time `json:"viewed_at,omitempty" db:"viewed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	TypeIncoming CallType = "incoming"
	TypeOutgoing CallType = "outgoing"
)

type CallStatus string

const (
	StatusRinging   CallStatus = "ringing"
	StatusConnected CallStatus = "connected"
	StatusEnded     CallStatus = "ended"
	StatusMissed    CallStatus = "missed"
	StatusRejected  CallStatus = "rejected"
	StatusFailed    CallStatus = "failed"
)

// Outcome is the terminal result fed into the permission state machine for
// inbound calls.
type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeMissed    Outcome = "missed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// ComputeDuration fills DurationSeconds when both endpoints are known.
func (c *Call) ComputeDuration() {
	if c.StartTime.IsZero() || c.EndTime == nil {
		return
	}
	secs := int(c.EndTime.Sub(c.StartTime) / time.Second)
	if secs < 0 {
		secs = 0
	}
	c.DurationSeconds = &secs
}
