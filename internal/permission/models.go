package permission

import "time"

// CallPermission is one row per (user, counterpart phone number): the stored
// consent state allowing this line to place voice calls to that number.
//
// Invariants:
// - is_permanent implies expires_at is null.
// - A call may only be placed from status temporary or permanent.
// - consecutive_missed resets to 0 on any connected call.
// - Counters only ever decrease via the periodic sweep or the connected-call
//   reset.
//
// Rows are created lazily with status no_permission and never hard-deleted.
type CallPermission struct {
	UserID      string `json:"user_id" db:"user_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status      Status `json:"status" db:"status"`
	IsPermanent bool   `json:"is_permanent" db:"is_permanent"`

	RequestedAt *time.Time `json:"requested_at,omitempty" db:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`

	RequestCount24h int        `json:"request_count_24h" db:"request_count_24h"`
	RequestCount7d  int        `json:"request_count_7d" db:"request_count_7d"`
	LastRequestAt   *time.Time `json:"last_request_at,omitempty" db:"last_request_at"`

	ConnectedCalls24h int        `json:"connected_calls_24h" db:"connected_calls_24h"`
	LastCallAt        *time.Time `json:"last_call_at,omitempty" db:"last_call_at"`

	ConsecutiveMissed int  `json:"consecutive_missed" db:"consecutive_missed"`
	WarningSent       bool `json:"warning_sent" db:"warning_sent"`

	// PermissionMessageID correlates the row to the outbound request message.
	PermissionMessageID string `json:"permission_message_id,omitempty" db:"permission_message_id"`

	ResponseSource ResponseSource `json:"response_source,omitempty" db:"response_source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusNoPermission Status = "no_permission"
	StatusPending      Status = "pending"
	StatusTemporary    Status = "temporary"
	StatusPermanent    Status = "permanent"
	StatusRejected     Status = "rejected"
	StatusRevoked      Status = "revoked"
)

// ResponseSource records how a permission reply was produced. Stored verbatim;
// no downstream policy branches on it.
type ResponseSource string

const (
	ResponseSourceUserAction ResponseSource = "user_action"
	ResponseSourceAutomatic  ResponseSource = "automatic"
)

// Reply is a normalized call-permission reply from the provider webhook.
type Reply struct {
	Accepted    bool
	IsPermanent bool
	// ExpiresAt is the expiration carried by a non-permanent accept.
	ExpiresAt *time.Time
	Source    ResponseSource
}
