package permission

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("permission: invalid argument")

	// ErrLimitReached matches any *LimitError via errors.Is.
	ErrLimitReached = errors.New("permission: limit reached")

	// ErrDeliveryFailed wraps provider failures while sending the permission
	// request. Local state is untouched when this is returned.
	ErrDeliveryFailed = errors.New("permission: request delivery failed")
)

// Counters is the quota snapshot attached to limit errors so callers can
// decide whether to retry or wait.
type Counters struct {
	RequestCount24h   int `json:"request_count_24h"`
	RequestCount7d    int `json:"request_count_7d"`
	ConnectedCalls24h int `json:"connected_calls_24h"`
}

// LimitError is returned when a policy function denies an action. It is a
// distinct condition from upstream failures and carries the current counters.
type LimitError struct {
	Denial   string   `json:"denial"`
	Counters Counters `json:"counters"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("permission: limit reached (%s)", e.Denial)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }

func limitErr(denial string, p CallPermission) *LimitError {
	return &LimitError{
		Denial: denial,
		Counters: Counters{
			RequestCount24h:   p.RequestCount24h,
			RequestCount7d:    p.RequestCount7d,
			ConnectedCalls24h: p.ConnectedCalls24h,
		},
	}
}
