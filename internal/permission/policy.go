package permission

import "time"

// Policy bounds. These mirror the provider's calling-consent limits; keep them
// in one place.
const (
	MaxRequests24h       = 1
	MaxRequests7d        = 2
	MaxConnectedCalls24h = 10

	// WarningAfterMissed marks the row for an out-of-band warning once this
	// many consecutive calls went unanswered.
	WarningAfterMissed = 2
	// RevokeAfterMissed auto-revokes the grant.
	RevokeAfterMissed = 4
)

// IsExpired reports whether the grant has lapsed at now.
// Permanent grants never expire, regardless of expires_at.
func (p CallPermission) IsExpired(now time.Time) bool {
	if p.IsPermanent {
		return false
	}
	if p.ExpiresAt == nil {
		return true
	}
	return !p.ExpiresAt.After(now)
}

// HasActiveGrant reports whether the row currently holds an unexpired
// temporary or permanent grant.
func (p CallPermission) HasActiveGrant(now time.Time) bool {
	if p.Status != StatusTemporary && p.Status != StatusPermanent {
		return false
	}
	return !p.IsExpired(now)
}

// RequestDenial explains why a permission request is not allowed.
type RequestDenial string

const (
	DenialActiveGrant RequestDenial = "active_grant"
	DenialDailyLimit  RequestDenial = "daily_limit"
	DenialWeeklyLimit RequestDenial = "weekly_limit"
)

// CanRequestPermission reports whether a new permission request may be sent.
func (p CallPermission) CanRequestPermission(now time.Time) (bool, RequestDenial) {
	if p.HasActiveGrant(now) {
		return false, DenialActiveGrant
	}
	if p.RequestCount24h >= MaxRequests24h {
		return false, DenialDailyLimit
	}
	if p.RequestCount7d >= MaxRequests7d {
		return false, DenialWeeklyLimit
	}
	return true, ""
}

// CallDenial explains why a call may not be placed.
type CallDenial string

const (
	DenialNoGrant   CallDenial = "no_grant"
	DenialCallQuota CallDenial = "call_quota"
)

// CanMakeCall reports whether a call may be placed right now.
func (p CallPermission) CanMakeCall(now time.Time) (bool, CallDenial) {
	if !p.HasActiveGrant(now) {
		return false, DenialNoGrant
	}
	if p.ConnectedCalls24h >= MaxConnectedCalls24h {
		return false, DenialCallQuota
	}
	return true, ""
}
