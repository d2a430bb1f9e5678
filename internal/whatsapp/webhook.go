package whatsapp

import (
	"strconv"
	"time"
)

// WebhookPayload is the envelope Meta posts to the webhook endpoint. Only the
// fields this console consumes are modeled; unknown fields are ignored by the
// decoder.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         Metadata    `json:"metadata"`
	Calls            []CallEvent `json:"calls"`
	Messages         []Message   `json:"messages"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// CallEvent is one lifecycle event for a call id. The provider reports status
// with inconsistent casing and vocabulary; calls.NormalizeStatus canonicalizes
// it.
type CallEvent struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Status    string   `json:"status"`
	Event     string   `json:"event"`
	Timestamp string   `json:"timestamp"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Session   *Session `json:"session"`
}

// RawStatus prefers the status field, falling back to the event field some
// payload versions carry instead.
func (e CallEvent) RawStatus() string {
	if e.Status != "" {
		return e.Status
	}
	return e.Event
}

type Session struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Interactive *Interactive `json:"interactive"`
}

const InteractiveTypeCallPermissionReply = "call_permission_reply"

type Interactive struct {
	Type                string               `json:"type"`
	CallPermissionReply *CallPermissionReply `json:"call_permission_reply"`
}

// CallPermissionReply is the user's answer to a call-permission request.
// ResponseSource distinguishes an explicit tap from an automatic grant and is
// stored verbatim.
type CallPermissionReply struct {
	Response            string `json:"response"`
	IsPermanent         bool   `json:"is_permanent"`
	ExpirationTimestamp int64  `json:"expiration_timestamp"`
	ResponseSource      string `json:"response_source"`
}

func (r CallPermissionReply) Accepted() bool {
	return r.Response == "accept" || r.Response == "accepted" || r.Response == "approve"
}

// ExpiresAt converts the reply's unix expiry to a time, nil when absent or
// when the grant is permanent.
func (r CallPermissionReply) ExpiresAt() *time.Time {
	if r.IsPermanent || r.ExpirationTimestamp <= 0 {
		return nil
	}
	t := time.Unix(r.ExpirationTimestamp, 0).UTC()
	return &t
}

// ParseTimestamp decodes the unix-seconds strings webhook events carry.
// Returns the zero time for empty or malformed input.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
