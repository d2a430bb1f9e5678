package whatsapp

import "context"

// CallingProvider is the outbound surface of the WhatsApp Business Calling
// API used by this console. GraphClient is the production implementation;
// tests substitute fakes.
type CallingProvider interface {
	// InitiateCall places a business-initiated call and returns the provider
	// call id. The media session is negotiated afterwards over webhooks.
	InitiateCall(ctx context.Context, to string) (callID string, err error)

	// AcceptCall submits the SDP answer for a ringing inbound call.
	AcceptCall(ctx context.Context, callID, sdpType, sdp string) error

	RejectCall(ctx context.Context, callID string) error
	TerminateCall(ctx context.Context, callID string) error

	// SendPermissionRequest delivers the interactive call-permission request
	// message and returns the message id for reply correlation.
	SendPermissionRequest(ctx context.Context, to string) (messageID string, err error)

	// SendText sends a plain text message, used for missed-call follow-ups.
	SendText(ctx context.Context, to, body string) (messageID string, err error)
}
