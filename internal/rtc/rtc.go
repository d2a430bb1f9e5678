package rtc

import "context"

// The browser supplies the media and peer-connection machinery; this package
// only sequences it. Everything the client touches is behind an interface so
// the negotiation logic runs the same against the real bindings and the test
// fakes.

// DefaultSTUNServers is the ICE server set peer factories use when nothing
// else is configured. STUN only; TURN relays are not provisioned by default.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// AudioConstraints are the capture options requested from the microphone.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultAudioConstraints enables the full voice-processing set.
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// MediaDevices acquires local capture devices.
type MediaDevices interface {
	// AcquireMicrophone prompts for and opens the default microphone.
	AcquireMicrophone(ctx context.Context, c AudioConstraints) (Track, error)
}

// Track is one local media track.
type Track interface {
	// SetEnabled pauses or resumes the track without releasing the device.
	SetEnabled(enabled bool)
	// Stop releases the device. The track is unusable afterwards.
	Stop()
}

// RemoteTrack is an inbound media track delivered by the peer connection.
type RemoteTrack interface {
	Muted() bool
	// OnUnmute registers a callback fired when a muted track goes live.
	OnUnmute(fn func())
}

// AudioSink plays a remote track, typically an audio element binding.
type AudioSink interface {
	Play(t RemoteTrack) error
}

// PeerConnection is the negotiation surface of an RTCPeerConnection.
type PeerConnection interface {
	AddTrack(t Track) error

	// OnRemoteTrack registers the handler for inbound media. Register before
	// the remote description is applied.
	OnRemoteTrack(fn func(RemoteTrack))

	SetRemoteDescription(sdpType, sdp string) error
	CreateAnswer(ctx context.Context) (sdp string, err error)
	SetLocalDescription(sdpType, sdp string) error

	// ICEGatheringComplete is closed once candidate gathering has finished
	// and LocalDescription carries the complete candidate set.
	ICEGatheringComplete() <-chan struct{}

	// LocalDescription returns the current local description, including any
	// candidates gathered so far.
	LocalDescription() (sdpType, sdp string)

	Close()
}

// PeerFactory builds a fresh peer connection per call.
type PeerFactory func() (PeerConnection, error)

// CallAPI is the backend the client submits signaling to.
type CallAPI interface {
	Accept(ctx context.Context, callID, sdpType, sdp string) error
	Terminate(ctx context.Context, callID string) error
}
