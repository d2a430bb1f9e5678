package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is the client's position in the answer sequence.
type State string

const (
	StateIdle             State = "idle"
	StateAcquiringMedia   State = "acquiring_media"
	StateCreatingPeer     State = "creating_peer"
	StateAwaitingICE      State = "awaiting_ice"
	StateSubmittingAnswer State = "submitting_answer"
	StateConnected        State = "connected"
	StateEnded            State = "ended"
	StateFailed           State = "failed"
)

var (
	ErrBusy         = errors.New("rtc: a call is already in progress")
	ErrEmptyAnswer  = errors.New("rtc: local description empty after ice gathering")
	ErrNoActiveCall = errors.New("rtc: no active call")
)

// Client answers one call at a time. Answer runs the negotiation end to end;
// End tears the session down whatever state it is in.
//
// Trickle ICE is not used: the provider expects a single
// complete answer, so the client waits for gathering to finish and submits
// the final local description.
type Client struct {
	media       MediaDevices
	newPeer     PeerFactory
	api         CallAPI
	sink        AudioSink
	log         *slog.Logger
	constraints AudioConstraints

	// onState, when set, observes every transition. Called without the lock.
	onState func(State)

	mu     sync.Mutex
	state  State
	callID string
	mic    Track
	peer   PeerConnection
	muted  bool
}

// NewClient builds a client over the injected platform bindings. sink may be
// nil when remote playback is handled elsewhere.
func NewClient(media MediaDevices, newPeer PeerFactory, api CallAPI, sink AudioSink, log *slog.Logger) *Client {
	return &Client{
		media:       media,
		newPeer:     newPeer,
		api:         api,
		sink:        sink,
		log:         log,
		constraints: DefaultAudioConstraints(),
		state:       StateIdle,
	}
}

// OnStateChange registers a transition observer. Must be set before Answer.
func (c *Client) OnStateChange(fn func(State)) { c.onState = fn }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Answer runs the full accept sequence for a ringing call: acquire the
// microphone, build the peer connection, apply the remote offer, create the
// answer, wait for ICE gathering to complete, then submit the final answer.
// On any failure the session is torn down and the client lands in failed.
func (c *Client) Answer(ctx context.Context, callID, offerSDP string) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateEnded && c.state != StateFailed {
		c.mu.Unlock()
		return ErrBusy
	}
	c.callID = callID
	c.muted = false
	c.mu.Unlock()

	if err := c.runAnswer(ctx, callID, offerSDP); err != nil {
		c.teardown(StateFailed)
		return err
	}
	return nil
}

func (c *Client) runAnswer(ctx context.Context, callID, offerSDP string) error {
	c.setState(StateAcquiringMedia)
	mic, err := c.media.AcquireMicrophone(ctx, c.constraints)
	if err != nil {
		return fmt.Errorf("rtc: acquire microphone: %w", err)
	}
	c.mu.Lock()
	c.mic = mic
	c.mu.Unlock()

	c.setState(StateCreatingPeer)
	peer, err := c.newPeer()
	if err != nil {
		return fmt.Errorf("rtc: create peer connection: %w", err)
	}
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	peer.OnRemoteTrack(c.handleRemoteTrack)
	if err := peer.AddTrack(mic); err != nil {
		return fmt.Errorf("rtc: add track: %w", err)
	}
	if offerSDP == "" {
		// The provider supplies an offer for valid calls. Proceed without one
		// rather than refusing the answer outright.
		c.log.Warn("rtc: no sdp offer supplied", "call_id", callID)
	} else if err := peer.SetRemoteDescription("offer", offerSDP); err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}

	answer, err := peer.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := peer.SetLocalDescription("answer", answer); err != nil {
		return fmt.Errorf("rtc: set local description: %w", err)
	}

	c.setState(StateAwaitingICE)
	select {
	case <-ctx.Done():
		return fmt.Errorf("rtc: ice gathering: %w", ctx.Err())
	case <-peer.ICEGatheringComplete():
	}

	c.setState(StateSubmittingAnswer)
	sdpType, finalSDP := peer.LocalDescription()
	if finalSDP == "" {
		return ErrEmptyAnswer
	}
	if err := c.api.Accept(ctx, callID, sdpType, finalSDP); err != nil {
		return fmt.Errorf("rtc: accept call: %w", err)
	}

	c.setState(StateConnected)
	return nil
}

// handleRemoteTrack routes inbound media to the audio sink. A track that
// arrives muted is held back until its unmute signal; the provider sends
// placeholder tracks before media actually flows.
func (c *Client) handleRemoteTrack(t RemoteTrack) {
	if c.sink == nil {
		return
	}
	if t.Muted() {
		t.OnUnmute(func() { c.playRemote(t) })
		return
	}
	c.playRemote(t)
}

func (c *Client) playRemote(t RemoteTrack) {
	if err := c.sink.Play(t); err != nil {
		c.log.Warn("rtc: remote audio playback failed", "error", err)
	}
}

// Mute pauses or resumes the microphone track.
func (c *Client) Mute(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic == nil {
		return ErrNoActiveCall
	}
	c.mic.SetEnabled(!muted)
	c.muted = muted
	return nil
}

// End terminates the call. The terminate request is best effort; local
// teardown happens regardless so the microphone is always released.
func (c *Client) End(ctx context.Context) error {
	c.mu.Lock()
	callID := c.callID
	active := c.state == StateConnected || c.state == StateAwaitingICE ||
		c.state == StateSubmittingAnswer || c.state == StateAcquiringMedia ||
		c.state == StateCreatingPeer
	c.mu.Unlock()

	var err error
	if active && callID != "" {
		if err = c.api.Terminate(ctx, callID); err != nil {
			c.log.Warn("rtc: terminate failed", "call_id", callID, "error", err)
		}
	}
	c.teardown(StateEnded)
	return err
}

func (c *Client) teardown(final State) {
	c.mu.Lock()
	if c.mic != nil {
		c.mic.Stop()
		c.mic = nil
	}
	if c.peer != nil {
		c.peer.Close()
		c.peer = nil
	}
	c.callID = ""
	c.muted = false
	c.mu.Unlock()
	c.setState(final)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}
