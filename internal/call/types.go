// Package call drives a single native WebRTC call through its lifecycle.
// It is designed to be maximally standalone — it imports only Pion libraries
// and stdlib. Coupling to the signaling layer, the hardware notifier and the
// call-record store is via the small interfaces in this file only.
package call

import (
	"context"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Role says which side of the call we are.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// MessageType enumerates the inbound call-control messages.
type MessageType string

const (
	MessageInvite     MessageType = "call-invite"
	MessageCandidates MessageType = "call-candidates"
	MessageAnswer     MessageType = "call-answer"
	MessageHangup     MessageType = "call-hangup"
)

// InboundMessage is one call-control message received from the remote peer.
// The fields that are set depend on Type: invites carry Room/Video/SDP,
// answers carry SDP, candidate messages carry Candidates.
type InboundMessage struct {
	Type       MessageType
	CallID     string
	From       string
	Room       string
	Video      bool
	SDP        string
	Candidates []webrtc.ICECandidateInit
}

// Signaler is the only surface the call package needs from the signaling
// layer. Sends are fire-and-forget; delivery and retry are the channel's
// responsibility. Subscribe returns a receive channel plus a cancel func.
type Signaler interface {
	SendInvite(callID, room, peer string, video bool, offerSDP string) error
	SendCandidates(callID string, candidates []webrtc.ICECandidateInit) error
	SendAnswer(callID, answerSDP string) error
	SendHangup(callID string) error
	Subscribe() (ch <-chan InboundMessage, cancel func())
}

// TransportCallbacks receive media-engine events. The engine may invoke them
// from its own goroutines; the Manager re-dispatches every callback onto its
// serial loop before touching session state.
type TransportCallbacks struct {
	OnConnectionState func(webrtc.PeerConnectionState)
	OnLocalCandidate  func(webrtc.ICECandidateInit)
	OnRemoteTrack     func(RemoteTrack)
}

// Engine creates peer transports. The production implementation wraps Pion;
// tests substitute a fake.
type Engine interface {
	NewTransport(servers []webrtc.ICEServer, cb TransportCallbacks) (Transport, error)
}

// Transport is the per-call handle into the media-transport engine.
// Created at most once per session, closed exactly once.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(t LocalTrack) (TrackSender, error)
	// AddRecvOnlyTransceivers forces valid m-lines when no local media could
	// be captured, so offers and answers still negotiate receive paths.
	AddRecvOnlyTransceivers(video bool) error
	Close() error
}

// TrackSender is the RTP binding of one attached local track. Replacing the
// track with nil pauses sending, which is how mute is implemented.
type TrackSender interface {
	ReplaceTrack(t webrtc.TrackLocal) error
}

// LocalTrack is one captured local media track.
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	Track() webrtc.TrackLocal
	// OnEnded fires when the underlying capture device stops delivering,
	// e.g. the camera was claimed by another process.
	OnEnded(fn func(error))
	Close() error
}

// RemoteTrack is one media track received from the remote peer.
type RemoteTrack interface {
	Kind() webrtc.RTPCodecType
	StreamID() string
	// ReadRTP blocks for the next packet; it returns an error once the
	// track is gone (transport closed or stream removed).
	ReadRTP() (*rtp.Packet, error)
	// RequestKeyframe asks the sender for a fresh keyframe (PLI).
	RequestKeyframe() error
}

// RenderSurface consumes remote video. The surface's lifetime is entirely
// external; attach and detach are safe at any time, with or without a track.
type RenderSurface interface {
	WriteRTP(pkt *rtp.Packet) error
}

// CaptureProfile is the target capture configuration for the camera.
type CaptureProfile struct {
	Width     int
	Height    int
	FrameRate int
	// CameraDevice pins capture to a specific device. Empty means prefer a
	// front-facing camera, else the first available.
	CameraDevice string
}

// CaptureFactory opens local capture hardware. The Linux implementation is
// backed by pion/mediadevices; other platforms report Available() == false.
type CaptureFactory interface {
	Available() bool
	OpenAudio() (LocalTrack, error)
	// OpenVideo returns the track and the device identifier it captured
	// from; the identifier keys camera-recovery subscriptions.
	OpenVideo(profile CaptureProfile) (LocalTrack, string, error)
}

// ICEServerProvider fetches transport configuration (STUN/TURN). A fetch
// failure is not fatal: the Manager proceeds with an empty server list.
type ICEServerProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// HardwareNotifier reports when a capture device becomes available again
// after being lost. Subscribe returns a cancel func; callers hold at most
// one subscription per session.
type HardwareNotifier interface {
	Subscribe(device string, fn func(device string)) (cancel func(), err error)
}

// Recorder persists call-detail records. Optional; a nil Recorder disables
// persistence.
type Recorder interface {
	CallStarted(callID string, role Role, peer string, video bool, at time.Time) error
	CallEnded(callID string, at time.Time, finalState State) error
}

// IncomingCall describes a ringing inbound call to notification handlers.
type IncomingCall struct {
	CallID     string
	RemotePeer string
	Video      bool
}

// Listener observes orchestrator-level lifecycle changes. Notification is
// best effort and isolated per listener.
type Listener interface {
	// OnCallChanged fires when the active call is created, replaced or
	// cleared. callID is empty when the slot was cleared.
	OnCallChanged(callID string, state State)
	// OnCaptureError fires when the capture-in-error flag flips.
	OnCaptureError(inError bool)
}
