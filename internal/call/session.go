package call

import (
	"log"
	"time"

	"github.com/pion/webrtc/v4"
)

// boundTrack pairs a captured local track with its RTP sender binding.
// SetEnabled pauses/resumes sending by swapping the sender's track, which
// is the Pion equivalent of track-level enable flags.
type boundTrack struct {
	track   LocalTrack
	sender  TrackSender
	enabled bool
}

func (bt *boundTrack) SetEnabled(enabled bool) {
	if bt == nil || bt.enabled == enabled {
		return
	}
	bt.enabled = enabled
	if bt.sender == nil {
		return
	}
	if enabled {
		_ = bt.sender.ReplaceTrack(bt.track.Track())
	} else {
		_ = bt.sender.ReplaceTrack(nil)
	}
}

// Session is the per-call aggregate. Exactly zero or one Session exists at
// the Manager level at any time. All fields except the batcher (which has
// its own lock) are owned by the Manager's serial loop.
type Session struct {
	id         string
	role       Role
	room       string
	remotePeer string
	video      bool
	state      State
	startedAt  time.Time

	transport Transport

	localAudio *boundTrack
	localVideo *boundTrack

	// pendingOffer holds the remote SDP offer from the invite until the
	// callee accepts; consumed exactly once.
	pendingOffer string

	// accepting is set when the callee starts the answer path. The state
	// stays Ringing until an engine callback arrives, so the flag is what
	// makes a second accept a no-op instead of a re-run.
	accepting bool

	// remoteQueue buffers remote candidates until the transport exists and
	// the remote description is set, then drains exactly once.
	remoteQueue candidateQueue

	batcher *candidateBatcher

	remoteAudio   RemoteTrack
	remoteVideo   RemoteTrack
	remoteForward *remoteForwarder

	// cameraDevice is the identifier of the device the video track captures
	// from; it keys the recovery subscription.
	cameraDevice string

	// cancelCameraWatch is the at-most-one outstanding hardware-availability
	// subscription for this session.
	cancelCameraWatch func()

	released bool
}

func newSession(id string, role Role, room, remotePeer string, video bool, sendCandidates func([]webrtc.ICECandidateInit)) *Session {
	return &Session{
		id:         id,
		role:       role,
		room:       room,
		remotePeer: remotePeer,
		video:      video,
		state:      StateIdle,
		startedAt:  time.Now(),
		batcher:    newCandidateBatcher(batchWindow, sendCandidates),
	}
}

// ID returns the call identifier, stable for the call's lifetime.
func (s *Session) ID() string { return s.id }

// Role returns which side of the call this session is.
func (s *Session) Role() Role { return s.role }

// Video reports whether this is a video call. Immutable for the session.
func (s *Session) Video() bool { return s.video }

// State returns the last lifecycle state applied by the Manager loop.
func (s *Session) State() State { return s.state }

// transition applies a lifecycle move, refusing anything the state machine
// forbids. Refused transitions are logged and dropped, never applied out of
// order.
func (s *Session) transition(to State) bool {
	if !canTransition(s.state, to) {
		log.Printf("CALL [%s]: refusing transition %s → %s", s.id, s.state, to)
		return false
	}
	s.state = to
	return true
}

// release tears down everything the session owns, in a fixed order: flush
// and cancel the candidate batch timer, dispose the transport handle,
// release local tracks (audio source then video source), and unregister
// any hardware-availability subscription. Idempotent — redundant teardown
// triggers must not double-free.
func (s *Session) release() {
	if s.released {
		return
	}
	s.released = true

	s.batcher.FlushAndStop()

	if s.remoteForward != nil {
		s.remoteForward.stop()
		s.remoteForward = nil
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			log.Printf("CALL [%s]: transport close: %v", s.id, err)
		}
		s.transport = nil
	}

	if s.localAudio != nil {
		if err := s.localAudio.track.Close(); err != nil {
			log.Printf("CALL [%s]: audio track close: %v", s.id, err)
		}
		s.localAudio = nil
	}
	if s.localVideo != nil {
		if err := s.localVideo.track.Close(); err != nil {
			log.Printf("CALL [%s]: video track close: %v", s.id, err)
		}
		s.localVideo = nil
	}

	if s.cancelCameraWatch != nil {
		s.cancelCameraWatch()
		s.cancelCameraWatch = nil
	}

	s.remoteAudio = nil
	s.remoteVideo = nil
	s.pendingOffer = ""
}
