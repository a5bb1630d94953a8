package call

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dialkit/dialkit/internal/util"
)

var (
	// ErrBusy means a call is already active; only one call exists at a time.
	ErrBusy = errors.New("call already active")
	// ErrClosed means the manager has been shut down.
	ErrClosed = errors.New("call manager closed")
)

// iceFetchTimeout bounds the transport-config fetch. A slow or failing
// fetch degrades to an empty server list rather than stalling the call.
const iceFetchTimeout = 10 * time.Second

// defaultDisconnectTimeout is the recovery window after the engine reports
// a transient disconnect before the call is considered lost.
const defaultDisconnectTimeout = 15 * time.Second

// Event is one entry in the manager's bounded call-event history.
type Event struct {
	At     time.Time `json:"at"`
	CallID string    `json:"call_id"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Options configures optional Manager collaborators.
type Options struct {
	// ICEProvider fetches STUN/TURN configuration. Nil or failing providers
	// degrade to an empty server list.
	ICEProvider ICEServerProvider
	// Hardware enables camera recovery after the device is claimed by
	// another process. Nil disables recovery.
	Hardware HardwareNotifier
	// Recorder persists call-detail records. Nil disables persistence.
	Recorder Recorder
	// Capture is the target camera profile. Zero values fall back to
	// 1280x720 @ 30 fps.
	Capture CaptureProfile
	// DisconnectTimeout overrides the transient-disconnect recovery window.
	DisconnectTimeout time.Duration
}

// Manager is the call orchestrator. It owns at most one active Session and
// serializes every event source — signaling messages, media-engine
// callbacks and hardware events — onto one task loop, which is the only
// goroutine that mutates session or transport state.
type Manager struct {
	sig     Signaler
	engine  Engine
	capture CaptureFactory
	ice     ICEServerProvider
	hw      HardwareNotifier
	rec     Recorder

	profile           CaptureProfile
	disconnectTimeout time.Duration

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned state. Never touched off the task loop.
	current         *Session
	surface         RenderSurface
	disconnectTimer *time.Timer

	captureInError atomic.Bool
	listeners      listenerSet
	events         *util.RingBuffer[Event]

	incomingMu sync.RWMutex
	incoming   []func(IncomingCall)
}

// New creates a Manager and starts its task loop and signaling dispatch.
func New(sig Signaler, engine Engine, capture CaptureFactory, opts Options) *Manager {
	profile := opts.Capture
	if profile.Width == 0 {
		profile.Width = 1280
	}
	if profile.Height == 0 {
		profile.Height = 720
	}
	if profile.FrameRate == 0 {
		profile.FrameRate = 30
	}
	timeout := opts.DisconnectTimeout
	if timeout <= 0 {
		timeout = defaultDisconnectTimeout
	}

	m := &Manager{
		sig:               sig,
		engine:            engine,
		capture:           capture,
		ice:               opts.ICEProvider,
		hw:                opts.Hardware,
		rec:               opts.Recorder,
		profile:           profile,
		disconnectTimeout: timeout,
		tasks:             make(chan func(), 64),
		done:              make(chan struct{}),
		events:            util.NewRingBuffer[Event](64),
	}
	go m.run()
	go m.dispatchLoop()
	return m
}

// run is the serial execution context. Everything that mutates the active
// session or the transport handle executes here, in submission order.
func (m *Manager) run() {
	for {
		select {
		case <-m.done:
			return
		case fn := <-m.tasks:
			fn()
		}
	}
}

// do submits a task to the serial loop. Tasks submitted after Close are
// dropped.
func (m *Manager) do(fn func()) {
	select {
	case m.tasks <- fn:
	case <-m.done:
	}
}

// barrier waits until every previously submitted task has executed.
func (m *Manager) barrier() {
	done := make(chan struct{})
	m.do(func() { close(done) })
	select {
	case <-done:
	case <-m.done:
	}
}

// dispatchLoop routes inbound signaling messages to the call operations.
func (m *Manager) dispatchLoop() {
	ch, cancel := m.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Type {
			case MessageInvite:
				m.InviteReceived(msg.CallID, msg.From, msg.Room, msg.Video, msg.SDP)
			case MessageCandidates:
				m.RemoteCandidatesReceived(msg.CallID, msg.Candidates)
			case MessageAnswer:
				m.RemoteAnswerReceived(msg.CallID, msg.SDP)
			case MessageHangup:
				m.RemoteHangupReceived(msg.CallID)
			default:
				log.Printf("CALL: ignoring unknown signaling message type %q", msg.Type)
			}
		}
	}
}

// Close ends any active call and stops the manager.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.do(func() { m.endCallLocked(true) })
		m.barrier()
		close(m.done)
	})
}

// AddListener registers an orchestrator lifecycle listener.
func (m *Manager) AddListener(l Listener) { m.listeners.add(l) }

// RemoveListener unregisters a listener.
func (m *Manager) RemoveListener(l Listener) { m.listeners.remove(l) }

// OnIncoming registers a callback fired for each ringing inbound call.
func (m *Manager) OnIncoming(fn func(IncomingCall)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

// CaptureInError reports the process-wide capture-error flag.
func (m *Manager) CaptureInError() bool { return m.captureInError.Load() }

// RecentEvents returns the bounded call-event history, oldest first.
func (m *Manager) RecentEvents() []Event { return m.events.Snapshot() }

// ActiveCall returns the active call's ID and state, if one exists.
func (m *Manager) ActiveCall() (string, State, bool) {
	type snap struct {
		id    string
		state State
		ok    bool
	}
	ch := make(chan snap, 1)
	m.do(func() {
		if m.current == nil {
			ch <- snap{}
			return
		}
		ch <- snap{m.current.id, m.current.state, true}
	})
	select {
	case s := <-ch:
		return s.id, s.state, s.ok
	case <-m.done:
		return "", StateIdle, false
	}
}

// StartOutgoingCall creates an outbound call session, negotiates local
// media and sends the SDP offer. It returns the new call ID, or ErrBusy if
// a call is already active. Negotiation continues asynchronously; progress
// surfaces via lifecycle state and listeners.
func (m *Manager) StartOutgoingCall(room, peer string, video bool) (string, error) {
	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)
	m.do(func() {
		id, err := m.startOutgoingLocked(room, peer, video)
		ch <- result{id, err}
	})
	select {
	case r := <-ch:
		return r.id, r.err
	case <-m.done:
		return "", ErrClosed
	}
}

func (m *Manager) startOutgoingLocked(room, peer string, video bool) (string, error) {
	if m.current != nil {
		return "", ErrBusy
	}

	id := uuid.NewString()
	s := newSession(id, RoleCaller, room, peer, video, m.candidateSender(id))
	s.transition(StateDialing)
	m.setCurrent(s)
	m.record(id, "outgoing", peer)
	log.Printf("CALL [%s]: calling %s (room=%s video=%v)", id, peer, room, video)

	if m.rec != nil {
		if err := m.rec.CallStarted(id, RoleCaller, peer, video, s.startedAt); err != nil {
			log.Printf("CALL [%s]: record start: %v", id, err)
		}
	}

	m.fetchICE(s, m.continueOutgoing)
	return id, nil
}

// continueOutgoing runs on the task loop once the transport config arrived:
// create the transport, capture and attach local media, send the offer.
func (m *Manager) continueOutgoing(s *Session, servers []webrtc.ICEServer) {
	if !m.createTransport(s, servers) {
		return
	}

	m.createLocalTracks(s)
	m.attachLocalTracks(s)

	offer, err := s.transport.CreateOffer()
	if err != nil {
		log.Printf("CALL [%s]: create offer: %v", s.id, err)
		m.endCallLocked(true)
		return
	}
	if err := s.transport.SetLocalDescription(offer); err != nil {
		log.Printf("CALL [%s]: set local description: %v", s.id, err)
		m.endCallLocked(true)
		return
	}
	if err := m.sig.SendInvite(s.id, s.room, s.remotePeer, s.video, offer.SDP); err != nil {
		log.Printf("CALL [%s]: send invite: %v", s.id, err)
	}
	log.Printf("CALL [%s]: offer sent", s.id)
}

// InviteReceived handles an inbound call invite. A second invite while a
// call is active is rejected as busy: the new call is hung up immediately
// and the existing session is left untouched.
func (m *Manager) InviteReceived(callID, from, room string, video bool, offerSDP string) {
	m.do(func() {
		if m.current != nil {
			log.Printf("CALL [%s]: busy, rejecting invite from %s", callID, from)
			m.record(callID, "busy-rejected", from)
			if err := m.sig.SendHangup(callID); err != nil {
				log.Printf("CALL [%s]: busy hangup: %v", callID, err)
			}
			return
		}

		s := newSession(callID, RoleCallee, room, from, video, m.candidateSender(callID))
		s.pendingOffer = offerSDP
		s.transition(StateRinging)
		m.setCurrent(s)
		m.record(callID, "incoming", from)
		log.Printf("CALL [%s]: ringing, invite from %s (video=%v)", callID, from, video)

		if m.rec != nil {
			if err := m.rec.CallStarted(callID, RoleCallee, from, video, s.startedAt); err != nil {
				log.Printf("CALL [%s]: record start: %v", callID, err)
			}
		}

		m.notifyIncoming(IncomingCall{CallID: callID, RemotePeer: from, Video: video})
	})
}

// AcceptIncomingCall answers the ringing call: fetch transport config,
// apply the stored offer, capture local media, send the answer and drain
// any remote candidates that arrived early. No-op unless a call is ringing.
func (m *Manager) AcceptIncomingCall() {
	m.do(func() {
		s := m.current
		if s == nil || s.state != StateRinging {
			log.Printf("CALL: accept ignored, no ringing call")
			return
		}
		if s.accepting {
			log.Printf("CALL [%s]: accept ignored, already answering", s.id)
			return
		}
		s.accepting = true
		m.fetchICE(s, m.continueAccept)
	})
}

func (m *Manager) continueAccept(s *Session, servers []webrtc.ICEServer) {
	if !m.createTransport(s, servers) {
		return
	}

	// The offer was stored when the invite arrived; consume it exactly once.
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.pendingOffer}
	s.pendingOffer = ""
	if err := s.transport.SetRemoteDescription(offer); err != nil {
		log.Printf("CALL [%s]: set remote offer: %v", s.id, err)
		m.endCallLocked(true)
		return
	}

	m.createLocalTracks(s)
	m.attachLocalTracks(s)

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		log.Printf("CALL [%s]: create answer: %v", s.id, err)
		m.endCallLocked(true)
		return
	}
	if err := s.transport.SetLocalDescription(answer); err != nil {
		log.Printf("CALL [%s]: set local description: %v", s.id, err)
		m.endCallLocked(true)
		return
	}
	if err := m.sig.SendAnswer(s.id, answer.SDP); err != nil {
		log.Printf("CALL [%s]: send answer: %v", s.id, err)
	}
	log.Printf("CALL [%s]: answer sent", s.id)

	m.drainRemoteCandidates(s)
}

// RemoteCandidatesReceived applies remote ICE candidates for the active
// call, buffering them while the transport or the remote description does
// not exist yet. Candidates for any other call ID are discarded.
func (m *Manager) RemoteCandidatesReceived(callID string, candidates []webrtc.ICECandidateInit) {
	m.do(func() {
		s := m.current
		if s == nil || s.id != callID {
			log.Printf("CALL [%s]: discarding %d candidates for inactive call", callID, len(candidates))
			return
		}
		for _, c := range candidates {
			if s.remoteQueue.retired() && s.transport != nil {
				if err := s.transport.AddICECandidate(c); err != nil {
					log.Printf("CALL [%s]: add candidate: %v", s.id, err)
				}
				continue
			}
			s.remoteQueue.push(c)
		}
	})
}

// RemoteAnswerReceived applies the remote SDP answer for the active call.
func (m *Manager) RemoteAnswerReceived(callID, answerSDP string) {
	m.do(func() {
		s := m.current
		if s == nil || s.id != callID {
			log.Printf("CALL [%s]: ignoring answer for inactive call", callID)
			return
		}
		if s.transport == nil {
			log.Printf("CALL [%s]: answer before transport exists, dropped", callID)
			return
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
		if err := s.transport.SetRemoteDescription(answer); err != nil {
			log.Printf("CALL [%s]: set remote answer: %v", s.id, err)
			return
		}
		log.Printf("CALL [%s]: remote answer applied", s.id)
		m.drainRemoteCandidates(s)
	})
}

// RemoteHangupReceived tears the active call down if the ID matches.
func (m *Manager) RemoteHangupReceived(callID string) {
	m.do(func() {
		s := m.current
		if s == nil || s.id != callID {
			log.Printf("CALL [%s]: ignoring hangup for inactive call", callID)
			return
		}
		log.Printf("CALL [%s]: remote hangup", s.id)
		m.record(s.id, "remote-hangup", s.remotePeer)
		if s.cancelCameraWatch != nil {
			s.cancelCameraWatch()
			s.cancelCameraWatch = nil
		}
		m.teardownLocked(s)
	})
}

// EndCall hangs up and tears down the active call. Idempotent; a no-op
// when no call exists.
func (m *Manager) EndCall() {
	m.do(func() { m.endCallLocked(true) })
}

// endCallLocked is the single local teardown path. Camera-availability
// subscriptions are unregistered before the hangup goes out so a recovery
// callback can never race a dying session.
func (m *Manager) endCallLocked(sendHangup bool) {
	s := m.current
	if s == nil {
		return
	}
	if s.cancelCameraWatch != nil {
		s.cancelCameraWatch()
		s.cancelCameraWatch = nil
	}
	if sendHangup {
		if err := m.sig.SendHangup(s.id); err != nil {
			log.Printf("CALL [%s]: send hangup: %v", s.id, err)
		}
	}
	m.record(s.id, "ended", "")
	m.teardownLocked(s)
}

// teardownLocked moves the session to Terminated, releases everything it
// owns and clears the single-session slot. New inbound events observe
// either the live session or no session, never a half-released one.
func (m *Manager) teardownLocked(s *Session) {
	if m.disconnectTimer != nil {
		m.disconnectTimer.Stop()
		m.disconnectTimer = nil
	}
	s.transition(StateTerminated)
	if m.rec != nil {
		if err := m.rec.CallEnded(s.id, time.Now(), StateTerminated); err != nil {
			log.Printf("CALL [%s]: record end: %v", s.id, err)
		}
	}
	s.release()
	m.current = nil
	m.listeners.notifyCallChanged("", StateIdle)
	log.Printf("CALL [%s]: terminated", s.id)
}

// Mute toggles the local audio track. No-op when the track is absent.
func (m *Manager) Mute(muted bool) {
	m.do(func() {
		if m.current != nil {
			m.current.localAudio.SetEnabled(!muted)
		}
	})
}

// EnableVideo toggles the local video track. No-op when the track is absent.
func (m *Manager) EnableVideo(enabled bool) {
	m.do(func() {
		if m.current != nil {
			m.current.localVideo.SetEnabled(enabled)
		}
	})
}

// AttachRenderSurface attaches the sink that receives remote video. Safe to
// call with no call or no remote track yet; the surface is picked up when
// the track arrives.
func (m *Manager) AttachRenderSurface(surface RenderSurface) {
	m.do(func() {
		m.surface = surface
		if m.current != nil && m.current.remoteForward != nil {
			m.current.remoteForward.setSurface(surface)
		}
	})
}

// DetachRenderSurface detaches the remote video sink. Idempotent.
func (m *Manager) DetachRenderSurface() {
	m.AttachRenderSurface(nil)
}

// ---- internals, task-loop context ----

func (m *Manager) setCurrent(s *Session) {
	m.current = s
	m.listeners.notifyCallChanged(s.id, s.state)
}

// candidateSender builds the batcher's send callback. It captures the call
// ID by value: the batcher may flush from its timer goroutine and must not
// look at loop-owned state.
func (m *Manager) candidateSender(callID string) func([]webrtc.ICECandidateInit) {
	return func(batch []webrtc.ICECandidateInit) {
		log.Printf("CALL [%s]: sending %d local candidates", callID, len(batch))
		if err := m.sig.SendCandidates(callID, batch); err != nil {
			log.Printf("CALL [%s]: send candidates: %v", callID, err)
		}
	}
}

// fetchICE resolves the transport config off the loop, then re-enters the
// loop with a stale-session guard: the continuation only runs if the
// session is still the active one. Fetch failure degrades to an empty
// server list rather than aborting the call.
func (m *Manager) fetchICE(s *Session, then func(*Session, []webrtc.ICEServer)) {
	go func() {
		var servers []webrtc.ICEServer
		if m.ice != nil {
			ctx, cancel := context.WithTimeout(context.Background(), iceFetchTimeout)
			defer cancel()
			fetched, err := m.ice.ICEServers(ctx)
			if err != nil {
				log.Printf("CALL [%s]: ICE config fetch failed, continuing without servers: %v", s.id, err)
			} else {
				servers = fetched
			}
		}
		m.do(func() {
			if m.current != s || s.released {
				log.Printf("CALL [%s]: session gone before ICE config arrived", s.id)
				return
			}
			then(s, servers)
		})
	}()
}

// createTransport creates the transport handle exactly once per session.
func (m *Manager) createTransport(s *Session, servers []webrtc.ICEServer) bool {
	if s.transport != nil {
		return true
	}
	t, err := m.engine.NewTransport(servers, m.transportCallbacks(s))
	if err != nil {
		log.Printf("CALL [%s]: create transport: %v", s.id, err)
		m.endCallLocked(true)
		return false
	}
	s.transport = t
	return true
}

// transportCallbacks re-dispatches every engine event onto the task loop
// with a stale-session guard. Engine callbacks arrive on engine-owned
// goroutines and never touch session state in place.
func (m *Manager) transportCallbacks(s *Session) TransportCallbacks {
	return TransportCallbacks{
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			m.do(func() { m.onConnectionState(s, state) })
		},
		OnLocalCandidate: func(c webrtc.ICECandidateInit) {
			m.do(func() {
				if m.current == s && !s.released {
					s.batcher.Offer(c)
				}
			})
		},
		OnRemoteTrack: func(rt RemoteTrack) {
			m.do(func() { m.onRemoteTrack(s, rt) })
		},
	}
}

// drainRemoteCandidates replays buffered remote candidates once both the
// transport and the remote description exist. The queue drains at most
// once, in arrival order, and is then retired.
func (m *Manager) drainRemoteCandidates(s *Session) {
	if s.transport == nil || !s.transport.HasRemoteDescription() || s.remoteQueue.retired() {
		return
	}
	n := s.remoteQueue.len()
	s.remoteQueue.drain(func(c webrtc.ICECandidateInit) {
		if err := s.transport.AddICECandidate(c); err != nil {
			log.Printf("CALL [%s]: add queued candidate: %v", s.id, err)
		}
	})
	if n > 0 {
		log.Printf("CALL [%s]: drained %d queued remote candidates", s.id, n)
	}
}

// onConnectionState maps engine connection states onto the call lifecycle.
// Disconnected is transient and may self-heal, so it arms a bounded
// recovery timer instead of ending the call outright.
func (m *Manager) onConnectionState(s *Session, state webrtc.PeerConnectionState) {
	if m.current != s || s.released {
		return
	}
	log.Printf("CALL [%s]: connection state %s", s.id, state)

	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		if s.transition(StateConnecting) {
			m.listeners.notifyCallChanged(s.id, s.state)
		}
	case webrtc.PeerConnectionStateConnected:
		if m.disconnectTimer != nil {
			m.disconnectTimer.Stop()
			m.disconnectTimer = nil
		}
		if s.transition(StateConnected) {
			m.record(s.id, "connected", "")
			m.listeners.notifyCallChanged(s.id, s.state)
		}
	case webrtc.PeerConnectionStateFailed:
		log.Printf("CALL [%s]: connection failed", s.id)
		m.record(s.id, "failed", "")
		m.endCallLocked(true)
	case webrtc.PeerConnectionStateDisconnected:
		if m.disconnectTimer == nil {
			m.disconnectTimer = time.AfterFunc(m.disconnectTimeout, func() {
				m.do(func() { m.onDisconnectExpired(s) })
			})
		}
	case webrtc.PeerConnectionStateClosed:
		// Arrives during teardown; the teardown path already ran.
	}
}

func (m *Manager) onDisconnectExpired(s *Session) {
	if m.current != s || s.released || m.disconnectTimer == nil {
		return
	}
	m.disconnectTimer = nil
	log.Printf("CALL [%s]: disconnect did not recover within %s", s.id, m.disconnectTimeout)
	m.endCallLocked(true)
}

// onRemoteTrack enforces the single-stream convention: more than one audio
// or one video track from the peer is a protocol violation and ends the
// call. A valid video track starts the forwarder feeding the attached
// render surface.
func (m *Manager) onRemoteTrack(s *Session, rt RemoteTrack) {
	if m.current != s || s.released {
		return
	}

	switch rt.Kind() {
	case webrtc.RTPCodecTypeAudio:
		if s.remoteAudio != nil {
			log.Printf("CALL [%s]: second remote audio track, hanging up", s.id)
			m.endCallLocked(true)
			return
		}
		s.remoteAudio = rt
		// Audio playback belongs to the platform audio path; keep the RTP
		// buffers drained so the receive pipeline does not pile up.
		go func() {
			for {
				if _, err := rt.ReadRTP(); err != nil {
					return
				}
			}
		}()
	case webrtc.RTPCodecTypeVideo:
		if s.remoteVideo != nil {
			log.Printf("CALL [%s]: second remote video track, hanging up", s.id)
			m.endCallLocked(true)
			return
		}
		s.remoteVideo = rt
		s.remoteForward = newRemoteForwarder(s.id, rt, m.surface, func() {
			m.do(func() { m.onRemoteVideoEnded(s) })
		})
		log.Printf("CALL [%s]: remote video track added (stream=%s)", s.id, rt.StreamID())
	}
}

// onRemoteVideoEnded clears the remote video reference after its stream
// stopped.
func (m *Manager) onRemoteVideoEnded(s *Session) {
	if m.current != s {
		return
	}
	if s.remoteForward != nil {
		s.remoteForward.stop()
		s.remoteForward = nil
	}
	s.remoteVideo = nil
	log.Printf("CALL [%s]: remote video track removed", s.id)
}

func (m *Manager) notifyIncoming(ic IncomingCall) {
	m.incomingMu.RLock()
	handlers := make([]func(IncomingCall), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()
	for _, fn := range handlers {
		safeNotify(func() { fn(ic) })
	}
}

func (m *Manager) setCaptureError(inError bool) {
	if m.captureInError.Swap(inError) == inError {
		return
	}
	detail := "cleared"
	if inError {
		detail = "set"
	}
	m.record("", "capture-error", detail)
	m.listeners.notifyCaptureError(inError)
}

func (m *Manager) record(callID, kind, detail string) {
	m.events.Push(Event{At: time.Now(), CallID: callID, Kind: kind, Detail: detail})
}
