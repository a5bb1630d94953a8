package call

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// waitFor polls cond until it holds or the deadline passes. Used wherever
// the manager finishes work asynchronously (ICE fetch, task loop).
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// ─── signaling fake ──────────────────────────────────────────────────────────

type sentInvite struct {
	callID, room, peer string
	video              bool
	sdp                string
}

type sentAnswer struct {
	callID string
	sdp    string
}

type fakeSignaler struct {
	mu      sync.Mutex
	invites []sentInvite
	batches [][]webrtc.ICECandidateInit
	answers []sentAnswer
	hangups []string
	inbound chan InboundMessage
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{inbound: make(chan InboundMessage, 16)}
}

func (s *fakeSignaler) SendInvite(callID, room, peer string, video bool, offerSDP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites = append(s.invites, sentInvite{callID, room, peer, video, offerSDP})
	return nil
}

func (s *fakeSignaler) SendCandidates(callID string, candidates []webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]webrtc.ICECandidateInit, len(candidates))
	copy(batch, candidates)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSignaler) SendAnswer(callID, answerSDP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sentAnswer{callID, answerSDP})
	return nil
}

func (s *fakeSignaler) SendHangup(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangups = append(s.hangups, callID)
	return nil
}

func (s *fakeSignaler) Subscribe() (<-chan InboundMessage, func()) {
	return s.inbound, func() {}
}

func (s *fakeSignaler) inviteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invites)
}

func (s *fakeSignaler) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *fakeSignaler) hangupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hangups)
}

func (s *fakeSignaler) lastHangup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hangups) == 0 {
		return ""
	}
	return s.hangups[len(s.hangups)-1]
}

func (s *fakeSignaler) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// ─── transport fakes ─────────────────────────────────────────────────────────

type fakeEngine struct {
	mu         sync.Mutex
	transports []*fakeTransport
	fail       bool
}

func (e *fakeEngine) NewTransport(servers []webrtc.ICEServer, cb TransportCallbacks) (Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, errors.New("transport unavailable")
	}
	t := &fakeTransport{cb: cb, servers: servers}
	e.transports = append(e.transports, t)
	return t, nil
}

func (e *fakeEngine) last() *fakeTransport {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.transports) == 0 {
		return nil
	}
	return e.transports[len(e.transports)-1]
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transports)
}

type fakeTransport struct {
	mu         sync.Mutex
	cb         TransportCallbacks
	servers    []webrtc.ICEServer
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	added      []webrtc.ICECandidateInit
	senders    []*fakeSender
	recvOnly   bool
	closed     bool
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) SetLocalDescription(sd webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localDesc = &sd
	return nil
}

func (t *fakeTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &sd
	return nil
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteDesc != nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.added = append(t.added, c)
	return nil
}

func (t *fakeTransport) AddTrack(lt LocalTrack) (TrackSender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &fakeSender{current: lt.Track()}
	t.senders = append(t.senders, s)
	return s, nil
}

func (t *fakeTransport) AddRecvOnlyTransceivers(video bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvOnly = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) candidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.added))
	copy(out, t.added)
	return out
}

func (t *fakeTransport) remote() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteDesc
}

func (t *fakeTransport) senderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.senders)
}

func (t *fakeTransport) sender(i int) *fakeSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.senders) {
		return nil
	}
	return t.senders[i]
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeSender struct {
	mu       sync.Mutex
	current  webrtc.TrackLocal
	replaced []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(tl webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = tl
	s.replaced = append(s.replaced, tl)
	return nil
}

func (s *fakeSender) replacements() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(s.replaced))
	copy(out, s.replaced)
	return out
}

// ─── capture fakes ───────────────────────────────────────────────────────────

type fakeTrackLocal struct {
	id   string
	kind webrtc.RTPCodecType
}

func (f *fakeTrackLocal) ID() string                { return f.id }
func (f *fakeTrackLocal) RID() string               { return "" }
func (f *fakeTrackLocal) StreamID() string          { return "local" }
func (f *fakeTrackLocal) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeTrackLocal) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (f *fakeTrackLocal) Unbind(webrtc.TrackLocalContext) error { return nil }

type fakeLocalTrack struct {
	mu      sync.Mutex
	inner   *fakeTrackLocal
	onEnded func(error)
	closed  bool
}

func newFakeLocalTrack(id string, kind webrtc.RTPCodecType) *fakeLocalTrack {
	return &fakeLocalTrack{inner: &fakeTrackLocal{id: id, kind: kind}}
}

func (f *fakeLocalTrack) Kind() webrtc.RTPCodecType { return f.inner.kind }
func (f *fakeLocalTrack) Track() webrtc.TrackLocal  { return f.inner }

func (f *fakeLocalTrack) OnEnded(fn func(error)) {
	f.mu.Lock()
	f.onEnded = fn
	f.mu.Unlock()
}

func (f *fakeLocalTrack) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLocalTrack) end(err error) {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (f *fakeLocalTrack) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeCapture struct {
	mu         sync.Mutex
	available  bool
	device     string
	videoErr   error
	videoOpens int
	audio      []*fakeLocalTrack
	video      []*fakeLocalTrack
}

func newFakeCapture(device string) *fakeCapture {
	return &fakeCapture{available: true, device: device}
}

func (c *fakeCapture) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

func (c *fakeCapture) OpenAudio() (LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := newFakeLocalTrack("mic", webrtc.RTPCodecTypeAudio)
	c.audio = append(c.audio, t)
	return t, nil
}

func (c *fakeCapture) setVideoErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoErr = err
}

func (c *fakeCapture) OpenVideo(CaptureProfile) (LocalTrack, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoOpens++
	if c.videoErr != nil {
		return nil, "", c.videoErr
	}
	t := newFakeLocalTrack("cam", webrtc.RTPCodecTypeVideo)
	c.video = append(c.video, t)
	return t, c.device, nil
}

func (c *fakeCapture) videoOpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoOpens
}

func (c *fakeCapture) videoTrack(i int) *fakeLocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.video) {
		return nil
	}
	return c.video[i]
}

func (c *fakeCapture) audioTrack(i int) *fakeLocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.audio) {
		return nil
	}
	return c.audio[i]
}

// ─── hardware notifier fake ──────────────────────────────────────────────────

type fakeNotifier struct {
	mu      sync.Mutex
	subs    map[string]func(string)
	cancels int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{subs: map[string]func(string){}}
}

func (n *fakeNotifier) Subscribe(device string, fn func(string)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[device] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, device)
		n.cancels++
	}, nil
}

func (n *fakeNotifier) fire(device string) {
	n.mu.Lock()
	fn := n.subs[device]
	n.mu.Unlock()
	if fn != nil {
		fn(device)
	}
}

func (n *fakeNotifier) subscribed(device string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.subs[device]
	return ok
}

// ─── remote track and surface fakes ──────────────────────────────────────────

type fakeRemoteTrack struct {
	kind      webrtc.RTPCodecType
	streamID  string
	packets   chan *rtp.Packet
	closeOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	keyframes int
}

func newFakeRemoteTrack(kind webrtc.RTPCodecType, streamID string) *fakeRemoteTrack {
	return &fakeRemoteTrack{
		kind:     kind,
		streamID: streamID,
		packets:  make(chan *rtp.Packet, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeRemoteTrack) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeRemoteTrack) StreamID() string          { return f.streamID }

func (f *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	select {
	case pkt := <-f.packets:
		return pkt, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeRemoteTrack) RequestKeyframe() error {
	f.mu.Lock()
	f.keyframes++
	f.mu.Unlock()
	return nil
}

func (f *fakeRemoteTrack) keyframeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keyframes
}

func (f *fakeRemoteTrack) close() { f.closeOnce.Do(func() { close(f.done) }) }

func testPacket(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

type fakeSurface struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
}

func (s *fakeSurface) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	s.pkts = append(s.pkts, pkt)
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pkts)
}

// ─── listener fake ───────────────────────────────────────────────────────────

type stateChange struct {
	callID string
	state  State
}

type recordingListener struct {
	mu       sync.Mutex
	changes  []stateChange
	captures []bool
}

func (l *recordingListener) OnCallChanged(callID string, state State) {
	l.mu.Lock()
	l.changes = append(l.changes, stateChange{callID, state})
	l.mu.Unlock()
}

func (l *recordingListener) OnCaptureError(inError bool) {
	l.mu.Lock()
	l.captures = append(l.captures, inError)
	l.mu.Unlock()
}

func (l *recordingListener) captureEvents() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.captures))
	copy(out, l.captures)
	return out
}

func (l *recordingListener) lastChange() (stateChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.changes) == 0 {
		return stateChange{}, false
	}
	return l.changes[len(l.changes)-1], true
}
