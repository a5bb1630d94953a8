package call

import (
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PionEngine builds WebRTC transports on pion/webrtc. One engine serves
// all calls; each NewTransport call produces an independent peer
// connection.
type PionEngine struct {
	populate func(*webrtc.MediaEngine) error
}

// NewPionEngine creates the engine. populate registers the codecs the
// capture pipeline encodes; nil falls back to Pion's default codec set.
func NewPionEngine(populate func(*webrtc.MediaEngine) error) *PionEngine {
	return &PionEngine{populate: populate}
}

func (e *PionEngine) NewTransport(servers []webrtc.ICEServer, cb TransportCallbacks) (Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if e.populate != nil {
		if err := e.populate(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not surface
	// as Disconnected right away. The default 5 s is far too short for
	// relay paths that have short outages during re-keying or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	// An empty server list is acceptable: the connection proceeds with
	// host candidates only.
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker; nothing to signal.
			return
		}
		if cb.OnLocalCandidate != nil {
			cb.OnLocalCandidate(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if cb.OnConnectionState != nil {
			cb.OnConnectionState(state)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(&pionRemoteTrack{track: track, pc: pc})
		}
	})

	return &pionTransport{pc: pc}, nil
}

// pionTransport wraps one peer connection behind the Transport interface.
type pionTransport struct {
	pc *webrtc.PeerConnection
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *pionTransport) SetLocalDescription(sd webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sd)
}

func (t *pionTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sd)
}

func (t *pionTransport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *pionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *pionTransport) AddTrack(lt LocalTrack) (TrackSender, error) {
	sender, err := t.pc.AddTrack(lt.Track())
	if err != nil {
		return nil, err
	}
	return &pionSender{sender: sender}, nil
}

// AddRecvOnlyTransceivers adds recvonly transceivers so CreateOffer and
// CreateAnswer produce valid m-lines with ICE credentials even when no
// local media was captured.
func (t *pionTransport) AddRecvOnlyTransceivers(video bool) error {
	var errs []error
	if video {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender
}

func (ps *pionSender) ReplaceTrack(tl webrtc.TrackLocal) error {
	return ps.sender.ReplaceTrack(tl)
}

// pionRemoteTrack exposes an inbound track plus the keyframe request path,
// which goes out as a Picture Loss Indication on the owning connection.
type pionRemoteTrack struct {
	track *webrtc.TrackRemote
	pc    *webrtc.PeerConnection
}

func (rt *pionRemoteTrack) Kind() webrtc.RTPCodecType { return rt.track.Kind() }
func (rt *pionRemoteTrack) StreamID() string          { return rt.track.StreamID() }

func (rt *pionRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := rt.track.ReadRTP()
	return pkt, err
}

func (rt *pionRemoteTrack) RequestKeyframe() error {
	return rt.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(rt.track.SSRC())},
	})
}
