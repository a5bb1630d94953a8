//go:build linux && cgo

package call

import (
	"errors"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// deviceTrack adapts a mediadevices capture track to the LocalTrack
// interface the orchestrator binds to transports.
type deviceTrack struct{ t mediadevices.Track }

func (d *deviceTrack) Kind() webrtc.RTPCodecType { return d.t.Kind() }
func (d *deviceTrack) Track() webrtc.TrackLocal  { return d.t }
func (d *deviceTrack) OnEnded(fn func(error))    { d.t.OnEnded(fn) }
func (d *deviceTrack) Close() error              { return d.t.Close() }

// PlatformCapture captures camera and microphone through pion/mediadevices
// (V4L2 + malgo on Linux), encoding VP8 video and Opus audio.
type PlatformCapture struct {
	selector *mediadevices.CodecSelector
}

// NewPlatformCapture builds the capture factory and returns it together
// with the media-engine populate function the transport engine needs so
// negotiation offers exactly the codecs the capture side encodes.
func NewPlatformCapture() (*PlatformCapture, func(*webrtc.MediaEngine) error, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	populate := func(me *webrtc.MediaEngine) error {
		selector.Populate(me)
		return nil
	}
	return &PlatformCapture{selector: selector}, populate, nil
}

// Available reports whether any capture device exists.
func (p *PlatformCapture) Available() bool {
	return len(mediadevices.EnumerateDevices()) > 0
}

// OpenAudio captures the default microphone as an Opus track.
func (p *PlatformCapture) OpenAudio() (LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: p.selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track captured")
	}
	return &deviceTrack{t: tracks[0]}, nil
}

// OpenVideo captures a camera as a VP8 track and returns the device ID the
// track captures from, which keys hardware recovery.
func (p *PlatformCapture) OpenVideo(profile CaptureProfile) (LocalTrack, string, error) {
	device := p.pickCamera(profile.CameraDevice)

	constraints := mediadevices.MediaStreamConstraints{
		Codec: p.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG: some cameras expose an MJPEG V4L2 node that
			// produces malformed JPEG frames, which poisons the VP8 encoder.
			// Raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Ideal: profile.Width, Max: profile.Width}
			c.Height = prop.IntRanged{Ideal: profile.Height, Max: profile.Height}
			if profile.FrameRate > 0 {
				c.FrameRate = prop.FloatRanged{Ideal: float32(profile.FrameRate)}
			}
			if device != "" {
				c.DeviceID = prop.String(device)
			}
		},
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, "", err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, "", errors.New("no video track captured")
	}
	return &deviceTrack{t: tracks[0]}, device, nil
}

// pickCamera resolves the camera to open: the configured device if any,
// otherwise a front-facing camera, otherwise the first camera found.
func (p *PlatformCapture) pickCamera(preferred string) string {
	if preferred != "" {
		return preferred
	}
	var first string
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		if first == "" {
			first = d.DeviceID
		}
		if strings.Contains(strings.ToLower(d.Label), "front") {
			return d.DeviceID
		}
	}
	return first
}
