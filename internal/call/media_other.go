//go:build !linux || !cgo

package call

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// PlatformCapture has no hardware backing outside Linux. Camera/mic
// capture via pion/mediadevices needs platform drivers (V4L2/malgo);
// elsewhere calls proceed receive-only.
type PlatformCapture struct{}

// NewPlatformCapture returns an unavailable capture factory and a populate
// function registering the default codec set for receive-only negotiation.
func NewPlatformCapture() (*PlatformCapture, func(*webrtc.MediaEngine) error, error) {
	populate := func(me *webrtc.MediaEngine) error {
		return me.RegisterDefaultCodecs()
	}
	return &PlatformCapture{}, populate, nil
}

func (p *PlatformCapture) Available() bool { return false }

func (p *PlatformCapture) OpenAudio() (LocalTrack, error) {
	return nil, errors.New("media capture not supported on this platform")
}

func (p *PlatformCapture) OpenVideo(CaptureProfile) (LocalTrack, string, error) {
	return nil, "", errors.New("media capture not supported on this platform")
}
