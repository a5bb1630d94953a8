package call

import (
	"log"
	"sync"
	"time"
)

// keyframeInterval is how often the forwarder requests a fresh keyframe
// while a render surface is attached. A new surface needs a keyframe before
// it can decode anything; periodic PLIs also recover from packet loss.
const keyframeInterval = 3 * time.Second

// remoteForwarder pumps RTP from the remote video track into whatever
// render surface is currently attached. The surface may be attached and
// detached at any time from the Manager loop while the read loop runs on
// its own goroutine, so the surface pointer is behind a lock.
//
// When the track ends (transport closed or stream removed) the forwarder
// reports back through onEnded, which the Manager re-dispatches onto its
// serial loop.
type remoteForwarder struct {
	callID string
	track  RemoteTrack

	mu      sync.Mutex
	surface RenderSurface

	done     chan struct{}
	stopOnce sync.Once
}

func newRemoteForwarder(callID string, track RemoteTrack, surface RenderSurface, onEnded func()) *remoteForwarder {
	f := &remoteForwarder{
		callID:  callID,
		track:   track,
		surface: surface,
		done:    make(chan struct{}),
	}
	go f.run(onEnded)
	go f.keyframeLoop()
	return f
}

// setSurface swaps the render surface. Passing nil detaches. A freshly
// attached surface gets an immediate keyframe request so it does not wait
// out the periodic interval before showing video.
func (f *remoteForwarder) setSurface(surface RenderSurface) {
	f.mu.Lock()
	f.surface = surface
	f.mu.Unlock()

	if surface != nil {
		if err := f.track.RequestKeyframe(); err != nil {
			log.Printf("CALL [%s]: keyframe request: %v", f.callID, err)
		}
	}
}

func (f *remoteForwarder) stop() {
	f.stopOnce.Do(func() { close(f.done) })
}

func (f *remoteForwarder) run(onEnded func()) {
	for {
		pkt, err := f.track.ReadRTP()
		if err != nil {
			select {
			case <-f.done:
				// Stopped by teardown; nobody to notify.
			default:
				log.Printf("CALL [%s]: remote video track ended: %v", f.callID, err)
				onEnded()
			}
			return
		}

		f.mu.Lock()
		surface := f.surface
		f.mu.Unlock()
		if surface == nil {
			continue
		}
		if err := surface.WriteRTP(pkt); err != nil {
			log.Printf("CALL [%s]: render surface write: %v", f.callID, err)
		}
	}
}

func (f *remoteForwarder) keyframeLoop() {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.Lock()
			attached := f.surface != nil
			f.mu.Unlock()
			if attached {
				_ = f.track.RequestKeyframe()
			}
		}
	}
}
