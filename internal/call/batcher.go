package call

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// batchWindow is the debounce window for locally-discovered ICE candidates.
// The window opens on the first buffered candidate; everything gathered
// inside it goes out as one signaling message.
const batchWindow = 300 * time.Millisecond

// candidateBatcher coalesces locally-discovered ICE candidates so trickle
// ICE does not send one signaling message per candidate.
//
// The timer fires on its own goroutine, so unlike the rest of the session
// state the batcher carries its own lock. The send callback runs with the
// lock held: a timer flush and FlushAndStop are fully serialized, so a
// flush racing with session teardown either completes before teardown
// returns or is cancelled outright. A candidate is never sent twice and
// never sent after stop.
type candidateBatcher struct {
	send   func([]webrtc.ICECandidateInit)
	window time.Duration

	mu      sync.Mutex
	buf     []webrtc.ICECandidateInit
	timer   *time.Timer
	stopped bool
}

func newCandidateBatcher(window time.Duration, send func([]webrtc.ICECandidateInit)) *candidateBatcher {
	if window <= 0 {
		window = batchWindow
	}
	return &candidateBatcher{send: send, window: window}
}

// Offer buffers one candidate. The first candidate of a batch arms the
// flush timer. Offers after FlushAndStop are dropped: the session they
// belonged to is gone.
func (b *candidateBatcher) Offer(c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.buf = append(b.buf, c)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flushTimer)
	}
}

// flushTimer runs on the timer goroutine when the window expires.
func (b *candidateBatcher) flushTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.flushLocked()
}

// FlushAndStop sends any remainder synchronously, cancels the timer and
// kills the batcher. Called on session teardown; idempotent.
func (b *candidateBatcher) FlushAndStop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	b.flushLocked()
}

// flushLocked emits the buffered batch, if any, and disarms the timer.
// Caller holds b.mu.
func (b *candidateBatcher) flushLocked() {
	batch := b.buf
	b.buf = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(batch) > 0 {
		b.send(batch)
	}
}
