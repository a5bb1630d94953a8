package call

import (
	"log"
	"sync"
)

// listenerSet fans orchestrator notifications out to registered listeners.
// Notification is best effort: a panicking listener is logged and skipped,
// it never aborts the remaining listeners or corrupts call state.
type listenerSet struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (ls *listenerSet) add(l Listener) {
	ls.mu.Lock()
	ls.listeners = append(ls.listeners, l)
	ls.mu.Unlock()
}

func (ls *listenerSet) remove(l Listener) {
	ls.mu.Lock()
	for i, cur := range ls.listeners {
		if cur == l {
			ls.listeners = append(ls.listeners[:i], ls.listeners[i+1:]...)
			break
		}
	}
	ls.mu.Unlock()
}

func (ls *listenerSet) snapshot() []Listener {
	ls.mu.RLock()
	out := make([]Listener, len(ls.listeners))
	copy(out, ls.listeners)
	ls.mu.RUnlock()
	return out
}

func (ls *listenerSet) notifyCallChanged(callID string, state State) {
	for _, l := range ls.snapshot() {
		safeNotify(func() { l.OnCallChanged(callID, state) })
	}
}

func (ls *listenerSet) notifyCaptureError(inError bool) {
	for _, l := range ls.snapshot() {
		safeNotify(func() { l.OnCaptureError(inError) })
	}
}

func safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("CALL: listener panic: %v", r)
		}
	}()
	fn()
}
