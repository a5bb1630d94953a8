package call

import "github.com/pion/webrtc/v4"

// candidateQueue buffers remote ICE candidates that arrived before the
// transport handle existed or before the remote description was set. It is
// drained at most once, in arrival order, and then retired: once retired,
// candidates bypass the queue and are applied directly.
//
// The queue is owned by the Manager's serial loop and needs no locking.
type candidateQueue struct {
	pending []webrtc.ICECandidateInit
	drained bool
}

func (q *candidateQueue) push(c webrtc.ICECandidateInit) {
	q.pending = append(q.pending, c)
}

// drain hands every buffered candidate to apply, in order, then retires the
// queue. A second drain is a no-op: the buffer is already empty and gone.
func (q *candidateQueue) drain(apply func(webrtc.ICECandidateInit)) {
	if q.drained {
		return
	}
	for _, c := range q.pending {
		apply(c)
	}
	q.pending = nil
	q.drained = true
}

func (q *candidateQueue) retired() bool {
	return q.drained
}

func (q *candidateQueue) len() int {
	return len(q.pending)
}
