package call

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]webrtc.ICECandidateInit
}

func (s *batchSink) send(batch []webrtc.ICECandidateInit) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
}

func (s *batchSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestBatcherCoalescesWithinWindow(t *testing.T) {
	sink := &batchSink{}
	b := newCandidateBatcher(30*time.Millisecond, sink.send)
	defer b.FlushAndStop()

	b.Offer(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	b.Offer(webrtc.ICECandidateInit{Candidate: "candidate:2"})
	b.Offer(webrtc.ICECandidateInit{Candidate: "candidate:3"})

	deadline := time.Now().Add(time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(sink.batches))
	}
	got := sink.batches[0]
	if len(got) != 3 || got[0].Candidate != "candidate:1" || got[2].Candidate != "candidate:3" {
		t.Fatalf("batch lost ordering: %+v", got)
	}
}

func TestBatcherFlushAndStop(t *testing.T) {
	sink := &batchSink{}
	b := newCandidateBatcher(time.Hour, sink.send)

	b.Offer(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	b.FlushAndStop()

	if sink.count() != 1 {
		t.Fatalf("pending candidates not flushed on stop: %d batches", sink.count())
	}

	// Candidates offered after stop are dropped, not queued forever.
	b.Offer(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	b.FlushAndStop()
	if sink.count() != 1 {
		t.Fatalf("batcher accepted candidates after stop: %d batches", sink.count())
	}
}

func TestBatcherEmptyStopSendsNothing(t *testing.T) {
	sink := &batchSink{}
	b := newCandidateBatcher(30*time.Millisecond, sink.send)
	b.FlushAndStop()
	if sink.count() != 0 {
		t.Fatalf("empty batcher sent a batch: %d", sink.count())
	}
}
