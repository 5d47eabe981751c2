package mergetree

import (
	"container/heap"

	"github.com/nexuts-io/nexuts/internal/treeop"
)

// sequencer buffers out-of-order batches from one sentry and releases them
// in strict sentry_ops_id order (spec §4.2 "Ordering"). Duplicate ids
// below the next-expected watermark are dropped idempotently.
type sequencer struct {
	nextExpected uint64
	pending      pendingHeap
	queued       map[uint64]struct{}
}

func newSequencer(nextExpected uint64) *sequencer {
	return &sequencer{nextExpected: nextExpected, queued: make(map[uint64]struct{})}
}

type pendingBatch struct {
	opsID uint64
	ops   []treeop.Op
}

type pendingHeap []pendingBatch

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].opsID < h[j].opsID }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingBatch)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// submit returns the batches now ready to apply in order (possibly more
// than one, if this submission fills a gap), or duplicate=true if opsID
// has already been consumed.
func (s *sequencer) submit(opsID uint64, ops []treeop.Op) (ready []pendingBatch, duplicate bool) {
	if opsID < s.nextExpected {
		return nil, true
	}
	if _, queued := s.queued[opsID]; queued {
		return nil, true
	}
	if opsID == s.nextExpected {
		ready = append(ready, pendingBatch{opsID: opsID, ops: ops})
		s.nextExpected++
		for len(s.pending) > 0 && s.pending[0].opsID == s.nextExpected {
			next := heap.Pop(&s.pending).(pendingBatch)
			delete(s.queued, next.opsID)
			ready = append(ready, next)
			s.nextExpected++
		}
		return ready, false
	}
	s.queued[opsID] = struct{}{}
	heap.Push(&s.pending, pendingBatch{opsID: opsID, ops: ops})
	return nil, false
}
