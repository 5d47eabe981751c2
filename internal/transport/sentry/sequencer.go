package sentry

import "container/heap"

// opsSequencer releases per-worker update batches strictly in
// ops_id order, buffering out-of-order arrivals in a min-heap,
// grounded on instance_manager.py's heapq-backed task_queue.
type opsSequencer struct {
	nextExpected uint64
	pending      opsHeap
}

func newOpsSequencer(nextExpected uint64) *opsSequencer {
	return &opsSequencer{nextExpected: nextExpected}
}

type opsBatch struct {
	opsID uint64
	infos []radixOp
}

type opsHeap []opsBatch

func (h opsHeap) Len() int            { return len(h) }
func (h opsHeap) Less(i, j int) bool  { return h[i].opsID < h[j].opsID }
func (h opsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *opsHeap) Push(x any)         { *h = append(*h, x.(opsBatch)) }
func (h *opsHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// submit returns the batches now ready to apply, in order. A batch
// whose ops id already passed is a duplicate and is ignored.
func (s *opsSequencer) submit(opsID uint64, infos []radixOp) (ready []opsBatch, duplicate bool) {
	if opsID < s.nextExpected {
		return nil, true
	}
	if opsID == s.nextExpected {
		ready = append(ready, opsBatch{opsID: opsID, infos: infos})
		s.nextExpected++
		for len(s.pending) > 0 && s.pending[0].opsID == s.nextExpected {
			next := heap.Pop(&s.pending).(opsBatch)
			ready = append(ready, next)
			s.nextExpected++
		}
		return ready, false
	}
	heap.Push(&s.pending, opsBatch{opsID: opsID, infos: infos})
	return nil, false
}
