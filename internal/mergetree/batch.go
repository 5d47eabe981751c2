package mergetree

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/treeop"
)

// defaultSequencerCacheSize bounds how many sentries' reorder buffers are
// held at once; a sentry evicted here gets a fresh sequencer expecting ops
// id 1, the same as a sentry never seen before, and any higher id it sends
// is held until an id 1 arrives.
const defaultSequencerCacheSize = 4096

// WAL is the durability hook ApplyBatch drives once per applied op, kept
// as a minimal interface so mergetree never imports internal/wal directly
// (internal/wal.Manager satisfies it structurally).
type WAL interface {
	Append(sentryID string, sentryOpsID uint64, op treeop.Op, version uint64) error
}

// Batcher owns the per-sentry sequencing buffers and WAL wiring the merge
// tree needs to turn a stream of possibly-out-of-order sentry batches into
// strictly ordered, versioned, durable mutations (spec §4.2).
type Batcher struct {
	tree *Tree
	wal  WAL
	seqs *lru.Cache[string, *sequencer]
}

// NewBatcher wires tree to wal. wal may be nil for tests that don't care
// about durability.
func NewBatcher(tree *Tree, wal WAL) *Batcher {
	cache, _ := lru.New[string, *sequencer](defaultSequencerCacheSize)
	return &Batcher{tree: tree, wal: wal, seqs: cache}
}

func (b *Batcher) sequencerFor(sentryID string) *sequencer {
	if s, ok := b.seqs.Get(sentryID); ok {
		return s
	}
	s := newSequencer(1)
	b.seqs.Add(sentryID, s)
	return s
}

// ApplyBatch sequences ops under sentryOpsID and, once in order, applies
// every op in every now-ready batch (including any earlier batches this
// submission unblocked) before returning the results for THIS submission's
// own ops. A duplicate sentryOpsID is ignored and reports an empty,
// successful result set.
func (b *Batcher) ApplyBatch(sentryID string, sentryOpsID uint64, ops []treeop.Op) []treeop.Result {
	s := b.sequencerFor(sentryID)
	ready, duplicate := s.submit(sentryOpsID, ops)
	if duplicate {
		return nil
	}

	var results []treeop.Result
	for i, batch := range ready {
		batchResults := b.applyOrdered(sentryID, batch.opsID, batch.ops)
		if i == 0 {
			results = batchResults
		}
	}
	return results
}

func (b *Batcher) applyOrdered(sentryID string, sentryOpsID uint64, ops []treeop.Op) []treeop.Result {
	out := make([]treeop.Result, 0, len(ops))
	for _, op := range ops {
		version, err := b.tree.ApplyOp(op)
		res := treeop.Result{Op: op, Version: version}
		if err != nil {
			res.Err = err.Error()
		}
		out = append(out, res)
		if b.wal != nil {
			if walErr := b.wal.Append(sentryID, sentryOpsID, op, version); walErr != nil {
				out[len(out)-1].Err = nexerr.Transient("mergetree.wal_append", walErr).Error()
			}
		}
	}
	return out
}
