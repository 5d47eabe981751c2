package outbound

import (
	"sync"

	"github.com/nexuts-io/nexuts/internal/treeop"
)

// Buffer is the mutex-protected active callback buffer every local
// ApplyOp result is appended to before the periodic flush to the durable
// queue (spec §4.5 stage 1).
type Buffer struct {
	mu  sync.Mutex
	ops []treeop.Op
}

// Add appends op to the buffer.
func (b *Buffer) Add(op treeop.Op) {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
}

// Drain returns and clears the buffered ops, or nil if empty.
func (b *Buffer) Drain() []treeop.Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ops) == 0 {
		return nil
	}
	out := b.ops
	b.ops = nil
	return out
}
