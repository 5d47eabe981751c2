package sentrytree

import (
	"sync"
	"sync/atomic"

	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/treeop"
)

// Tree is one worker's local view of its own KV-cache prefix index.
type Tree struct {
	idSeq uint64

	rootMu sync.RWMutex
	root   *Node

	opsMu      sync.Mutex
	opsIDNext  uint64 // next expected worker-assigned ops id, 1-based
}

// New returns an empty tree rooted at a fresh node.
func New() *Tree {
	t := &Tree{opsIDNext: 1}
	t.root = newNode(t.nextID())
	return t
}

func (t *Tree) nextID() uint64 {
	return atomic.AddUint64(&t.idSeq, 1) - 1
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.root
}

// NextOpsID returns the ops id this tree expects next, used by the Sentry
// to reseed its in-order sequencer after a restart (spec §4.6).
func (t *Tree) NextOpsID() uint64 {
	t.opsMu.Lock()
	defer t.opsMu.Unlock()
	return t.opsIDNext
}

// SetNextOpsID overrides the expected next ops id, used during recovery.
func (t *Tree) SetNextOpsID(id uint64) {
	t.opsMu.Lock()
	defer t.opsMu.Unlock()
	t.opsIDNext = id
}

// AdvanceOpsID marks one more op consumed in order.
func (t *Tree) AdvanceOpsID() {
	t.opsMu.Lock()
	t.opsIDNext++
	t.opsMu.Unlock()
}

// findNode resolves a parent path by descending one full edge per segment,
// matching the first token of each segment against the current node's
// children. An empty path resolves to the root.
func (t *Tree) findNode(path [][]uint32) (*Node, error) {
	cur := t.Root()
	for _, seg := range path {
		if len(seg) == 0 {
			return nil, nexerr.ErrUnknownPath
		}
		next := cur.getChild(seg[0])
		if next == nil {
			return nil, nexerr.ErrUnknownPath
		}
		cur = next
	}
	return cur, nil
}

// ApplyOp mutates the tree according to op, acquiring node-level locks
// along the walk and releasing the parent lock before descending into the
// child's own children (spec §4.1 "Contract").
func (t *Tree) ApplyOp(op treeop.Op) error {
	switch op.Type {
	case treeop.Insert:
		return t.insert(op.ParentPath, op.Key, op.Value)
	case treeop.Delete:
		return t.delete(op.ParentPath, op.SplitLength)
	case treeop.Split:
		return t.split(op.ParentPath, op.SplitLength)
	default:
		return nexerr.ErrUnknownOpType
	}
}

// insert walks from the node located by parentPath, matching key against
// child edges. Partial edge matches trigger a split; once no child matches
// the next token, the remaining key is installed as a new leaf.
func (t *Tree) insert(parentPath [][]uint32, key, value []uint32) error {
	if len(key) != len(value) {
		return nexerr.ErrLengthMismatch
	}
	cur, err := t.findNode(parentPath)
	if err != nil {
		return err
	}

	for len(key) > 0 {
		cur.mu.Lock()
		child := cur.children[key[0]]
		if child == nil {
			newLeaf := newNode(t.nextID())
			newLeaf.edgeKey = append([]uint32(nil), key...)
			newLeaf.value = append([]uint32(nil), value...)
			newLeaf.parent = cur
			cur.children[key[0]] = newLeaf
			cur.mu.Unlock()
			return nil
		}
		child.mu.Lock()
		length := matchLength(key, child.edgeKey)
		if length < len(child.edgeKey) {
			// Partial match: split child at length, then insert remainder
			// (if any) under the new interior node.
			mid := t.splitChildLocked(cur, child, key[0], length)
			child.mu.Unlock()
			cur.mu.Unlock()
			key = key[length:]
			value = value[length:]
			if len(key) == 0 {
				return nil
			}
			cur = mid
			continue
		}
		// Full edge match: descend.
		key = key[length:]
		value = value[length:]
		child.mu.Unlock()
		cur.mu.Unlock()
		cur = child
	}
	return nil
}

// splitChildLocked turns child into two nodes at offset length, returning
// the new interior node. Caller holds locks on both parent and child.
func (t *Tree) splitChildLocked(parent, child *Node, firstToken uint32, length int) *Node {
	mid := newNode(t.nextID())
	mid.edgeKey = append([]uint32(nil), child.edgeKey[:length]...)
	mid.value = append([]uint32(nil), child.value[:length]...)
	mid.parent = parent
	mid.children = make(map[uint32]*Node)

	child.edgeKey = child.edgeKey[length:]
	child.value = child.value[length:]
	child.parent = mid
	mid.children[child.edgeKey[0]] = child

	parent.children[firstToken] = mid
	return mid
}

// split turns the node located at path into two: a new parent bearing the
// first splitLength tokens and the original node (now a child) bearing the
// remainder (spec §4.1 "Split-only").
func (t *Tree) split(path [][]uint32, splitLength int) error {
	node, err := t.findNode(path)
	if err != nil {
		return err
	}
	if node.parent == nil {
		return nexerr.ErrSplitOutOfRange // cannot split the root
	}
	parent := node.parent
	parent.mu.Lock()
	node.mu.Lock()
	defer node.mu.Unlock()
	defer parent.mu.Unlock()

	if splitLength < 0 || splitLength > len(node.edgeKey) {
		return nexerr.ErrSplitOutOfRange
	}
	if splitLength == len(node.edgeKey) {
		return nil // no-op, per spec §8 boundary behavior
	}
	firstToken := node.edgeKey[0]
	t.splitChildLocked(parent, node, firstToken, splitLength)
	return nil
}

// delete removes the node located at path. splitLength, if it falls
// strictly inside the node's edge, first splits the node so only the
// descendant half carrying the tail is detached; splitLength == 0 (or
// covering the whole edge) detaches the whole subtree.
func (t *Tree) delete(path [][]uint32, splitLength int) error {
	node, err := t.findNode(path)
	if err != nil {
		return err
	}
	if node.parent == nil {
		return nexerr.ErrSplitOutOfRange // cannot delete the root
	}

	node.mu.Lock()
	edgeLen := len(node.edgeKey)
	node.mu.Unlock()

	if splitLength > 0 && splitLength < edgeLen {
		if err := t.split(path, splitLength); err != nil {
			return err
		}
		// The node to detach is now the child carrying the tail.
		node.mu.Lock()
		tailToken := node.edgeKey[0]
		node.mu.Unlock()
		parent := node.parent
		return t.detach(parent, tailToken)
	}

	parent := node.parent
	parent.mu.Lock()
	firstToken := node.edgeKey[0]
	parent.mu.Unlock()
	return t.detach(parent, firstToken)
}

func (t *Tree) detach(parent *Node, firstToken uint32) error {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if _, ok := parent.children[firstToken]; !ok {
		return nexerr.ErrUnknownPath
	}
	delete(parent.children, firstToken)
	return nil
}
