package sentrytree

// Record is the wire shape of one node, used by the worker's
// `/v1/radixtree/full` response and by a restarting Sentry to reseed its
// tree (spec §4.6 "Restart").
type Record struct {
	Key      []uint32 `json:"key"`
	Value    []uint32 `json:"value"`
	Children []Record `json:"children"`
}

// ToRecord walks the tree depth-first into the nested Record shape the
// worker exposes over `/v1/radixtree/full` (spec §6).
func (t *Tree) ToRecord() Record {
	return nodeToRecord(t.Root())
}

func nodeToRecord(n *Node) Record {
	n.mu.Lock()
	children := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	rec := Record{
		Key:   append([]uint32(nil), n.edgeKey...),
		Value: append([]uint32(nil), n.value...),
	}
	n.mu.Unlock()

	rec.Children = make([]Record, 0, len(children))
	for _, c := range children {
		rec.Children = append(rec.Children, nodeToRecord(c))
	}
	return rec
}

// FromRecord rebuilds a tree from a nested Record, as done when a Sentry
// restarts and pulls a prefill worker's current tree (spec §4.6).
func FromRecord(root Record) *Tree {
	t := &Tree{opsIDNext: 1}
	t.root = newNode(t.nextID())
	t.root.edgeKey = nil
	buildChildren(t, t.root, root.Children)
	return t
}

func buildChildren(t *Tree, parent *Node, children []Record) {
	for _, c := range children {
		n := newNode(t.nextID())
		n.edgeKey = append([]uint32(nil), c.Key...)
		n.value = append([]uint32(nil), c.Value...)
		n.parent = parent
		if len(n.edgeKey) == 0 {
			continue
		}
		parent.children[n.edgeKey[0]] = n
		buildChildren(t, n, c.Children)
	}
}
