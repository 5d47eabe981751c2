package mergetree

// SnapshotNode is one flat entry in a snapshot file: nodes are linked by
// id rather than nested, since a BFS walk visiting old_info and live
// nodes side by side has no single consistent nesting at V_snap (spec
// §4.3 step 4 "Serializer").
type SnapshotNode struct {
	ID        uint64              `json:"id"`
	HasParent bool                `json:"has_parent"`
	ParentID  uint64              `json:"parent_id,omitempty"`
	EdgeKey   []uint32            `json:"edge_key,omitempty"`
	Value     map[string][]uint32 `json:"value,omitempty"`
	ChildIDs  []uint64            `json:"child_ids,omitempty"`
}

// Walk performs the BFS required by spec §4.3 step 4: for each node,
// emit old_info if present and captured for vSnap, otherwise the node's
// live state. Every reachable node is emitted so the snapshot file stays
// structurally complete even for nodes created after vSnap; the window
// only governs which CONTENT (old vs live) is chosen per node, not
// whether the node is included.
func (t *Tree) Walk(vSnap uint64) []SnapshotNode {
	var out []SnapshotNode
	queue := []*Node{t.Root()}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		n.mu.Lock()
		rec := SnapshotNode{ID: n.id}
		if n.old != nil && n.old.version == vSnap {
			rec.HasParent = !n.old.hasRoot
			rec.ParentID = n.old.parentID
			rec.EdgeKey = append([]uint32(nil), n.old.edgeKey...)
			rec.Value = deepCopyValue(n.old.value)
			rec.ChildIDs = append([]uint64(nil), n.old.childIDs...)
		} else {
			rec.HasParent = n.parent != nil
			if n.parent != nil {
				rec.ParentID = n.parent.id
			}
			rec.EdgeKey = append([]uint32(nil), n.edgeKey...)
			rec.Value = deepCopyValue(n.value)
			rec.ChildIDs = childIDs(n.children)
		}
		children := make([]*Node, 0, len(n.children))
		for _, c := range n.children {
			children = append(children, c)
		}
		n.mu.Unlock()

		out = append(out, rec)
		queue = append(queue, children...)
	}
	return out
}

// RebuildFromSnapshot reconstructs a tree from the flat node list a
// snapshot file stores, relinking children by the first token of their
// own edge key under their recorded parent (spec §5 "Recovery").
func RebuildFromSnapshot(nodes []SnapshotNode) *Tree {
	t := &Tree{completed: make(map[uint64]struct{})}

	byID := make(map[uint64]*Node, len(nodes))
	var maxID uint64
	var rootRec *SnapshotNode
	for i := range nodes {
		rec := &nodes[i]
		n := newNode(rec.ID)
		n.edgeKey = append([]uint32(nil), rec.EdgeKey...)
		n.value = deepCopyValue(rec.Value)
		byID[rec.ID] = n
		if rec.ID > maxID {
			maxID = rec.ID
		}
		if !rec.HasParent {
			rootRec = rec
		}
	}
	for i := range nodes {
		rec := &nodes[i]
		if !rec.HasParent {
			continue
		}
		parent, ok := byID[rec.ParentID]
		if !ok || len(rec.EdgeKey) == 0 {
			continue
		}
		child := byID[rec.ID]
		child.parent = parent
		parent.children[rec.EdgeKey[0]] = child
	}

	if rootRec != nil {
		t.root = byID[rootRec.ID]
	} else {
		t.root = newNode(0)
	}
	t.idSeq = maxID + 1
	return t
}
