package mergetree

// maybeFreeze materializes n's old_info the first time a mutator touches a
// node that existed at or before the active snapshot's frozen version
// (spec §4.3 step 3). Caller must hold n.mu. No-op outside a snapshot
// window, or once old_info has already been captured for the current
// snapshot.
func (t *Tree) maybeFreeze(n *Node) {
	if !t.snapActive.Load() {
		return
	}
	vSnap := t.snapVersion.Load()
	if n.old != nil && n.old.version == vSnap {
		return
	}
	if n.version > vSnap {
		return
	}
	old := &frozenState{
		version:  vSnap,
		edgeKey:  append([]uint32(nil), n.edgeKey...),
		value:    deepCopyValue(n.value),
		childIDs: childIDs(n.children),
	}
	if n.parent != nil {
		old.parentID = n.parent.id
		old.hasRoot = false
	} else {
		old.hasRoot = true
	}
	n.old = old
}

// stamp records that op version opVersion has mutated n, advancing its
// version so later freezes against a newer snapshot window see up-to-date
// content. Caller must hold n.mu and must call maybeFreeze first.
func (n *Node) stamp(opVersion uint64) {
	n.version = maxU64(n.version, opVersion)
}
