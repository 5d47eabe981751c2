package mergetree

import (
	"sort"
	"testing"

	"github.com/nexuts-io/nexuts/internal/treeop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertOp(worker string, key, value []uint32) treeop.Op {
	return treeop.Op{Type: treeop.Insert, WorkerID: worker, Key: key, Value: value}
}

func TestMergeInsertTwoWorkersShareEdge(t *testing.T) {
	tr := New()
	_, err := tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))
	require.NoError(t, err)
	_, err = tr.ApplyOp(insertOp("w2", []uint32{1, 2, 3}, []uint32{11, 21, 31}))
	require.NoError(t, err)

	child := tr.Root().getChild(1)
	require.NotNil(t, child)
	v := child.ValueCopy()
	assert.Equal(t, []uint32{10, 20, 30}, v["w1"])
	assert.Equal(t, []uint32{11, 21, 31}, v["w2"])
}

func TestMergeInsertSplitCarriesBothWorkers(t *testing.T) {
	tr := New()
	_, err := tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3, 4, 5}, []uint32{10, 20, 30, 40, 50}))
	require.NoError(t, err)
	_, err = tr.ApplyOp(insertOp("w2", []uint32{1, 2, 7}, []uint32{10, 20, 70}))
	require.NoError(t, err)

	interior := tr.Root().getChild(1)
	require.NotNil(t, interior)
	assert.Equal(t, []uint32{1, 2}, interior.EdgeKey())
	iv := interior.ValueCopy()
	assert.Equal(t, []uint32{10, 20}, iv["w1"])
	assert.Equal(t, []uint32{10, 20}, iv["w2"])

	left := interior.getChild(3)
	require.NotNil(t, left)
	assert.Equal(t, []uint32{30, 40, 50}, left.ValueCopy()["w1"])

	right := interior.getChild(7)
	require.NotNil(t, right)
	assert.Equal(t, []uint32{70}, right.ValueCopy()["w2"])
}

func TestSearchInstancesWithPrefix(t *testing.T) {
	tr := New()
	_, _ = tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))
	_, _ = tr.ApplyOp(insertOp("w2", []uint32{1, 2, 3}, []uint32{11, 21, 31}))

	got := tr.SearchInstancesWithPrefix([]uint32{1, 2, 3})
	sort.Strings(got)
	assert.Equal(t, []string{"w1", "w2"}, got)

	assert.Nil(t, tr.SearchInstancesWithPrefix([]uint32{1, 2, 9}))

	all := tr.SearchInstancesWithPrefix(nil)
	sort.Strings(all)
	assert.Equal(t, []string{"w1", "w2"}, all)
}

func TestDeleteStripsOneWorkerKeepsOther(t *testing.T) {
	tr := New()
	_, _ = tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))
	_, _ = tr.ApplyOp(insertOp("w2", []uint32{1, 2, 3}, []uint32{11, 21, 31}))

	_, err := tr.ApplyOp(treeop.Op{
		Type:       treeop.Delete,
		WorkerID:   "w1",
		ParentPath: [][]uint32{{1, 2, 3}},
	})
	require.NoError(t, err)

	child := tr.Root().getChild(1)
	require.NotNil(t, child)
	v := child.ValueCopy()
	_, hasW1 := v["w1"]
	assert.False(t, hasW1)
	assert.Equal(t, []uint32{11, 21, 31}, v["w2"])
}

func TestDeleteLastWorkerPrunesNode(t *testing.T) {
	tr := New()
	_, _ = tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))

	_, err := tr.ApplyOp(treeop.Op{
		Type:       treeop.Delete,
		WorkerID:   "w1",
		ParentPath: [][]uint32{{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Nil(t, tr.Root().getChild(1))
}

func TestEvictByWorkerPrunesAcrossTree(t *testing.T) {
	tr := New()
	_, _ = tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))
	_, _ = tr.ApplyOp(insertOp("w2", []uint32{1, 2, 7}, []uint32{10, 20, 70}))

	tr.EvictByWorker("w1", tr.GlobalVersion()+1)

	interior := tr.Root().getChild(1)
	require.NotNil(t, interior)
	assert.Nil(t, interior.getChild(3))
	assert.NotNil(t, interior.getChild(7))
}

func TestSnapshotWalkPreservesFrozenState(t *testing.T) {
	tr := New()
	_, _ = tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))

	vSnap, _ := tr.BeginSnapshot()

	_, err := tr.ApplyOp(insertOp("w2", []uint32{1, 2, 3}, []uint32{11, 21, 31}))
	require.NoError(t, err)

	nodes := tr.Walk(vSnap)
	var leaf *SnapshotNode
	for i := range nodes {
		if len(nodes[i].EdgeKey) > 0 && nodes[i].EdgeKey[0] == 1 {
			leaf = &nodes[i]
		}
	}
	require.NotNil(t, leaf)
	_, hasW2 := leaf.Value["w2"]
	assert.False(t, hasW2, "snapshot view must not see the mutation that happened after BeginSnapshot")

	live := tr.Root().getChild(1).ValueCopy()
	assert.Contains(t, live, "w2")

	tr.EndSnapshot()
}

func TestBatcherOrdersOutOfOrderBatches(t *testing.T) {
	tr := New()
	b := NewBatcher(tr, nil)

	res2 := b.ApplyBatch("sentry-a", 2, []treeop.Op{insertOp("w1", []uint32{9}, []uint32{90})})
	assert.Nil(t, res2, "batch 2 must buffer until batch 1 arrives")

	res1 := b.ApplyBatch("sentry-a", 1, []treeop.Op{insertOp("w1", []uint32{1}, []uint32{10})})
	require.Len(t, res1, 1)

	dup := b.ApplyBatch("sentry-a", 1, []treeop.Op{insertOp("w1", []uint32{1}, []uint32{10})})
	assert.Nil(t, dup, "replaying an already-applied sentry_ops_id must be ignored")

	assert.NotNil(t, tr.Root().getChild(1))
	assert.NotNil(t, tr.Root().getChild(9))
}

func TestRebuildFromSnapshotRoundTrip(t *testing.T) {
	tr := New()
	_, _ = tr.ApplyOp(insertOp("w1", []uint32{1, 2, 3}, []uint32{10, 20, 30}))
	_, _ = tr.ApplyOp(insertOp("w2", []uint32{1, 2, 7}, []uint32{10, 20, 70}))

	nodes := tr.Walk(tr.GlobalVersion())
	rebuilt := RebuildFromSnapshot(nodes)
	got := rebuilt.Walk(rebuilt.GlobalVersion())

	require.Equal(t, len(nodes), len(got))
	byID := make(map[uint64]SnapshotNode, len(got))
	for _, n := range got {
		byID[n.ID] = n
	}
	for _, want := range nodes {
		have, ok := byID[want.ID]
		require.True(t, ok)
		assert.Equal(t, want.EdgeKey, have.EdgeKey)
		assert.Equal(t, want.Value, have.Value)
		assert.ElementsMatch(t, want.ChildIDs, have.ChildIDs)
	}
}
