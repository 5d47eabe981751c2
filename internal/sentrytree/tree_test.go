package sentrytree

import (
	"sort"
	"testing"

	"github.com/nexuts-io/nexuts/internal/treeop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertOp(key, value []uint32) treeop.Op {
	return treeop.Op{Type: treeop.Insert, Key: key, Value: value}
}

func TestInsertSimple(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 3}, []uint32{10, 20, 30})))

	child := tr.Root().getChild(1)
	require.NotNil(t, child)
	assert.Equal(t, []uint32{1, 2, 3}, child.EdgeKey())
	assert.Equal(t, []uint32{10, 20, 30}, child.Value())
}

// TestInsertSplitOnPartialMatch mirrors spec.md scenario S2: inserting
// [1,2,3,4,5] then [1,2,7] must split the shared [1,2] prefix off into an
// interior node with two children.
func TestInsertSplitOnPartialMatch(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 3, 4, 5}, []uint32{10, 20, 30, 40, 50})))
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 7}, []uint32{10, 20, 70})))

	interior := tr.Root().getChild(1)
	require.NotNil(t, interior)
	assert.Equal(t, []uint32{1, 2}, interior.EdgeKey())

	left := interior.getChild(3)
	require.NotNil(t, left)
	assert.Equal(t, []uint32{3, 4, 5}, left.EdgeKey())
	assert.Equal(t, []uint32{30, 40, 50}, left.Value())

	right := interior.getChild(7)
	require.NotNil(t, right)
	assert.Equal(t, []uint32{7}, right.EdgeKey())
	assert.Equal(t, []uint32{70}, right.Value())
}

func TestSplitNoOpAtFullLength(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 3}, []uint32{1, 2, 3})))
	child := tr.Root().getChild(1)

	err := tr.ApplyOp(treeop.Op{
		Type:        treeop.Split,
		ParentPath:  [][]uint32{{1, 2, 3}},
		SplitLength: len(child.EdgeKey()),
	})
	require.NoError(t, err)
	// Structure unchanged: still a single leaf under root.
	assert.Equal(t, []uint32{1, 2, 3}, tr.Root().getChild(1).EdgeKey())
}

func TestDeleteWholeSubtree(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 3}, []uint32{1, 2, 3})))

	err := tr.ApplyOp(treeop.Op{Type: treeop.Delete, ParentPath: [][]uint32{{1, 2, 3}}})
	require.NoError(t, err)
	assert.Nil(t, tr.Root().getChild(1))
}

func TestDeleteUnknownPathIsNotFound(t *testing.T) {
	tr := New()
	err := tr.ApplyOp(treeop.Op{Type: treeop.Delete, ParentPath: [][]uint32{{9, 9}}})
	assert.Error(t, err)
}

func TestDeletePartialEdgeSplitsFirst(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 3, 4}, []uint32{1, 2, 3, 4})))

	// Delete only the tail [3,4], keeping [1,2] alive.
	err := tr.ApplyOp(treeop.Op{
		Type:        treeop.Delete,
		ParentPath:  [][]uint32{{1, 2, 3, 4}},
		SplitLength: 2,
	})
	require.NoError(t, err)

	remaining := tr.Root().getChild(1)
	require.NotNil(t, remaining)
	assert.Equal(t, []uint32{1, 2}, remaining.EdgeKey())
	assert.Empty(t, remaining.children)
}

func TestRecordRoundTrip(t *testing.T) {
	tr := New()
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 3}, []uint32{10, 20, 30})))
	require.NoError(t, tr.ApplyOp(insertOp([]uint32{1, 2, 7}, []uint32{10, 20, 70})))

	rec := tr.ToRecord()
	rebuilt := FromRecord(rec)

	got := rebuilt.ToRecord()
	// ToRecord lists children in map order, so nested levels are sorted by
	// first token before comparing.
	sortRecords(rec.Children)
	sortRecords(got.Children)
	assert.ElementsMatch(t, rec.Children, got.Children)
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key[0] < recs[j].Key[0] })
	for i := range recs {
		sortRecords(recs[i].Children)
	}
}
