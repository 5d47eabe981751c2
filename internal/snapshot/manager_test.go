package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/nexuts-io/nexuts/internal/mergetree"
	"github.com/nexuts-io/nexuts/internal/treeop"
	"github.com/nexuts-io/nexuts/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertOp(worker string, key, value []uint32) treeop.Op {
	return treeop.Op{Type: treeop.Insert, WorkerID: worker, Key: key, Value: value}
}

func TestTakeSnapshotThenRecoverRoundTrip(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()

	w, err := wal.Open(walDir)
	require.NoError(t, err)

	tree := mergetree.New()
	b := mergetree.NewBatcher(tree, w)

	require.NotNil(t, b.ApplyBatch("sentry-a", 1, []treeop.Op{insertOp("w1", []uint32{10, 20, 30}, []uint32{1, 2, 3})}))

	mgr := New(tree, w, snapDir, nil)
	require.NoError(t, mgr.TakeSnapshot())

	require.NotNil(t, b.ApplyBatch("sentry-a", 2, []treeop.Op{insertOp("w1", []uint32{10, 20, 40}, []uint32{1, 2, 9})}))
	require.NoError(t, w.Close())

	recovered, err := Recover(snapDir, walDir)
	require.NoError(t, err)

	got := recovered.SearchInstancesWithPrefix([]uint32{10, 20})
	assert.Equal(t, []string{"w1"}, got)

	child30 := recovered.Root().Child(10).Child(30)
	require.NotNil(t, child30)
	assert.Equal(t, []uint32{3}, child30.ValueCopy()["w1"])

	child40 := recovered.Root().Child(10).Child(40)
	require.NotNil(t, child40)
	assert.Equal(t, []uint32{9}, child40.ValueCopy()["w1"])
}

func TestCleanupKeepsOnlyNewestSnapshot(t *testing.T) {
	snapDir := t.TempDir()
	tree := mergetree.New()
	mgr := New(tree, noopWAL{}, snapDir, nil)

	require.NoError(t, mgr.writeFile(1, 0, tree.Walk(1)))
	require.NoError(t, mgr.writeFile(2, 1, tree.Walk(2)))
	require.NoError(t, mgr.cleanup())

	files, err := filepath.Glob(filepath.Join(snapDir, "*.snap"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

type noopWAL struct{}

func (noopWAL) Rotate(int) error     { return nil }
func (noopWAL) CommitNewLog() error  { return nil }
