package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexuts-io/nexuts/internal/treeop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	op := treeop.Op{Type: treeop.Insert, WorkerID: "w1", Key: []uint32{1, 2}, Value: []uint32{10, 20}}
	require.NoError(t, m.Append("sentry-a", 1, op, 1))
	require.NoError(t, m.Append("sentry-a", 2, op, 2))
	require.NoError(t, m.Close())

	entries, err := Recover(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].GlobalVersion)
	assert.Equal(t, "sentry-a", entries[0].SentryID)
	assert.Equal(t, op.Key, entries[0].Op.Key)
}

func TestRecoverTruncatesPartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"global_version":1,"op":{"op_type":"insert_node"}}`+"\n"+`{"global_version":2,"op":`), 0o644))

	entries, err := Recover(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].GlobalVersion)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}

func TestRotateAndCommitNewLog(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	op := treeop.Op{Type: treeop.Insert, Key: []uint32{1}, Value: []uint32{1}, WorkerID: "w1"}
	require.NoError(t, m.Append("s", 1, op, 1))

	require.NoError(t, m.Rotate(1))
	require.FileExists(t, filepath.Join(dir, rotatedFileName))

	require.NoError(t, m.Append("s", 2, op, 2))
	require.NoError(t, m.CommitNewLog())

	_, err = os.Stat(filepath.Join(dir, rotatedFileName))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, m.Close())

	entries, err := Recover(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
