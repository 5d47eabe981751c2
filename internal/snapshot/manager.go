// Package snapshot implements the control plane's copy-on-write snapshot
// protocol (spec.md C5, §4.3): coordinating the merge tree's version
// bookkeeping with the WAL's rotate/commit primitives to produce a
// consistent point-in-time image without blocking mutators.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nexuts-io/nexuts/internal/mergetree"
	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/wal"
)

// WAL is the subset of *wal.Manager the snapshot manager drives.
type WAL interface {
	Rotate(lineN int) error
	CommitNewLog() error
}

var _ WAL = (*wal.Manager)(nil)

// Manager periodically takes a consistent snapshot of a merge tree and
// rotates its WAL around the snapshot boundary.
type Manager struct {
	tree *mergetree.Tree
	wal  WAL
	dir  string
	log  *slog.Logger
}

// New wires tree and wal to produce snapshots under dir.
func New(tree *mergetree.Tree, w WAL, dir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{tree: tree, wal: w, dir: dir, log: log}
}

// Run takes a snapshot every interval until ctx is cancelled (spec §6
// configuration "snapshot_interval_seconds"). A snapshot in progress at
// shutdown completes before Run returns (spec §5 "Cancellation").
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.TakeSnapshot(); err != nil {
				m.log.Error("snapshot failed", "error", err)
			}
		}
	}
}

// TakeSnapshot executes the five-step protocol from spec §4.3.
func (m *Manager) TakeSnapshot() error {
	vSnap, fSnap := m.tree.BeginSnapshot()
	defer m.tree.EndSnapshot()

	lineN := int(vSnap - fSnap)
	if err := m.wal.Rotate(lineN); err != nil {
		return nexerr.Transient("snapshot.TakeSnapshot", err)
	}

	nodes := m.tree.Walk(vSnap)

	if err := m.writeFile(vSnap, fSnap, nodes); err != nil {
		return err
	}

	if err := m.wal.CommitNewLog(); err != nil {
		return nexerr.Transient("snapshot.TakeSnapshot", err)
	}

	if err := m.cleanup(); err != nil {
		m.log.Warn("snapshot cleanup failed", "error", err)
	}
	return nil
}

func (m *Manager) writeFile(vSnap, fSnap uint64, nodes []mergetree.SnapshotNode) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nexerr.Fatal("snapshot.writeFile", err)
	}

	payload, err := encode(file{GlobalVersion: vSnap, FinishedVersion: fSnap, Nodes: nodes})
	if err != nil {
		return err
	}

	name := fmt.Sprintf("snap_%s_%d_%d.snap", time.Now().Format("20060102_150405"), vSnap, len(nodes))
	finalPath := filepath.Join(m.dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nexerr.Transient("snapshot.writeFile", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return nexerr.Transient("snapshot.writeFile", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nexerr.Transient("snapshot.writeFile", err)
	}
	if err := f.Close(); err != nil {
		return nexerr.Transient("snapshot.writeFile", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nexerr.Transient("snapshot.writeFile", err)
	}
	return nil
}

// cleanup removes every snapshot file but the newest (spec §4.3 "Cleanup").
func (m *Manager) cleanup() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".snap" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= 1 {
		return nil
	}
	sort.Strings(names) // timestamp-prefixed names sort chronologically
	for _, n := range names[:len(names)-1] {
		if err := os.Remove(filepath.Join(m.dir, n)); err != nil {
			m.log.Warn("failed to remove old snapshot", "file", n, "error", err)
		}
	}
	return nil
}
