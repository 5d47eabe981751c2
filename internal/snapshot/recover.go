package snapshot

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/nexuts-io/nexuts/internal/mergetree"
	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/wal"
)

// Recover loads the newest snapshot under snapDir (if any), then replays
// log.logs/log2.logs under walDir on top of it, skipping any entry
// already reflected in the snapshot (spec §4.3 "Recovery", §4.4 "Crash
// truncation"). An unreadable snapshot falls back to an empty tree and
// replays the WAL from scratch (spec §7 "Corruption").
func Recover(snapDir, walDir string) (*mergetree.Tree, error) {
	tree, vSnap, err := loadLatest(snapDir)
	if err != nil {
		return nil, err
	}

	entries, err := wal.Recover(walDir)
	if err != nil {
		return nil, nexerr.Corruption("snapshot.Recover", err)
	}
	for _, e := range entries {
		if e.GlobalVersion <= vSnap {
			continue
		}
		if err := tree.ReplayOp(e.GlobalVersion, e.Op); err != nil {
			// Validation/NotFound on replay means the entry was already
			// applied or the op itself was rejected originally; either
			// way replay must not abort (spec §7 policy: idempotent
			// application makes retries safe).
			continue
		}
	}
	return tree, nil
}

func loadLatest(snapDir string) (*mergetree.Tree, uint64, error) {
	entries, err := os.ReadDir(snapDir)
	if err != nil {
		if os.IsNotExist(err) {
			return mergetree.New(), 0, nil
		}
		return nil, 0, nexerr.Fatal("snapshot.loadLatest", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".snap" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return mergetree.New(), 0, nil
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	raw, err := os.ReadFile(filepath.Join(snapDir, latest))
	if err != nil {
		return mergetree.New(), 0, nil // fall back to empty tree, replay WAL from scratch
	}
	f, err := decode(raw)
	if err != nil {
		return mergetree.New(), 0, nil
	}

	tree := mergetree.RebuildFromSnapshot(f.Nodes)
	tree.RestoreVersions(f.GlobalVersion, f.FinishedVersion)
	return tree, f.GlobalVersion, nil
}
