package wal

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// Rotate switches the active write file from log.logs to log2.logs,
// prepending the last lineN complete lines of the old log so the tail WAL
// alone, after commit, carries everything needed to catch a snapshot up
// to the latest state (spec §4.3 step 2). Blocks until everything queued
// ahead of the rotation has been flushed.
func (m *Manager) Rotate(lineN int) error {
	m.barrierFlush()

	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	if err := m.file.Sync(); err != nil {
		return nexerr.Transient("wal.Rotate", err)
	}
	if err := m.file.Close(); err != nil {
		return nexerr.Transient("wal.Rotate", err)
	}

	var prepend []byte
	if lineN > 0 {
		lines, err := readCompleteLines(m.logPath)
		if err != nil {
			return nexerr.Transient("wal.Rotate", err)
		}
		start := len(lines) - lineN
		if start < 0 {
			start = 0
		}
		var buf bytes.Buffer
		for _, l := range lines[start:] {
			buf.Write(l)
			buf.WriteByte('\n')
		}
		prepend = buf.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(m.rotatedPath), 0o755); err != nil {
		return nexerr.Fatal("wal.Rotate", err)
	}
	if err := os.WriteFile(m.rotatedPath, prepend, 0o644); err != nil {
		return nexerr.Transient("wal.Rotate", err)
	}

	f, err := os.OpenFile(m.rotatedPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nexerr.Fatal("wal.Rotate", err)
	}
	m.file = f
	return nil
}

// CommitNewLog renames log2.logs back to log.logs and fsyncs the
// containing directory, completing a snapshot's WAL rotation (spec §4.3
// step 5).
func (m *Manager) CommitNewLog() error {
	m.barrierFlush()

	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	if err := m.file.Sync(); err != nil {
		return nexerr.Transient("wal.CommitNewLog", err)
	}
	if err := m.file.Close(); err != nil {
		return nexerr.Transient("wal.CommitNewLog", err)
	}

	if err := os.Rename(m.rotatedPath, m.logPath); err != nil {
		return nexerr.Transient("wal.CommitNewLog", err)
	}
	if err := fsyncDir(filepath.Dir(m.logPath)); err != nil {
		m.log.Warn("wal directory fsync failed", "error", err)
	}

	f, err := os.OpenFile(m.logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nexerr.Fatal("wal.CommitNewLog", err)
	}
	m.file = f
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
