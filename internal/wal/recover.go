package wal

import (
	"os"
	"path/filepath"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// Recover scans log.logs (and log2.logs, if present, in that order),
// truncating each to its last complete '\n'-terminated line before
// parsing (spec §4.3 "Recovery", §4.4 "Crash truncation"). It must be
// called before Open's flusher goroutine is writing to either file.
func Recover(dir string) ([]Entry, error) {
	logPath := filepath.Join(dir, logFileName)
	rotatedPath := filepath.Join(dir, rotatedFileName)

	if err := truncateToLastNewline(logPath); err != nil {
		return nil, nexerr.Corruption("wal.Recover", err)
	}

	var entries []Entry
	logEntries, err := readAndParse(logPath)
	if err != nil {
		return nil, nexerr.Corruption("wal.Recover", err)
	}
	entries = append(entries, logEntries...)

	if _, err := os.Stat(rotatedPath); err == nil {
		if err := truncateToLastNewline(rotatedPath); err != nil {
			return nil, nexerr.Corruption("wal.Recover", err)
		}
		rotatedEntries, err := readAndParse(rotatedPath)
		if err != nil {
			return nil, nexerr.Corruption("wal.Recover", err)
		}
		entries = append(entries, rotatedEntries...)
	}
	return entries, nil
}

func readAndParse(path string) ([]Entry, error) {
	lines, err := readCompleteLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(lines))
	for _, l := range lines {
		if e, ok := unmarshalEntry(l); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// truncateToLastNewline drops any partial trailing entry left by a crash
// mid-write (spec §4.4 "Crash truncation").
func truncateToLastNewline(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		return err
	}
	if data[len(data)-1] == '\n' {
		return nil
	}
	idx := -1
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == '\n' {
			idx = i
			break
		}
	}
	if err := f.Truncate(int64(idx + 1)); err != nil {
		return err
	}
	return f.Sync()
}
