// Package wal implements the control plane's write-ahead log (spec.md
// C4): a single append-only file, a group-commit flusher goroutine, and
// the barrier-flush primitive the snapshot manager uses to rotate and
// commit WAL files around a consistent point (spec §4.3/§4.4).
package wal

import (
	"bufio"
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/treeop"
)

const (
	defaultFlushInterval = 10 * time.Millisecond
	defaultMaxBatch      = 4096
	logFileName          = "log.logs"
	rotatedFileName      = "log2.logs"
)

type queuedWrite struct {
	data []byte
	done chan struct{}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithFlushInterval overrides the flusher's idle poll interval.
func WithFlushInterval(d time.Duration) Option {
	return func(m *Manager) { m.flushInterval = d }
}

// WithMaxBatch overrides how many queued entries one flush cycle drains.
func WithMaxBatch(n int) Option {
	return func(m *Manager) { m.maxBatch = n }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns one WAL directory's active and rotated log files.
type Manager struct {
	dir          string
	logPath      string
	rotatedPath  string
	flushInterval time.Duration
	maxBatch     int
	log          *slog.Logger

	queueMu sync.Mutex
	queue   []*queuedWrite
	wake    chan struct{}

	fileMu sync.Mutex
	file   *os.File

	stop chan struct{}
	done chan struct{}
}

// Open creates or reopens the WAL directory's active log file and starts
// the background flusher goroutine.
func Open(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nexerr.Fatal("wal.Open", err)
	}
	m := &Manager{
		dir:           dir,
		logPath:       filepath.Join(dir, logFileName),
		rotatedPath:   filepath.Join(dir, rotatedFileName),
		flushInterval: defaultFlushInterval,
		maxBatch:      defaultMaxBatch,
		log:           slog.Default(),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	f, err := os.OpenFile(m.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nexerr.Fatal("wal.Open", err)
	}
	m.file = f

	go m.flusherLoop()
	return m, nil
}

// Append enqueues an Entry for durable writing, blocking until it (and
// everything ahead of it) has been fsynced (spec §4.4 "Durability
// contract" append(sync=true)). It satisfies mergetree.WAL so the merge
// tree's batcher can drive this Manager without importing it directly.
func (m *Manager) Append(sentryID string, sentryOpsID uint64, op treeop.Op, version uint64) error {
	entry := Entry{GlobalVersion: version, SentryID: sentryID, SentryOpsID: sentryOpsID, Op: op}
	data, err := entry.marshal()
	if err != nil {
		return nexerr.Validation("wal.Append", err)
	}
	m.enqueue(data, true)
	return nil
}

// AppendSentryEntry is the Sentry-side equivalent of Append: it writes an
// entry carrying only the op, with no global_version or sentry id.
func (m *Manager) AppendSentryEntry(op treeop.Op) error {
	data, err := Entry{Op: op}.marshal()
	if err != nil {
		return nexerr.Validation("wal.AppendSentryEntry", err)
	}
	m.enqueue(data, true)
	return nil
}

func (m *Manager) enqueue(data []byte, sync bool) bool {
	qw := &queuedWrite{data: data, done: make(chan struct{})}
	m.queueMu.Lock()
	m.queue = append(m.queue, qw)
	m.queueMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	if !sync {
		return true
	}
	<-qw.done
	return true
}

// barrierFlush inserts a no-op entry and blocks until it is persisted,
// used before rotate and commit (spec §4.4).
func (m *Manager) barrierFlush() {
	m.enqueue(nil, true)
}

func (m *Manager) collectBatch() []*queuedWrite {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	n := len(m.queue)
	if n > m.maxBatch {
		n = m.maxBatch
	}
	batch := m.queue[:n]
	m.queue = m.queue[n:]
	return batch
}

func (m *Manager) flusherLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			m.drainOnce()
			return
		case <-m.wake:
			m.drainOnce()
		case <-ticker.C:
			m.drainOnce()
		}
	}
}

func (m *Manager) drainOnce() {
	for {
		batch := m.collectBatch()
		if len(batch) == 0 {
			return
		}
		var buf bytes.Buffer
		for _, qw := range batch {
			buf.Write(qw.data)
		}

		m.fileMu.Lock()
		var writeErr error
		if buf.Len() > 0 {
			_, writeErr = m.file.Write(buf.Bytes())
			if writeErr == nil {
				writeErr = m.file.Sync()
			}
		}
		m.fileMu.Unlock()

		if writeErr != nil {
			m.log.Error("wal flush failed, will retry", "error", writeErr)
			// Per spec §7: a flush failure must not signal completion, so
			// the upstream mutator never observes a false acknowledgement.
			// Put the batch back at the head of the queue for the next
			// flush cycle to retry, rather than dropping it.
			m.requeueFront(batch)
			return
		}
		for _, qw := range batch {
			close(qw.done)
		}
	}
}

func (m *Manager) requeueFront(batch []*queuedWrite) {
	m.queueMu.Lock()
	m.queue = append(batch, m.queue...)
	m.queueMu.Unlock()
}

// Close stops the flusher after draining the queue and fsyncs the file.
func (m *Manager) Close() error {
	close(m.stop)
	<-m.done
	m.fileMu.Lock()
	defer m.fileMu.Unlock()
	if err := m.file.Sync(); err != nil {
		return nexerr.Transient("wal.Close", err)
	}
	return m.file.Close()
}

func readCompleteLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines [][]byte
	trailingNewline := data[len(data)-1] == '\n'
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if !trailingNewline && len(lines) > 0 {
		// The last scanned "line" was a partial, unterminated entry.
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
