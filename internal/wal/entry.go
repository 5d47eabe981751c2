package wal

import (
	"encoding/json"

	"github.com/nexuts-io/nexuts/internal/treeop"
)

// Entry is one durable record of a single applied op, written one per
// line as JSON (spec §4.4 "Write path", §6 "log.logs").
type Entry struct {
	GlobalVersion uint64     `json:"global_version"`
	SentryID      string     `json:"sentry_id,omitempty"`
	SentryOpsID   uint64     `json:"sentry_ops_id,omitempty"`
	Op            treeop.Op  `json:"op"`
	Timestamp     int64      `json:"timestamp,omitempty"`
}

func (e Entry) marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func unmarshalEntry(line []byte) (Entry, bool) {
	var e Entry
	if len(line) == 0 {
		return Entry{}, false
	}
	if err := json.Unmarshal(line, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}
