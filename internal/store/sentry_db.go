// Package store wraps the two sqlite registries spec.md §6 describes:
// the Sentry's local instance registry and the Information Center's
// sentry/instance registry, both grounded on the source's sqlite3
// schemas (InstanceDB.py, persistence/sqlite_storage.py) and realized
// here over database/sql with modernc.org/sqlite, the pure-Go driver.
package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// InstanceRecord mirrors one row of the Sentry-side instances table
// (InstanceDB.py's schema).
type InstanceRecord struct {
	InstanceID   string
	InstanceType string
	NodeIP       string
	ServicePort  int
	TPSize       int
	BaseGPUID    int
	Step         int
}

// SentryDB persists the worker instances one Sentry currently manages,
// so a restart can reseed without waiting for workers to re-announce.
type SentryDB struct {
	db *sql.DB
}

// OpenSentryDB opens (creating if absent) the sqlite file at path and
// ensures the instances table exists.
func OpenSentryDB(path string) (*SentryDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nexerr.Fatal("store.OpenSentryDB", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS instances (
		instance_id TEXT PRIMARY KEY,
		instance_type TEXT NOT NULL,
		node_ip TEXT NOT NULL,
		service_port INTEGER NOT NULL,
		tp_size INTEGER NOT NULL,
		base_gpu_id INTEGER NOT NULL,
		step INTEGER NOT NULL
	)`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, nexerr.Fatal("store.OpenSentryDB", err)
	}
	return &SentryDB{db: db}, nil
}

func (s *SentryDB) Close() error { return s.db.Close() }

// Upsert inserts or replaces one instance's registration row.
func (s *SentryDB) Upsert(ctx context.Context, rec InstanceRecord) error {
	const q = `INSERT INTO instances (instance_id, instance_type, node_ip, service_port, tp_size, base_gpu_id, step)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			instance_type=excluded.instance_type,
			node_ip=excluded.node_ip,
			service_port=excluded.service_port,
			tp_size=excluded.tp_size,
			base_gpu_id=excluded.base_gpu_id,
			step=excluded.step`
	if _, err := s.db.ExecContext(ctx, q, rec.InstanceID, rec.InstanceType, rec.NodeIP, rec.ServicePort, rec.TPSize, rec.BaseGPUID, rec.Step); err != nil {
		return nexerr.Transient("store.SentryDB.Upsert", err)
	}
	return nil
}

// Delete removes one instance's registration row.
func (s *SentryDB) Delete(ctx context.Context, instanceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = ?`, instanceID); err != nil {
		return nexerr.Transient("store.SentryDB.Delete", err)
	}
	return nil
}

// All returns every registered instance, for restart reseeding.
func (s *SentryDB) All(ctx context.Context) ([]InstanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, instance_type, node_ip, service_port, tp_size, base_gpu_id, step FROM instances`)
	if err != nil {
		return nil, nexerr.Transient("store.SentryDB.All", err)
	}
	defer rows.Close()

	var out []InstanceRecord
	for rows.Next() {
		var rec InstanceRecord
		if err := rows.Scan(&rec.InstanceID, &rec.InstanceType, &rec.NodeIP, &rec.ServicePort, &rec.TPSize, &rec.BaseGPUID, &rec.Step); err != nil {
			return nil, nexerr.Transient("store.SentryDB.All", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nexerr.Transient("store.SentryDB.All", err)
	}
	return out, nil
}

// Get looks up a single instance by id.
func (s *SentryDB) Get(ctx context.Context, instanceID string) (InstanceRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT instance_id, instance_type, node_ip, service_port, tp_size, base_gpu_id, step FROM instances WHERE instance_id = ?`, instanceID)
	var rec InstanceRecord
	err := row.Scan(&rec.InstanceID, &rec.InstanceType, &rec.NodeIP, &rec.ServicePort, &rec.TPSize, &rec.BaseGPUID, &rec.Step)
	if err == sql.ErrNoRows {
		return InstanceRecord{}, false, nil
	}
	if err != nil {
		return InstanceRecord{}, false, nexerr.Transient("store.SentryDB.Get", err)
	}
	return rec, true, nil
}
