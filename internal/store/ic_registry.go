package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// SentryRecord mirrors one row of the IC's sentry table.
type SentryRecord struct {
	SentryID   string
	IP         string
	Port       int
	LastUpdate time.Time
}

// InstanceRegistration mirrors one row of the IC's instance table
// (persistence/sqlite_storage.py).
type InstanceRegistration struct {
	SentryID    string
	InstanceID  string
	PodType     string
	ServicePort int
	TPSize      int
	BaseGPUID   int
	Step        int
	Status      bool
}

// Registry is the IC's fleet-wide sentry/instance registry.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if absent) the sqlite file at path and
// ensures the sentry/instance tables exist.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nexerr.Fatal("store.OpenRegistry", err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS sentry (
			sentry_id TEXT PRIMARY KEY,
			ip TEXT,
			port INTEGER,
			last_update REAL
		);
		CREATE TABLE IF NOT EXISTS instance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sentry_id TEXT,
			instance_id TEXT,
			pod_type TEXT,
			service_port INTEGER,
			tp_size INTEGER,
			base_gpu_id INTEGER,
			step INTEGER,
			status INTEGER,
			last_update REAL
		);`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, nexerr.Fatal("store.OpenRegistry", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// SaveSentry upserts one sentry's address.
func (r *Registry) SaveSentry(ctx context.Context, sentryID, ip string, port int) error {
	const q = `INSERT INTO sentry(sentry_id, ip, port, last_update) VALUES(?,?,?,?)
		ON CONFLICT(sentry_id) DO UPDATE SET ip=excluded.ip, port=excluded.port, last_update=excluded.last_update`
	if _, err := r.db.ExecContext(ctx, q, sentryID, ip, port, float64(time.Now().Unix())); err != nil {
		return nexerr.Transient("store.Registry.SaveSentry", err)
	}
	return nil
}

// SaveInstance records a new instance registration row under a sentry.
func (r *Registry) SaveInstance(ctx context.Context, reg InstanceRegistration) error {
	const q = `INSERT INTO instance(sentry_id, instance_id, pod_type, service_port, tp_size, base_gpu_id, step, status, last_update)
		VALUES(?,?,?,?,?,?,?,?,?)`
	status := 0
	if reg.Status {
		status = 1
	}
	if _, err := r.db.ExecContext(ctx, q, reg.SentryID, reg.InstanceID, reg.PodType, reg.ServicePort, reg.TPSize, reg.BaseGPUID, reg.Step, status, float64(time.Now().Unix())); err != nil {
		return nexerr.Transient("store.Registry.SaveInstance", err)
	}
	return nil
}

// SetInstanceStatus sets the status flag for all rows matching instanceID.
func (r *Registry) SetInstanceStatus(ctx context.Context, instanceID string, status bool) error {
	s := 0
	if status {
		s = 1
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE instance SET status = ? WHERE instance_id = ?`, s, instanceID); err != nil {
		return nexerr.Transient("store.Registry.SetInstanceStatus", err)
	}
	return nil
}

// MarkSentryInstancesUnschedulable flips every instance under sentryID to
// status=false without deleting them, used when a sentry stops answering
// its heartbeat (spec §4.6).
func (r *Registry) MarkSentryInstancesUnschedulable(ctx context.Context, sentryID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE instance SET status = 0 WHERE sentry_id = ?`, sentryID); err != nil {
		return nexerr.Transient("store.Registry.MarkSentryInstancesUnschedulable", err)
	}
	return nil
}

// DeleteSentry removes a sentry and every instance it owns.
func (r *Registry) DeleteSentry(ctx context.Context, sentryID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nexerr.Transient("store.Registry.DeleteSentry", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sentry WHERE sentry_id = ?`, sentryID); err != nil {
		return nexerr.Transient("store.Registry.DeleteSentry", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instance WHERE sentry_id = ?`, sentryID); err != nil {
		return nexerr.Transient("store.Registry.DeleteSentry", err)
	}
	if err := tx.Commit(); err != nil {
		return nexerr.Transient("store.Registry.DeleteSentry", err)
	}
	return nil
}

// DeleteInstance removes one instance row under a given sentry.
func (r *Registry) DeleteInstance(ctx context.Context, sentryID, instanceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM instance WHERE sentry_id = ? AND instance_id = ?`, sentryID, instanceID); err != nil {
		return nexerr.Transient("store.Registry.DeleteInstance", err)
	}
	return nil
}

// FleetView is the result of LoadAll: every sentry with its instances.
type FleetView struct {
	IP        string
	Port      int
	Instances []InstanceRegistration
}

// LoadAll rebuilds the in-memory fleet view on IC startup.
func (r *Registry) LoadAll(ctx context.Context) (map[string]*FleetView, error) {
	sentryRows, err := r.db.QueryContext(ctx, `SELECT sentry_id, ip, port FROM sentry`)
	if err != nil {
		return nil, nexerr.Transient("store.Registry.LoadAll", err)
	}
	result := make(map[string]*FleetView)
	for sentryRows.Next() {
		var id, ip string
		var port int
		if err := sentryRows.Scan(&id, &ip, &port); err != nil {
			sentryRows.Close()
			return nil, nexerr.Transient("store.Registry.LoadAll", err)
		}
		result[id] = &FleetView{IP: ip, Port: port}
	}
	if err := sentryRows.Err(); err != nil {
		sentryRows.Close()
		return nil, nexerr.Transient("store.Registry.LoadAll", err)
	}
	sentryRows.Close()

	instRows, err := r.db.QueryContext(ctx, `SELECT sentry_id, instance_id, pod_type, service_port, tp_size, base_gpu_id, step, status FROM instance`)
	if err != nil {
		return nil, nexerr.Transient("store.Registry.LoadAll", err)
	}
	defer instRows.Close()
	for instRows.Next() {
		var reg InstanceRegistration
		var status int
		if err := instRows.Scan(&reg.SentryID, &reg.InstanceID, &reg.PodType, &reg.ServicePort, &reg.TPSize, &reg.BaseGPUID, &reg.Step, &status); err != nil {
			return nil, nexerr.Transient("store.Registry.LoadAll", err)
		}
		reg.Status = status != 0
		if fv, ok := result[reg.SentryID]; ok {
			fv.Instances = append(fv.Instances, reg)
		}
	}
	if err := instRows.Err(); err != nil {
		return nil, nexerr.Transient("store.Registry.LoadAll", err)
	}
	return result, nil
}

// ClearAll truncates both tables without dropping them (used when
// config.resume is false, matching clear_all()'s semantics).
func (r *Registry) ClearAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sentry`); err != nil {
		return nexerr.Transient("store.Registry.ClearAll", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM instance`); err != nil {
		return nexerr.Transient("store.Registry.ClearAll", err)
	}
	return nil
}
