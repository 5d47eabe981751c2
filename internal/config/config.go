// Package config loads the IC and Sentry JSON configuration documents,
// mirroring original_source/Nexuts/utils/utils.py's load_config: a flat
// JSON file decoded into a typed struct with defaults filled in for any
// omitted field.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// Weights mirrors the load_balancing_weights config block.
type Weights struct {
	Prealloc float64 `json:"prealloc"`
	Inflight float64 `json:"inflight"`
}

// IC is the Information Center's configuration (spec §6
// "Configuration (IC)").
type IC struct {
	ListenAddr              string  `json:"listen_addr"`
	SentryHeartbeatSeconds  float64 `json:"sentry_hearbeat"`
	LoadBalancingWeights    Weights `json:"load_balancing_weights"`
	BalanceThreshold        float64 `json:"balance_threshold"`
	WalManagerDir           string  `json:"WalManager_dir"`
	SnapshotDir             string  `json:"snapshot_dir"`
	SnapshotIntervalSeconds int     `json:"snapshot_interval_seconds"`
	Resume                  bool    `json:"resume"`
	DBPath                  string  `json:"db_path"`
}

// SentryHeartbeatInterval converts SentryHeartbeatSeconds to a Duration.
func (c IC) SentryHeartbeatInterval() time.Duration {
	return time.Duration(c.SentryHeartbeatSeconds * float64(time.Second))
}

// SnapshotInterval converts SnapshotIntervalSeconds to a Duration.
func (c IC) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

func icDefaults() IC {
	return IC{
		ListenAddr:              ":8080",
		SentryHeartbeatSeconds:  5,
		LoadBalancingWeights:    Weights{Prealloc: 0.3, Inflight: 0.7},
		BalanceThreshold:        0.3,
		WalManagerDir:           "./data/wal",
		SnapshotDir:             "./data/snapshots",
		SnapshotIntervalSeconds: 600,
		Resume:                  true,
		DBPath:                  "./data/info_center.db",
	}
}

// NexutsAPI is the IC address and endpoint paths a Sentry posts to,
// mirroring push_to_nexuts.py's nexuts_api_url config block.
type NexutsAPI struct {
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	RegisterPod    string `json:"resister_pod"`
	PostUpdate     string `json:"post_update"`
	DeregisterPod  string `json:"deregister_pod"`
	SetStatus      string `json:"set_status"`
}

// RedisConfig is the durable-queue connection block.
type RedisConfig struct {
	Host  string `json:"redis_host"`
	Port  int    `json:"redis_port"`
	DB    int    `json:"redis_db"`
	Clear bool   `json:"clear"`
}

// Sentry is one sentry process's configuration.
type Sentry struct {
	ListenAddr         string      `json:"listen_addr"`
	SentryID           string      `json:"sentry_id"`
	SentryPort         int         `json:"sentry_port"`
	InstanceDBPath     string      `json:"instance_db_path"`
	HealthIntervalSecs float64     `json:"health_interval"`
	SendNexutsCycleSec float64     `json:"send_nexuts_cycle"`
	NexutsAPIURL       NexutsAPI   `json:"nexuts_api_url"`
	Redis              RedisConfig `json:"redis"`
}

// HealthInterval converts HealthIntervalSecs to a Duration.
func (c Sentry) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSecs * float64(time.Second))
}

// SendNexutsCycle converts SendNexutsCycleSec to a Duration.
func (c Sentry) SendNexutsCycle() time.Duration {
	return time.Duration(c.SendNexutsCycleSec * float64(time.Second))
}

func sentryDefaults() Sentry {
	return Sentry{
		ListenAddr:         ":9090",
		HealthIntervalSecs: 10,
		SendNexutsCycleSec: 1,
		InstanceDBPath:     "./data/sentry_instances.db",
		Redis:              RedisConfig{Host: "127.0.0.1", Port: 6379, DB: 0},
	}
}

// LoadIC reads and decodes an IC configuration file at path, filling
// omitted fields with defaults.
func LoadIC(path string) (IC, error) {
	cfg := icDefaults()
	if err := decodeInto(path, &cfg); err != nil {
		return IC{}, err
	}
	return cfg, nil
}

// LoadSentry reads and decodes a Sentry configuration file at path,
// filling omitted fields with defaults.
func LoadSentry(path string) (Sentry, error) {
	cfg := sentryDefaults()
	if err := decodeInto(path, &cfg); err != nil {
		return Sentry{}, err
	}
	return cfg, nil
}

func decodeInto(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nexerr.Fatal("config.decodeInto", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return nexerr.Fatal("config.decodeInto", err)
	}
	return nil
}
