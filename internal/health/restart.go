package health

import (
	"context"
	"log/slog"

	"github.com/nexuts-io/nexuts/internal/sentrytree"
	"github.com/nexuts-io/nexuts/internal/store"
)

// FullTreeFetcher fetches one worker's complete radix tree plus its
// last finished ops id, via GET /v1/radixtree/full (spec §6).
type FullTreeFetcher interface {
	FetchFullTree(ctx context.Context, instanceID string) (sentrytree.Record, uint64, error)
}

// Announcer re-announces a restored instance to the Information
// Center, matching call_back_deal_re_register_pod.
type Announcer interface {
	Announce(ctx context.Context, rec store.InstanceRecord) error
}

// RestoredInstance is one worker successfully reseeded on restart.
type RestoredInstance struct {
	Record store.InstanceRecord
	Tree   *sentrytree.Tree // nil for decode instances, which carry no tree
}

// Reseed implements register.py's load_from_sqlite: health-check every
// previously-known instance, drop the ones that no longer answer,
// pull a fresh radix tree plus ops_id_finished for prefill workers, and
// re-announce every survivor to the IC.
func Reseed(ctx context.Context, records []store.InstanceRecord, pinger WorkerPinger, fetcher FullTreeFetcher, announcer Announcer, db *store.SentryDB, log *slog.Logger) []RestoredInstance {
	if log == nil {
		log = slog.Default()
	}
	var restored []RestoredInstance
	for _, rec := range records {
		if !pinger.PingWorker(ctx, rec.InstanceID) {
			log.Warn("restart health check failed, dropping instance", "instance_id", rec.InstanceID)
			if db != nil {
				_ = db.Delete(ctx, rec.InstanceID)
			}
			continue
		}

		inst := RestoredInstance{Record: rec}
		if rec.InstanceType == "prefill" {
			tree, opsIDFinished, err := fetcher.FetchFullTree(ctx, rec.InstanceID)
			if err != nil {
				log.Warn("restart tree fetch failed, dropping instance", "instance_id", rec.InstanceID, "error", err)
				if db != nil {
					_ = db.Delete(ctx, rec.InstanceID)
				}
				continue
			}
			t := sentrytree.FromRecord(tree)
			t.SetNextOpsID(opsIDFinished + 1)
			inst.Tree = t
		}

		if err := announcer.Announce(ctx, rec); err != nil {
			log.Warn("restart re-announce failed", "instance_id", rec.InstanceID, "error", err)
		}
		restored = append(restored, inst)
	}
	return restored
}
