package ic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexuts-io/nexuts/internal/health"
	"github.com/nexuts-io/nexuts/internal/store"
)

// sentryWatches starts and tracks one health.SentryWatch per sentry the
// IC has ever registered, so a sentry that stops heartbeating gets its
// instances marked unschedulable exactly once (spec §4.6).
type sentryWatches struct {
	registry *store.Registry
	interval func() time.Duration
	pinger   func(sentryID string) health.SentryPinger
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*health.SentryWatch
}

func newSentryWatches(registry *store.Registry, pinger func(sentryID string) health.SentryPinger, interval func() time.Duration, log *slog.Logger) *sentryWatches {
	if log == nil {
		log = slog.Default()
	}
	return &sentryWatches{registry: registry, interval: interval, pinger: pinger, log: log, active: make(map[string]*health.SentryWatch)}
}

// Ensure starts a watch for sentryID if one isn't already running.
func (s *sentryWatches) Ensure(sentryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[sentryID]; ok {
		return
	}
	s.active[sentryID] = health.NewSentryWatch(sentryID, s.pinger(sentryID), s, s.interval(), s.log)
}

// Stop ends and forgets the watch for sentryID.
func (s *sentryWatches) Stop(sentryID string) {
	s.mu.Lock()
	w, ok := s.active[sentryID]
	delete(s.active, sentryID)
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// MarkSentryInstancesUnschedulable implements health.SentryLossReporter.
func (s *sentryWatches) MarkSentryInstancesUnschedulable(ctx context.Context, sentryID string) {
	if err := s.registry.MarkSentryInstancesUnschedulable(ctx, sentryID); err != nil {
		s.log.Warn("marking sentry instances unschedulable failed", "sentry_id", sentryID, "error", err)
	}
	s.mu.Lock()
	delete(s.active, sentryID)
	s.mu.Unlock()
}
