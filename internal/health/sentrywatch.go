package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// SentryPinger checks a single sentry's /v1/health endpoint.
type SentryPinger interface {
	PingSentry(ctx context.Context, sentryID string) bool
}

// HTTPSentryPinger implements SentryPinger against a sentry's
// healthURLs map, grounded on Sentry.py's _ping (GET .../v1/health,
// 1s timeout). Any 200 response counts as healthy; the body is not read.
type HTTPSentryPinger struct {
	client    *http.Client
	healthURL func(sentryID string) string
}

// NewHTTPSentryPinger builds a pinger resolving each sentry id to its
// health URL via urlFor.
func NewHTTPSentryPinger(urlFor func(sentryID string) string) *HTTPSentryPinger {
	return &HTTPSentryPinger{client: &http.Client{Timeout: time.Second}, healthURL: urlFor}
}

func (p *HTTPSentryPinger) PingSentry(ctx context.Context, sentryID string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL(sentryID), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// SentryLossReporter is notified when a sentry stops responding, so the
// IC can mark every instance it owned unschedulable without deleting
// them (spec §4.6 "IC-side watcher... marks all of that sentry's
// instances status=false without deleting").
type SentryLossReporter interface {
	MarkSentryInstancesUnschedulable(ctx context.Context, sentryID string)
}

// SentryWatch is the IC-side heartbeat loop for one sentry, grounded on
// Sentry.py's _heartbeat_loop: a single failed ping stops the watch and
// fires the loss callback exactly once.
type SentryWatch struct {
	sentryID string
	pinger   SentryPinger
	reporter SentryLossReporter
	interval time.Duration
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewSentryWatch starts watching sentryID immediately.
func NewSentryWatch(sentryID string, pinger SentryPinger, reporter SentryLossReporter, interval time.Duration, log *slog.Logger) *SentryWatch {
	if log == nil {
		log = slog.Default()
	}
	w := &SentryWatch{
		sentryID: sentryID,
		pinger:   pinger,
		reporter: reporter,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Stop ends the watch loop without firing the loss callback.
func (w *SentryWatch) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *SentryWatch) run() {
	defer close(w.done)
	ctx := context.Background()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.pinger.PingSentry(ctx, w.sentryID) {
				continue
			}
			w.log.Warn("sentry heartbeat failed, marking instances unschedulable", "sentry_id", w.sentryID)
			w.reporter.MarkSentryInstancesUnschedulable(ctx, w.sentryID)
			return
		}
	}
}
