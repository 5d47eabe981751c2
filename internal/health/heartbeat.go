// Package health implements the three heartbeat loops spec.md C7
// describes: the Sentry's per-worker health check with its 30s loss
// window, the IC's per-sentry watcher, and Sentry-restart reseeding.
// Grounded on original_source/Sentry/Manager/register.py's
// _health_check_loop and Nexuts/Sentry_manager/Sentry.py's
// _heartbeat_loop.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerPinger checks whether a worker instance is currently reachable.
type WorkerPinger interface {
	PingWorker(ctx context.Context, instanceID string) bool
}

// LossReporter is notified as a worker's reachability changes: first a
// tentative loss (status flips false, still tracked), then either a
// recovery (status flips back true) or a final loss (instance removed
// entirely).
type LossReporter interface {
	SetLossStatus(ctx context.Context, instanceID string, lost bool)
	FinalLoss(ctx context.Context, instanceID string)
}

const (
	defaultHealthInterval = 10 * time.Second
	recoveryRetries       = 5
	recoveryRetryDelay    = time.Second
	lossWindow            = 30 * time.Second
	lossPollInterval      = 5 * time.Second
)

// WorkerWatch runs one worker's heartbeat loop until Stop is called.
type WorkerWatch struct {
	instanceID string
	pinger     WorkerPinger
	reporter   LossReporter
	interval   time.Duration
	log        *slog.Logger

	mu   sync.Mutex
	lost bool

	stop chan struct{}
	done chan struct{}
}

// NewWorkerWatch starts a heartbeat loop for one instance immediately,
// matching Registry._start_heartbeat_check's start-on-register behavior.
func NewWorkerWatch(instanceID string, pinger WorkerPinger, reporter LossReporter, interval time.Duration, log *slog.Logger) *WorkerWatch {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if log == nil {
		log = slog.Default()
	}
	w := &WorkerWatch{
		instanceID: instanceID,
		pinger:     pinger,
		reporter:   reporter,
		interval:   interval,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Stop ends the heartbeat loop; it does not itself deregister the
// instance (callers that stop because the instance already left should
// do that separately).
func (w *WorkerWatch) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

// recoveredExternally reports whether a prior loss was cleared by
// re-registration in the window; enterLossWindow uses it to stop waiting.
func (w *WorkerWatch) recoveredExternally() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.lost
}

// MarkRecovered is called by the registration path when an instance
// re-registers while its watch considered it lost.
func (w *WorkerWatch) MarkRecovered() {
	w.mu.Lock()
	w.lost = false
	w.mu.Unlock()
}

func (w *WorkerWatch) run() {
	defer close(w.done)
	ctx := context.Background()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.pinger.PingWorker(ctx, w.instanceID) {
				continue
			}
			if w.awaitRecovery(ctx) {
				continue
			}
			if w.enterLossWindow(ctx) {
				return
			}
		}
	}
}

// awaitRecovery retries the ping recoveryRetries times, 1s apart,
// before declaring a tentative loss (register.py's inner for loop).
func (w *WorkerWatch) awaitRecovery(ctx context.Context) bool {
	for i := 0; i < recoveryRetries; i++ {
		select {
		case <-w.stop:
			return true
		case <-time.After(recoveryRetryDelay):
		}
		if w.pinger.PingWorker(ctx, w.instanceID) {
			return true
		}
	}
	return false
}

// enterLossWindow marks the instance lost, polls for 30s for an
// external recovery (a re-registration clearing w.lost), and either
// clears the loss or removes the instance for good. Returns true if
// the watch loop should exit (instance removed).
func (w *WorkerWatch) enterLossWindow(ctx context.Context) bool {
	w.mu.Lock()
	w.lost = true
	w.mu.Unlock()
	w.reporter.SetLossStatus(ctx, w.instanceID, true)

	remaining := lossWindow
	for remaining > 0 {
		select {
		case <-w.stop:
			return true
		case <-time.After(lossPollInterval):
		}
		remaining -= lossPollInterval
		if w.recoveredExternally() {
			w.reporter.SetLossStatus(ctx, w.instanceID, false)
			return false
		}
	}
	if w.recoveredExternally() {
		w.reporter.SetLossStatus(ctx, w.instanceID, false)
		return false
	}
	w.reporter.FinalLoss(ctx, w.instanceID)
	return true
}
