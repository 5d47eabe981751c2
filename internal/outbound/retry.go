package outbound

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RegisterRetryQueue re-attempts failed register/deregister/set_status
// calls on a fixed cycle, grounded on _recycle_register's per-kind retry
// maps (original_source/Sentry/PushWithNexuts/push_to_nexuts.py): a
// failed call is remembered by instance id and retried until it
// succeeds, at which point it is dropped from the map.
type RegisterRetryQueue struct {
	client *Client
	log    *slog.Logger

	mu         sync.Mutex
	register   map[string]RegisterRequest
	deregister map[string]string // instance id -> sentry id
	setStatus  map[string]setStatusEntry
}

type setStatusEntry struct {
	sentryID string
	lost     bool
}

// NewRegisterRetryQueue builds an empty retry queue bound to client.
func NewRegisterRetryQueue(client *Client, log *slog.Logger) *RegisterRetryQueue {
	if log == nil {
		log = slog.Default()
	}
	return &RegisterRetryQueue{
		client:     client,
		log:        log,
		register:   make(map[string]RegisterRequest),
		deregister: make(map[string]string),
		setStatus:  make(map[string]setStatusEntry),
	}
}

// Register attempts req immediately; on failure it is queued for retry.
func (q *RegisterRetryQueue) Register(ctx context.Context, req RegisterRequest) {
	if err := q.client.Register(ctx, req); err != nil {
		q.log.Warn("register failed, queued for retry", "instance_id", req.InstanceID, "error", err)
		q.mu.Lock()
		q.register[req.InstanceID] = req
		q.mu.Unlock()
	}
}

// Deregister attempts a deregister call immediately; on failure it is
// queued for retry, and any pending register/deregister for the same
// instance is superseded per the source's "cancel the other direction"
// behavior.
func (q *RegisterRetryQueue) Deregister(ctx context.Context, sentryID, instanceID string) {
	if err := q.client.Deregister(ctx, sentryID, instanceID); err != nil {
		q.log.Warn("deregister failed, queued for retry", "instance_id", instanceID, "error", err)
		q.mu.Lock()
		delete(q.register, instanceID)
		q.deregister[instanceID] = sentryID
		q.mu.Unlock()
		return
	}
	q.mu.Lock()
	delete(q.register, instanceID)
	delete(q.deregister, instanceID)
	q.mu.Unlock()
}

// SetStatus attempts a status update immediately; on failure it is
// queued for retry.
func (q *RegisterRetryQueue) SetStatus(ctx context.Context, sentryID, instanceID string, lost bool) {
	if err := q.client.SetStatus(ctx, sentryID, instanceID, lost); err != nil {
		q.log.Warn("set_status failed, queued for retry", "instance_id", instanceID, "error", err)
		q.mu.Lock()
		q.setStatus[instanceID] = setStatusEntry{sentryID: sentryID, lost: lost}
		q.mu.Unlock()
	}
}

// Run retries every queued call every 5 seconds until ctx is cancelled,
// matching _recycle_register's hardcoded sleep(5).
func (q *RegisterRetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.retryOnce(ctx)
		}
	}
}

func (q *RegisterRetryQueue) retryOnce(ctx context.Context) {
	q.mu.Lock()
	register := make(map[string]RegisterRequest, len(q.register))
	for k, v := range q.register {
		register[k] = v
	}
	deregister := make(map[string]string, len(q.deregister))
	for k, v := range q.deregister {
		deregister[k] = v
	}
	setStatus := make(map[string]setStatusEntry, len(q.setStatus))
	for k, v := range q.setStatus {
		setStatus[k] = v
	}
	q.mu.Unlock()

	for instanceID, req := range register {
		if err := q.client.Register(ctx, req); err == nil {
			q.mu.Lock()
			delete(q.register, instanceID)
			q.mu.Unlock()
		}
	}
	for instanceID, sentryID := range deregister {
		if err := q.client.Deregister(ctx, sentryID, instanceID); err == nil {
			q.mu.Lock()
			delete(q.deregister, instanceID)
			delete(q.register, instanceID)
			q.mu.Unlock()
		}
	}
	for instanceID, entry := range setStatus {
		if err := q.client.SetStatus(ctx, entry.sentryID, instanceID, entry.lost); err == nil {
			q.mu.Lock()
			delete(q.setStatus, instanceID)
			q.mu.Unlock()
		}
	}
}
