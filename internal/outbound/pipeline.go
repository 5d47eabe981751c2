package outbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Pipeline drives spec §4.5 stages 2 and 3: periodically flushing the
// callback buffer into the durable queue, and periodically shipping the
// queue's head to the IC, popping only on a 2xx response.
type Pipeline struct {
	sentryID string
	buf      *Buffer
	queue    Queue
	client   *Client
	cycle    time.Duration
	log      *slog.Logger

	opsID       uint64
	opsIDFinish uint64
}

// NewPipeline wires the buffer, durable queue and IC client for one
// sentry. cycle is send_nexuts_cycle from configuration (spec §6).
func NewPipeline(sentryID string, buf *Buffer, queue Queue, client *Client, cycle time.Duration, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{sentryID: sentryID, buf: buf, queue: queue, client: client, cycle: cycle, log: log}
}

// Restore reloads the persisted counters on startup (spec §9 "Global
// counters... persisted at checkpoints (snapshot for IC, flush for Sentry)").
func (p *Pipeline) Restore(ctx context.Context) error {
	opsID, err := p.queue.GetCounter(ctx, opsIDCounterKey)
	if err != nil {
		return err
	}
	opsIDFinish, err := p.queue.GetCounter(ctx, opsIDFinishedKey)
	if err != nil {
		return err
	}
	p.opsID = opsID
	p.opsIDFinish = opsIDFinish
	return nil
}

// Run blocks, ticking the collect and ship loops every cycle until ctx
// is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	collect := time.NewTicker(p.cycle)
	ship := time.NewTicker(p.cycle)
	defer collect.Stop()
	defer ship.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-collect.C:
			if err := p.FlushToQueue(ctx); err != nil {
				p.log.Error("outbound flush failed", "error", err)
			}
		case <-ship.C:
			if err := p.ShipHead(ctx); err != nil {
				p.log.Warn("outbound ship failed, retrying next tick", "error", err)
			}
		}
	}
}

// FlushToQueue drains the buffer, assigns the next sentry_ops_id, pushes
// the payload and then persists the counter (spec §4.5 stage 2). The push
// and the counter write are two separate queue calls, not one atomic
// step: a failure between them leaves the payload queued without the new
// counter persisted. A no-op when the buffer is empty.
func (p *Pipeline) FlushToQueue(ctx context.Context) error {
	ops := p.buf.Drain()
	if len(ops) == 0 {
		return nil
	}
	p.opsID++
	payload := UpdatePayload{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		SentryOpsID: p.opsID,
		SentryID:    p.sentryID,
		Updates:     ops,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.queue.Push(ctx, data); err != nil {
		return err
	}
	return p.queue.SetCounter(ctx, opsIDCounterKey, p.opsID)
}

// ShipHead peeks the queue head, POSTs it to the IC, and pops+persists
// only on success; any failure leaves the head in place for the next
// tick (spec §4.5 stage 3, "Guarantees": at-least-once delivery).
func (p *Pipeline) ShipHead(ctx context.Context) error {
	data, ok, err := p.queue.PeekHead(ctx)
	if err != nil || !ok {
		return err
	}
	var payload UpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// A corrupt head entry can never succeed; drop it rather than
		// wedging the queue forever.
		p.log.Error("outbound dropping unparseable queue head", "error", err)
		return p.queue.PopHead(ctx)
	}
	if err := p.client.UpdatePrefixTree(ctx, payload); err != nil {
		return err
	}
	if err := p.queue.PopHead(ctx); err != nil {
		return err
	}
	p.opsIDFinish = payload.SentryOpsID
	return p.queue.SetCounter(ctx, opsIDFinishedKey, p.opsIDFinish)
}
