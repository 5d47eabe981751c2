package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuts-io/nexuts/internal/treeop"
)

// memQueue is an in-process stand-in for RedisQueue, letting pipeline
// tests run without a live Redis instance.
type memQueue struct {
	mu       sync.Mutex
	items    [][]byte
	counters map[string]uint64
}

func newMemQueue() *memQueue {
	return &memQueue{counters: make(map[string]uint64)}
}

func (q *memQueue) Push(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, payload)
	return nil
}

func (q *memQueue) PeekHead(ctx context.Context) ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false, nil
	}
	return q.items[0], true, nil
}

func (q *memQueue) PopHead(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	q.items = q.items[1:]
	return nil
}

func (q *memQueue) GetCounter(ctx context.Context, key string) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters[key], nil
}

func (q *memQueue) SetCounter(ctx context.Context, key string, v uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counters[key] = v
	return nil
}

func TestBufferDrainIsEmptyAfterDrain(t *testing.T) {
	var buf Buffer
	buf.Add(treeop.Op{Type: treeop.Insert, WorkerID: "w1"})
	buf.Add(treeop.Op{Type: treeop.Insert, WorkerID: "w1"})

	ops := buf.Drain()
	require.Len(t, ops, 2)
	assert.Nil(t, buf.Drain())
}

func TestPipelineFlushThenShipDeliversToIC(t *testing.T) {
	var received UpdatePayload
	var gotReq chan struct{} = make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
		gotReq <- struct{}{}
	}))
	defer srv.Close()

	buf := &Buffer{}
	buf.Add(treeop.Op{Type: treeop.Insert, WorkerID: "w1", Key: []uint32{1, 2, 3}})
	queue := newMemQueue()
	client := NewClient(srv.URL)
	pipe := NewPipeline("sentry-1", buf, queue, client, time.Hour, nil)

	require.NoError(t, pipe.FlushToQueue(context.Background()))
	require.NoError(t, pipe.ShipHead(context.Background()))

	select {
	case <-gotReq:
	case <-time.After(time.Second):
		t.Fatal("IC never received the update")
	}
	assert.Equal(t, "sentry-1", received.SentryID)
	require.Len(t, received.Updates, 1)
	assert.Equal(t, []uint32{1, 2, 3}, received.Updates[0].Key)

	head, ok, err := queue.PeekHead(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "head should be popped after a 2xx response")
	_ = head
}

func TestPipelineShipHeadLeavesEntryOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	buf := &Buffer{}
	buf.Add(treeop.Op{Type: treeop.Insert, WorkerID: "w1"})
	queue := newMemQueue()
	client := NewClient(srv.URL)
	pipe := NewPipeline("sentry-1", buf, queue, client, time.Hour, nil)

	require.NoError(t, pipe.FlushToQueue(context.Background()))
	err := pipe.ShipHead(context.Background())
	assert.Error(t, err)

	_, ok, err := queue.PeekHead(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "failed delivery must leave the head queued for retry")
}

func TestRegisterRetryQueueRetriesUntilSuccess(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	retryQueue := NewRegisterRetryQueue(client, nil)
	retryQueue.Register(context.Background(), RegisterRequest{InstanceID: "inst-1", SentryID: "s1"})

	retryQueue.mu.Lock()
	_, queued := retryQueue.register["inst-1"]
	retryQueue.mu.Unlock()
	require.True(t, queued, "first failing call should be queued")

	retryQueue.retryOnce(context.Background())

	retryQueue.mu.Lock()
	_, stillQueued := retryQueue.register["inst-1"]
	retryQueue.mu.Unlock()
	assert.False(t, stillQueued, "a later successful retry should clear the queue entry")
}
