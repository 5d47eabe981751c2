package outbound

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

const (
	queueKey          = "sentry:queue"
	opsIDCounterKey   = "sentry:ops_id_sentry"
	opsIDFinishedKey  = "sentry:ops_id_sentry_finish"
)

// Queue is the durable FIFO abstraction spec §4.5/§9 describes as "any
// embedded KV or local file with fsync"; RedisQueue is the concrete
// realization grounded on the source's literal redis.StrictRedis use.
type Queue interface {
	Push(ctx context.Context, payload []byte) error
	PeekHead(ctx context.Context) ([]byte, bool, error)
	PopHead(ctx context.Context) error
	GetCounter(ctx context.Context, key string) (uint64, error)
	SetCounter(ctx context.Context, key string, v uint64) error
}

// RedisQueue implements Queue against a Redis list, matching
// original_source/Sentry/PushWithNexuts/push_to_nexuts.py's
// rpush/lindex/lpop usage of the "sentry:queue" key.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue wires a Queue to the given Redis client.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.rdb.RPush(ctx, queueKey, payload).Err(); err != nil {
		return nexerr.Transient("outbound.RedisQueue.Push", err)
	}
	return nil
}

func (q *RedisQueue) PeekHead(ctx context.Context) ([]byte, bool, error) {
	val, err := q.rdb.LIndex(ctx, queueKey, 0).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, nexerr.Transient("outbound.RedisQueue.PeekHead", err)
	}
	return []byte(val), true, nil
}

func (q *RedisQueue) PopHead(ctx context.Context) error {
	if err := q.rdb.LPop(ctx, queueKey).Err(); err != nil && err != redis.Nil {
		return nexerr.Transient("outbound.RedisQueue.PopHead", err)
	}
	return nil
}

func (q *RedisQueue) GetCounter(ctx context.Context, key string) (uint64, error) {
	val, err := q.rdb.Get(ctx, key).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, nexerr.Transient("outbound.RedisQueue.GetCounter", err)
	}
	return val, nil
}

func (q *RedisQueue) SetCounter(ctx context.Context, key string, v uint64) error {
	if err := q.rdb.Set(ctx, key, v, 0).Err(); err != nil {
		return nexerr.Transient("outbound.RedisQueue.SetCounter", err)
	}
	return nil
}
