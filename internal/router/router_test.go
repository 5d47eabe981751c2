package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuts-io/nexuts/internal/metrics"
)

type fakeTree struct {
	workers []string
}

func (f fakeTree) SearchInstancesWithPrefix(key []uint32) []string { return f.workers }

func TestDecideCacheAwareWhenBalancedAndCacheHit(t *testing.T) {
	workers := []WorkerStatus{
		{WorkerID: "a", Healthy: true, Load: metrics.Load{Weighted: 0.1}},
		{WorkerID: "b", Healthy: true, Load: metrics.Load{Weighted: 0.2}},
		{WorkerID: "c", Healthy: true, Load: metrics.Load{Weighted: 0.15}},
	}
	r := New(0.3, fakeTree{workers: []string{"a", "b"}})

	d := r.Decide(context.Background(), workers, []uint32{1, 2, 3})
	require.Equal(t, CacheAware, d.Strategy)
	assert.Equal(t, "a", d.WorkerID)
}

func TestDecideLoadBalancedWhenNotBalanced(t *testing.T) {
	workers := []WorkerStatus{
		{WorkerID: "a", Healthy: true, Load: metrics.Load{Weighted: 5.0}},
		{WorkerID: "b", Healthy: true, Load: metrics.Load{Weighted: 0.1}},
		{WorkerID: "c", Healthy: true, Load: metrics.Load{Weighted: 3.0}},
	}
	r := New(0.3, fakeTree{workers: []string{"a", "c"}})

	d := r.Decide(context.Background(), workers, []uint32{1, 2, 3})
	require.Equal(t, LoadBalanced, d.Strategy)
	assert.Equal(t, "b", d.WorkerID)
}

func TestDecideNoAvailableInstances(t *testing.T) {
	r := New(0.3, fakeTree{})
	d := r.Decide(context.Background(), nil, nil)
	assert.Empty(t, d.WorkerID)
	assert.Equal(t, "No available instances", d.Message)
}

func TestDecideLoadBalancedTieBreaksLexicographically(t *testing.T) {
	workers := []WorkerStatus{
		{WorkerID: "z", Healthy: true, Load: metrics.Load{Weighted: 0.5}},
		{WorkerID: "a", Healthy: true, Load: metrics.Load{Weighted: 0.5}},
	}
	r := New(0.3, fakeTree{})
	d := r.Decide(context.Background(), workers, nil)
	assert.Equal(t, "a", d.WorkerID)
}
