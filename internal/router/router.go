// Package router implements the dual-strategy routing decision (C8):
// a weighted-load score per worker, the system-balance predicate, and
// the cache-aware/load-balanced choice between them, grounded on
// original_source/Nexuts/nexuts.py's get_best_instance handler.
package router

import (
	"context"
	"sort"

	"github.com/nexuts-io/nexuts/internal/metrics"
)

// Strategy labels the decision a Decide call produced.
type Strategy string

const (
	CacheAware   Strategy = "cache_aware"
	LoadBalanced Strategy = "load_balanced"
)

// DefaultBalanceThreshold matches spec.md's default: a system is
// balanced when the spread between the busiest and idlest worker's
// weighted load is under this value.
const DefaultBalanceThreshold = 0.3

// Decision is the result of routing one request.
type Decision struct {
	WorkerID string
	Strategy Strategy
	// Message is set, and WorkerID empty, when no worker was available.
	Message string
}

// WorkerStatus is the input the router needs about one candidate
// worker: whether the IC currently considers it schedulable, and its
// latest scraped load.
type WorkerStatus struct {
	WorkerID string
	Healthy  bool
	Load     metrics.Load
}

// PrefixSearcher is satisfied by mergetree.Tree's
// SearchInstancesWithPrefix.
type PrefixSearcher interface {
	SearchInstancesWithPrefix(key []uint32) []string
}

// Router holds the balance threshold and the prefix searcher; the load
// weights are applied by metrics.Collector. It is stateless otherwise,
// taking the current worker snapshot on every call.
type Router struct {
	threshold float64
	tree      PrefixSearcher
}

// New builds a Router with the given balance threshold and the merge
// tree used for cache-aware lookups.
func New(threshold float64, tree PrefixSearcher) *Router {
	if threshold <= 0 {
		threshold = DefaultBalanceThreshold
	}
	return &Router{threshold: threshold, tree: tree}
}

// Decide picks a worker for a request, optionally carrying
// promptTokens for cache-aware placement (spec §4.7 steps 1-3).
func (r *Router) Decide(_ context.Context, workers []WorkerStatus, promptTokens []uint32) Decision {
	available := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		if w.Healthy {
			available = append(available, w)
		}
	}
	if len(available) == 0 {
		return Decision{Message: "No available instances"}
	}

	balanced := systemBalanced(available, r.threshold)

	if len(promptTokens) > 0 && balanced && r.tree != nil {
		cached := r.tree.SearchInstancesWithPrefix(promptTokens)
		if best, ok := bestAmong(available, cached); ok {
			return Decision{WorkerID: best, Strategy: CacheAware}
		}
	}

	return Decision{WorkerID: argminLoad(available), Strategy: LoadBalanced}
}

func systemBalanced(workers []WorkerStatus, threshold float64) bool {
	if len(workers) == 0 {
		return true
	}
	min, max := workers[0].Load.Weighted, workers[0].Load.Weighted
	for _, w := range workers[1:] {
		if w.Load.Weighted < min {
			min = w.Load.Weighted
		}
		if w.Load.Weighted > max {
			max = w.Load.Weighted
		}
	}
	return max-min < threshold
}

// bestAmong intersects available with the cached worker-id set and
// returns the lowest-load member, tie-broken lexicographically.
func bestAmong(available []WorkerStatus, cached []string) (string, bool) {
	cachedSet := make(map[string]struct{}, len(cached))
	for _, id := range cached {
		cachedSet[id] = struct{}{}
	}
	var intersection []WorkerStatus
	for _, w := range available {
		if _, ok := cachedSet[w.WorkerID]; ok {
			intersection = append(intersection, w)
		}
	}
	if len(intersection) == 0 {
		return "", false
	}
	return argminLoad(intersection), true
}

// argminLoad returns the worker id with smallest weighted load,
// breaking ties lexicographically on worker id (spec §4.7 step 3).
func argminLoad(workers []WorkerStatus) string {
	sorted := append([]WorkerStatus(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Load.Weighted != sorted[j].Load.Weighted {
			return sorted[i].Load.Weighted < sorted[j].Load.Weighted
		}
		return sorted[i].WorkerID < sorted[j].WorkerID
	})
	return sorted[0].WorkerID
}
