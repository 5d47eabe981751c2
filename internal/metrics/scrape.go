// Package metrics scrapes the Prometheus-text /metrics endpoint each
// worker exposes, extracting the queue-depth gauges the router's
// weighted-load score is built from (spec §4.7), grounded on
// original_source/Nexuts/utils/metrics_collector.py.
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

const scrapeTimeout = 2 * time.Second

// Load holds the two queue-depth gauges a worker's /metrics endpoint
// publishes and the weighted score computed from them.
type Load struct {
	PreallocQueue float64
	InflightQueue float64
	Weighted      float64
}

// Weights are the α/β coefficients spec §4.7 applies to the prealloc
// and inflight queue depths; defaults match metrics_collector.py's
// prealloc_weight=0.3, inflight_weight=0.7.
type Weights struct {
	Prealloc float64
	Inflight float64
}

// DefaultWeights matches the source's hardcoded defaults.
var DefaultWeights = Weights{Prealloc: 0.3, Inflight: 0.7}

var metricPattern = func(name string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(name) + `\{[^}]*\}\s+([0-9.]+)`)
}

var (
	prefillPreallocRe = metricPattern("sglang:num_prefill_prealloc_queue_reqs")
	prefillInflightRe = metricPattern("sglang:num_prefill_inflight_queue_reqs")
	decodePreallocRe  = metricPattern("sglang:num_decode_prealloc_queue_reqs")
	decodeInflightRe  = metricPattern("sglang:num_decode_transfer_queue_reqs")
)

// Collector scrapes /metrics over HTTP with a fixed 2s timeout.
type Collector struct {
	http    *http.Client
	weights Weights
}

// NewCollector builds a Collector using weights for the final score.
func NewCollector(weights Weights) *Collector {
	return &Collector{http: &http.Client{Timeout: scrapeTimeout}, weights: weights}
}

// Load fetches and parses one worker's metrics text. instanceType
// selects the prefill or decode gauge pair. A scrape failure is
// reported as an error rather than silently returning zero, so callers
// can distinguish "worker is idle" from "worker is unreachable"; a
// metric missing from otherwise-valid text is 0.0, matching the
// source's unmatched-regex fallback.
func (c *Collector) Load(ctx context.Context, instanceIP string, metricsPort int, instanceType string) (Load, error) {
	url := fmt.Sprintf("http://%s:%d/metrics", instanceIP, metricsPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Load{}, nexerr.Validation("metrics.Collector.Load", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Load{}, nexerr.Transient("metrics.Collector.Load", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Load{}, nexerr.Transient("metrics.Collector.Load", err)
	}
	if resp.StatusCode/100 != 2 {
		return Load{}, nexerr.Transient("metrics.Collector.Load", nexerr.ErrUnexpectedStatus)
	}

	preallocRe, inflightRe := prefillPreallocRe, prefillInflightRe
	if instanceType == "decode" {
		preallocRe, inflightRe = decodePreallocRe, decodeInflightRe
	}
	text := string(body)
	prealloc := extractMetric(preallocRe, text)
	inflight := extractMetric(inflightRe, text)
	return Load{
		PreallocQueue: prealloc,
		InflightQueue: inflight,
		Weighted:      prealloc*c.weights.Prealloc + inflight*c.weights.Inflight,
	}, nil
}

func extractMetric(re *regexp.Regexp, text string) float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0.0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0.0
	}
	return v
}
