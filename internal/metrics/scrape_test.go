package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorLoadParsesPrefillMetrics(t *testing.T) {
	body := `
# HELP sglang:num_prefill_prealloc_queue_reqs queue depth
sglang:num_prefill_prealloc_queue_reqs{instance="p1"} 3.0
sglang:num_prefill_inflight_queue_reqs{instance="p1"} 5.0
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewCollector(DefaultWeights)
	load, err := c.Load(context.Background(), host, port, "prefill")
	require.NoError(t, err)
	assert.Equal(t, 3.0, load.PreallocQueue)
	assert.Equal(t, 5.0, load.InflightQueue)
	assert.InDelta(t, 3.0*0.3+5.0*0.7, load.Weighted, 1e-9)
}

func TestCollectorLoadMissingMetricDefaultsToZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# empty\n")
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewCollector(DefaultWeights)
	load, err := c.Load(context.Background(), host, port, "decode")
	require.NoError(t, err)
	assert.Equal(t, 0.0, load.PreallocQueue)
	assert.Equal(t, 0.0, load.InflightQueue)
}

func splitHostPort(t *testing.T, url string) (string, int) {
	t.Helper()
	url = strings.TrimPrefix(url, "http://")
	parts := strings.SplitN(url, ":", 2)
	require.Len(t, parts, 2)
	var port int
	_, err := fmt.Sscanf(parts[1], "%d", &port)
	require.NoError(t, err)
	return parts[0], port
}
