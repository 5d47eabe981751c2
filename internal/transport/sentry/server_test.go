package sentry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuts-io/nexuts/internal/outbound"
	"github.com/nexuts-io/nexuts/internal/transport/workerclient"
)

type fakeAddress struct{}

func (fakeAddress) WorkerAddr(instanceID string) (string, int, bool) { return "", 0, false }

func newTestServer() (*Server, *outbound.Buffer) {
	buf := &outbound.Buffer{}
	icSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	client := outbound.NewClient(icSrv.URL)
	retry := outbound.NewRegisterRetryQueue(client, nil)
	worker := workerclient.NewClient(fakeAddress{})
	srv := NewServer("sentry-1", nil, worker, buf, retry, nil)
	return srv, buf
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRegisterThenUpdateAppliesOpsInOrder(t *testing.T) {
	srv, buf := newTestServer()
	mux := http.NewServeMux()
	srv.Routes(mux)

	rec := doJSON(t, mux, http.MethodPost, "/v1/Sentry/register_inference_info", registerRequest{
		InstanceType: "prefill", InstanceID: "p1", NodeIP: "10.0.0.1", ServicePort: 9000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/v1/radixtree/update", updateRequest{
		OpsID: 1, InstanceID: "p1",
		Info: []radixOp{{OpType: "insert_node", Prompt: []uint32{1, 2, 3}, PromptValue: []uint32{1, 2, 3}}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ops := buf.Drain()
	require.Len(t, ops, 1)
	assert.Equal(t, []uint32{1, 2, 3}, ops[0].Key)
}

func TestUpdateBuffersOutOfOrderBatchUntilGapFills(t *testing.T) {
	srv, buf := newTestServer()
	mux := http.NewServeMux()
	srv.Routes(mux)

	doJSON(t, mux, http.MethodPost, "/v1/Sentry/register_inference_info", registerRequest{
		InstanceType: "prefill", InstanceID: "p1",
	})

	doJSON(t, mux, http.MethodPost, "/v1/radixtree/update", updateRequest{
		OpsID: 2, InstanceID: "p1",
		Info: []radixOp{{OpType: "insert_node", Prompt: []uint32{9}, PromptValue: []uint32{9}}},
	})
	assert.Empty(t, buf.Drain(), "an out-of-order batch must not be applied yet")

	doJSON(t, mux, http.MethodPost, "/v1/radixtree/update", updateRequest{
		OpsID: 1, InstanceID: "p1",
		Info: []radixOp{{OpType: "insert_node", Prompt: []uint32{1}, PromptValue: []uint32{1}}},
	})
	ops := buf.Drain()
	require.Len(t, ops, 2, "filling the gap should release both batches in order")
	assert.Equal(t, []uint32{1}, ops[0].Key)
	assert.Equal(t, []uint32{9}, ops[1].Key)
}

func TestInstancesListsRegisteredWorkers(t *testing.T) {
	srv, _ := newTestServer()
	mux := http.NewServeMux()
	srv.Routes(mux)

	doJSON(t, mux, http.MethodPost, "/v1/Sentry/register_inference_info", registerRequest{
		InstanceType: "decode", InstanceID: "d1",
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/instances", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "d1")
}
