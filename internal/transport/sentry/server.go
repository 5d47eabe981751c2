// Package sentry implements the Sentry agent's HTTP surface (spec §6
// "HTTP (Sentry)"): worker self-registration, the radix-tree update
// batch endpoint, and health/introspection, grounded on
// original_source/Sentry/sentry.py and ApiServer/api_server.py.
package sentry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nexuts-io/nexuts/internal/health"
	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/outbound"
	"github.com/nexuts-io/nexuts/internal/sentrytree"
	"github.com/nexuts-io/nexuts/internal/store"
	"github.com/nexuts-io/nexuts/internal/transport/httpx"
	"github.com/nexuts-io/nexuts/internal/transport/workerclient"
	"github.com/nexuts-io/nexuts/internal/treeop"
)

// radixOp is the wire shape of one entry in an update batch's "info"
// list, matching RadixOp from instance_manager.py/radix_tree.py.
type radixOp struct {
	OpType      string     `json:"op_type"`
	ParentPath  [][]uint32 `json:"parent_path,omitempty"`
	Prompt      []uint32   `json:"prompt,omitempty"`
	PromptValue []uint32   `json:"prompt_value,omitempty"`
	SplitLength int        `json:"split_length,omitempty"`
}

func (o radixOp) toOp(workerID string) treeop.Op {
	t := treeop.Insert
	switch o.OpType {
	case "delete_node", "delete":
		t = treeop.Delete
	case "split_node", "split":
		t = treeop.Split
	}
	return treeop.Op{
		Type:        t,
		WorkerID:    workerID,
		ParentPath:  o.ParentPath,
		Key:         o.Prompt,
		Value:       o.PromptValue,
		SplitLength: o.SplitLength,
	}
}

// registerRequest is a worker's self-registration body.
type registerRequest struct {
	InstanceType string `json:"instance_type"`
	InstanceID   string `json:"instance_id"`
	NodeIP       string `json:"node_ip"`
	ServicePort  int    `json:"service_port"`
	TPSize       int    `json:"tp_size"`
	BaseGPUID    int    `json:"base_gpu_id"`
	Step         int    `json:"step"`
}

type updateRequest struct {
	OpsID      uint64    `json:"ops_id"`
	Timestamp  string    `json:"timestamp"`
	NodeIP     string    `json:"node_ip"`
	ServerPort int       `json:"server_port"`
	InstanceID string    `json:"instance_id"`
	Info       []radixOp `json:"info"`
}

// instanceState is everything the Sentry tracks for one worker.
type instanceState struct {
	mu   sync.Mutex
	rec  store.InstanceRecord
	tree *sentrytree.Tree // nil for decode instances
	seq  *opsSequencer
	watch *health.WorkerWatch
}

// Server is the Sentry agent's HTTP surface.
type Server struct {
	sentryID string
	db       *store.SentryDB
	worker   *workerclient.Client
	buf      *outbound.Buffer
	retry    *outbound.RegisterRetryQueue
	log      *slog.Logger

	mu        sync.RWMutex
	instances map[string]*instanceState
}

// NewServer wires a Sentry's dependencies into an HTTP surface.
func NewServer(sentryID string, db *store.SentryDB, worker *workerclient.Client, buf *outbound.Buffer, retry *outbound.RegisterRetryQueue, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		sentryID:  sentryID,
		db:        db,
		worker:    worker,
		buf:       buf,
		retry:     retry,
		log:       log,
		instances: make(map[string]*instanceState),
	}
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/Sentry/register_inference_info", s.handleRegister)
	mux.HandleFunc("POST /v1/radixtree/update", s.handleUpdate)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/instances", s.handleInstances)
}

// SetWorker attaches the worker client once constructed; NewServer itself
// is an AddressBook, so the client must be built after the server and
// wired back in (the two are mutually referential at startup).
func (s *Server) SetWorker(worker *workerclient.Client) {
	s.worker = worker
}

// WorkerAddr implements workerclient.AddressBook.
func (s *Server) WorkerAddr(instanceID string) (string, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.instances[instanceID]
	if !ok {
		return "", 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rec.NodeIP, st.rec.ServicePort, true
}

// SetLossStatus implements health.LossReporter by forwarding to the IC
// via the registration retry queue.
func (s *Server) SetLossStatus(ctx context.Context, instanceID string, lost bool) {
	s.retry.SetStatus(ctx, s.sentryID, instanceID, lost)
}

// Announce implements health.Announcer by queuing a registration retry,
// matching call_back_deal_re_register_pod's re-announce-on-restart.
func (s *Server) Announce(ctx context.Context, rec store.InstanceRecord) error {
	s.retry.Register(ctx, outbound.RegisterRequest{
		InstanceType: rec.InstanceType, InstanceID: rec.InstanceID, SentryID: s.sentryID,
		NodeIP: rec.NodeIP, ServicePort: rec.ServicePort, TPSize: rec.TPSize, BaseGPUID: rec.BaseGPUID, Step: rec.Step,
	})
	return nil
}

// FinalLoss implements health.LossReporter: deregister and forget.
func (s *Server) FinalLoss(ctx context.Context, instanceID string) {
	s.retry.Deregister(ctx, s.sentryID, instanceID)
	if s.db != nil {
		_ = s.db.Delete(ctx, instanceID)
	}
	s.mu.Lock()
	delete(s.instances, instanceID)
	s.mu.Unlock()
}

// RestoreInstance re-admits a worker health.Reseed already confirmed is
// alive and re-announced, wiring its watch and sequencer without
// repeating registration side effects.
func (s *Server) RestoreInstance(restored health.RestoredInstance) {
	nextOps := uint64(1)
	if restored.Tree != nil {
		nextOps = restored.Tree.NextOpsID()
	}
	st := &instanceState{rec: restored.Record, tree: restored.Tree, seq: newOpsSequencer(nextOps)}
	st.watch = health.NewWorkerWatch(restored.Record.InstanceID, s.worker, s, 0, s.log)
	s.mu.Lock()
	s.instances[restored.Record.InstanceID] = st
	s.mu.Unlock()
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	s.mu.Lock()
	if existing, ok := s.instances[req.InstanceID]; ok && existing.watch != nil {
		existing.watch.MarkRecovered()
	}
	st := &instanceState{
		rec: store.InstanceRecord{
			InstanceID: req.InstanceID, InstanceType: req.InstanceType, NodeIP: req.NodeIP,
			ServicePort: req.ServicePort, TPSize: req.TPSize, BaseGPUID: req.BaseGPUID, Step: req.Step,
		},
		seq: newOpsSequencer(1),
	}
	if req.InstanceType == "prefill" {
		st.tree = sentrytree.New()
	}
	st.watch = health.NewWorkerWatch(req.InstanceID, s.worker, s, 0, s.log)
	s.instances[req.InstanceID] = st
	s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Upsert(r.Context(), st.rec)
	}
	s.retry.Register(r.Context(), outbound.RegisterRequest{
		InstanceType: req.InstanceType, InstanceID: req.InstanceID, SentryID: s.sentryID,
		NodeIP: req.NodeIP, ServicePort: req.ServicePort, TPSize: req.TPSize, BaseGPUID: req.BaseGPUID, Step: req.Step,
	})

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	s.mu.RLock()
	st, ok := s.instances[req.InstanceID]
	s.mu.RUnlock()
	if !ok || st.tree == nil {
		httpx.WriteError(w, nexerr.NotFound("sentry.handleUpdate", nexerr.ErrUnknownPath))
		return
	}

	st.mu.Lock()
	ready, duplicate := st.seq.submit(req.OpsID, req.Info)
	st.mu.Unlock()
	if duplicate {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
		return
	}

	for _, batch := range ready {
		for _, op := range batch.infos {
			wireOp := op.toOp(req.InstanceID)
			if err := st.tree.ApplyOp(wireOp); err != nil {
				s.log.Warn("local tree apply failed", "instance_id", req.InstanceID, "error", err)
				continue
			}
			// A split only restructures this worker's own tree so later
			// ops can address the new interior node; the IC never needs
			// to see it, matching push_to_nexuts.py's forwarding filter.
			if op.OpType == "split" || op.OpType == "split_node" {
				continue
			}
			s.buf.Add(wireOp)
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.InstanceRecord, 0, len(s.instances))
	for _, st := range s.instances {
		st.mu.Lock()
		out = append(out, st.rec)
		st.mu.Unlock()
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"instances": out})
}
