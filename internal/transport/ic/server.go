// Package ic implements the Information Center's HTTP surface (spec §6
// "HTTP (IC)"): registration, status, tree updates, health and the
// routing decision endpoint. Grounded on original_source/Nexuts/nexuts.py's
// handler set and api.py's route table.
package ic

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nexuts-io/nexuts/internal/health"
	"github.com/nexuts-io/nexuts/internal/mergetree"
	"github.com/nexuts-io/nexuts/internal/metrics"
	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/router"
	"github.com/nexuts-io/nexuts/internal/store"
	"github.com/nexuts-io/nexuts/internal/transport/httpx"
	"github.com/nexuts-io/nexuts/internal/treeop"
)

// RegisterRequest mirrors spec §6's RegisterRequest body.
type RegisterRequest struct {
	InstanceType string `json:"instance_type"`
	InstanceID   string `json:"instance_id"`
	SentryID     string `json:"sentry_id"`
	NodeIP       string `json:"node_ip"`
	SentryPort   int    `json:"sentry_port"`
	ServicePort  int    `json:"service_port"`
	TPSize       int    `json:"tp_size"`
	BaseGPUID    int    `json:"base_gpu_id"`
	Step         int    `json:"step"`
}

type setStatusRequest struct {
	SentryID   string `json:"sentry_id"`
	InstanceID string `json:"instance_id"`
	Status     bool   `json:"status"`
}

type deregisterRequest struct {
	SentryID   string `json:"sentry_id"`
	InstanceID string `json:"instance_id"`
}

type updatePrefixTreeRequest struct {
	Timestamp   string      `json:"timestamp"`
	SentryOpsID uint64      `json:"sentry_ops_id"`
	SentryID    string      `json:"sentry_id"`
	Updates     []treeop.Op `json:"updates"`
}

// FleetStatus answers whether a registered instance is currently
// schedulable and what its latest load is, backing the router's
// WorkerStatus inputs.
type FleetStatus interface {
	AvailableWorkers(ctx context.Context) []router.WorkerStatus
}

// Server wires the merge tree, registry, router and metrics collector
// behind the IC's HTTP handlers.
type Server struct {
	tree      *mergetree.Tree
	batcher   *mergetree.Batcher
	registry  *store.Registry
	router    *router.Router
	collector *metrics.Collector
	fleet     FleetStatus
	watches   *sentryWatches
}

// NewServer builds an IC Server from its dependencies.
func NewServer(tree *mergetree.Tree, batcher *mergetree.Batcher, registry *store.Registry, rt *router.Router, collector *metrics.Collector, fleet FleetStatus) *Server {
	return &Server{tree: tree, batcher: batcher, registry: registry, router: rt, collector: collector, fleet: fleet}
}

// WithSentryHeartbeat enables the per-sentry heartbeat watch (spec §4.6);
// left unset, handleRegister/handleDeregister are no-ops toward it, which
// is how tests that don't care about sentry liveness construct a Server.
func (s *Server) WithSentryHeartbeat(pinger func(sentryID string) health.SentryPinger, interval func() time.Duration, log *slog.Logger) *Server {
	s.watches = newSentryWatches(s.registry, pinger, interval, log)
	return s
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/Nexuts/register", s.handleRegister)
	mux.HandleFunc("POST /v1/Nexuts/set_status", s.handleSetStatus)
	mux.HandleFunc("POST /v1/Nexuts/deregister", s.handleDeregister)
	mux.HandleFunc("POST /v1/Nexuts/update_prefix_tree", s.handleUpdatePrefixTree)
	mux.HandleFunc("GET /v1/Nexuts/health", s.handleHealth)
	mux.HandleFunc("GET /v1/Nexuts/get_best_instance", s.handleGetBestInstance)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.InstanceID == "" || req.SentryID == "" {
		httpx.WriteError(w, nexerr.Validation("ic.handleRegister", nexerr.ErrMissingWorkerID))
		return
	}
	if err := s.registry.SaveSentry(r.Context(), req.SentryID, req.NodeIP, req.SentryPort); err != nil {
		httpx.WriteError(w, err)
		return
	}
	err := s.registry.SaveInstance(r.Context(), store.InstanceRegistration{
		SentryID: req.SentryID, InstanceID: req.InstanceID, PodType: req.InstanceType,
		ServicePort: req.ServicePort, TPSize: req.TPSize, BaseGPUID: req.BaseGPUID, Step: req.Step, Status: true,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if s.watches != nil {
		s.watches.Ensure(req.SentryID)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	// status=true means "lost": the instance is temporarily unschedulable.
	if err := s.registry.SetInstanceStatus(r.Context(), req.InstanceID, !req.Status); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := s.registry.DeleteInstance(r.Context(), req.SentryID, req.InstanceID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	s.tree.EvictByWorker(req.InstanceID, s.tree.GlobalVersion()+1)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleUpdatePrefixTree(w http.ResponseWriter, r *http.Request) {
	var req updatePrefixTreeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	results := s.batcher.ApplyBatch(req.SentryID, req.SentryOpsID, req.Updates)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"result": "ok", "applied": results})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetBestInstance(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("prompt_tokens")
	var tokens []uint32
	if raw != "" {
		parsed, err := parsePromptTokens(raw)
		if err != nil {
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"error": "Invalid prompt_tokens format"})
			return
		}
		tokens = parsed
	}

	workers := s.fleet.AvailableWorkers(r.Context())
	decision := s.router.Decide(r.Context(), workers, tokens)
	if decision.WorkerID == "" {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": decision.Message})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"instance_id":      decision.WorkerID,
		"routing_strategy": string(decision.Strategy),
	})
}

func parsePromptTokens(raw string) ([]uint32, error) {
	parts := strings.Split(raw, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, nexerr.Validation("ic.parsePromptTokens", err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
