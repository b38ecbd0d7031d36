package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/manifest"
	"github.com/tidecraft/ballast/pkg/metrics"
	"github.com/tidecraft/ballast/pkg/reconciler"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

// Server exposes the operational HTTP surface
type Server struct {
	store  store.Store
	rec    *reconciler.Reconciler
	broker *events.Broker

	httpServer *http.Server
}

// NewServer creates the API server
func NewServer(st store.Store, rec *reconciler.Reconciler, broker *events.Broker, addr string) *Server {
	s := &Server{store: st, rec: rec, broker: broker}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the root router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/apply", s.handleApply)

		api.Get("/workloads", s.handleListWorkloads)
		api.Get("/workloads/{name}", s.handleGetWorkload)
		api.Delete("/workloads/{name}", s.handleDeleteWorkload)
		api.Post("/workloads/{name}/rollout/cancel", s.handleCancelRollout)

		api.Get("/services", s.handleListServices)
		api.Get("/services/{name}/endpoints", s.handleServiceEndpoints)

		api.Get("/events", s.handleEvents)
	})

	return r
}

// Start begins serving; it blocks until the listener fails or Shutdown is
// called
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("addr", s.httpServer.Addr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleApply accepts one or more YAML manifest documents and upserts them
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))
		return
	}

	applied, status, err := s.applyDocuments(body)
	if err != nil {
		respondError(w, status, err)
		return
	}
	if len(applied) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("no resources in request"))
		return
	}

	s.rec.Notify()
	respondJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

// applyDocuments upserts every document in the body while holding the
// reconciler's pass lock, so a pass never observes a half-applied request
func (s *Server) applyDocuments(body []byte) ([]map[string]string, int, error) {
	guard := s.rec.Guard()
	guard.Lock()
	defer guard.Unlock()

	var applied []map[string]string
	dec := yaml.NewDecoder(bytes.NewReader(body))
	for {
		var doc manifest.Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, http.StatusBadRequest, fmt.Errorf("invalid manifest: %w", err)
		}
		if doc.Kind == "" {
			continue
		}
		if doc.APIVersion != manifest.APIVersion {
			return nil, http.StatusBadRequest, fmt.Errorf("unsupported apiVersion %q", doc.APIVersion)
		}
		if err := manifest.Apply(s.store, &doc); err != nil {
			return nil, http.StatusUnprocessableEntity, err
		}
		applied = append(applied, map[string]string{"kind": doc.Kind, "name": doc.Metadata.Name})
	}
	return applied, http.StatusOK, nil
}

// workloadView is the API shape of a workload with its observed state
type workloadView struct {
	Workload  *types.Workload   `json:"workload"`
	Instances []*types.Instance `json:"instances,omitempty"`
}

func (s *Server) handleListWorkloads(w http.ResponseWriter, _ *http.Request) {
	workloads, err := s.store.ListWorkloads()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, workloads)
}

func (s *Server) handleGetWorkload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	workload, err := s.store.GetWorkload(name)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	instances, err := s.store.ListInstancesByWorkload(name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, workloadView{Workload: workload, Instances: instances})
}

func (s *Server) handleDeleteWorkload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if _, err := s.store.GetWorkload(name); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := s.store.DeleteWorkload(name); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.broker.Publish(&events.Event{Type: events.EventWorkloadDeleted, Workload: name})
	s.rec.Notify()
	respondJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleCancelRollout(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	workload, err := s.store.GetWorkload(name)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if workload.Rollout == nil || workload.Rollout.State != types.RolloutStateRollingOut {
		respondError(w, http.StatusConflict, fmt.Errorf("workload %s has no rollout in progress", name))
		return
	}

	s.rec.CancelRollout(name)
	respondJSON(w, http.StatusAccepted, map[string]string{"cancelling": name})
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	services, err := s.store.ListServices()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, services)
}

// serviceEndpointsView pairs a service with its live endpoints
type serviceEndpointsView struct {
	Service   string           `json:"service"`
	Endpoints []types.Endpoint `json:"endpoints"`
}

func (s *Server) handleServiceEndpoints(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	endpoints, err := s.rec.Router().Resolve(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("service %s not found", name))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, serviceEndpointsView{Service: name, Endpoints: endpoints})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
	}
	respondJSON(w, http.StatusOK, s.broker.Recent(limit))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondError(w, http.StatusInternalServerError, err)
}
