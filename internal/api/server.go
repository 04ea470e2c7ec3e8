// Package api provides the HTTP surface consumed by the host UI: model
// inventory, sync triggering, run history, orphan reports, and a live
// progress stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civisync/civisync/internal/domain"
	"github.com/civisync/civisync/internal/health"
	"github.com/civisync/civisync/internal/infra/scan"
	"github.com/civisync/civisync/internal/infra/sidecar"
	"github.com/civisync/civisync/internal/infra/sqlite"
)

// SyncFunc starts a reconciliation run over the given model types and
// returns its summary. The daemon supplies it so this package needs no
// engine wiring of its own.
type SyncFunc func(ctx context.Context, types []domain.ModelType) (domain.RunSummary, error)

// Server is the CiviSync HTTP API server.
type Server struct {
	scanner        *scan.Scanner
	sidecars       *sidecar.Store
	db             *sqlite.DB
	checker        *health.Checker
	hub            *EventHub
	sync           SyncFunc
	metricsEnabled bool

	// One reconciliation run at a time; a second POST gets 409.
	runSlot chan struct{}
}

// NewServer creates an API server. checker may be nil (CLI one-shot use).
func NewServer(scanner *scan.Scanner, sidecars *sidecar.Store, db *sqlite.DB, checker *health.Checker, hub *EventHub, sync SyncFunc) *Server {
	s := &Server{
		scanner:  scanner,
		sidecars: sidecars,
		db:       db,
		checker:  checker,
		hub:      hub,
		sync:     sync,
		runSlot:  make(chan struct{}, 1),
	}
	s.runSlot <- struct{}{}
	return s
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Syncing a large library can legitimately take a long time.
	r.Use(middleware.Timeout(30 * time.Minute))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/sync", s.handleSync)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
		r.Get("/orphans", s.handleOrphans)
		r.Get("/events", s.handleEvents)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	code := http.StatusOK
	if !s.checker.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy": s.checker.IsHealthy(),
		"checks":  s.checker.Statuses(),
	})
}

// modelEntry is one inventory row: the local file plus its sidecar state.
type modelEntry struct {
	domain.ModelFile
	Synced     bool               `json:"synced"`
	Provenance *domain.Provenance `json:"provenance,omitempty"`
	HasPreview bool               `json:"has_preview"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	types, err := parseTypes(r.URL.Query()["type"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	files, err := s.scanner.Scan(types)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "scan failed: "+err.Error())
		return
	}

	entries := make([]modelEntry, 0, len(files))
	for _, f := range files {
		e := modelEntry{ModelFile: f, HasPreview: s.sidecars.HasPreview(f.Path)}
		if rec, err := s.sidecars.Read(f.Path); err == nil {
			e.Synced = true
			prov := rec.Provenance
			e.Provenance = &prov
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, entries)
}

type syncRequest struct {
	Types []string `json:"types"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case <-s.runSlot:
		defer func() { s.runSlot <- struct{}{} }()
	default:
		writeError(w, http.StatusConflict, "a sync run is already in progress")
		return
	}

	run, err := s.sync(r.Context(), types)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sync failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.db.GetRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no such run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.scanner.Orphans(nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if orphans == nil {
		orphans = []string{}
	}
	writeJSON(w, http.StatusOK, orphans)
}

func parseTypes(raw []string) ([]domain.ModelType, error) {
	var types []domain.ModelType
	for _, t := range raw {
		mt, err := domain.ParseModelType(t)
		if err != nil {
			return nil, err
		}
		types = append(types, mt)
	}
	return types, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
