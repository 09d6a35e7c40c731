// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the flowplane management protocol over HTTP: flow-table
// create/delete/get/dump, reference accounting, a websocket event stream and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/flowplane/internal/ctlplane"
	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/flowtable"
	"grimm.is/flowplane/internal/logging"
	"grimm.is/flowplane/internal/metrics"
)

// Server serves the management API.
type Server struct {
	engine  *ctlplane.Engine
	hub     *Hub
	logger  *logging.Logger
	router  *mux.Router
	metrics *metrics.Set

	httpServer *http.Server
}

// NewServer creates a management API server around an engine. hub may be nil
// if no event stream is wanted.
func NewServer(engine *ctlplane.Engine, hub *Hub, m *metrics.Set, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.WithComponent("api")
	}
	s := &Server{
		engine:  engine,
		hub:     hub,
		logger:  logger,
		router:  mux.NewRouter(),
		metrics: m,
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	r := s.router.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/namespaces/{ns}/flowtables", s.handleDump).Methods(http.MethodGet)
	r.HandleFunc("/namespaces/{ns}/tables/{table}/flowtables", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/namespaces/{ns}/tables/{table}/flowtables/{name}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/namespaces/{ns}/tables/{table}/flowtables/{name}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/namespaces/{ns}/tables/{table}/flowtables/{name}/refs", s.handleAddRef).Methods(http.MethodPost)
	r.HandleFunc("/namespaces/{ns}/tables/{table}/flowtables/{name}/refs", s.handleDropRef).Methods(http.MethodDelete)

	if s.hub != nil {
		r.HandleFunc("/events", s.hub.handleSubscribe)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Management API listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type createBody struct {
	Name      string           `json:"name"`
	Family    string           `json:"family,omitempty"`
	Hook      ctlplane.HookSpec `json:"hook"`
	Exclusive bool             `json:"exclusive,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var family flowtable.Family
	if body.Family != "" {
		var err error
		family, err = flowtable.ParseFamily(body.Family)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
	}

	tx, err := s.engine.Begin(vars["ns"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	err = tx.CreateFlowtable(ctlplane.CreateRequest{
		Table:     vars["table"],
		Name:      body.Name,
		Family:    family,
		Hook:      body.Hook,
		Exclusive: body.Exclusive,
	})
	if err != nil {
		tx.Abort()
		s.writeEngineError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.writeEngineError(w, err)
		return
	}

	rec, err := s.engine.Get(vars["ns"], vars["table"], body.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tx, err := s.engine.Begin(vars["ns"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	err = tx.DeleteFlowtable(ctlplane.DeleteRequest{Table: vars["table"], Name: vars["name"]})
	if err != nil {
		tx.Abort()
		s.writeEngineError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.engine.Get(vars["ns"], vars["table"], vars["name"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type dumpResponse struct {
	FlowTables []ctlplane.Record `json:"flowtables"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	recs, next, err := s.engine.Dump(vars["ns"], q.Get("table"), q.Get("cursor"), limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dumpResponse{FlowTables: recs, NextCursor: next})
}

func (s *Server) handleAddRef(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.AddTableRef(vars["ns"], vars["table"], vars["name"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "referenced"})
}

func (s *Server) handleDropRef(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.DropTableRef(vars["ns"], vars["table"], vars["name"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict, errors.KindBusy, errors.KindPending:
		status = http.StatusConflict
	case errors.KindExhausted:
		status = http.StatusInsufficientStorage
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  errors.GetKind(err).String(),
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
