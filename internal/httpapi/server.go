/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package httpapi is the REST boundary: it deserialises request bodies
// into typed events and renders responses from Engine state reads, never
// touching storage directly (spec §6 "Boundary with HTTP layer").
//
// Grounded on the teacher's scm/network.go bare *http.Server with explicit
// timeouts; the teacher serves one handler keyed by a Scheme callback, this
// serves a fixed *http.ServeMux of REST routes. golang.org/x/net/http2/h2c
// lets node-to-node replication traffic use HTTP/2 framing without TLS
// termination, which go-mizu-mizu's h2c middleware does for the same
// reason (lower per-request overhead on a private cluster network).
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/launix-de/raftlog/internal/engine"
	"github.com/launix-de/raftlog/internal/leadership"
	"github.com/launix-de/raftlog/internal/replication"
)

// Server wires the Engine to an HTTP boundary.
type Server struct {
	eng        *engine.Engine
	registry   engine.Registry
	leadership *leadership.State
	inbound    *replication.Inbound
	logger     *slog.Logger

	mux *http.ServeMux
}

// Config collects Server's collaborators.
type Config struct {
	Engine     *engine.Engine
	Registry   engine.Registry
	Leadership *leadership.State // nil in single-node mode
	Inbound    *replication.Inbound
	Logger     *slog.Logger
}

// New builds a Server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		eng:        cfg.Engine,
		registry:   cfg.Registry,
		leadership: cfg.Leadership,
		inbound:    cfg.Inbound,
		logger:     cfg.Logger,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /events", s.handleApplyEvent)
	s.mux.HandleFunc("GET /state/{aggregate}", s.handleReadState)
	s.mux.HandleFunc("POST /internal/replicate", s.handleReplicateSingle)
	s.mux.HandleFunc("POST /internal/replicate_bulk", s.handleReplicateBulk)
	s.mux.HandleFunc("POST /internal/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /admin/corruption", s.handleCorruption)
	s.mux.HandleFunc("POST /admin/flush", s.handleFlush)
}

// Handler returns the http.Handler to serve, wrapped for h2c so replication
// traffic between nodes can use HTTP/2 framing over a plain TCP listener.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// NewHTTPServer builds an *http.Server with the teacher's explicit-timeout
// style (scm/network.go), serving s.Handler() on addr.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

type eventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) handleApplyEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ev, known, err := s.registry.Decode(req.EventType, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !known {
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: unknown event_type %q", req.EventType))
		return
	}

	if err := s.eng.ApplyEvent(ev); err != nil {
		s.writeApplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

func (s *Server) writeApplyError(w http.ResponseWriter, err error) {
	if key, ok := engine.IsDuplicate(err); ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "key": key})
		return
	}
	if leader, ok := engine.IsNotLeader(err); ok {
		w.Header().Set("Location", leader)
		writeJSON(w, http.StatusTemporaryRedirect, map[string]any{"error": "not leader", "leader": leader})
		return
	}
	switch {
	case errors.Is(err, engine.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, engine.ErrStoragePoisoned):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, engine.ErrSerializationFailed):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleReadState(w http.ResponseWriter, r *http.Request) {
	aggregate := r.PathValue("aggregate")
	var out json.RawMessage
	s.eng.ReadState(aggregate, func(c *engine.Collection) {
		b, err := json.Marshal(c)
		if err != nil {
			return
		}
		out = b
	})
	if out == nil {
		out = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) handleReplicateSingle(w http.ResponseWriter, r *http.Request) {
	s.handleReplicateBulk(w, r)
}

func (s *Server) handleReplicateBulk(w http.ResponseWriter, r *http.Request) {
	if s.inbound == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: replication not configured"))
		return
	}
	var req replication.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.inbound.HandleBulk(req); err != nil {
		var naErr *replication.NonAuthoritativeLeaderError
		if errors.As(err, &naErr) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":    "non-authoritative leader",
				"expected": naErr.Expected,
				"got":      naErr.Got,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "replicated", "count": len(req.Events)})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.inbound == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: replication not configured"))
		return
	}
	var req replication.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.inbound.HandleHeartbeat(req)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"phase": s.eng.Phase().String()})
}

func (s *Server) handleCorruption(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"corruption_detected": s.eng.CorruptionDetected()})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Flush(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "flushed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
