// Package api exposes the orchestrator over HTTP: batch submission,
// cancellation, restart, status polling and a live event stream.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/hub"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/registry"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/scheduler"
)

// maxSubmitBatch bounds one submission request.
const maxSubmitBatch = 100

// Server holds the handler dependencies.
type Server struct {
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	hub       *hub.Hub
	logger    observability.Logger
}

// New creates the HTTP surface.
func New(sched *scheduler.Scheduler, reg *registry.Registry, h *hub.Hub, logger observability.Logger) *Server {
	return &Server{scheduler: sched, registry: reg, hub: h, logger: logger}
}

// Routes builds the full route table, including health and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("POST /api/concurrency", s.handleConcurrency)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type submitRequest struct {
	URLs []string `json:"urls"`
	// Destination optionally overrides the configured download root for
	// this batch.
	Destination string `json:"destination,omitempty"`
}

type submitResponse struct {
	Tasks   []*domain.Task `json:"tasks"`
	Skipped []string       `json:"skipped,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var locators []string
	for _, u := range req.URLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			locators = append(locators, trimmed)
		}
	}
	if len(locators) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls must contain at least one non-empty entry")
		return
	}
	if len(locators) > maxSubmitBatch {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per submission", maxSubmitBatch))
		return
	}

	tasks, skipped := s.scheduler.SubmitBatch(locators, strings.TrimSpace(req.Destination))
	s.logger.Info("batch submitted", "count", len(tasks), "skipped", len(skipped))
	s.writeJSON(w, http.StatusAccepted, submitResponse{Tasks: tasks, Skipped: skipped})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	n := s.scheduler.CancelAll()
	s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	n := s.scheduler.RestartFailed()
	s.writeJSON(w, http.StatusOK, map[string]int{"restarted": n})
}

func (s *Server) handleConcurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ceiling int `json:"ceiling"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Ceiling <= 0 {
		s.writeError(w, http.StatusBadRequest, "ceiling must be a positive integer")
		return
	}
	effective := s.scheduler.SetCeiling(req.Ceiling)
	s.writeJSON(w, http.StatusOK, map[string]int{"ceiling": effective})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

// handleEvents streams hub events as server-sent events until the client
// disconnects. The subscriber starts with a replay of running tasks.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
