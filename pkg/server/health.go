package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/issueops/dispatchd/pkg/workflow"
)

// familyHealth is one family's entry in the health response.
type familyHealth struct {
	ActiveInstances int      `json:"active_instances"`
	Tokens          []string `json:"tokens"`
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status   string                  `json:"status"`
	Queue    string                  `json:"queue"`
	Families map[string]familyHealth `json:"families"`
}

// handleHealth reports per-family routing health: active instance counts
// and the recognized trigger tokens in matching order.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := healthResponse{
		Status:   "ok",
		Queue:    "ok",
		Families: make(map[string]familyHealth),
	}

	if err := s.tasks.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Queue = err.Error()
	}

	for _, catalog := range workflow.DefaultCatalogs() {
		family := catalog.Family()
		health := familyHealth{Tokens: catalog.Tokens()}
		if count, err := s.store.ActiveCount(ctx, family); err == nil {
			health.ActiveInstances = count
		} else {
			resp.Status = "degraded"
		}
		resp.Families[string(family)] = health
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleReady reports whether the server can accept dispatches: the queue
// database must answer and the state directory must be writable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.tasks.HealthCheck(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
		return
	}
	if err := probeWritable(s.cfg.State.Dir); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".ready-*")
	if err != nil {
		return fmt.Errorf("state dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
