// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Handler struct {
	started time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

func NewHandler() *Handler {
	return &Handler{
		started: time.Now(),
		checks:  make(map[string]Check),
	}
}

// AddCheck registers a readiness check under name.
func (h *Handler) AddCheck(name string, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

type statusResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// RegisterOnMux mounts /health and /ready.
func (h *Handler) RegisterOnMux(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.healthHandler)
	mux.HandleFunc("GET /ready", h.readyHandler)
}

func (h *Handler) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	resp := statusResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	code := http.StatusOK
	for name, c := range checks {
		if err := c(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
