// Package health serves liveness, readiness and Prometheus metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether one dependency is ready; name is shown in /ready.
type ReadyFunc func() bool

type Server struct {
	server    *http.Server
	mu        sync.RWMutex
	checks    map[string]ReadyFunc
	startTime time.Time
}

type statusResponse struct {
	Status string          `json:"status"`
	Uptime string          `json:"uptime,omitempty"`
	Checks map[string]bool `json:"checks,omitempty"`
}

// NewServer returns a server exposing metrics from gatherer. A nil gatherer
// uses the default Prometheus registry.
func NewServer(host string, port int, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		checks:    make(map[string]ReadyFunc),
		startTime: time.Now(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// RegisterCheck adds a readiness check. /ready is 200 only when all pass.
func (s *Server) RegisterCheck(name string, fn ReadyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = fn
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	results := make(map[string]bool, len(s.checks))
	ready := true
	for name, fn := range s.checks {
		ok := fn()
		results[name] = ok
		ready = ready && ok
	}
	s.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "not ready", Checks: results})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready", Checks: results})
}

func writeJSON(w http.ResponseWriter, status int, body statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
