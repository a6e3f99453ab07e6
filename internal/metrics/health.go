package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer serves liveness, readiness, and Prometheus scrape endpoints
// on a plain HTTP mux, separate from the asset hub's own RPC transport.
type HealthServer struct {
	mux     *http.ServeMux
	ready   atomic.Bool
	version string
}

// NewHealthServer builds a health server. Readiness starts false; call
// SetReady(true) once the RPC connection host is accepting connections.
func NewHealthServer(version string) *HealthServer {
	hs := &HealthServer{mux: http.NewServeMux(), version: version}
	hs.mux.HandleFunc("/health", hs.healthHandler)
	hs.mux.HandleFunc("/ready", hs.readyHandler)
	hs.mux.Handle("/metrics", Handler())
	return hs
}

// SetReady flips the readiness flag reported by /ready.
func (hs *HealthServer) SetReady(ready bool) {
	hs.ready.Store(ready)
}

// Handler returns the composed http.Handler for use with a custom server.
func (hs *HealthServer) Handler() http.Handler {
	return hs.mux
}

// ListenAndServe starts the health HTTP server.
func (hs *HealthServer) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

type readyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	})
}

func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "not_ready"
	code := http.StatusServiceUnavailable
	if hs.ready.Load() {
		status = "ready"
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(readyResponse{Status: status, Timestamp: time.Now()})
}
