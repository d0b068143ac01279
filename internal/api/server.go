// Package api exposes a small read-only management surface: /status,
// /health, /ready, /metrics, /config. spec.md §6 scopes a management
// surface out as "not relevant for the distillation", but this gateway
// still carries one for operational visibility — it has no tenant CRUD
// because there is exactly one backend target per gateway instance
// (spec.md §5: "One backend session per client session, no global pool").
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbgateway/dbgateway/internal/config"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/metrics"
)

// Server is the REST API and metrics server.
type Server struct {
	cfg         *config.Config
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, hc *health.Checker, m *metrics.Collector) *Server {
	return &Server{
		cfg:         cfg,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
	}
}

// Start starts the HTTP API server.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/config", s.configHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// Admin dashboard (must be registered last — catch-all for "/" and "/dashboard")
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%d", s.cfg.Listen.APIBind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.authMiddleware(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] REST API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	st := s.healthCheck.GetStatus()

	status := http.StatusOK
	if st.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status": st.Status.String(),
		"target": st,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck.IsHealthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status & Config Handlers ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"proxy_db_type":  s.cfg.Listen.ProxyDBType,
		"listen": map[string]interface{}{
			"proxy_port": s.cfg.Listen.ProxyPort,
			"api_port":   s.cfg.Listen.APIPort,
		},
		"backend_health": s.healthCheck.GetStatus().Status.String(),
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listen": s.cfg.Listen,
		"target": s.cfg.Target.Redacted(),
	})
}

// --- Middleware ---

const maxRequestBody = 1 << 20 // 1MB

// publicPaths never require the API key: operators need /health and
// /metrics reachable by load balancers and scrapers that can't carry a
// bearer token, and the dashboard page itself is served without one. The
// /status and /config endpoints the dashboard fetches are not public: when
// an API key is set, those calls need it.
var publicPaths = map[string]bool{
	"/health":    true,
	"/ready":     true,
	"/metrics":   true,
	"/":          true,
	"/dashboard": true,
}

// authMiddleware enforces the configured API key as a bearer token on
// every route except the public ones, and caps request bodies so a
// malformed or hostile client can't exhaust memory.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		if s.cfg.Listen.APIKey != "" && !publicPaths[r.URL.Path] {
			want := "Bearer " + s.cfg.Listen.APIKey
			if r.Header.Get("Authorization") != want {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

