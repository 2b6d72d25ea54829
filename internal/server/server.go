// Package server exposes the voice pipeline over a WebSocket endpoint plus
// the operational HTTP surface (health, readiness, cache stats, metrics).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sarathi-ai/voicecore/internal/gateway"
	"github.com/sarathi-ai/voicecore/internal/health"
	"github.com/sarathi-ai/voicecore/internal/observe"
	"github.com/sarathi-ai/voicecore/internal/session"
	"github.com/sarathi-ai/voicecore/internal/voicecache"
)

// Server wires the session manager and its collaborators to HTTP routes.
type Server struct {
	manager  *session.Manager
	gw       *gateway.Gateway
	cache    *voicecache.Cache
	defaults session.Settings
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDefaultSettings sets the settings applied to new sessions before
// per-connection overrides.
func WithDefaultSettings(settings session.Settings) Option {
	return func(s *Server) { s.defaults = settings }
}

// New creates a Server over the shared pipeline components.
func New(manager *session.Manager, gw *gateway.Gateway, cache *voicecache.Cache, opts ...Option) *Server {
	s := &Server{
		manager:  manager,
		gw:       gw,
		cache:    cache,
		defaults: session.DefaultSettings,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the full route table:
//
//	GET /v1/voice        — WebSocket voice session
//	GET /v1/health       — pipeline availability summary
//	GET /v1/cache/stats  — response cache counters
//	GET /healthz         — liveness
//	GET /readyz          — readiness (providers + cache)
//	GET /metrics         — Prometheus scrape
func (s *Server) Handler() http.Handler {
	ops := http.NewServeMux()

	h := health.New(
		health.Probe{Name: "providers", Check: s.checkProviders},
		health.Probe{Name: "cache", Check: s.cache.Ping},
	)
	h.Register(ops)

	ops.HandleFunc("GET /v1/health", s.handleHealth)
	ops.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	ops.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	// The WebSocket upgrade needs the raw ResponseWriter; the middleware's
	// status recorder would hide the Hijacker.
	root.HandleFunc("GET /v1/voice", s.handleVoice)
	root.Handle("/", observe.Middleware(s.metrics)(ops))
	return root
}

// checkProviders fails readiness only when every configured adapter's
// breaker is open.
func (s *Server) checkProviders(_ context.Context) error {
	st := s.gw.Status()
	if st.Primary.Circuit != "open" {
		return nil
	}
	if st.Backup != nil && st.Backup.Circuit != "open" {
		return nil
	}
	return errors.New("all provider circuits open")
}

// healthResponse is the JSON body of GET /v1/health.
type healthResponse struct {
	Available      bool           `json:"available"`
	ProviderStatus gateway.Status `json:"providerStatus"`
	CacheHitRate   float64        `json:"cacheHitRate"`
	ActiveSessions int            `json:"activeSessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.gw.Status()
	stats := s.cache.Stats(r.Context())

	available := st.Primary.Circuit != "open" || (st.Backup != nil && st.Backup.Circuit != "open")
	writeJSON(w, http.StatusOK, healthResponse{
		Available:      available,
		ProviderStatus: st,
		CacheHitRate:   stats.HitRate,
		ActiveSessions: s.manager.Count(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
