// Package server implements the gatelock gate server. It hosts the
// admission engine behind an HTTP listener, either answering with raw
// decisions (probe mode) or forwarding allowed requests to an upstream
// (gateway mode). The engine and config are swapped atomically on
// reload, so in-flight requests always see a consistent policy snapshot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/harborlight/gatelock/internal/audit"
	"github.com/harborlight/gatelock/internal/config"
	"github.com/harborlight/gatelock/internal/emit"
	"github.com/harborlight/gatelock/internal/engine"
	"github.com/harborlight/gatelock/internal/lockdown"
	"github.com/harborlight/gatelock/internal/metrics"
	"github.com/harborlight/gatelock/internal/store"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// clientIP returns the transport-level client address with any port
// stripped.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

// requestMeta returns the client IP and a fresh request ID for an
// incoming request. Used by all server handler paths.
func requestMeta(r *http.Request) (ip, requestID string) {
	return clientIP(r), uuid.NewString()
}

// Server is the gatelock gate server.
type Server struct {
	cfgPtr    atomic.Pointer[config.Config]
	enginePtr atomic.Pointer[engine.Engine]
	logger    *audit.Logger
	metrics   *metrics.Metrics
	ld        *lockdown.Controller
	ldAPI     *lockdown.APIHandler
	emitter   *emit.Emitter
	events    *store.Store
	gateway   *httputil.ReverseProxy // nil in probe mode
	server    *http.Server
	startTime time.Time
	reloadMu  sync.Mutex // serializes Reload calls
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithLockdown sets the emergency deny-all lockdown controller.
func WithLockdown(ld *lockdown.Controller) Option {
	return func(s *Server) { s.ld = ld }
}

// WithLockdownAPI sets the lockdown API handler for registering routes.
func WithLockdownAPI(api *lockdown.APIHandler) Option {
	return func(s *Server) { s.ldAPI = api }
}

// WithEmitter sets the event emitter for webhook and syslog fan-out.
func WithEmitter(em *emit.Emitter) Option {
	return func(s *Server) { s.emitter = em }
}

// WithEventStore sets the persistent store for decision history.
func WithEventStore(st *store.Store) Option {
	return func(s *Server) { s.events = st }
}

// New creates a gate server from config. When server.upstream is set the
// server forwards allowed requests there; otherwise it runs in probe
// mode and answers every request with the decision itself.
func New(cfg *config.Config, logger *audit.Logger, eng *engine.Engine, m *metrics.Metrics, opts ...Option) (*Server, error) {
	s := &Server{
		logger:    logger,
		metrics:   m,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfgPtr.Store(cfg)
	s.enginePtr.Store(eng)

	if cfg.Server.Upstream != "" {
		target, err := url.Parse(cfg.Server.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %q: %w", cfg.Server.Upstream, err)
		}
		gw := httputil.NewSingleHostReverseProxy(target)
		gw.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			// The request ID was assigned in handleGate and travels on
			// the forwarded request.
			logger.LogError(r.Method, r.URL.Path, clientIP(r), r.Header.Get("X-Request-Id"), err)
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "upstream_unreachable",
				"message": "upstream did not respond",
			})
		}
		s.gateway = gw
	}

	return s, nil
}

// CurrentConfig returns the currently active config. Used for reload comparison.
func (s *Server) CurrentConfig() *config.Config {
	return s.cfgPtr.Load()
}

// Reload atomically swaps the config and engine for hot-reload support.
// The old engine is closed to release its sweep goroutines, and the
// lockdown controller picks up the new lockdown settings with its
// signal and API toggles preserved.
//
// Note: the listen address, upstream target, and server timeouts are
// set at construction in New()/Start() and are NOT updated by Reload.
// Only policy read per-request takes effect immediately.
func (s *Server) Reload(cfg *config.Config, eng *engine.Engine) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.cfgPtr.Store(cfg)
	old := s.enginePtr.Swap(eng)
	if old != nil {
		old.Close()
	}
	if s.ld != nil {
		s.ld.Reload(cfg)
	}
}

// Close releases resources owned by the server (the active engine).
// Safe to call multiple times. Does not stop the HTTP server; use
// context cancellation in Start() for that.
func (s *Server) Close() {
	if eng := s.enginePtr.Load(); eng != nil {
		eng.Close()
	}
}

// buildHandler wraps a ServeMux with panic recovery and the lockdown
// gate. Lockdown denials short-circuit before routing, so during an
// incident nothing reaches the engine, the metrics endpoints, or the
// upstream except the exemptions the controller itself grants.
// Used by Start() and tests.
func (s *Server) buildHandler(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				// Reported to Sentry only when the CLI configured a DSN;
				// without Init the hub has no client and this is a no-op.
				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.Recover(rec)
				}
				ip, requestID := requestMeta(r)
				s.logger.LogError(r.Method, r.URL.Path, ip, requestID, fmt.Errorf("panic: %v", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":   "internal_error",
					"message": "internal server error",
				})
			}
		}()

		if s.ld != nil {
			if d := s.ld.Check(r); d.Active {
				ip, requestID := requestMeta(r)
				s.logger.LogLockdownDeny(d.Source, d.Message, ip, r.URL.Path)
				s.metrics.RecordLockdownDeny()
				if s.emitter != nil {
					s.emitter.Emit(r.Context(), "lockdown_deny", map[string]any{
						"source":    d.Source,
						"path":      r.URL.Path,
						"client_ip": ip,
					})
				}
				if s.events != nil {
					// Queue-full drops are counted by the store itself.
					_ = s.events.Record(store.Event{
						RequestID:  requestID,
						ClientAddr: r.RemoteAddr,
						Method:     r.Method,
						Path:       r.URL.Path,
						Type:       "lockdown_deny",
						Reason:     d.Message,
						StatusCode: http.StatusServiceUnavailable,
					})
				}
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error":   "lockdown_active",
					"message": d.Message,
				})
				return
			}
		}

		mux.ServeHTTP(w, r)
	})
}

// Start runs the gate server. It blocks until the context is cancelled
// or the server encounters a fatal error.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgPtr.Load()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if *cfg.Monitoring.Enabled && *cfg.Monitoring.MetricsEnabled {
		mux.Handle("/metrics", s.metrics.PrometheusHandler())
		mux.HandleFunc("/stats", s.metrics.StatsHandler())
	}
	if s.ldAPI != nil {
		mux.HandleFunc("/admin/lockdown", s.ldAPI.Handle)
		mux.HandleFunc("/admin/lockdown/dashboard", s.ldAPI.HandleDashboard)
	}
	mux.HandleFunc("/", s.handleGate)

	handler := s.buildHandler(mux)

	s.server = &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second, // Slowloris protection
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	// The done channel ensures this goroutine exits if ListenAndServe
	// fails immediately (e.g., address already in use).
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				s.logger.LogError("SHUTDOWN", cfg.Server.Listen, "", "", err)
			}
			s.Close()
		case <-done:
		}
	}()

	s.logger.LogStartup(cfg.Server.Listen, s.mode())

	err := s.server.ListenAndServe()
	close(done) // unblock shutdown goroutine if server failed immediately
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// mode reports how the server answers allowed requests.
func (s *Server) mode() string {
	if s.gateway != nil {
		return "gateway"
	}
	return "probe"
}

// healthResponse is the JSON response returned by the /health endpoint.
type healthResponse struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	Mode              string  `json:"mode"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Upstream          string  `json:"upstream,omitempty"`
	RateLimitEnabled  bool    `json:"rate_limit_enabled"`
	ValidationEnabled bool    `json:"validation_enabled"`
	CsrfEnabled       bool    `json:"csrf_enabled"`
	AuthEnabled       bool    `json:"auth_enabled"`
	ThreatEnabled     bool    `json:"threat_enabled"`
	LockdownActive    bool    `json:"lockdown_active"`
}

// handleHealth returns server health including uptime and feature flags.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfgPtr.Load()
	resp := healthResponse{
		Status:            "healthy",
		Version:           Version,
		Mode:              s.mode(),
		UptimeSeconds:     time.Since(s.startTime).Seconds(),
		Upstream:          cfg.Server.Upstream,
		RateLimitEnabled:  *cfg.RateLimit.Enabled,
		ValidationEnabled: *cfg.Validation.Enabled,
		CsrfEnabled:       cfg.Csrf.Enabled,
		AuthEnabled:       cfg.Auth.Enabled,
		ThreatEnabled:     *cfg.Threat.Enabled,
	}
	if s.ld != nil {
		// Read-only lockdown status, no auth needed. Lets operators see
		// lockdown state without the admin token.
		resp.LockdownActive = s.ld.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Best effort: header already sent, log to stderr
		fmt.Fprintf(os.Stderr, "gatelock: writeJSON encode error: %v\n", err)
	}
}
