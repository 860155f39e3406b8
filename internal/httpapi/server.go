package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hirelane/livewire/internal/auth"
	"github.com/hirelane/livewire/internal/checkpoint"
	"github.com/hirelane/livewire/internal/config"
	"github.com/hirelane/livewire/internal/llm"
	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/metrics"
	"github.com/hirelane/livewire/internal/sandbox"
	"github.com/hirelane/livewire/internal/shell"
	"github.com/hirelane/livewire/internal/stream"
	"github.com/hirelane/livewire/internal/validation"
)

// Server is the transport-layer HTTP surface: terminal, chat and evaluation
// streams plus checkpoint recovery, behind token auth and rate limiting.
type Server struct {
	cfg       *config.Config
	authStore *auth.Store
	shells    *shell.Manager
	runner    *llm.Runner
	provider  llm.Provider
	recovery  *checkpoint.Controller
	runtime   sandbox.Runtime

	terminalRelay *stream.Relay
	chatRelay     *stream.Relay
	evalRelay     *stream.Relay

	httpServer *http.Server
}

// NewServer wires the transport server
func NewServer(cfg *config.Config, authStore *auth.Store, shells *shell.Manager,
	provider llm.Provider, runner *llm.Runner, recovery *checkpoint.Controller,
	runtime sandbox.Runtime) *Server {
	return &Server{
		cfg:       cfg,
		authStore: authStore,
		shells:    shells,
		runner:    runner,
		provider:  provider,
		recovery:  recovery,
		runtime:   runtime,
		terminalRelay: stream.NewRelay(stream.Options{
			Kind:            "terminal",
			KeepAlive:       cfg.ShellKeepAlive(),
			ColorErrors:     true,
			PreemptionCause: shell.ErrPreempted,
		}),
		chatRelay: stream.NewRelay(stream.Options{
			Kind:      "chat",
			KeepAlive: cfg.ChatKeepAlive(),
		}),
		evalRelay: stream.NewRelay(stream.Options{
			Kind:      "evaluation",
			KeepAlive: cfg.ChatKeepAlive(),
		}),
	}
}

// Handler builds the full middleware chain and routing table
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/sessions/{id}/terminal/stream", s.handleTerminalStream)
	api.HandleFunc("POST /api/sessions/{id}/terminal/input", s.handleTerminalInput)
	api.HandleFunc("DELETE /api/sessions/{id}/terminal", s.handleTerminalTeardown)
	api.HandleFunc("GET /api/sessions/{id}/chat/stream", s.handleChatStream)
	api.HandleFunc("GET /api/sessions/{id}/chat/checkpoint", s.handleCheckpointGet)
	api.HandleFunc("POST /api/sessions/{id}/chat/checkpoint", s.handleCheckpointPost)
	api.HandleFunc("DELETE /api/sessions/{id}/chat/checkpoint", s.handleCheckpointDelete)
	api.HandleFunc("GET /api/sessions/{id}/evaluation/stream", s.handleEvaluationStream)

	// Auth first so the rate limiter can key per token rather than per peer
	logged := s.withRequestLogging(api)
	limited := auth.RateLimitMiddleware(auth.DefaultRateLimiter())(logged)
	authed := auth.Middleware(s.authStore)(limited)

	mainMux := http.NewServeMux()

	// Health endpoints - no authentication required
	mainMux.HandleFunc("/health", s.handleHealthCheck)
	mainMux.HandleFunc("/ready", s.handleReadinessCheck)

	// Metrics endpoint - no authentication required (Prometheus scraping)
	mainMux.Handle("/metrics", metrics.Handler())

	mainMux.Handle("/api/", metrics.Middleware(authed))

	return mainMux
}

// Serve runs the HTTP server until Shutdown is called
func (s *Server) Serve() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.Address,
		Handler: s.Handler(),
		// No global write timeout: SSE responses are open-ended
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := s.cfg.Server.Address
	logger.Info("Livewire transport server listening on %s", addr)
	logger.Info("Health check: http://localhost%s/health", addr)
	logger.Info("Metrics: http://localhost%s/metrics", addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// withRequestLogging tags each request with an id and logs it
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		logger.Info("HTTP %s %s from %s [request_id=%s]", r.Method, r.URL.Path, r.RemoteAddr, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleHealthCheck is a basic liveness check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadinessCheck verifies the execution backend is reachable
func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.runtime.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","reason":"execution backend unavailable"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// sessionAccess validates the path's session id against the caller's scope.
// Writes the error response itself; callers bail out on ok == false.
func (s *Server) sessionAccess(w http.ResponseWriter, r *http.Request, needWrite bool) (string, bool) {
	sessionID := r.PathValue("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return "", false
	}

	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || !authCtx.CanAccessSession(sessionID) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Access denied for session"})
		return "", false
	}
	if needWrite && !authCtx.CanWrite() {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Write access denied (read-only token)"})
		return "", false
	}

	return sessionID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
