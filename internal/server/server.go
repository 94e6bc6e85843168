// Package server exposes the bot's operational HTTP and WebSocket API:
// health, runtime status, recent changes, opportunities, account operations
// and a manual poll trigger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arbhunter/dmarketbot/internal/server/handler"
	"github.com/arbhunter/dmarketbot/internal/server/middleware"
	"github.com/arbhunter/dmarketbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Nil entries
// leave their routes unregistered, which lets single-purpose modes expose
// only what they run.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Changes       *handler.ChangeHandler
	Opportunities *handler.OpportunityHandler
	Account       *handler.AccountHandler
	Poll          *handler.PollHandler
}

// Server is the headless HTTP + WebSocket API server for the bot.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (auth, logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required by convention; auth middleware still
	// applies when an API key is configured).
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Changes != nil {
		mux.HandleFunc("GET /api/changes/recent", handlers.Changes.ListRecent)
		mux.HandleFunc("POST /api/whitelist", handlers.Changes.Whitelist)
		mux.HandleFunc("DELETE /api/whitelist", handlers.Changes.Unwhitelist)
	}
	if handlers.Opportunities != nil {
		mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListRecent)
	}
	if handlers.Account != nil {
		mux.HandleFunc("GET /api/account/balance", handlers.Account.GetBalance)
		mux.HandleFunc("GET /api/targets", handlers.Account.ListTargets)
		mux.HandleFunc("POST /api/targets", handlers.Account.CreateTarget)
		mux.HandleFunc("DELETE /api/targets/{id}", handlers.Account.DeleteTarget)
	}
	if handlers.Poll != nil {
		mux.HandleFunc("POST /api/poll/trigger", handlers.Poll.Trigger)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, all origins are allowed.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
