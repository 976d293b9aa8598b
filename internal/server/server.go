// Package server exposes the challenge engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/server/handler"
	"github.com/alanyoungcy/propdesk/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is the number of requests a client IP may make per
	// RateLimitWindow. Zero disables rate limiting.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Challenges *handler.ChallengeHandler
	Trades     *handler.TradeHandler
	Markets    *handler.MarketHandler // optional
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.Health)
	mux.HandleFunc("GET /api/tiers", handlers.Challenges.ListTiers)

	mux.HandleFunc("POST /api/challenges", handlers.Challenges.Create)
	mux.HandleFunc("GET /api/challenges", handlers.Challenges.List)
	mux.HandleFunc("GET /api/challenges/{id}", handlers.Challenges.Get)
	mux.HandleFunc("POST /api/challenges/{id}/cancel", handlers.Challenges.Cancel)
	mux.HandleFunc("POST /api/challenges/{id}/evaluate", handlers.Challenges.Evaluate)
	mux.HandleFunc("GET /api/challenges/{id}/positions", handlers.Challenges.Positions)
	mux.HandleFunc("GET /api/challenges/{id}/trades", handlers.Challenges.Trades)
	mux.HandleFunc("GET /api/challenges/{id}/portfolio", handlers.Challenges.Portfolio)
	mux.HandleFunc("GET /api/challenges/{id}/ledger", handlers.Challenges.Ledger)

	mux.HandleFunc("POST /api/challenges/{id}/trades", handlers.Trades.Execute)
	mux.HandleFunc("POST /api/challenges/{id}/validate", handlers.Trades.Validate)
	mux.HandleFunc("POST /api/challenges/{id}/arbitrage-check", handlers.Trades.ArbitrageCheck)

	if handlers.Markets != nil {
		mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
		mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
