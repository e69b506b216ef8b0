package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/server/handler"
	"github.com/alanyoungcy/bondledger/internal/server/middleware"
	"github.com/alanyoungcy/bondledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// SignatureTolerance bounds the age of a signed command.
	SignatureTolerance time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Contracts *handler.ContractHandler
	Bonds     *handler.BondHandler
	Archives  *handler.ArchiveHandler
	Metrics   http.Handler
}

// Deps are the infrastructure the middleware chain relies on.
type Deps struct {
	Limiter  domain.RateLimiter
	Replay   domain.LockManager
	Observer middleware.HTTPObserver
}

// Server is the HTTP + WebSocket API of the bond ledger.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Commands (instantiate, execute, archive run) require a request signature;
// the whole API sits behind rate limiting, API key auth, logging and CORS.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	signed := middleware.Signature(middleware.SignatureConfig{
		Tolerance: cfg.SignatureTolerance,
		Replay:    deps.Replay,
		Logger:    logger,
	})

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	mux.Handle("POST /api/instantiate", signed(http.HandlerFunc(handlers.Contracts.Instantiate)))
	mux.Handle("POST /api/contracts/{address}/execute", signed(http.HandlerFunc(handlers.Contracts.Execute)))
	mux.HandleFunc("POST /api/contracts/{address}/query", handlers.Contracts.Query)
	mux.HandleFunc("GET /api/contracts/{address}", handlers.Contracts.GetContract)
	mux.HandleFunc("GET /api/contracts", handlers.Contracts.ListContracts)

	mux.HandleFunc("GET /api/bonds", handlers.Bonds.ListBonds)
	mux.HandleFunc("GET /api/bonds/{address}", handlers.Bonds.GetBond)
	mux.HandleFunc("GET /api/receipts", handlers.Bonds.ListReceipts)
	mux.HandleFunc("GET /api/receipts/{id}", handlers.Bonds.GetReceipt)

	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.DownloadArchive)
		mux.Handle("POST /api/archives/run", signed(http.HandlerFunc(handlers.Archives.RunArchive)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow)(h)
	h = middleware.Logging(logger, deps.Observer)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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
