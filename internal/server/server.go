package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/trailstop/internal/server/handler"
	"github.com/alanyoungcy/trailstop/internal/server/middleware"
	"github.com/alanyoungcy/trailstop/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RequestsPerSec bounds each client address; zero disables the limit.
	RequestsPerSec float64
	RequestBurst   int
}

// Handlers aggregates the HTTP handlers the server registers. Stops, Paper,
// Audit, Events and Metrics are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Stops    *handler.StopsHandler
	Trades   *handler.TradeHandler
	Holdings *handler.HoldingsHandler
	Paper    *handler.PaperHandler
	Audit    *handler.AuditHandler
	Events   *handler.EventsHandler
	Metrics  http.Handler
}

// publicPaths are served without an API key.
var publicPaths = []string{"/api/health", "/metrics"}

// Server is the HTTP + WebSocket API of the trailing-stop service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limit, auth, logging, CORS) and attaches the
// WebSocket hub when one is given.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// The ledger lives in the reconciling process only.
	if handlers.Stops != nil {
		mux.HandleFunc("GET /api/stops", handlers.Stops.ListStops)
		mux.HandleFunc("GET /api/stops/{symbol}", handlers.Stops.GetStop)
	}

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("POST /api/trades", handlers.Trades.RecordTrade)
	mux.HandleFunc("POST /api/trades/batch", handlers.Trades.ImportTrades)
	mux.HandleFunc("GET /api/holdings", handlers.Holdings.ListHoldings)
	mux.HandleFunc("GET /api/holdings/{symbol}", handlers.Holdings.GetHolding)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}
	if handlers.Paper != nil {
		mux.HandleFunc("POST /api/paper/price", handlers.Paper.SetPrice)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var limiter *middleware.ClientLimiter
	if cfg.RequestsPerSec > 0 {
		limiter = middleware.NewClientLimiter(cfg.RequestsPerSec, cfg.RequestBurst)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.RateLimit(limiter)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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
