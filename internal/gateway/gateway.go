// ABOUTME: Gateway orchestrator wiring the store, presence, and HTTP servers
// ABOUTME: Manages startup, health endpoints, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/pawhaven/chat-gateway/internal/api"
	"github.com/pawhaven/chat-gateway/internal/auth"
	"github.com/pawhaven/chat-gateway/internal/broadcast"
	"github.com/pawhaven/chat-gateway/internal/config"
	"github.com/pawhaven/chat-gateway/internal/presence"
	"github.com/pawhaven/chat-gateway/internal/session"
	"github.com/pawhaven/chat-gateway/internal/store"
)

// Gateway orchestrates the chat-gateway server components: the SQLite
// store, presence registry, broadcast router, WebSocket endpoint, and
// REST API, all served from one HTTP listener.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *presence.Registry
	router     *broadcast.Router
	wsServer   *session.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHAT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	registry := presence.NewRegistry(logger)
	router := broadcast.NewRouter(registry, logger)

	wsServer := session.NewServer(registry, router, s, session.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		ReadLimit:    cfg.WebSocket.ReadLimit,
		FrameRate:    cfg.WebSocket.FrameRate,
		FrameBurst:   cfg.WebSocket.FrameBurst,
	}, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		registry: registry,
		router:   router,
		wsServer: wsServer,
		logger:   logger.With("component", "gateway"),
	}

	r := mux.NewRouter()

	// Health endpoint - no auth required
	r.HandleFunc("/health", gw.handleHealth).Methods(http.MethodGet)

	// WebSocket endpoint - trust is established by the in-band auth frame
	r.HandleFunc("/ws", wsServer.HandleWebSocket)

	// REST API - JWT required
	apiHandler := api.NewHandler(s, router, logger)
	apiHandler.Register(r, verifier)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
