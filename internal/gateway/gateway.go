// ABOUTME: Gateway orchestrator wiring the store, room registry and typing tracker
// ABOUTME: Manages the HTTP server lifecycle including the websocket endpoint

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mentorhq/chatsync/internal/auth"
	"github.com/mentorhq/chatsync/internal/config"
	"github.com/mentorhq/chatsync/internal/event"
	"github.com/mentorhq/chatsync/internal/room"
	"github.com/mentorhq/chatsync/internal/store"
	"github.com/mentorhq/chatsync/internal/typing"
)

// Gateway orchestrates the chatsync server components. It owns the durable
// store, the room registry for live fan-out, and the typing tracker, and
// serves the REST API plus the websocket event channel on one HTTP listener.
type Gateway struct {
	config     *config.Config
	store      store.Store
	rooms      *room.Registry
	typing     *typing.Tracker
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATSYNC_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by a SQLite store per the configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, s, logger)
}

// NewWithStore creates a Gateway on an externally constructed store.
// Tests use this with the in-memory store.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}

	g := &Gateway{
		config:   cfg,
		store:    s,
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:   logger.With("component", "gateway"),
	}

	g.rooms = room.NewRegistry(s, logger.With("component", "rooms"))

	typingExpiry := cfg.Typing.Expiry
	if typingExpiry <= 0 {
		typingExpiry = typing.DefaultExpiry
	}
	// Expiry broadcasts a synthetic typing-stopped so a vanished client
	// never leaves a stuck indicator.
	g.typing = typing.NewTracker(typingExpiry, func(conversationID, userID string) {
		g.rooms.Broadcast(conversationID, event.MustNew(event.TypeTypingStopped, event.Typing{
			ConversationID: conversationID,
			UserID:         userID,
		}), "")
	}, logger.With("component", "typing"))

	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("/healthz", g.handleHealthz)

	// Websocket event channel - token carried as a query parameter because
	// browser websocket clients cannot set an Authorization header.
	mux.HandleFunc("/ws", g.handleWebsocket)

	// REST API - bearer auth on every route
	authMiddleware := auth.HTTPMiddleware(g.verifier)
	mux.Handle("/api/conversations", authMiddleware(http.HandlerFunc(g.handleConversations)))
	mux.Handle("/api/conversations/", authMiddleware(http.HandlerFunc(g.handleConversationRoutes)))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler returns the root HTTP handler. Tests serve it via httptest.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
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

// Shutdown stops the HTTP server and releases all gateway resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.httpServer.Shutdown(ctx)

	g.rooms.Close()
	g.typing.Close()

	if closeErr := g.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// handleHealthz returns 200 OK if the server is alive.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
