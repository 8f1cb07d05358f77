// Package server provides HTTP server initialization and lifecycle management
// for the entity index API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/entityindex/internal/config"
	"github.com/scrypster/entityindex/internal/metrics"
	"github.com/scrypster/entityindex/web/handlers"
)

// Deps are the components served over HTTP. Hub and Metrics may be nil.
type Deps struct {
	API     *handlers.APIHandlers
	Hub     *handlers.WebSocketHub
	Metrics *metrics.Metrics
}

// NewHandler builds the route table wrapped in rate limiting and security
// headers. API routes require auth in production mode; health, metrics and
// the websocket stream do not.
func NewHandler(cfg *config.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/search", deps.API.Search)
	apiMux.HandleFunc("/api/devices", deps.API.Devices)
	apiMux.HandleFunc("/api/stats", deps.API.Stats)
	apiMux.HandleFunc("/api/sync", deps.API.Sync)
	apiMux.HandleFunc("/api/sync/status", deps.API.SyncStatus)
	apiMux.HandleFunc("/api/validate", deps.API.Validate)

	mux.HandleFunc("/api/health", deps.API.Health)
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	if deps.Hub != nil {
		mux.Handle("/ws", deps.Hub)
	}

	var rl *handlers.RateLimiter
	if cfg.Security.RateLimit > 0 {
		rl = handlers.NewRateLimiter(cfg.Security.RateLimit, cfg.Security.RateBurst)
	}
	return handlers.SecurityHeaders(handlers.RateLimitMiddleware(mux, rl))
}

// Start listens on the configured address and serves until ctx is done.
// It returns the actual address being listened on (useful with port 0).
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // POST /api/sync runs a full tick
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: ERROR: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
	}()

	return actualAddr, nil
}
