// cmd/entityindex-web serves the entity index over HTTP: search, stats,
// manual sync, validation, Prometheus metrics and a websocket stream of
// reconciliation results.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scrypster/entityindex/internal/app"
	"github.com/scrypster/entityindex/internal/config"
	"github.com/scrypster/entityindex/internal/server"
	"github.com/scrypster/entityindex/web/handlers"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default: resolved from ENTITYINDEX_CONFIG or config/entityindex.yaml)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	if *configPath == "" {
		*configPath = config.ResolvePath()
	}
	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	hub := handlers.NewWebSocketHub()
	go hub.Run()
	if a.Sync != nil {
		a.Sync.OnTick(hub.PublishTick)
	}

	if err := a.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync: %v", err)
	}

	addr, err := server.Start(ctx, cfg, server.Deps{
		API:     handlers.NewAPIHandlers(a.Search, a.Index, a.Sync, a.Embedder),
		Hub:     hub,
		Metrics: a.Metrics,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("entityindex API running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	if err := a.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	time.Sleep(500 * time.Millisecond) // let the HTTP server drain
}
