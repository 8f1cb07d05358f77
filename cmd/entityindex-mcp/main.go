// cmd/entityindex-mcp is the entry point for the entity index MCP server.
//
// Startup sequence:
//  1. Load .env (if present) and configuration.
//  2. Open storage, connect the embedding provider and open the index.
//  3. Start the sync manager and snapshot watcher when a snapshot is configured.
//  4. Serve MCP over stdin/stdout until the client disconnects or a signal arrives.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not protocol frames will corrupt the stream.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/scrypster/entityindex/internal/api/mcp"
	"github.com/scrypster/entityindex/internal/app"
	"github.com/scrypster/entityindex/internal/config"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("entityindex-mcp: ")
	log.SetFlags(log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: failed to read .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		log.Fatalf("failed to start sync: %v", err)
	}

	var opts []mcpserver.ServerOption
	if a.Sync != nil {
		opts = append(opts, mcpserver.WithSyncManager(a.Sync))
	}
	srv := mcpserver.NewServer(a.Search, a.Index, opts...)

	log.Printf("ready (model=%s, engine=%s), serving MCP on stdin/stdout", a.Index.Model(), cfg.Storage.StorageEngine)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("transport stopped: %v", err)
	}
}
