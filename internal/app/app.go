// Package app assembles the entity index components from configuration. Both
// binaries share it so the MCP and HTTP front ends see the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/scrypster/entityindex/internal/config"
	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/internal/metrics"
	"github.com/scrypster/entityindex/internal/search"
	"github.com/scrypster/entityindex/internal/source"
	"github.com/scrypster/entityindex/internal/storage"
	"github.com/scrypster/entityindex/internal/storage/postgres"
	"github.com/scrypster/entityindex/internal/storage/sqlite"
)

// watchDebounce coalesces the burst of events an editor produces on save.
const watchDebounce = 500 * time.Millisecond

// App holds the running components. Source, Sync and Watcher are nil when no
// snapshot file is configured; the index is then fed through reindex calls.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Embedder embedding.Embedder
	Index    *index.Index
	Metrics  *metrics.Metrics
	Source   source.Adapter
	Sync     *indexsync.Manager
	Search   *search.Service
	Watcher  *source.Watcher
}

// New opens storage, connects the embedding provider and builds the index,
// the search service and (with a snapshot file) the sync manager. Nothing is
// started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New("entityindex")}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	a.Embedder, err = embedding.New(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Index, err = index.Open(ctx, store, a.Metrics.InstrumentEmbedder(a.Embedder), index.Config{
		BatchSize: cfg.Embedding.BatchSize,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: failed to open index: %w", err)
	}

	opts := []search.Option{search.WithMetrics(a.Metrics)}
	if cfg.Source.SnapshotPath != "" {
		file := source.NewFile(cfg.Source.SnapshotPath)
		a.Source = file
		opts = append(opts, search.WithSource(file))

		a.Sync, err = indexsync.NewManager(file, a.Index, indexsync.Config{
			Interval:        cfg.Sync.Interval,
			ProviderTimeout: cfg.Sync.ProviderTimeout,
			MediumEvery:     cfg.Sync.MediumEvery,
			Verbose:         cfg.Sync.Verbose,
		}, indexsync.WithMetrics(a.Metrics))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
	} else {
		log.Printf("app: no snapshot configured; synchronization disabled")
	}
	a.Search = search.NewService(a.Index, opts...)
	return a, nil
}

// Start launches the sync loop and, if configured, the snapshot watcher.
// A changed snapshot triggers an immediate reconciliation.
func (a *App) Start(ctx context.Context) error {
	if a.Sync == nil {
		return nil
	}
	if err := a.Sync.Start(ctx); err != nil {
		return err
	}
	if !a.Config.Source.Watch {
		return nil
	}
	a.Watcher = source.NewWatcher(a.Config.Source.SnapshotPath, watchDebounce, func() {
		if _, err := a.Sync.UpdateNow(ctx); err != nil {
			log.Printf("app: ERROR: reconcile after snapshot change: %v", err)
		}
	})
	if err := a.Watcher.Start(); err != nil {
		log.Printf("app: WARNING: snapshot watcher disabled: %v", err)
		a.Watcher = nil
	}
	return nil
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	var errs []error
	if a.Sync != nil && a.Sync.Status().Running {
		if err := a.Sync.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("app: failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		store, err := sqlite.NewStore(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("app: failed to open database at %q: %w", cfg.SQLitePath(), err)
		}
		return store, nil
	}
}
