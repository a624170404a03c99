// Package app wires the stores, upstream client, ingester and coordinators
// shared by the service and the operator CLI.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/config"
	"github.com/couchcryptid/tide-data-service/internal/coordinator"
	"github.com/couchcryptid/tide-data-service/internal/ingest"
	"github.com/couchcryptid/tide-data-service/internal/observability"
	"github.com/couchcryptid/tide-data-service/internal/store"
)

// DirectoryTTL is how long a SHOM harbor listing is reused.
const DirectoryTTL = 24 * time.Hour

// Engine is a fully wired, not yet running, set of components.
type Engine struct {
	Backend   store.Backend
	Stores    *store.Stores
	Client    *upstream.Client
	Directory *upstream.CachedDirectory
	Ingester  *ingest.Ingester
	Service   *coordinator.Service
}

// Build opens the configured backend and wires one coordinator per harbor.
// events may be nil. The caller owns Close.
func Build(cfg *config.Config, clk clockwork.Clock, events coordinator.EventSink, logger *slog.Logger, metrics *observability.Metrics) (*Engine, error) {
	backend, err := store.OpenBackend(cfg.StoreBackend, cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	stores := store.NewStores(backend, logger)

	fetcher := upstream.NewFetcher(upstream.FetcherConfig{
		RequestDelay: cfg.RequestDelay,
		InitialDelay: cfg.RetryInitialDelay,
		MaxAttempts:  cfg.RetryMaxAttempts,
		Referer:      cfg.Referer,
		UserAgent:    cfg.UserAgent,
	}, clk, logger, metrics)
	client := upstream.NewClient(fetcher, upstream.Endpoints{
		SHOMBase:   cfg.SHOMBaseURL,
		HarborsURL: cfg.SHOMHarborsURL,
		MeteoBase:  cfg.MeteoBaseURL,
	}, logger)
	directory := upstream.NewCachedDirectory(client, clk, DirectoryTTL)

	ing := ingest.New(client, stores, clk, cfg.WaterLevelPause, logger, metrics)

	coords := make([]*coordinator.Coordinator, 0, len(cfg.Harbors))
	for _, h := range cfg.Harbors {
		coords = append(coords, coordinator.New(h, ing, coordinator.Options{
			Interval:  cfg.UpdateInterval,
			Clock:     clk,
			Directory: directory,
			Events:    events,
			Logger:    logger,
			Metrics:   metrics,
		}))
	}

	return &Engine{
		Backend:   backend,
		Stores:    stores,
		Client:    client,
		Directory: directory,
		Ingester:  ing,
		Service:   coordinator.NewService(ing, coords, logger),
	}, nil
}

// Close releases the store backend.
func (e *Engine) Close() error {
	return e.Backend.Close()
}
