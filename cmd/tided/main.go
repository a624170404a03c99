package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/tide-data-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/tide-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/tide-data-service/internal/app"
	"github.com/couchcryptid/tide-data-service/internal/config"
	"github.com/couchcryptid/tide-data-service/internal/coordinator"
	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/observability"
	"github.com/couchcryptid/tide-data-service/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clk := clockwork.NewRealClock()

	// Cycle events are feature-flagged via KAFKA_BROKERS.
	var (
		events coordinator.EventSink
		writer *kafkaadapter.Writer
	)
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger)
		events = writer
		logger.Info("cycle events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaEventsTopic)
	} else {
		logger.Info("cycle events disabled")
	}

	engine, err := app.Build(cfg, clk, events, logger, metrics)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	loc, err := domain.LoadLocation(cfg.HarborTimezone)
	if err != nil {
		logger.Error("invalid harbor timezone", "error", err)
		os.Exit(1)
	}
	sched := scheduler.New(clk, loc, logger)
	slots := scheduler.RandomSlots(cfg.ScheduleSeed, len(domain.Kinds))
	for i, kind := range domain.Kinds {
		if err := sched.Add("prefetch_"+string(kind), slots[i].Expr(), func(ctx context.Context) {
			engine.Service.Prefetch(ctx, kind)
		}); err != nil {
			logger.Error("failed to schedule prefetch", "domain", kind, "error", err)
			os.Exit(1)
		}
		logger.Info("prefetch scheduled", "domain", kind, "at", slots[i].String(), "timezone", loc.String())
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, engine.Service, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start coordinators and prefetch schedulers.
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range engine.Service.Coordinators() {
		g.Go(func() error { return c.Run(gctx) })
	}
	g.Go(func() error { return sched.Run(gctx) })

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := g.Wait(); err != nil {
		logger.Error("background task error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := engine.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
