package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/rickshaw-rides/internal/config"
	"github.com/example/rickshaw-rides/internal/dispatch"
	"github.com/example/rickshaw-rides/internal/events"
	"github.com/example/rickshaw-rides/internal/geo"
	httpapi "github.com/example/rickshaw-rides/internal/http"
	"github.com/example/rickshaw-rides/internal/ingest"
	"github.com/example/rickshaw-rides/internal/lifecycle"
	"github.com/example/rickshaw-rides/internal/logging"
	"github.com/example/rickshaw-rides/internal/payments"
	"github.com/example/rickshaw-rides/internal/points"
	"github.com/example/rickshaw-rides/internal/reports"
	"github.com/example/rickshaw-rides/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := storage.Migrate(ctx, pg.DB()); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	locs, err := config.SeedLocations()
	if err != nil {
		logger.Error("loading location catalog failed", "error", err)
		os.Exit(1)
	}
	if err := store.SeedLocations(ctx, locs); err != nil {
		logger.Error("seeding location catalog failed", "error", err)
		os.Exit(1)
	}

	var index geo.LocationIndex
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		index = geo.NewMemoryIndex()
	}

	var kafka *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
	}

	var pub *events.Publisher
	if cfg.AMQPURL != "" {
		pub, err = events.NewPublisher(cfg.AMQPURL, cfg.RideExchange)
		if err != nil {
			logger.Error("amqp connect failed", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
	}

	var payouts *payments.PayoutClient
	if cfg.StripeAPIKey != "" {
		payouts = payments.NewPayoutClient(cfg.StripeAPIKey, cfg.MinorUnitsPerPoint, "bdt")
	}

	wsreg := dispatch.NewRegistry()
	engine := &lifecycle.Engine{
		Store:          store,
		Index:          index,
		Events:         pub,
		Dispatch:       wsreg,
		Log:            logger,
		PendingTimeout: cfg.PendingTimeout,
		SweepInterval:  cfg.SweepInterval,
	}
	ledger := &points.Ledger{Store: store, Payouts: payouts, Log: logger}
	rep := &reports.Service{Store: store}

	go engine.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(store, engine, ledger, rep, index, kafka, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("rickshaw-rides listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}
