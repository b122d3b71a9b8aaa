// Command analytics starts the standalone recommendation analytics service.
//
// It consumes recommendation and table-load events from Kafka, aggregates
// them in memory (request totals, empty results, cache hit rate, latency
// percentiles, top seed and recommended songs) and serves them at
// GET /api/v1/analytics. With PostgreSQL enabled it also snapshots the
// aggregate periodically.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml] [-port 8083]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
)

const snapshotInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	port := flag.Int("port", 8083, "listen port; 0 uses server.port from the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	aggregator := analytics.NewAggregator()
	checker := health.NewChecker()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecommendEvents,
		cfg.Kafka.ConsumerGroup+"-analytics", analytics.HandleEvent(aggregator))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		select {
		case <-consumerDone:
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
		}
	})
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.RecommendEvents)

	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
		} else {
			defer db.Close()
			store := snapshot.NewStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Warn("snapshot schema setup failed, analytics snapshots disabled", "error", err)
			} else {
				if prev, err := store.Latest(ctx); err == nil && prev != nil {
					slog.Info("previous analytics snapshot",
						"total_recommendations", prev.TotalRecommendations,
						"empty_results", prev.EmptyResults)
				}
				store.StartPeriodicSave(ctx, aggregator, snapshotInterval)
				checker.RegisterOptional("postgres", health.PingCheck(db.Ping))
			}
		}
	}

	analyticsHandler := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	analyticsHandler.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
