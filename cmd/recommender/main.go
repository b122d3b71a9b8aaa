// Command recommender serves playlist continuations from the latest mined
// rule table.
//
// The table is loaded at startup, then reloaded when the miner announces a
// new one on Kafka or when the model file changes on disk. The server starts
// even without a table and answers 503 until one is loaded.
//
// Usage:
//
//	go run ./cmd/recommender [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/cache"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/handler"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/reloader"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/scorer"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/resilience"
	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting recommender service",
		"port", cfg.Server.Port,
		"version", cfg.Recommend.Version,
		"model_path", cfg.Recommend.ModelPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	holder := ruletable.NewHolder()
	checker := health.NewChecker()

	var opts []recommender.Option
	opts = append(opts, recommender.WithMetrics(m))

	var recCache *cache.RecommendationCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, recommendation caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, to resilience.State) {
					m.SetBreakerState(name, int(to))
				},
			})
			recCache = cache.New(redisClient, cfg.Redis.CacheTTL, breaker)
			opts = append(opts, recommender.WithCache(recCache))
			checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
			slog.Info("recommendation cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var tables handler.Catalog
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, rule table catalog disabled", "error", err)
		} else {
			defer db.Close()
			cat := catalog.New(db)
			if err := cat.EnsureSchema(ctx); err != nil {
				slog.Warn("catalog schema setup failed", "error", err)
			} else if latest, err := cat.Latest(ctx); err == nil && latest != nil && latest.Path != cfg.Recommend.ModelPath {
				slog.Warn("configured model path differs from the latest recorded mining run",
					"model_path", cfg.Recommend.ModelPath, "latest_path", latest.Path, "latest_run_id", latest.RunID)
			}
			tables = cat
			checker.RegisterOptional("postgres", health.PingCheck(db.Ping))
		}
	}

	var collector *analytics.Collector
	aggregator := analytics.NewAggregator()
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RecommendEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, 10000, 100, time.Second)
		collector.Start(ctx)
		defer collector.Close()
		opts = append(opts, recommender.WithTracker(collector))
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.RecommendEvents)

		// every instance keeps its own view of the event stream
		instance := uuid.NewString()[:8]
		eventsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecommendEvents,
			cfg.Kafka.ConsumerGroup+"-analytics-"+instance, analytics.HandleEvent(aggregator))
		go func() {
			if err := eventsConsumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
	}

	holder.OnSwap(func(old, cur *ruletable.Table) {
		m.ObserveRuleTable(cur.Len(), cur.GeneratedAt())
		if recCache != nil && old != nil {
			invalidateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := recCache.Invalidate(invalidateCtx); err != nil {
				slog.Warn("cache invalidation after rule table swap failed", "error", err)
			}
			cancel()
		}
		if collector != nil {
			collector.Track(cur.Generation(), analytics.TableLoadedEvent{
				Type:        analytics.EventTableLoaded,
				RunID:       cur.Generation(),
				Rules:       cur.Len(),
				GeneratedAt: cur.GeneratedAt(),
				Timestamp:   time.Now().UTC(),
			})
		}
	})

	rl := reloader.New(holder, cfg.Recommend.ModelPath, resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})
	checker.Register("rule_table", rl.Check)
	if err := rl.Load(ctx); err != nil {
		m.RuleTableSwapsTotal.WithLabelValues("failed").Inc()
		slog.Warn("starting without a rule table", "error", err)
	}
	rl.StartPoll(ctx, cfg.Recommend.ReloadInterval)

	if cfg.Kafka.Enabled {
		// a unique group so every instance sees every announcement
		reloadConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RuleTablePublished,
			cfg.Kafka.ConsumerGroup+"-reload-"+uuid.NewString()[:8], rl.HandleEvent())
		go func() {
			if err := reloadConsumer.Start(ctx); err != nil {
				slog.Error("rule table consumer error", "error", err)
			}
		}()
		slog.Info("listening for rule table announcements", "topic", cfg.Kafka.Topics.RuleTablePublished)
	}

	defaults := scorer.Params{
		TopN:          cfg.Recommend.DefaultTopN,
		MinConfidence: cfg.Recommend.MinConfidence,
		MinLift:       cfg.Recommend.MinLift,
	}
	svc := recommender.New(holder, defaults, cfg.Recommend.MaxTopN, opts...)
	h := handler.New(svc, tables, cfg.Recommend.Version, cfg.Server.Port)
	analyticsH := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	h.Register(mux)
	analyticsH.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(ctx, cfg.Server.RateLimit, cfg.Server.RateWindow))(chain)
		slog.Info("rate limiting enabled", "limit", cfg.Server.RateLimit, "window", cfg.Server.RateWindow)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	}
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

	slog.Info("recommender service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("recommender service stopped")
}
