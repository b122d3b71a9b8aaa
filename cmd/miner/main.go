// Command miner runs one offline mining job: it reads playlists, mines
// association rules and writes the rule table served by cmd/recommender.
//
// Usage:
//
//	go run ./cmd/miner [flags] <playlists.csv | postgres:[table]>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/loader"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/rules"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	output := flag.String("o", "association_rules.prt", "output rule table path")
	minSupport := flag.Float64("s", 0.05, "minimum support, in (0, 1]")
	minConfidence := flag.Float64("c", 0.5, "minimum confidence, in [0, 1]")
	minLift := flag.Float64("l", 1.0, "minimum lift, >= 0")
	maxLen := flag.Int("m", 0, "maximum itemset size (0 = unbounded)")
	showTop := flag.Int("top", 5, "number of strongest rules to print")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <playlists.csv | postgres:[table]>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 1
	}
	source := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	// explicit flags win over the config file
	params := mining.Params{
		MinSupport:    cfg.Mining.MinSupport,
		MinConfidence: cfg.Mining.MinConfidence,
		MinLift:       cfg.Mining.MinLift,
		MaxLen:        cfg.Mining.MaxLen,
		Workers:       cfg.Mining.Workers,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "s":
			params.MinSupport = *minSupport
		case "c":
			params.MinConfidence = *minConfidence
		case "l":
			params.MinLift = *minLift
		case "m":
			params.MaxLen = *maxLen
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []mining.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, mining.WithMetrics(metrics.New(nil)))
		if srv, err := metrics.Listen(cfg.Metrics.Port); err != nil {
			slog.Warn("metrics server disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	var db *postgres.Client
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, rule table catalog disabled", "error", err)
		} else {
			defer db.Close()
			cat := catalog.New(db)
			if err := cat.EnsureSchema(ctx); err != nil {
				slog.Warn("catalog schema setup failed, rule table catalog disabled", "error", err)
			} else {
				opts = append(opts, mining.WithCatalog(cat))
			}
		}
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RuleTablePublished)
		defer producer.Close()
		opts = append(opts, mining.WithPublisher(producer))
	}

	src, err := loader.Open(source, db)
	if err != nil {
		slog.Error("invalid transaction source", "source", source, "error", err)
		return 1
	}
	if _, isCSV := src.(*loader.CSV); isCSV {
		if _, err := os.Stat(source); err != nil {
			slog.Error("input file not found", "path", source, "error", err)
			return 1
		}
	}

	res, err := mining.New(opts...).Run(ctx, src, params, *output)
	if err != nil {
		slog.Error("mining failed", "error", err)
		return 1
	}
	if res.Table.Len() == 0 {
		slog.Error("no rules generated, consider lowering min_support, min_confidence or min_lift",
			"output", res.Path,
			"itemsets", res.Itemsets,
		)
		return 1
	}

	stats := res.Table.Stats()
	fmt.Printf("wrote %d rules to %s (run %s, avg confidence %.3f, avg lift %.3f)\n",
		stats.TotalRules, res.Path, res.RunID, stats.AvgConfidence, stats.AvgLift)

	strongest := append([]ruletable.Rule(nil), res.Table.Rules()...)
	rules.Sort(strongest)
	for _, r := range strongest[:max(0, min(*showTop, len(strongest)))] {
		fmt.Printf("  %s -> %s  (confidence %.3f, lift %.3f)\n",
			strings.Join(r.Antecedent, ", "), strings.Join(r.Consequent, ", "), r.Confidence, r.Lift)
	}
	return 0
}
