// Package mining runs one offline mining job end to end: read transactions,
// find frequent itemsets, derive rules, persist the rule table, then record
// and announce it.
package mining

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/loader"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/rules"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/tracing"
	"github.com/google/uuid"
)

const sideEffectTimeout = 10 * time.Second

// Recorder stores catalog entries. *catalog.Catalog implements it.
type Recorder interface {
	Record(ctx context.Context, e catalog.Entry) error
}

// Params are the thresholds of one run.
type Params struct {
	MinSupport    float64
	MinConfidence float64
	MinLift       float64
	MaxLen        int
	Workers       int
}

func (p Params) validate() error {
	if err := (apriori.Options{MinSupport: p.MinSupport, MaxLen: p.MaxLen}).Validate(); err != nil {
		return err
	}
	return rules.Thresholds{MinConfidence: p.MinConfidence, MinLift: p.MinLift}.Validate()
}

// Result summarises a finished run.
type Result struct {
	RunID        string
	Path         string
	Table        *ruletable.Table
	Transactions int
	Itemsets     int
	Duration     time.Duration
}

type Pipeline struct {
	catalog   Recorder
	publisher kafka.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Pipeline)

// WithCatalog records every persisted table. Recording is best effort.
func WithCatalog(r Recorder) Option { return func(p *Pipeline) { p.catalog = r } }

// WithPublisher announces every persisted table that holds rules. Publishing
// is best effort.
func WithPublisher(pub kafka.Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		now:    time.Now,
		logger: slog.Default().With("component", "miner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run mines src with params and writes the table to output. Thresholds are
// validated before the source is read. A run that keeps zero rules still
// persists its (empty) table; callers decide whether that is a failure.
// Any error before the write aborts the run and nothing is persisted.
func (p *Pipeline) Run(ctx context.Context, src loader.Source, params Params, output string) (*Result, error) {
	start := p.now()
	res := &Result{RunID: uuid.NewString(), Path: output}
	ctx = logger.WithRunID(ctx, res.RunID)
	log := logger.FromContext(ctx).With("component", "miner")
	ctx, span := tracing.Start(ctx, "mining_run", res.RunID)
	defer func() {
		span.End()
		span.Log(log)
	}()

	if err := params.validate(); err != nil {
		p.countRun("failed")
		return nil, err
	}
	log.Info("mining run started",
		"source", src.String(),
		"min_support", params.MinSupport,
		"min_confidence", params.MinConfidence,
		"min_lift", params.MinLift,
		"max_len", params.MaxLen,
	)

	var loaded *loader.Result
	err := p.stage(ctx, "load", func(span *tracing.Span) error {
		var err error
		loaded, err = src.Load(ctx)
		if err == nil {
			span.SetAttr("rows", loaded.Rows)
			span.SetAttr("transactions", len(loaded.Transactions))
		}
		return err
	})
	if err != nil {
		p.countRun("failed")
		return nil, err
	}
	res.Transactions = len(loaded.Transactions)
	log.Info("transactions loaded", "rows", loaded.Rows, "transactions", res.Transactions)
	if res.Transactions == 0 {
		log.Warn("transaction source is empty")
	}

	var itemsets []apriori.Itemset
	err = p.stage(ctx, "mine", func(span *tracing.Span) error {
		var err error
		itemsets, err = apriori.Mine(loaded.Transactions, apriori.Options{
			MinSupport: params.MinSupport,
			MaxLen:     params.MaxLen,
			Workers:    params.Workers,
		})
		span.SetAttr("itemsets", len(itemsets))
		return err
	})
	if err != nil {
		p.countRun("failed")
		return nil, err
	}
	res.Itemsets = len(itemsets)
	loaded = nil
	p.observeItemsets(itemsets)
	log.Info("frequent itemsets found", "itemsets", res.Itemsets)

	var derived []ruletable.Rule
	err = p.stage(ctx, "rules", func(span *tracing.Span) error {
		var err error
		derived, err = rules.Generate(itemsets, rules.Thresholds{
			MinConfidence: params.MinConfidence,
			MinLift:       params.MinLift,
		})
		span.SetAttr("rules", len(derived))
		return err
	})
	if errors.Is(err, apperrors.ErrEmptyInput) {
		log.Warn("no rules derived", "reason", err.Error())
		err = nil
	}
	if err != nil {
		p.countRun("failed")
		return nil, err
	}

	res.Table = ruletable.New(derived, p.now(), ruletable.Metadata{
		RunID:         res.RunID,
		Source:        src.String(),
		Transactions:  res.Transactions,
		Itemsets:      res.Itemsets,
		MinSupport:    params.MinSupport,
		MinConfidence: params.MinConfidence,
		MinLift:       params.MinLift,
		MaxLen:        params.MaxLen,
	})
	if err := p.stage(ctx, "persist", func(*tracing.Span) error {
		return ruletable.WriteFile(output, res.Table)
	}); err != nil {
		p.countRun("failed")
		return nil, fmt.Errorf("persisting rule table: %w", err)
	}

	p.record(ctx, log, res)
	if res.Table.Len() > 0 {
		p.announce(ctx, log, res)
	} else {
		log.Warn("rule table has no rules, not announcing it to recommenders", "output", output)
	}

	res.Duration = p.now().Sub(start)
	stats := res.Table.Stats()
	if p.metrics != nil {
		p.metrics.MiningRulesProduced.Set(float64(stats.TotalRules))
	}
	if stats.TotalRules == 0 {
		p.countRun("empty")
	} else {
		p.countRun("ok")
	}
	log.Info("mining run finished",
		"rules", stats.TotalRules,
		"avg_confidence", stats.AvgConfidence,
		"avg_lift", stats.AvgLift,
		"output", output,
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Pipeline) record(ctx context.Context, log *slog.Logger, res *Result) {
	if p.catalog == nil {
		return
	}
	err := resilience.WithTimeout(ctx, sideEffectTimeout, "catalog-record", func(ctx context.Context) error {
		return p.catalog.Record(ctx, catalog.EntryFor(res.Path, res.Table))
	})
	if err != nil {
		log.Warn("failed to record rule table in catalog", "error", err)
	}
}

func (p *Pipeline) announce(ctx context.Context, log *slog.Logger, res *Result) {
	if p.publisher == nil {
		return
	}
	err := resilience.WithTimeout(ctx, sideEffectTimeout, "rule-table-publish", func(ctx context.Context) error {
		return p.publisher.Publish(ctx, kafka.Event{
			Key:   res.RunID,
			Value: ruletable.PublishedEventFor(res.Path, res.Table),
		})
	})
	if err != nil {
		log.Warn("failed to announce rule table", "error", err)
	}
}

// stage runs fn inside a child span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(span *tracing.Span) error) error {
	_, span := tracing.StartChild(ctx, name)
	start := p.now()
	err := fn(span)
	if err != nil {
		span.SetAttr("error", err.Error())
	}
	span.End()
	if p.metrics != nil {
		p.metrics.MiningDuration.WithLabelValues(name).Observe(p.now().Sub(start).Seconds())
	}
	return err
}

func (p *Pipeline) observeItemsets(itemsets []apriori.Itemset) {
	if p.metrics == nil {
		return
	}
	bySize := make(map[int]int)
	for _, is := range itemsets {
		bySize[len(is.Items)]++
	}
	p.metrics.MiningItemsets.Reset()
	for size, n := range bySize {
		p.metrics.MiningItemsets.WithLabelValues(strconv.Itoa(size)).Set(float64(n))
	}
}

func (p *Pipeline) countRun(status string) {
	if p.metrics != nil {
		p.metrics.MiningRunsTotal.WithLabelValues(status).Inc()
	}
}
