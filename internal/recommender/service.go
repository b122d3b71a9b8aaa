// Package recommender answers recommendation queries against the rule table
// currently held by a ruletable.Holder.
package recommender

import (
	"context"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/normalize"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/cache"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/scorer"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/middleware"
)

// Tracker receives analytics events. *analytics.Collector implements it.
type Tracker interface {
	Track(key string, event any)
}

// Request is one recommendation query. Songs are raw identifiers; nil
// overrides fall back to the service defaults.
type Request struct {
	Songs         []string
	TopN          *int
	MinConfidence *float64
	MinLift       *float64
}

// Response is a ranked recommendation from one rule table generation.
type Response struct {
	Songs      []string
	Generation string
	ModelDate  time.Time
	CacheHit   bool
}

type Service struct {
	holder   *ruletable.Holder
	cache    *cache.RecommendationCache
	tracker  Tracker
	metrics  *metrics.Metrics
	defaults scorer.Params
	maxTopN  int
}

// Option configures optional collaborators.
type Option func(*Service)

func WithCache(c *cache.RecommendationCache) Option { return func(s *Service) { s.cache = c } }

func WithTracker(t Tracker) Option { return func(s *Service) { s.tracker = t } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New returns a Service with the given defaults. maxTopN caps any requested
// top_n; 0 means no cap.
func New(holder *ruletable.Holder, defaults scorer.Params, maxTopN int, opts ...Option) *Service {
	s := &Service{
		holder:   holder,
		defaults: defaults,
		maxTopN:  maxTopN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Params resolves the scoring parameters for req: overrides applied, top_n
// capped, thresholds validated.
func (s *Service) Params(req Request) (scorer.Params, error) {
	p := s.defaults
	if req.TopN != nil {
		p.TopN = *req.TopN
	}
	if req.MinConfidence != nil {
		p.MinConfidence = *req.MinConfidence
	}
	if req.MinLift != nil {
		p.MinLift = *req.MinLift
	}
	if s.maxTopN > 0 && p.TopN > s.maxTopN {
		p.TopN = s.maxTopN
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Recommend normalizes the query, scores it against the current table
// snapshot and returns the ranked songs. It reports ErrTableNotLoaded
// before any table has been published.
func (s *Service) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	table := s.holder.Load()
	if table == nil {
		s.countOutcome("not_loaded")
		return nil, apperrors.New(apperrors.ErrTableNotLoaded, http.StatusServiceUnavailable, "Model not loaded")
	}
	p, err := s.Params(req)
	if err != nil {
		s.countOutcome("invalid")
		return nil, err
	}

	query := normalize.Set(req.Songs)
	resp := &Response{Generation: table.Generation(), ModelDate: table.GeneratedAt()}

	if len(query) == 0 || p.TopN <= 0 {
		resp.Songs = []string{}
	} else {
		compute := func() (*cache.Entry, error) {
			songs, err := scorer.Recommend(query, table, p)
			if err != nil {
				return nil, err
			}
			return &cache.Entry{Songs: songs}, nil
		}
		var entry *cache.Entry
		if s.cache != nil {
			entry, resp.CacheHit, err = s.cache.GetOrCompute(ctx, cache.Key{
				Generation:    resp.Generation,
				Query:         query,
				TopN:          p.TopN,
				MinConfidence: p.MinConfidence,
				MinLift:       p.MinLift,
			}, compute)
		} else {
			entry, err = compute()
		}
		if err != nil {
			s.countOutcome("error")
			log.Error("recommendation failed", "error", err)
			return nil, err
		}
		resp.Songs = entry.Songs
	}

	latency := time.Since(start)
	s.observe(resp, latency)
	log.Info("recommendation served",
		"query_size", len(query),
		"returned", len(resp.Songs),
		"top_n", p.TopN,
		"cache_hit", resp.CacheHit,
		"generation", resp.Generation,
		"latency_ms", latency.Milliseconds(),
	)
	if s.tracker != nil {
		s.tracker.Track(resp.Generation, analytics.RecommendEvent{
			Type:        analytics.EventRecommend,
			Seeds:       query,
			Recommended: resp.Songs,
			TopN:        p.TopN,
			LatencyMs:   latency.Milliseconds(),
			CacheHit:    resp.CacheHit,
			RunID:       resp.Generation,
			RequestID:   middleware.GetRequestID(ctx),
			Timestamp:   time.Now().UTC(),
		})
	}
	return resp, nil
}

// Table returns the snapshot currently served, or nil.
func (s *Service) Table() *ruletable.Table { return s.holder.Load() }

// Swaps reports how many tables have been served and when the last one
// was published.
func (s *Service) Swaps() (count int64, last time.Time) {
	return s.holder.Swaps(), s.holder.LastSwap()
}

// Cache returns the configured cache, or nil.
func (s *Service) Cache() *cache.RecommendationCache { return s.cache }

func (s *Service) observe(resp *Response, latency time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if len(resp.Songs) == 0 {
		outcome = "empty"
	}
	s.metrics.RecommendTotal.WithLabelValues(outcome).Inc()
	status := "miss"
	if resp.CacheHit {
		status = "hit"
		s.metrics.CacheHitsTotal.Inc()
	} else if s.cache != nil && s.cache.Enabled() {
		s.metrics.CacheMissesTotal.Inc()
	}
	s.metrics.RecommendLatency.WithLabelValues(status).Observe(latency.Seconds())
	s.metrics.RecommendResultsCount.Observe(float64(len(resp.Songs)))
}

func (s *Service) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecommendTotal.WithLabelValues(outcome).Inc()
	}
}
