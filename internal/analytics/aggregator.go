package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
)

const maxLatencySamples = 100000

type AggregatedStats struct {
	TotalRecommendations int64       `json:"total_recommendations"`
	EmptyResults         int64       `json:"empty_results"`
	CacheHits            int64       `json:"cache_hits"`
	CacheMisses          int64       `json:"cache_misses"`
	TablesLoaded         int64       `json:"tables_loaded"`
	CurrentRunID         string      `json:"current_run_id,omitempty"`
	AvgLatencyMs         float64     `json:"avg_latency_ms"`
	P50LatencyMs         int64       `json:"p50_latency_ms"`
	P95LatencyMs         int64       `json:"p95_latency_ms"`
	P99LatencyMs         int64       `json:"p99_latency_ms"`
	AvgQuerySize         float64     `json:"avg_query_size"`
	TopSeeds             []ItemCount `json:"top_seeds"`
	TopRecommended       []ItemCount `json:"top_recommended"`
	RequestsPerMinute    float64     `json:"requests_per_minute"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int64  `json:"count"`
}

// Aggregator folds recommendation events into running statistics.
type Aggregator struct {
	mu             sync.RWMutex
	total          atomic.Int64
	empty          atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	tablesLoaded   atomic.Int64
	seedItems      atomic.Int64
	latencies      []int64
	seedCounts     map[string]int64
	recommendCount map[string]int64
	currentRunID   string
	startTime      time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]int64, 0, 10000),
		seedCounts:     make(map[string]int64),
		recommendCount: make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns a Kafka handler that feeds agg. Undecodable messages
// are logged and acknowledged so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := kafka.DecodeJSON[envelope](msg.Value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch env.Type {
		case EventRecommend:
			event, err := kafka.DecodeJSON[RecommendEvent](msg.Value)
			if err != nil {
				agg.logger.Error("failed to decode recommend event", "error", err)
				return nil
			}
			agg.RecordRecommend(event)
		case EventTableLoaded:
			event, err := kafka.DecodeJSON[TableLoadedEvent](msg.Value)
			if err != nil {
				agg.logger.Error("failed to decode table event", "error", err)
				return nil
			}
			agg.RecordTableLoaded(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", env.Type)
		}
		return nil
	}
}

func (a *Aggregator) RecordRecommend(event RecommendEvent) {
	a.total.Add(1)
	a.seedItems.Add(int64(len(event.Seeds)))
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if len(event.Recommended) == 0 {
		a.empty.Add(1)
	}

	a.mu.Lock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.total.Load()%maxLatencySamples] = event.LatencyMs
	}
	for _, s := range event.Seeds {
		a.seedCounts[s]++
	}
	for _, r := range event.Recommended {
		a.recommendCount[r]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) RecordTableLoaded(event TableLoadedEvent) {
	a.tablesLoaded.Add(1)
	a.mu.Lock()
	a.currentRunID = event.RunID
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalRecommendations: a.total.Load(),
		EmptyResults:         a.empty.Load(),
		CacheHits:            a.cacheHits.Load(),
		CacheMisses:          a.cacheMisses.Load(),
		TablesLoaded:         a.tablesLoaded.Load(),
		CurrentRunID:         a.currentRunID,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if stats.TotalRecommendations > 0 {
		stats.AvgQuerySize = float64(a.seedItems.Load()) / float64(stats.TotalRecommendations)
	}
	stats.TopSeeds = topN(a.seedCounts, 10)
	stats.TopRecommended = topN(a.recommendCount, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.RequestsPerMinute = float64(stats.TotalRecommendations) / elapsed
	}
	return stats
}

// Top returns the limit most frequent seed or recommended items; kind is
// "seeds" or "recommended". ok is false for any other kind.
func (a *Aggregator) Top(kind string, limit int) (items []ItemCount, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch kind {
	case "seeds":
		return topN(a.seedCounts, limit), true
	case "recommended":
		return topN(a.recommendCount, limit), true
	default:
		return nil, false
	}
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent items, ties by item ascending.
func topN(counts map[string]int64, n int) []ItemCount {
	result := make([]ItemCount, 0, len(counts))
	for item, count := range counts {
		result = append(result, ItemCount{Item: item, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Item < result[j].Item
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
