// Package cache memoizes recommendation results in Redis, keyed by the rule
// table generation, the normalized query and the scoring parameters.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "recommend:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cacheable recommendation.
type Key struct {
	Generation    string
	Query         []string
	TopN          int
	MinConfidence float64
	MinLift       float64
}

// Entry is the cached value.
type Entry struct {
	Songs []string `json:"songs"`
}

// RecommendationCache is safe for concurrent use. A nil store makes every
// lookup a miss, which lets the service run without Redis.
type RecommendationCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, breaker *resilience.CircuitBreaker) *RecommendationCache {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{})
	}
	return &RecommendationCache{
		store:   store,
		ttl:     ttl,
		breaker: breaker,
		logger:  slog.Default().With("component", "recommend-cache"),
	}
}

func (c *RecommendationCache) Get(ctx context.Context, k Key) (*Entry, bool) {
	if c.store == nil {
		c.misses.Add(1)
		return nil, false
	}
	key := BuildKey(k)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			// a miss is a healthy answer
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	if data == nil {
		c.misses.Add(1)
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &entry, true
}

func (c *RecommendationCache) Set(ctx context.Context, k Key, entry *Entry) {
	if c.store == nil {
		return
	}
	key := BuildKey(k)
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached entry for k, or computes, stores and
// returns it. Concurrent callers with the same key share one computation.
// The boolean reports a cache hit.
func (c *RecommendationCache) GetOrCompute(ctx context.Context, k Key, compute func() (*Entry, error)) (*Entry, bool, error) {
	if entry, ok := c.Get(ctx, k); ok {
		return entry, true, nil
	}
	val, err, _ := c.group.Do(BuildKey(k), func() (interface{}, error) {
		entry, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, k, entry)
		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Entry), false, nil
}

// Invalidate removes every cached recommendation.
func (c *RecommendationCache) Invalidate(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating recommendation cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *RecommendationCache) Enabled() bool { return c.store != nil }

func (c *RecommendationCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *RecommendationCache) BreakerState() resilience.State {
	return c.breaker.State()
}

// BuildKey hashes the generation, the sorted distinct query and the
// parameters. Every field is length-prefixed or fixed-width so distinct keys
// cannot collide by concatenation.
func BuildKey(k Key) string {
	query := append([]string(nil), k.Query...)
	sort.Strings(query)

	h := sha256.New()
	writeString := func(s string) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeUint := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		h.Write(b[:])
	}

	writeString(k.Generation)
	var prev string
	count := 0
	for i, it := range query {
		if i > 0 && it == prev {
			continue
		}
		writeString(it)
		prev = it
		count++
	}
	writeUint(uint64(count))
	writeUint(uint64(int64(k.TopN)))
	writeUint(math.Float64bits(k.MinConfidence))
	writeUint(math.Float64bits(k.MinLift))
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}
