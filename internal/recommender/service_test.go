package recommender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/cache"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/recommender/scorer"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.RecommendEvent
}

func (r *recordingTracker) Track(_ string, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(analytics.RecommendEvent))
}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, redis.Nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStore) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string][]byte)
	return n, nil
}

func sampleTable(runID string) *ruletable.Table {
	return ruletable.New([]ruletable.Rule{
		{Antecedent: []string{"hey jude"}, Consequent: []string{"let it be"}, Support: 0.1, Confidence: 0.9, Lift: 1.2},
		{Antecedent: []string{"hey jude"}, Consequent: []string{"yesterday"}, Support: 0.1, Confidence: 0.4, Lift: 1.5},
		{Antecedent: []string{"let it be"}, Consequent: []string{"hey jude"}, Support: 0.1, Confidence: 0.8, Lift: 1.2},
	}, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), ruletable.Metadata{RunID: runID})
}

func ptr[T any](v T) *T { return &v }

func TestRecommendNotLoaded(t *testing.T) {
	s := New(ruletable.NewHolder(), scorer.DefaultParams(), 100)
	_, err := s.Recommend(context.Background(), Request{Songs: []string{"x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTableNotLoaded))
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

func TestRecommendNormalizesQuery(t *testing.T) {
	h := ruletable.NewHolder()
	h.Publish(sampleTable("run-1"))
	s := New(h, scorer.DefaultParams(), 100)

	resp, err := s.Recommend(context.Background(), Request{
		Songs:         []string{"  Hey Jude!  "},
		MinConfidence: ptr(0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"let it be"}, resp.Songs)
	assert.Equal(t, "run-1", resp.Generation)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), resp.ModelDate)
}

func TestRecommendDefaultsAndOverrides(t *testing.T) {
	h := ruletable.NewHolder()
	h.Publish(sampleTable("run-1"))
	s := New(h, scorer.DefaultParams(), 100)

	// default min_confidence 0.3 lets both rules through; yesterday scores 0.6 < 1.08
	resp, err := s.Recommend(context.Background(), Request{Songs: []string{"hey jude"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"let it be", "yesterday"}, resp.Songs)

	resp, err = s.Recommend(context.Background(), Request{Songs: []string{"hey jude"}, TopN: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"let it be"}, resp.Songs)

	resp, err = s.Recommend(context.Background(), Request{Songs: []string{"hey jude"}, TopN: ptr(0)})
	require.NoError(t, err)
	assert.Empty(t, resp.Songs)
	assert.NotNil(t, resp.Songs)

	resp, err = s.Recommend(context.Background(), Request{Songs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, resp.Songs)
}

func TestParamsCapsTopN(t *testing.T) {
	s := New(ruletable.NewHolder(), scorer.DefaultParams(), 100)
	p, err := s.Params(Request{TopN: ptr(5000)})
	require.NoError(t, err)
	assert.Equal(t, 100, p.TopN)

	_, err = s.Params(Request{MinLift: ptr(-1.0)})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidThreshold))
}

func TestRecommendUsesCacheAndTracks(t *testing.T) {
	h := ruletable.NewHolder()
	h.Publish(sampleTable("run-1"))
	tracker := &recordingTracker{}
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(&mapStore{data: make(map[string][]byte)}, time.Minute, nil)
	s := New(h, scorer.DefaultParams(), 100, WithCache(c), WithTracker(tracker), WithMetrics(m))

	first, err := s.Recommend(context.Background(), Request{Songs: []string{"hey jude"}})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Recommend(context.Background(), Request{Songs: []string{"HEY JUDE"}})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Songs, second.Songs)

	// a new generation never sees the old generation's entries
	h.Publish(sampleTable("run-2"))
	third, err := s.Recommend(context.Background(), Request{Songs: []string{"hey jude"}})
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, "run-2", third.Generation)

	require.Len(t, tracker.events, 3)
	assert.Equal(t, []string{"hey jude"}, tracker.events[1].Seeds)
	assert.True(t, tracker.events[1].CacheHit)
	assert.Equal(t, "run-2", tracker.events[2].RunID)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecommendTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal))
}

func TestConcurrentRecommendDuringSwap(t *testing.T) {
	h := ruletable.NewHolder()
	h.Publish(sampleTable("run-0"))
	s := New(h, scorer.DefaultParams(), 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				resp, err := s.Recommend(context.Background(), Request{Songs: []string{"hey jude"}})
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, []string{"let it be", "yesterday"}, resp.Songs)
			}
		}()
	}
	for i := 1; i < 50; i++ {
		h.Publish(sampleTable("run-" + string(rune('a'+i%26))))
	}
	wg.Wait()
}
