package mining

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/loader"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	txs   [][]string
	err   error
	loads int
}

func (s *staticSource) Load(context.Context) (*loader.Result, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	res := &loader.Result{}
	for _, tx := range s.txs {
		res.Transactions = append(res.Transactions, apriori.NewTransaction(tx))
		res.Rows += len(tx)
	}
	return res, nil
}

func (s *staticSource) String() string { return "static" }

type fakeCatalog struct {
	entries []catalog.Entry
	err     error
}

func (c *fakeCatalog) Record(_ context.Context, e catalog.Entry) error {
	c.entries = append(c.entries, e)
	return c.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *fakePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		_ = p.Publish(ctx, e)
	}
	return nil
}

var scenario = [][]string{{"a", "b", "c"}, {"a", "b"}, {"a", "c"}, {"b", "c"}}

func defaultParams() Params {
	return Params{MinSupport: 0.5, MinConfidence: 0.5, MinLift: 0}
}

func TestRunPersistsRecordsAndAnnounces(t *testing.T) {
	out := filepath.Join(t.TempDir(), "rules", "association_rules.prt")
	cat := &fakeCatalog{}
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())

	res, err := New(WithCatalog(cat), WithPublisher(pub), WithMetrics(m)).
		Run(context.Background(), &staticSource{txs: scenario}, defaultParams(), out)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 4, res.Transactions)
	assert.Equal(t, 6, res.Itemsets)
	assert.Equal(t, 6, res.Table.Len())

	loaded, err := ruletable.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, res.Table.Rules(), loaded.Rules())
	assert.Equal(t, res.RunID, loaded.Generation())
	assert.Equal(t, "static", loaded.Metadata().Source)

	require.Len(t, cat.entries, 1)
	assert.Equal(t, res.RunID, cat.entries[0].RunID)
	assert.Equal(t, out, cat.entries[0].Path)

	require.Len(t, pub.events, 1)
	assert.Equal(t, res.RunID, pub.events[0].Key)
	event := pub.events[0].Value.(ruletable.PublishedEvent)
	assert.Equal(t, 6, event.RuleCount)
	assert.Equal(t, out, event.Path)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MiningRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.MiningRulesProduced))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MiningItemsets.WithLabelValues("1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MiningItemsets.WithLabelValues("2")))
}

func TestRunZeroRulesStillPersists(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.prt")
	m := metrics.New(prometheus.NewRegistry())
	pub := &fakePublisher{}

	res, err := New(WithMetrics(m), WithPublisher(pub)).Run(context.Background(),
		&staticSource{txs: [][]string{{"a"}, {"b"}}}, defaultParams(), out)
	require.NoError(t, err)
	assert.Zero(t, res.Table.Len())
	assert.Empty(t, pub.events, "an empty table must not be announced to recommenders")

	loaded, err := ruletable.ReadFile(out)
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MiningRunsTotal.WithLabelValues("empty")))
}

func TestRunInvalidThresholdSkipsLoad(t *testing.T) {
	src := &staticSource{txs: scenario}
	out := filepath.Join(t.TempDir(), "x.prt")

	for _, p := range []Params{
		{MinSupport: 0, MinConfidence: 0.5},
		{MinSupport: 0.5, MinConfidence: 1.5},
		{MinSupport: 0.5, MinConfidence: 0.5, MinLift: -1},
	} {
		_, err := New().Run(context.Background(), src, p, out)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidThreshold), err.Error())
	}
	assert.Zero(t, src.loads)
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestRunSourceFailurePersistsNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "x.prt")
	cat := &fakeCatalog{}
	_, err := New(WithCatalog(cat)).Run(context.Background(),
		&staticSource{err: errors.New("disk on fire")}, defaultParams(), out)
	require.Error(t, err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, cat.entries)
}

func TestRunCatalogFailureIsNotFatal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "x.prt")
	cat := &fakeCatalog{err: errors.New("connection refused")}
	res, err := New(WithCatalog(cat)).Run(context.Background(),
		&staticSource{txs: scenario}, defaultParams(), out)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Table.Len())
	assert.Len(t, cat.entries, 1)
}

func TestRunFromCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "playlists.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(`pid,track_name
1,Hey Jude
1,Let It Be
2,Hey Jude
2,let it be!
3,Hey Jude
3,Yesterday
`), 0o644))

	src, err := loader.Open(csvPath, nil)
	require.NoError(t, err)
	res, err := New().Run(context.Background(), src,
		Params{MinSupport: 0.5, MinConfidence: 0.5, MinLift: 1}, filepath.Join(dir, "out.prt"))
	require.NoError(t, err)

	// {hey jude, let it be} has support 2/3; hey jude is in every playlist
	// so the rule towards it has lift 1 and the reverse has lift 1 as well
	require.Equal(t, 2, res.Table.Len())
	for _, r := range res.Table.Rules() {
		assert.InDelta(t, 1.0, r.Lift, 1e-9)
	}
}

func TestStageRecordsErrorOnSpan(t *testing.T) {
	ctx, root := tracing.Start(context.Background(), "mining_run", "run-err")
	boom := errors.New("boom")

	err := New().stage(ctx, "load", func(*tracing.Span) error { return boom })
	require.ErrorIs(t, err, boom)
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "load", rec["span"])
	assert.Equal(t, "boom", rec["error"])
}
