package ruletable

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	rules := []Rule{
		{Antecedent: []string{"a"}, Consequent: []string{"b"}, Support: 0.5, Confidence: 2.0 / 3.0, Lift: 0.8888888888888888},
		{Antecedent: []string{"a", "b"}, Consequent: []string{"c"}, Support: 0.1, Confidence: 0.9, Lift: 1.2},
		{Antecedent: []string{"café del mar"}, Consequent: []string{"x", "y"}, Support: 0.05, Confidence: 0.3, Lift: 7.5},
	}
	meta := Metadata{
		RunID:         "6f1c1b7e-4a38-4c8e-9d6b-5b8b2f1d9e10",
		Source:        "playlists.csv",
		Transactions:  1000,
		Itemsets:      42,
		MinSupport:    0.05,
		MinConfidence: 0.3,
		MinLift:       1,
	}
	return New(rules, time.Date(2026, 10, 17, 12, 34, 56, 123456789, time.FixedZone("X", 3600)), meta)
}

func TestNewCopiesInput(t *testing.T) {
	rules := []Rule{{Antecedent: []string{"a"}, Consequent: []string{"b"}, Confidence: 1, Lift: 1}}
	tbl := New(rules, time.Now(), Metadata{})
	rules[0].Antecedent[0] = "mutated"
	assert.Equal(t, "a", tbl.Rules()[0].Antecedent[0])
}

func TestStats(t *testing.T) {
	tbl := New([]Rule{
		{Antecedent: []string{"a"}, Consequent: []string{"b"}, Confidence: 0.4, Lift: 1},
		{Antecedent: []string{"b"}, Consequent: []string{"a"}, Confidence: 0.6, Lift: 3},
	}, time.Now(), Metadata{})
	s := tbl.Stats()
	assert.Equal(t, 2, s.TotalRules)
	assert.InDelta(t, 0.5, s.AvgConfidence, 1e-12)
	assert.InDelta(t, 2.0, s.AvgLift, 1e-12)

	assert.Equal(t, Stats{}, New(nil, time.Now(), Metadata{}).Stats())
}

func TestGeneration(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	assert.Equal(t, "run-1", New(nil, ts, Metadata{RunID: "run-1"}).Generation())
	assert.Equal(t, "2026-01-02T03:04:05.000000006Z", New(nil, ts, Metadata{}).Generation())
}

func TestRoundTrip(t *testing.T) {
	orig := sampleTable()
	path := filepath.Join(t.TempDir(), "rules"+FileExt)

	require.NoError(t, WriteFile(path, orig))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig.Rules(), loaded.Rules())
	assert.True(t, orig.GeneratedAt().Equal(loaded.GeneratedAt()))
	assert.Equal(t, orig.GeneratedAt().UnixNano(), loaded.GeneratedAt().UnixNano())
	assert.Equal(t, orig.Metadata(), loaded.Metadata())
	assert.Equal(t, orig.Stats(), loaded.Stats())
	assert.Equal(t, orig, loaded)
}

func TestRoundTripEmptyTable(t *testing.T) {
	orig := New(nil, time.Unix(1700000000, 0), Metadata{RunID: "empty"})
	data, err := Marshal(orig)
	require.NoError(t, err)
	loaded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, orig, loaded)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.prt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, errors.Is(err, apperrors.ErrMalformedTable))
}

func TestReadFileMalformed(t *testing.T) {
	good, err := Marshal(sampleTable())
	require.NoError(t, err)

	corrupt := func(fn func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return fn(b)
	}

	cases := map[string][]byte{
		"empty":     {},
		"truncated": good[:len(good)-5],
		"bad magic": corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[0:4], 0xdeadbeef)
			return b
		}),
		"bad version": corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:8], 99)
			return b
		}),
		"flipped body byte": corrupt(func(b []byte) []byte {
			b[HeaderSize+3] ^= 0xff
			return b
		}),
		"wrong rule count": corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:12], 7)
			return b
		}),
		"trailing garbage": append(append([]byte(nil), good...), 0x00),
	}

	dir := t.TempDir()
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+FileExt)
			require.NoError(t, os.WriteFile(path, data, 0o644))
			tbl, err := ReadFile(path)
			require.Error(t, err)
			assert.Nil(t, tbl)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedTable), err.Error())
		})
	}
}

func TestUnmarshalRejectsInvalidRule(t *testing.T) {
	bad := New([]Rule{{Antecedent: []string{"a"}, Consequent: []string{"a"}, Confidence: 0.5, Lift: 1}}, time.Now(), Metadata{})
	data, err := Marshal(bad)
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both sides")
}

func TestSortRules(t *testing.T) {
	rules := []Rule{
		{Antecedent: []string{"b"}, Consequent: []string{"a"}},
		{Antecedent: []string{"a", "b"}, Consequent: []string{"c"}},
		{Antecedent: []string{"a"}, Consequent: []string{"c"}},
		{Antecedent: []string{"a"}, Consequent: []string{"b"}},
	}
	SortRules(rules)
	assert.Equal(t, []string{"a"}, rules[0].Antecedent)
	assert.Equal(t, []string{"b"}, rules[0].Consequent)
	assert.Equal(t, []string{"c"}, rules[1].Consequent)
	assert.Equal(t, []string{"a", "b"}, rules[2].Antecedent)
	assert.Equal(t, []string{"b"}, rules[3].Antecedent)
}

func TestHolderPublish(t *testing.T) {
	h := NewHolder()
	assert.Nil(t, h.Load())
	assert.True(t, h.LastSwap().IsZero())

	var seen []string
	h.OnSwap(func(old, cur *Table) {
		if old == nil {
			seen = append(seen, "nil->"+cur.Generation())
			return
		}
		seen = append(seen, old.Generation()+"->"+cur.Generation())
	})

	first := New(nil, time.Now(), Metadata{RunID: "one"})
	second := New(nil, time.Now(), Metadata{RunID: "two"})
	h.Publish(first)
	h.Publish(nil)
	h.Publish(second)

	assert.Same(t, second, h.Load())
	assert.Equal(t, int64(2), h.Swaps())
	assert.Equal(t, []string{"nil->one", "one->two"}, seen)
	assert.False(t, h.LastSwap().IsZero())
}

func TestHolderConcurrentReaders(t *testing.T) {
	h := NewHolder()
	tables := make([]*Table, 20)
	for i := range tables {
		rules := make([]Rule, i+1)
		for j := range rules {
			rules[j] = Rule{Antecedent: []string{"a"}, Consequent: []string{"b"}, Confidence: 0.5, Lift: float64(i)}
		}
		tables[i] = New(rules, time.Now(), Metadata{})
	}
	h.Publish(tables[0])

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				snap := h.Load()
				// every rule of one snapshot carries the same lift
				want := snap.Rules()[0].Lift
				for _, rule := range snap.Rules() {
					if rule.Lift != want {
						t.Errorf("torn read: lift %v in table with lift %v", rule.Lift, want)
						return
					}
				}
				assert.Equal(t, int(want)+1, snap.Len())
			}
		}()
	}
	for _, tbl := range tables[1:] {
		h.Publish(tbl)
	}
	wg.Wait()
}
