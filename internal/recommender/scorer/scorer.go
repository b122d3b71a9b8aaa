// Package scorer ranks recommendation candidates for a query against an
// immutable rule table.
//
// A rule applies to a query when at least one antecedent item is in the query,
// no consequent item is in the query, and the rule meets the per-query
// confidence and lift thresholds. Each consequent item of an applicable rule
// is a candidate scored confidence × lift; a candidate reached by several
// rules keeps its best score. Candidates are ranked by score descending, ties
// by item ascending, and truncated to TopN.
package scorer

import (
	"math"
	"runtime"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTopN          = 10
	DefaultMinConfidence = 0.3
	DefaultMinLift       = 1.0

	// parallelThreshold is the table size above which rules are scanned in
	// parallel shards.
	parallelThreshold = 8192
)

// Params are the per-query scoring parameters.
type Params struct {
	TopN          int
	MinConfidence float64
	MinLift       float64
}

// DefaultParams returns top 10, confidence 0.3 and lift 1.0.
func DefaultParams() Params {
	return Params{
		TopN:          DefaultTopN,
		MinConfidence: DefaultMinConfidence,
		MinLift:       DefaultMinLift,
	}
}

// Validate rejects a confidence outside [0, 1] or a negative lift. TopN is
// not validated; a non-positive TopN yields an empty result.
func (p Params) Validate() error {
	if math.IsNaN(p.MinConfidence) || p.MinConfidence < 0 || p.MinConfidence > 1 {
		return apperrors.InvalidThreshold("min_confidence", p.MinConfidence, "[0, 1]")
	}
	if math.IsNaN(p.MinLift) || p.MinLift < 0 {
		return apperrors.InvalidThreshold("min_lift", p.MinLift, "[0, +inf)")
	}
	return nil
}

// Candidate is a ranked recommendation.
type Candidate struct {
	Item  string  `json:"item"`
	Score float64 `json:"score"`
}

// Recommend returns the top p.TopN items for query, best first. query must
// already be normalized. An empty query or an empty table yields an empty
// result; a nil table is ErrTableNotLoaded.
func Recommend(query []string, table *ruletable.Table, p Params) ([]string, error) {
	ranked, err := Rank(query, table, p)
	if err != nil {
		return nil, err
	}
	items := make([]string, len(ranked))
	for i, c := range ranked {
		items[i] = c.Item
	}
	return items, nil
}

// Rank is Recommend with the scores attached.
func Rank(query []string, table *ruletable.Table, p Params) ([]Candidate, error) {
	if table == nil {
		return nil, apperrors.ErrTableNotLoaded
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(query) == 0 || table.Len() == 0 || p.TopN <= 0 {
		return []Candidate{}, nil
	}

	q := make(map[string]struct{}, len(query))
	for _, it := range query {
		q[it] = struct{}{}
	}

	var best map[string]float64
	if rules := table.Rules(); len(rules) > parallelThreshold {
		best = scoreParallel(rules, q, p, runtime.GOMAXPROCS(0))
	} else {
		best = make(map[string]float64)
		scoreRules(rules, q, p, best)
	}
	return top(best, p.TopN), nil
}

// scoreRules folds the applicable rules into best, keeping the maximum score
// per candidate item.
func scoreRules(rules []ruletable.Rule, q map[string]struct{}, p Params, best map[string]float64) {
	for i := range rules {
		r := &rules[i]
		if r.Confidence < p.MinConfidence || r.Lift < p.MinLift {
			continue
		}
		if !anyIn(r.Antecedent, q) || anyIn(r.Consequent, q) {
			continue
		}
		score := r.Confidence * r.Lift
		for _, it := range r.Consequent {
			if cur, ok := best[it]; !ok || score > cur {
				best[it] = score
			}
		}
	}
}

// scoreParallel splits rules into contiguous shards, scores each into a
// private map, and merges the maps by max. Max is order independent, so the
// result matches the sequential scan exactly.
func scoreParallel(rules []ruletable.Rule, q map[string]struct{}, p Params, workers int) map[string]float64 {
	if workers < 1 {
		workers = 1
	}
	shard := (len(rules) + workers - 1) / workers
	partials := make([]map[string]float64, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := min(w*shard, len(rules))
		hi := min(lo+shard, len(rules))
		partial := make(map[string]float64)
		partials[w] = partial
		g.Go(func() error {
			scoreRules(rules[lo:hi], q, p, partial)
			return nil
		})
	}
	_ = g.Wait()

	best := partials[0]
	for _, partial := range partials[1:] {
		for it, score := range partial {
			if cur, ok := best[it]; !ok || score > cur {
				best[it] = score
			}
		}
	}
	return best
}

func top(best map[string]float64, n int) []Candidate {
	out := make([]Candidate, 0, len(best))
	for it, score := range best {
		out = append(out, Candidate{Item: it, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item < out[j].Item
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func anyIn(items []string, set map[string]struct{}) bool {
	for _, it := range items {
		if _, ok := set[it]; ok {
			return true
		}
	}
	return false
}
