// Package rules derives directional association rules from frequent itemsets.
package rules

import (
	"math"
	"net/http"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
)

// Thresholds bounds the rules Generate keeps.
type Thresholds struct {
	MinConfidence float64
	MinLift       float64
}

// Validate checks that confidence is in [0, 1] and lift is non-negative.
func (th Thresholds) Validate() error {
	if math.IsNaN(th.MinConfidence) || th.MinConfidence < 0 || th.MinConfidence > 1 {
		return apperrors.InvalidThreshold("min_confidence", th.MinConfidence, "[0, 1]")
	}
	if math.IsNaN(th.MinLift) || th.MinLift < 0 {
		return apperrors.InvalidThreshold("min_lift", th.MinLift, "[0, +inf)")
	}
	return nil
}

// Generate splits every frequent itemset of two or more items into each
// non-empty antecedent and its complement consequent, and keeps the rules
// meeting both thresholds:
//
//	confidence = support(A ∪ C) / support(A)
//	lift       = confidence / support(C)
//
// Supports of the subsets come from the same itemset collection; by downward
// closure every subset of a frequent itemset is present in it.
//
// If no itemset has two or more items, Generate returns an empty, non-nil
// rule slice together with ErrEmptyInput so callers can tell "nothing to
// derive from" apart from "nothing passed the thresholds".
func Generate(itemsets []apriori.Itemset, th Thresholds) ([]ruletable.Rule, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}

	ix := apriori.NewIndex(itemsets)
	out := []ruletable.Rule{}
	multi := 0
	for _, is := range itemsets {
		if len(is.Items) < 2 {
			continue
		}
		multi++
		rules, err := split(is, ix, th)
		if err != nil {
			return nil, err
		}
		out = append(out, rules...)
	}
	if multi == 0 {
		return out, apperrors.New(apperrors.ErrEmptyInput, http.StatusUnprocessableEntity,
			"no itemset with two or more items to derive rules from")
	}
	ruletable.SortRules(out)
	return out, nil
}

// split enumerates the 2^k - 2 proper non-empty antecedents of one itemset.
// Items are sorted, so walking a bitmask over them keeps both sides sorted.
func split(is apriori.Itemset, ix *apriori.Index, th Thresholds) ([]ruletable.Rule, error) {
	k := len(is.Items)
	var out []ruletable.Rule
	ante := make([]string, 0, k)
	cons := make([]string, 0, k)
	for mask := 1; mask < (1<<k)-1; mask++ {
		ante, cons = ante[:0], cons[:0]
		for i, it := range is.Items {
			if mask&(1<<i) != 0 {
				ante = append(ante, it)
			} else {
				cons = append(cons, it)
			}
		}

		a, ok := ix.Lookup(ante)
		if !ok {
			return nil, missingSubset(ante, is.Items)
		}
		c, ok := ix.Lookup(cons)
		if !ok {
			return nil, missingSubset(cons, is.Items)
		}
		if a.Support <= 0 || c.Support <= 0 {
			continue
		}

		conf := is.Support / a.Support
		lift := conf / c.Support
		if conf < th.MinConfidence || lift < th.MinLift {
			continue
		}
		out = append(out, ruletable.Rule{
			Antecedent: append([]string(nil), ante...),
			Consequent: append([]string(nil), cons...),
			Support:    is.Support,
			Confidence: conf,
			Lift:       lift,
		})
	}
	return out, nil
}

func missingSubset(sub, of []string) error {
	return apperrors.Newf(apperrors.ErrInternal, http.StatusInternalServerError,
		"itemset collection is not downward closed: %v missing for %v", sub, of)
}

// Sort orders rules by confidence then lift, both descending, for display.
func Sort(rules []ruletable.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].Lift > rules[j].Lift
	})
}
