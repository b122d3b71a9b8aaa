package rules

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioItemsets(t *testing.T) []apriori.Itemset {
	t.Helper()
	data := []apriori.Transaction{
		apriori.NewTransaction([]string{"a", "b", "c"}),
		apriori.NewTransaction([]string{"a", "b"}),
		apriori.NewTransaction([]string{"a", "c"}),
		apriori.NewTransaction([]string{"b", "c"}),
	}
	itemsets, err := apriori.Mine(data, apriori.Options{MinSupport: 0.5})
	require.NoError(t, err)
	return itemsets
}

func find(rules []ruletable.Rule, ante, cons string) (ruletable.Rule, bool) {
	for _, r := range rules {
		if len(r.Antecedent) == 1 && len(r.Consequent) == 1 &&
			r.Antecedent[0] == ante && r.Consequent[0] == cons {
			return r, true
		}
	}
	return ruletable.Rule{}, false
}

func TestGenerateScenario(t *testing.T) {
	got, err := Generate(scenarioItemsets(t), Thresholds{MinConfidence: 0, MinLift: 0})
	require.NoError(t, err)

	// three pairs, two directions each
	assert.Len(t, got, 6)

	r, ok := find(got, "a", "b")
	require.True(t, ok)
	assert.InDelta(t, 0.5, r.Support, 1e-12)
	assert.InDelta(t, 2.0/3.0, r.Confidence, 1e-12)
	assert.InDelta(t, 0.889, r.Lift, 1e-3)
}

func TestGenerateFiltersByThresholds(t *testing.T) {
	itemsets := scenarioItemsets(t)

	got, err := Generate(itemsets, Thresholds{MinConfidence: 0.7, MinLift: 0})
	require.NoError(t, err)
	assert.Empty(t, got)

	// every scenario rule has lift 0.889 < 1
	got, err = Generate(itemsets, Thresholds{MinConfidence: 0.5, MinLift: 1})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestGenerateEnumeratesAllSplits(t *testing.T) {
	itemsets := []apriori.Itemset{
		{Items: []string{"a"}, Count: 2, Support: 1},
		{Items: []string{"b"}, Count: 2, Support: 1},
		{Items: []string{"c"}, Count: 2, Support: 1},
		{Items: []string{"a", "b"}, Count: 2, Support: 1},
		{Items: []string{"a", "c"}, Count: 2, Support: 1},
		{Items: []string{"b", "c"}, Count: 2, Support: 1},
		{Items: []string{"a", "b", "c"}, Count: 2, Support: 1},
	}
	got, err := Generate(itemsets, Thresholds{MinConfidence: 0.5, MinLift: 1})
	require.NoError(t, err)
	// 3 pairs * 2 + (2^3 - 2)
	assert.Len(t, got, 12)
	for _, r := range got {
		assert.Equal(t, 1.0, r.Confidence)
		assert.Equal(t, 1.0, r.Lift)
	}
}

func TestGenerateNoMultiItemsets(t *testing.T) {
	itemsets := []apriori.Itemset{{Items: []string{"a"}, Count: 1, Support: 1}}
	got, err := Generate(itemsets, Thresholds{MinConfidence: 0.5, MinLift: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrEmptyInput))
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = Generate(nil, Thresholds{})
	assert.True(t, errors.Is(err, apperrors.ErrEmptyInput))
	assert.Empty(t, got)
}

func TestGenerateInvalidThresholds(t *testing.T) {
	cases := []struct {
		name  string
		th    Thresholds
		param string
	}{
		{"confidence above one", Thresholds{MinConfidence: 1.1}, "min_confidence"},
		{"negative confidence", Thresholds{MinConfidence: -0.1}, "min_confidence"},
		{"nan confidence", Thresholds{MinConfidence: math.NaN()}, "min_confidence"},
		{"negative lift", Thresholds{MinConfidence: 0.5, MinLift: -1}, "min_lift"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(scenarioItemsets(t), tc.th)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidThreshold))
			assert.Contains(t, err.Error(), tc.param)
		})
	}
}

func TestGenerateRejectsNonClosedInput(t *testing.T) {
	itemsets := []apriori.Itemset{
		{Items: []string{"a"}, Count: 1, Support: 0.5},
		{Items: []string{"a", "b"}, Count: 1, Support: 0.5},
	}
	_, err := Generate(itemsets, Thresholds{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInternal))
	assert.False(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusCode(err))
}

func TestGeneratedRuleInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	data := make([]apriori.Transaction, 400)
	for i := range data {
		items := make([]string, 2+r.Intn(6))
		for j := range items {
			items[j] = string(rune('a' + r.Intn(10)))
		}
		data[i] = apriori.NewTransaction(items)
	}
	itemsets, err := apriori.Mine(data, apriori.Options{MinSupport: 0.05})
	require.NoError(t, err)

	got, err := Generate(itemsets, Thresholds{MinConfidence: 0, MinLift: 0})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	for _, rule := range got {
		assert.GreaterOrEqual(t, rule.Confidence, 0.0)
		assert.LessOrEqual(t, rule.Confidence, 1.0)
		assert.GreaterOrEqual(t, rule.Lift, 0.0)
		assert.NotEmpty(t, rule.Antecedent)
		assert.NotEmpty(t, rule.Consequent)
		for _, a := range rule.Antecedent {
			assert.NotContains(t, rule.Consequent, a)
		}
	}
}

func TestSortByConfidenceThenLift(t *testing.T) {
	rs := []ruletable.Rule{
		{Confidence: 0.5, Lift: 2},
		{Confidence: 0.9, Lift: 1},
		{Confidence: 0.5, Lift: 3},
	}
	Sort(rs)
	assert.Equal(t, 0.9, rs[0].Confidence)
	assert.Equal(t, 3.0, rs[1].Lift)
	assert.Equal(t, 2.0, rs[2].Lift)
}
