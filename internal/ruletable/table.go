// Package ruletable holds the immutable set of association rules produced by
// one mining run, its on-disk format, and the holder that publishes the
// table currently being served.
package ruletable

import (
	"sort"
	"time"
)

// Rule is a directional association antecedent -> consequent. Both sides are
// sorted, non-empty and disjoint.
type Rule struct {
	Antecedent []string `json:"antecedents"`
	Consequent []string `json:"consequents"`
	Support    float64  `json:"support"`
	Confidence float64  `json:"confidence"`
	Lift       float64  `json:"lift"`
}

// Metadata describes the mining run that produced a table.
type Metadata struct {
	RunID         string  `json:"run_id"`
	Source        string  `json:"source,omitempty"`
	Transactions  int     `json:"transactions"`
	Itemsets      int     `json:"itemsets"`
	MinSupport    float64 `json:"min_support"`
	MinConfidence float64 `json:"min_confidence"`
	MinLift       float64 `json:"min_lift"`
	MaxLen        int     `json:"max_len"`
}

// Stats summarises a table for status reporting.
type Stats struct {
	TotalRules    int     `json:"total_rules"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgLift       float64 `json:"avg_lift"`
}

// Table is an immutable rule table. Nothing mutates a Table after New
// returns, so it is safe to share between any number of readers.
type Table struct {
	rules       []Rule
	generatedAt time.Time
	meta        Metadata
	stats       Stats
}

// New copies rules into a new Table. The generation time is kept in UTC at
// nanosecond precision, which is what the persisted format stores.
func New(rules []Rule, generatedAt time.Time, meta Metadata) *Table {
	own := make([]Rule, len(rules))
	for i, r := range rules {
		own[i] = Rule{
			Antecedent: append([]string(nil), r.Antecedent...),
			Consequent: append([]string(nil), r.Consequent...),
			Support:    r.Support,
			Confidence: r.Confidence,
			Lift:       r.Lift,
		}
	}
	return &Table{
		rules:       own,
		generatedAt: time.Unix(0, generatedAt.UnixNano()).UTC(),
		meta:        meta,
		stats:       computeStats(own),
	}
}

// Rules returns the table's rules. The returned slice is shared and must not
// be modified.
func (t *Table) Rules() []Rule { return t.rules }

func (t *Table) Len() int { return len(t.rules) }

func (t *Table) GeneratedAt() time.Time { return t.generatedAt }

func (t *Table) Metadata() Metadata { return t.meta }

func (t *Table) Stats() Stats { return t.stats }

// Generation identifies the table for cache keys and version reporting. It is
// the run ID when one was recorded, otherwise the generation timestamp.
func (t *Table) Generation() string {
	if t.meta.RunID != "" {
		return t.meta.RunID
	}
	return t.generatedAt.Format(time.RFC3339Nano)
}

func computeStats(rules []Rule) Stats {
	s := Stats{TotalRules: len(rules)}
	if len(rules) == 0 {
		return s
	}
	var conf, lift float64
	for _, r := range rules {
		conf += r.Confidence
		lift += r.Lift
	}
	s.AvgConfidence = conf / float64(len(rules))
	s.AvgLift = lift / float64(len(rules))
	return s
}

// SortRules orders rules by antecedent then consequent, item by item. Rule
// sets are unordered; sorting just makes persisted files reproducible.
func SortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if c := compareItems(rules[i].Antecedent, rules[j].Antecedent); c != 0 {
			return c < 0
		}
		return compareItems(rules[i].Consequent, rules[j].Consequent) < 0
	})
}

func compareItems(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}
