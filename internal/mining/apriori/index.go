package apriori

import (
	"strconv"
	"strings"
)

// Index looks up frequent itemsets by their items.
type Index struct {
	byKey map[string]Itemset
}

// NewIndex indexes itemsets by their sorted items.
func NewIndex(itemsets []Itemset) *Index {
	ix := &Index{byKey: make(map[string]Itemset, len(itemsets))}
	for _, is := range itemsets {
		ix.byKey[ItemsKey(is.Items)] = is
	}
	return ix
}

// Lookup returns the itemset with exactly these items. items must be sorted.
func (ix *Index) Lookup(items []string) (Itemset, bool) {
	is, ok := ix.byKey[ItemsKey(items)]
	return is, ok
}

// ItemsKey builds an unambiguous map key from sorted items by length-prefixing
// each item, so no separator character can collide with item contents.
func ItemsKey(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(strconv.Itoa(len(it)))
		b.WriteByte(':')
		b.WriteString(it)
	}
	return b.String()
}
