// Package apriori finds frequent itemsets in a collection of transactions
// with a levelwise search. Level k+1 candidates are built only from frequent
// level-k itemsets whose every k-subset is frequent, and support counting for
// each level is sharded across worker goroutines.
package apriori

import (
	"encoding/binary"
	"math"
	"net/http"
	"runtime"
	"slices"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Transaction is one grouped collection of items, sorted and without
// duplicates. Build it with NewTransaction.
type Transaction []string

// NewTransaction returns items as a Transaction: sorted ascending with
// duplicates removed. The input slice is not modified.
func NewTransaction(items []string) Transaction {
	out := make([]string, len(items))
	copy(out, items)
	sort.Strings(out)
	w := 0
	for i, it := range out {
		if i > 0 && it == out[w-1] {
			continue
		}
		out[w] = it
		w++
	}
	return Transaction(out[:w])
}

// Itemset is a frequent combination of items. Items are sorted ascending.
// Count is the number of transactions containing every item and Support is
// Count divided by the number of transactions.
type Itemset struct {
	Items   []string
	Count   int
	Support float64
}

// Options configures a mining run.
type Options struct {
	// MinSupport is the minimum fraction of transactions, in (0, 1].
	MinSupport float64
	// MaxLen bounds the size of generated itemsets. 0 means unbounded.
	MaxLen int
	// Workers is the number of goroutines counting support. 0 means
	// GOMAXPROCS.
	Workers int
}

// Validate reports an InvalidThreshold error for a support outside (0, 1].
func (o Options) Validate() error {
	if math.IsNaN(o.MinSupport) || o.MinSupport <= 0 || o.MinSupport > 1 {
		return apperrors.InvalidThreshold("min_support", o.MinSupport, "(0, 1]")
	}
	if o.MaxLen < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"max_len must be >= 0 (0 = unbounded), got %d", o.MaxLen)
	}
	return nil
}

// Mine returns every itemset whose support is at least opts.MinSupport.
// An empty transaction collection yields an empty result and no error. The
// result is grouped by itemset size and sorted within each size, but callers
// should treat it as unordered.
func Mine(transactions []Transaction, opts Options) ([]Itemset, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return []Itemset{}, nil
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	m, first := newMiner(transactions, opts)
	return m.run(first), nil
}

// level holds the itemsets of one size in a single flat slice: itemset i
// occupies ids[i*k : (i+1)*k]. Item ids ascend in lexicographic item order.
type level struct {
	k      int
	ids    []int32
	counts []int
}

func (l *level) size() int { return len(l.counts) }

func (l *level) at(i int) []int32 { return l.ids[i*l.k : (i+1)*l.k] }

type miner struct {
	opts     Options
	total    int
	vocab    []string
	txs      [][]int32
	frequent map[string]struct{}
	out      []Itemset
}

// newMiner builds the level-1 item counts, keeps only frequent items in a
// sorted vocabulary, and re-encodes each transaction as ascending item ids
// restricted to that vocabulary.
func newMiner(transactions []Transaction, opts Options) (*miner, *level) {
	m := &miner{
		opts:     opts,
		total:    len(transactions),
		frequent: make(map[string]struct{}),
	}

	// seen[item] == t+1 means item was already counted for transaction t,
	// so a hand-built Transaction with repeats still counts each item once
	counts := make(map[string]int)
	seen := make(map[string]int)
	for t, tx := range transactions {
		for _, item := range tx {
			if seen[item] == t+1 {
				continue
			}
			seen[item] = t + 1
			counts[item]++
		}
	}
	for item, n := range counts {
		if m.isFrequent(n) {
			m.vocab = append(m.vocab, item)
		}
	}
	sort.Strings(m.vocab)

	ids := make(map[string]int32, len(m.vocab))
	first := &level{k: 1, ids: make([]int32, len(m.vocab)), counts: make([]int, len(m.vocab))}
	for i, item := range m.vocab {
		ids[item] = int32(i)
		first.ids[i] = int32(i)
		first.counts[i] = counts[item]
	}

	m.txs = make([][]int32, 0, len(transactions))
	for _, tx := range transactions {
		enc := make([]int32, 0, len(tx))
		for _, item := range tx {
			if id, ok := ids[item]; ok {
				enc = append(enc, id)
			}
		}
		// ids follow vocab order; only a hand-built Transaction needs the
		// sort and the compaction of repeats
		sort.Slice(enc, func(i, j int) bool { return enc[i] < enc[j] })
		enc = slices.Compact(enc)
		if len(enc) < 2 {
			continue
		}
		m.txs = append(m.txs, enc)
	}
	return m, first
}

func (m *miner) isFrequent(count int) bool {
	return float64(count)/float64(m.total) >= m.opts.MinSupport
}

func (m *miner) run(first *level) []Itemset {
	m.collect(first)
	cur := first
	for cur.size() > 0 {
		if m.opts.MaxLen > 0 && cur.k >= m.opts.MaxLen {
			break
		}
		cand := m.candidates(cur)
		if cand.size() == 0 {
			break
		}
		countSupport(m.txs, cand, len(m.vocab), m.opts.Workers)
		cur = m.keepFrequent(cand)
		m.collect(cur)
	}
	return m.out
}

// collect records a level's itemsets in the output and the subset index.
func (m *miner) collect(l *level) {
	for i := 0; i < l.size(); i++ {
		ids := l.at(i)
		m.frequent[key(ids)] = struct{}{}
		items := make([]string, len(ids))
		for j, id := range ids {
			items[j] = m.vocab[id]
		}
		m.out = append(m.out, Itemset{
			Items:   items,
			Count:   l.counts[i],
			Support: float64(l.counts[i]) / float64(m.total),
		})
	}
}

// candidates joins pairs of frequent k-itemsets that share their first k-1
// items. Each join extends the first itemset by the last item of the second.
// A candidate survives only if every one of its k-subsets is frequent.
func (m *miner) candidates(prev *level) *level {
	k := prev.k
	next := &level{k: k + 1}
	cand := make([]int32, k+1)
	sub := make([]int32, k)
	for i := 0; i < prev.size(); i++ {
		a := prev.at(i)
		for j := i + 1; j < prev.size(); j++ {
			b := prev.at(j)
			if !samePrefix(a, b, k-1) {
				break
			}
			copy(cand, a)
			cand[k] = b[k-1]
			if !m.subsetsFrequent(cand, sub) {
				continue
			}
			next.ids = append(next.ids, cand...)
		}
	}
	next.counts = make([]int, len(next.ids)/next.k)
	return next
}

// subsetsFrequent checks the k-subsets of cand other than the two join
// parents (dropping either of the last two items), which are frequent by
// construction.
func (m *miner) subsetsFrequent(cand, sub []int32) bool {
	k := len(cand) - 1
	for drop := 0; drop < k-1; drop++ {
		sub = sub[:0]
		sub = append(sub, cand[:drop]...)
		sub = append(sub, cand[drop+1:]...)
		if _, ok := m.frequent[key(sub)]; !ok {
			return false
		}
	}
	return true
}

func (m *miner) keepFrequent(cand *level) *level {
	out := &level{k: cand.k}
	for i := 0; i < cand.size(); i++ {
		if m.isFrequent(cand.counts[i]) {
			out.ids = append(out.ids, cand.at(i)...)
			out.counts = append(out.counts, cand.counts[i])
		}
	}
	return out
}

func samePrefix(a, b []int32, n int) bool {
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// key encodes an id tuple for the frequent-itemset index.
func key(ids []int32) string {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(id))
	}
	return string(buf)
}

// countSupport counts, for every candidate in cand, how many transactions
// contain it. Transactions are split into contiguous shards, one per worker,
// and each worker keeps private counters that are summed at the end.
func countSupport(txs [][]int32, cand *level, vocabSize, workers int) {
	if workers > len(txs) {
		workers = len(txs)
	}
	if workers < 1 {
		workers = 1
	}
	partials := make([][]int, workers)
	shard := (len(txs) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * shard
		hi := min(lo+shard, len(txs))
		counts := make([]int, cand.size())
		partials[w] = counts
		g.Go(func() error {
			// stamp[id] == mark means id is in the current transaction
			stamp := make([]int32, vocabSize)
			for t := lo; t < hi; t++ {
				tx := txs[t]
				if len(tx) < cand.k {
					continue
				}
				mark := int32(t + 1)
				for _, id := range tx {
					stamp[id] = mark
				}
				for c := 0; c < cand.size(); c++ {
					if containsAll(stamp, mark, cand.at(c)) {
						counts[c]++
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, counts := range partials {
		for c, n := range counts {
			cand.counts[c] += n
		}
	}
}

func containsAll(stamp []int32, mark int32, ids []int32) bool {
	for _, id := range ids {
		if stamp[id] != mark {
			return false
		}
	}
	return true
}
