package benchmark

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/rules"
)

// playlists builds n synthetic playlists over a vocabulary whose popularity
// is skewed, so that some songs co-occur often enough to be frequent.
func playlists(seed int64, n, vocab, size int) []apriori.Transaction {
	r := rand.New(rand.NewSource(seed))
	zipf := rand.NewZipf(r, 1.3, 1, uint64(vocab-1))
	out := make([]apriori.Transaction, n)
	for i := range out {
		songs := make([]string, size)
		for j := range songs {
			songs[j] = fmt.Sprintf("song-%d", zipf.Uint64())
		}
		out[i] = apriori.NewTransaction(songs)
	}
	return out
}

// BenchmarkMine measures frequent itemset mining for growing playlist
// collections at the default support.
func BenchmarkMine(b *testing.B) {
	for _, n := range []int{1000, 10000, 50000} {
		data := playlists(1, n, 2000, 25)
		b.Run(fmt.Sprintf("playlists_%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := apriori.Mine(data, apriori.Options{MinSupport: 0.05}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkMineWorkers shows how support counting scales with workers.
func BenchmarkMineWorkers(b *testing.B) {
	data := playlists(2, 20000, 2000, 25)
	for _, workers := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := apriori.Mine(data, apriori.Options{MinSupport: 0.03, Workers: workers}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkGenerateRules measures rule derivation from a fixed itemset
// collection.
func BenchmarkGenerateRules(b *testing.B) {
	itemsets, err := apriori.Mine(playlists(3, 20000, 2000, 25), apriori.Options{MinSupport: 0.02})
	if err != nil {
		b.Fatal(err)
	}
	b.Logf("%d frequent itemsets", len(itemsets))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rules.Generate(itemsets, rules.Thresholds{MinConfidence: 0.1, MinLift: 0}); err != nil {
			b.Fatal(err)
		}
	}
}
