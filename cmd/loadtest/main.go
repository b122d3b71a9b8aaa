// Command loadtest drives POST /api/recommend with concurrent workers and
// reports throughput, latency percentiles and status codes.
//
// Seed songs are taken from the antecedents of a rule table when -rules is
// given, so most queries hit applicable rules; otherwise a fixed list is used.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
)

var fallbackSeeds = []string{
	"hey jude", "let it be", "yesterday", "bohemian rhapsody", "dont stop me now",
	"shape of you", "blinding lights", "levitating", "bad guy", "rolling in the deep",
	"smells like teen spirit", "wonderwall", "mr brightside", "take on me", "africa",
}

type config struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	seedsPerReq int
	topN        int
	seeds       []string
}

type stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	empty     atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *stats) record(d time.Duration, code int, returned int, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code == http.StatusOK {
		s.success.Add(1)
		if returned == 0 {
			s.empty.Add(1)
		}
	} else {
		s.errors.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:50013", "base URL of the recommender service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rulesPath := flag.String("rules", "", "rule table to draw seed songs from")
	seedsPerReq := flag.Int("seeds", 3, "songs per request")
	topN := flag.Int("top", 10, "top_n sent with every request")
	flag.Parse()

	cfg := config{
		baseURL:     *baseURL,
		concurrency: *concurrency,
		duration:    *duration,
		seedsPerReq: max(*seedsPerReq, 1),
		topN:        *topN,
		seeds:       fallbackSeeds,
	}
	if *rulesPath != "" {
		seeds, err := seedsFromTable(*rulesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading seeds: %v\n", err)
			os.Exit(1)
		}
		if len(seeds) > 0 {
			cfg.seeds = seeds
		}
	}

	fmt.Println("=== Recommender Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.baseURL)
	fmt.Printf("Concurrency: %d\n", cfg.concurrency)
	fmt.Printf("Duration:    %s\n", cfg.duration)
	fmt.Printf("Seed pool:   %d songs, %d per request\n", len(cfg.seeds), cfg.seedsPerReq)
	fmt.Println()

	s := run(cfg)
	if !report(s, cfg.duration) {
		os.Exit(1)
	}
}

// seedsFromTable returns the distinct antecedent songs of a rule table.
func seedsFromTable(path string) ([]string, error) {
	t, err := ruletable.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.Rules() {
		for _, song := range r.Antecedent {
			if _, ok := seen[song]; !ok {
				seen[song] = struct{}{}
				out = append(out, song)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func run(cfg config) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(worker), uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				body := requestBody(rng, cfg)
				start := time.Now()
				code, returned, err := recommend(ctx, client, cfg.baseURL, body)
				if ctx.Err() != nil {
					return
				}
				s.record(time.Since(start), code, returned, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return s
}

func requestBody(rng *rand.Rand, cfg config) []byte {
	songs := make([]string, cfg.seedsPerReq)
	for i := range songs {
		songs[i] = cfg.seeds[rng.IntN(len(cfg.seeds))]
	}
	body, _ := json.Marshal(map[string]any{"songs": songs, "top_n": cfg.topN})
	return body
}

func recommend(ctx context.Context, client *http.Client, baseURL string, body []byte) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/recommend", bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Songs []string `json:"songs"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, len(out.Songs), nil
}

func report(s *stats, duration time.Duration) bool {
	total := s.total.Load()
	errs := s.errors.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", s.success.Load())
	fmt.Printf("Empty results:   %d\n", s.empty.Load())
	fmt.Printf("Errors:          %d\n", errs)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: no requests completed. Is the recommender running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
