package ruletable

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Holder publishes the table currently being served. Readers call Load once
// per query and keep using that snapshot; a concurrent Publish never changes
// what an in-flight reader sees.
type Holder struct {
	current atomic.Pointer[Table]
	swaps   atomic.Int64
	swapAt  atomic.Int64

	mu     sync.Mutex
	onSwap []func(old, cur *Table)
	logger *slog.Logger
}

func NewHolder() *Holder {
	return &Holder{
		logger: slog.Default().With("component", "rule-table-holder"),
	}
}

// Load returns the current table, or nil if none has been published.
func (h *Holder) Load() *Table {
	return h.current.Load()
}

// Publish atomically replaces the current table with t and runs the swap
// callbacks. Publishing nil is ignored.
func (h *Holder) Publish(t *Table) {
	if t == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	old := h.current.Swap(t)
	h.swaps.Add(1)
	h.swapAt.Store(time.Now().Unix())
	stats := t.Stats()
	h.logger.Info("rule table published",
		"generation", t.Generation(),
		"rules", stats.TotalRules,
		"generated_at", t.GeneratedAt(),
		"avg_confidence", stats.AvgConfidence,
		"avg_lift", stats.AvgLift,
	)
	for _, fn := range h.onSwap {
		fn(old, t)
	}
}

// OnSwap registers fn to run after every Publish. old is nil on the first
// publish.
func (h *Holder) OnSwap(fn func(old, cur *Table)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSwap = append(h.onSwap, fn)
}

// Swaps returns how many tables have been published.
func (h *Holder) Swaps() int64 { return h.swaps.Load() }

// LastSwap returns when the last table was published, or the zero time.
func (h *Holder) LastSwap() time.Time {
	ts := h.swapAt.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
