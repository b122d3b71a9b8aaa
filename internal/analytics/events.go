package analytics

import "time"

type EventType string

const (
	EventRecommend   EventType = "recommend"
	EventTableLoaded EventType = "rule_table_loaded"
)

// RecommendEvent describes one answered recommendation request. Seeds is the
// normalized query.
type RecommendEvent struct {
	Type        EventType `json:"type"`
	Seeds       []string  `json:"seeds"`
	Recommended []string  `json:"recommended"`
	TopN        int       `json:"top_n"`
	LatencyMs   int64     `json:"latency_ms"`
	CacheHit    bool      `json:"cache_hit"`
	RunID       string    `json:"run_id"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TableLoadedEvent is emitted when a recommender instance starts serving a
// new rule table.
type TableLoadedEvent struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id"`
	Rules       int       `json:"rules"`
	GeneratedAt time.Time `json:"generated_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// envelope peeks at the type of an encoded event.
type envelope struct {
	Type EventType `json:"type"`
}
