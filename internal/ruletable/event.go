package ruletable

import "time"

// PublishedEvent announces a newly persisted rule table on Kafka.
type PublishedEvent struct {
	RunID       string    `json:"run_id"`
	Path        string    `json:"path"`
	GeneratedAt time.Time `json:"generated_at"`
	RuleCount   int       `json:"rule_count"`
}

// PublishedEventFor builds the announcement for t persisted at path.
func PublishedEventFor(path string, t *Table) PublishedEvent {
	return PublishedEvent{
		RunID:       t.Metadata().RunID,
		Path:        path,
		GeneratedAt: t.GeneratedAt(),
		RuleCount:   t.Len(),
	}
}
