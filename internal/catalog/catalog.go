// Package catalog records every persisted rule table in PostgreSQL so the
// history of mining runs can be listed and the latest one located.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/ruletable"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS rule_tables (
	run_id            UUID PRIMARY KEY,
	path              TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	generated_at      TIMESTAMPTZ NOT NULL,
	rule_count        INTEGER NOT NULL,
	transaction_count INTEGER NOT NULL,
	itemset_count     INTEGER NOT NULL,
	min_support       DOUBLE PRECISION NOT NULL,
	min_confidence    DOUBLE PRECISION NOT NULL,
	min_lift          DOUBLE PRECISION NOT NULL,
	max_len           INTEGER NOT NULL,
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const selectColumns = `run_id, path, source, generated_at, rule_count, transaction_count,
	itemset_count, min_support, min_confidence, min_lift, max_len, recorded_at`

// Entry is one catalogued rule table.
type Entry struct {
	RunID         string    `json:"run_id"`
	Path          string    `json:"path"`
	Source        string    `json:"source,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
	RuleCount     int       `json:"rule_count"`
	Transactions  int       `json:"transactions"`
	Itemsets      int       `json:"itemsets"`
	MinSupport    float64   `json:"min_support"`
	MinConfidence float64   `json:"min_confidence"`
	MinLift       float64   `json:"min_lift"`
	MaxLen        int       `json:"max_len"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// EntryFor describes table t persisted at path.
func EntryFor(path string, t *ruletable.Table) Entry {
	meta := t.Metadata()
	return Entry{
		RunID:         meta.RunID,
		Path:          path,
		Source:        meta.Source,
		GeneratedAt:   t.GeneratedAt(),
		RuleCount:     t.Len(),
		Transactions:  meta.Transactions,
		Itemsets:      meta.Itemsets,
		MinSupport:    meta.MinSupport,
		MinConfidence: meta.MinConfidence,
		MinLift:       meta.MinLift,
		MaxLen:        meta.MaxLen,
	}
}

type Catalog struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Catalog {
	return &Catalog{
		db:     db,
		logger: slog.Default().With("component", "rule-catalog"),
	}
}

func (c *Catalog) EnsureSchema(ctx context.Context) error {
	return c.db.EnsureSchema(ctx,
		schema,
		`CREATE INDEX IF NOT EXISTS rule_tables_generated_at_idx ON rule_tables (generated_at DESC)`,
	)
}

// Record stores e. Recording the same run twice updates the path and
// counts.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	_, err := c.db.DB.ExecContext(ctx, `
		INSERT INTO rule_tables (run_id, path, source, generated_at, rule_count,
			transaction_count, itemset_count, min_support, min_confidence, min_lift, max_len)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			path = EXCLUDED.path,
			rule_count = EXCLUDED.rule_count,
			recorded_at = NOW()`,
		e.RunID, e.Path, e.Source, e.GeneratedAt, e.RuleCount,
		e.Transactions, e.Itemsets, e.MinSupport, e.MinConfidence, e.MinLift, e.MaxLen,
	)
	if err != nil {
		return fmt.Errorf("recording rule table %s: %w", e.RunID, err)
	}
	c.logger.Info("rule table recorded", "run_id", e.RunID, "path", e.Path, "rules", e.RuleCount)
	return nil
}

// Latest returns the most recently generated table, or nil when the
// catalog is empty.
func (c *Catalog) Latest(ctx context.Context) (*Entry, error) {
	row := c.db.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM rule_tables ORDER BY generated_at DESC LIMIT 1`)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest rule table: %w", err)
	}
	return &e, nil
}

// List returns up to limit tables, newest first.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM rule_tables ORDER BY generated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rule tables: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule table row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Entry, error) {
	var e Entry
	err := s.Scan(&e.RunID, &e.Path, &e.Source, &e.GeneratedAt, &e.RuleCount,
		&e.Transactions, &e.Itemsets, &e.MinSupport, &e.MinConfidence, &e.MinLift,
		&e.MaxLen, &e.RecordedAt)
	return e, err
}
