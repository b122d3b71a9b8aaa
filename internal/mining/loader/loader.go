// Package loader reads playlist rows from a transaction source and groups
// them into mining transactions, one per playlist. Track names are
// normalized before grouping, so duplicates inside a playlist collapse.
package loader

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/normalize"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
)

// PostgresPrefix selects the PostgreSQL source: "postgres:" reads the
// default table, "postgres:<table>" a named one.
const PostgresPrefix = "postgres:"

// Source yields the transactions of one mining run.
type Source interface {
	Load(ctx context.Context) (*Result, error)
	String() string
}

// Result is the grouped output of a source.
type Result struct {
	Transactions []apriori.Transaction
	// Rows is the number of (playlist, track) rows read.
	Rows int
}

// Open resolves a source argument. Anything without the postgres prefix is
// a CSV path. db may be nil when no PostgreSQL source is requested.
func Open(source string, db *postgres.Client) (Source, error) {
	if rest, ok := strings.CutPrefix(source, PostgresPrefix); ok {
		if db == nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"source %q needs postgres to be enabled", source)
		}
		return NewPostgres(db, rest), nil
	}
	if source == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "no transaction source given")
	}
	return NewCSV(source), nil
}

// grouper collects normalized items per playlist id.
type grouper struct {
	rows   int
	groups map[string]map[string]struct{}
}

func newGrouper() *grouper {
	return &grouper{groups: make(map[string]map[string]struct{})}
}

// add records one row. A name that normalizes to "" still registers the
// playlist, so it counts towards the transaction total.
func (g *grouper) add(pid, track string) {
	g.rows++
	set, ok := g.groups[pid]
	if !ok {
		set = make(map[string]struct{})
		g.groups[pid] = set
	}
	if item := normalize.Item(track); item != "" {
		set[item] = struct{}{}
	}
}

// result returns one transaction per playlist, ordered by playlist id.
func (g *grouper) result() *Result {
	pids := make([]string, 0, len(g.groups))
	for pid := range g.groups {
		pids = append(pids, pid)
	}
	sort.Strings(pids)

	res := &Result{Transactions: make([]apriori.Transaction, 0, len(pids)), Rows: g.rows}
	for _, pid := range pids {
		items := make([]string, 0, len(g.groups[pid]))
		for item := range g.groups[pid] {
			items = append(items, item)
		}
		res.Transactions = append(res.Transactions, apriori.NewTransaction(items))
	}
	return res
}

func missingColumn(source, column string) error {
	return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
		"%s: missing required column %q", source, column)
}

func wrapSource(source string, err error) error {
	return fmt.Errorf("reading transactions from %s: %w", source, err)
}
