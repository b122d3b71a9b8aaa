package loader

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
	"github.com/lib/pq"
)

// DefaultTable is read when the postgres source names no table.
const DefaultTable = "playlist_tracks"

// Postgres reads (pid, track_name) rows from a table.
type Postgres struct {
	db    *postgres.Client
	table string
}

func NewPostgres(db *postgres.Client, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{db: db, table: table}
}

func (p *Postgres) String() string { return PostgresPrefix + p.table }

func (p *Postgres) query() string {
	return fmt.Sprintf("SELECT pid, track_name FROM %s", pq.QuoteIdentifier(p.table))
}

func (p *Postgres) Load(ctx context.Context) (*Result, error) {
	rows, err := p.db.DB.QueryContext(ctx, p.query())
	if err != nil {
		return nil, wrapSource(p.String(), err)
	}
	defer rows.Close()

	g := newGrouper()
	for rows.Next() {
		var pid string
		var track sql.NullString
		if err := rows.Scan(&pid, &track); err != nil {
			return nil, wrapSource(p.String(), err)
		}
		g.add(pid, track.String)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSource(p.String(), err)
	}
	return g.result(), nil
}
