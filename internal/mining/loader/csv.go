package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	pidColumn   = "pid"
	trackColumn = "track_name"
)

// CSV reads a headed CSV file with at least the pid and track_name columns.
// Column order is free and other columns are ignored.
type CSV struct {
	path string
}

func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

func (c *CSV) String() string { return c.path }

func (c *CSV) Load(ctx context.Context) (*Result, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, wrapSource(c.path, err)
	}
	defer f.Close()
	return c.read(ctx, f)
}

func (c *CSV) read(ctx context.Context, r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, missingColumn(c.path, pidColumn)
	}
	if err != nil {
		return nil, wrapSource(c.path, err)
	}
	pidIdx, trackIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case pidColumn:
			pidIdx = i
		case trackColumn:
			trackIdx = i
		}
	}
	if pidIdx < 0 {
		return nil, missingColumn(c.path, pidColumn)
	}
	if trackIdx < 0 {
		return nil, missingColumn(c.path, trackColumn)
	}

	g := newGrouper()
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapSource(c.path, err)
		}
		if len(rec) <= max(pidIdx, trackIdx) {
			return nil, wrapSource(c.path, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(rec)))
		}
		g.add(rec[pidIdx], rec[trackIdx])
	}
	return g.result(), nil
}
