package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/internal/mining/apriori"
	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playlists.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVGroupsByPlaylist(t *testing.T) {
	path := writeCSV(t, `pid,track_name,artist_name
2,Yesterday,The Beatles
1,Hey Jude!,The Beatles
1,"  let it be ",The Beatles
2,hey jude,The Beatles
1,HEY JUDE,The Beatles
`)
	res, err := NewCSV(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, []apriori.Transaction{
		{"hey jude", "let it be"},
		{"hey jude", "yesterday"},
	}, res.Transactions)
}

func TestCSVColumnOrderAndBOM(t *testing.T) {
	path := writeCSV(t, "\ufefftrack_name,pid\nA,7\nB,7\n")
	res, err := NewCSV(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []apriori.Transaction{{"a", "b"}}, res.Transactions)
}

func TestCSVEmptyNamesKeepPlaylist(t *testing.T) {
	path := writeCSV(t, "pid,track_name\n1,!!!\n2,song\n")
	res, err := NewCSV(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	assert.Empty(t, res.Transactions[0])
}

func TestCSVHeaderOnly(t *testing.T) {
	res, err := NewCSV(writeCSV(t, "pid,track_name\n")).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.Zero(t, res.Rows)
}

func TestCSVErrors(t *testing.T) {
	_, err := NewCSV(filepath.Join(t.TempDir(), "missing.csv")).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	for name, content := range map[string]string{
		"empty file":    "",
		"no pid":        "playlist,track_name\n1,a\n",
		"no track_name": "pid,track\n1,a\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewCSV(writeCSV(t, content)).Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}

	_, err = NewCSV(writeCSV(t, "pid,track_name\n1,a,extra\n")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCSVCancelled(t *testing.T) {
	var b strings.Builder
	b.WriteString("pid,track_name\n")
	for i := 0; i < 20000; i++ {
		b.WriteString("1,song\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSV("inline").read(ctx, strings.NewReader(b.String()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	src, err := Open("data/playlists.csv", nil)
	require.NoError(t, err)
	assert.IsType(t, &CSV{}, src)
	assert.Equal(t, "data/playlists.csv", src.String())

	_, err = Open("postgres:", nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = Open("", nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	src, err = Open("postgres:", postgres.FromDB(nil))
	require.NoError(t, err)
	assert.Equal(t, "postgres:playlist_tracks", src.String())

	src, err = Open("postgres:tracks_2024", postgres.FromDB(nil))
	require.NoError(t, err)
	assert.Equal(t, `SELECT pid, track_name FROM "tracks_2024"`, src.(*Postgres).query())
}
