package archive

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrandal/harvest-exchange/internal/orderbook"
	"github.com/ndrandal/harvest-exchange/internal/persist"
)

func doc(match uint64, at time.Time) fillDoc {
	return fillDoc{FillRecord: persist.FillRecord{
		Fill:       orderbook.Fill{MatchID: match, Symbol: "PARSNIP-SPR-28", Side: orderbook.SideBuy, Price: 35, Quantity: 1},
		Day:        3,
		ExecutedAt: at,
	}}
}

func readArchive(t *testing.T, path string) []persist.FillRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f) // reads concatenated members
	require.NoError(t, err)
	var out []persist.FillRecord
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var r persist.FillRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestGroupByDaySorted(t *testing.T) {
	d1 := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	d0 := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	days := sortedDays(groupByDay([]fillDoc{doc(1, d1), doc(2, d0), doc(3, d1)}))
	require.Len(t, days, 2)
	assert.Equal(t, "2026/03/01", days[0].key)
	assert.Len(t, days[1].fills, 2)
}

func TestWriteBatchAppends(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, writeBatch(dir, "2026/03/01", []fillDoc{doc(1, at)}))
	require.NoError(t, writeBatch(dir, "2026/03/01", []fillDoc{doc(2, at), doc(3, at)}))

	got := readArchive(t, filepath.Join(dir, "fills", "2026", "03", "01.jsonl.gz"))
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[2].MatchID)
	assert.Equal(t, 3, got[0].Day)
}

func TestRotateDropsOldest(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, day := range []string{"2026/03/01", "2026/03/02", "2026/03/03"} {
		require.NoError(t, writeBatch(dir, day, []fillDoc{doc(1, at)}))
	}
	info, err := os.Stat(filepath.Join(dir, "fills", "2026", "03", "03.jsonl.gz"))
	require.NoError(t, err)

	rotate(dir, 2*info.Size(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = os.Stat(filepath.Join(dir, "fills", "2026", "03", "01.jsonl.gz"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "fills", "2026", "03", "03.jsonl.gz"))
	assert.NoError(t, err)
}
