package output_test

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blackmichael/bsky-collect/internal/output"
)

type item struct {
	ID   int     `json:"id"`
	Text *string `json:"text"`
}

func (*item) Columns() []string { return []string{"id", "text"} }

func (i *item) Values() ([]string, error) {
	text := ""
	if i.Text != nil {
		text = *i.Text
	}
	return []string{strconv.Itoa(i.ID), text}, nil
}

func items(n int) []*item {
	out := make([]*item, n)
	for i := range out {
		text := "row " + strconv.Itoa(i+1)
		out[i] = &item{ID: i + 1, Text: &text}
	}
	return out
}

type flushCounter struct {
	batches []int
}

func (f *flushCounter) BatchFlushed(_ output.Format, rows int, _ time.Duration) {
	f.batches = append(f.batches, rows)
}

func writeAll(t *testing.T, opts output.Options, rows []*item, obs output.FlushObserver) *output.Writer[*item] {
	t.Helper()
	w, err := output.NewWriter[*item](opts, zap.NewNop(), obs)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, w.Append(context.Background(), r))
	}
	require.NoError(t, w.Close(context.Background()))
	return w
}

func TestWriter_JSONSegmentsFollowBatches(t *testing.T) {
	dir := t.TempDir()
	obs := &flushCounter{}
	w := writeAll(t, output.Options{Dir: dir, BaseName: "run", Format: output.FormatJSON, BatchSize: 2}, items(5), obs)

	paths := w.Paths()
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "run_batch_0001.json"), paths[0])

	var sizes []int
	next := 1
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		var decoded []item
		require.NoError(t, gojson.Unmarshal(data, &decoded))
		sizes = append(sizes, len(decoded))
		for _, d := range decoded {
			assert.Equal(t, next, d.ID)
			next++
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{2, 2, 1}, obs.batches)
	assert.Equal(t, 5, w.Written())

	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriter_JSONEmptyRunLeavesEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	w := writeAll(t, output.Options{Dir: dir, BaseName: "empty", Format: output.FormatJSON, BatchSize: 10}, nil, nil)

	paths := w.Paths()
	require.Len(t, paths, 1)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestWriter_JSONLWritesOneLinePerRow(t *testing.T) {
	dir := t.TempDir()
	w := writeAll(t, output.Options{Dir: dir, BaseName: "run", Format: output.FormatJSONL, BatchSize: 2}, items(5), nil)

	require.Equal(t, []string{filepath.Join(dir, "run.jsonl")}, w.Paths())
	f, err := os.Open(w.Paths()[0])
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 5)
	assert.JSONEq(t, `{"id":1,"text":"row 1"}`, lines[0])
	assert.JSONEq(t, `{"id":5,"text":"row 5"}`, lines[4])
}

func TestWriter_JSONLPartialBatchIsOnDiskBeforeClose(t *testing.T) {
	dir := t.TempDir()
	w, err := output.NewWriter[*item](output.Options{Dir: dir, BaseName: "run", Format: output.FormatJSONL, BatchSize: 2}, nil, nil)
	require.NoError(t, err)

	for _, r := range items(3) {
		require.NoError(t, w.Append(context.Background(), r))
	}
	data, err := os.ReadFile(filepath.Join(dir, "run.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))

	require.NoError(t, w.Close(context.Background()))
	data, err = os.ReadFile(filepath.Join(dir, "run.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 3, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestWriter_CSVWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	none := &item{ID: 6}
	rows := append(items(5), none)
	w := writeAll(t, output.Options{Dir: dir, BaseName: "run", Format: output.FormatCSV, BatchSize: 4}, rows, nil)

	f, err := os.Open(w.Paths()[0])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 7)
	assert.Equal(t, []string{"id", "text"}, records[0])
	assert.Equal(t, []string{"1", "row 1"}, records[1])
	assert.Equal(t, []string{"6", ""}, records[6])
}

func TestWriter_CSVEmptyRunHasHeader(t *testing.T) {
	dir := t.TempDir()
	w := writeAll(t, output.Options{Dir: dir, BaseName: "run", Format: output.FormatCSV, BatchSize: 4}, nil, nil)

	data, err := os.ReadFile(w.Paths()[0])
	require.NoError(t, err)
	assert.Equal(t, "id,text\n", string(data))
}

func TestWriter_GzipJSONL(t *testing.T) {
	dir := t.TempDir()
	w := writeAll(t, output.Options{Dir: dir, BaseName: "run", Format: output.FormatJSONL, BatchSize: 2, Compression: output.CompressGzip}, items(3), nil)

	require.Equal(t, []string{filepath.Join(dir, "run.jsonl.gz")}, w.Paths())
	f, err := os.Open(w.Paths()[0])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var n int
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 3, n)
}

func TestWriter_SQLite(t *testing.T) {
	dir := t.TempDir()
	rows := append(items(4), &item{ID: 5})
	w := writeAll(t, output.Options{Dir: dir, BaseName: "run", Format: output.FormatSQLite, BatchSize: 2, Table: "posts"}, rows, nil)

	db, err := sql.Open("sqlite", w.Paths()[0])
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&count))
	assert.Equal(t, 5, count)

	var text sql.NullString
	require.NoError(t, db.QueryRow(`SELECT text FROM posts WHERE id = '5'`).Scan(&text))
	assert.False(t, text.Valid)
}

func TestWriter_AppendAfterClose(t *testing.T) {
	w := writeAll(t, output.Options{Dir: t.TempDir(), BaseName: "run", Format: output.FormatJSONL, BatchSize: 1}, items(1), nil)

	err := w.Append(context.Background(), items(1)[0])
	assert.ErrorIs(t, err, output.ErrClosed)
	assert.NoError(t, w.Close(context.Background()))
}

func TestNewWriter_RejectsBadOptions(t *testing.T) {
	_, err := output.NewWriter[*item](output.Options{Dir: t.TempDir(), BaseName: "run", Format: output.FormatJSON, BatchSize: 0}, nil, nil)
	assert.Error(t, err)

	_, err = output.NewWriter[*item](output.Options{Dir: t.TempDir(), BaseName: "run", Format: output.FormatSQLite, BatchSize: 1, Compression: output.CompressGzip}, nil, nil)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := output.ParseFormat("JSONL")
	require.NoError(t, err)
	assert.Equal(t, output.FormatJSONL, f)

	_, err = output.ParseFormat("parquet")
	assert.Error(t, err)
}
