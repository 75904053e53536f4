// Package output implements the Batch Writer and its file and database sinks.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Format selects how rows are serialized.
type Format string

const (
	// FormatJSON writes one JSON array document per batch.
	FormatJSON Format = "json"

	// FormatJSONL appends one JSON object per line to a single file.
	FormatJSONL Format = "jsonl"

	// FormatCSV appends flattened rows to a single file with one header line.
	FormatCSV Format = "csv"

	// FormatSQLite inserts rows into a single table, one transaction per batch.
	FormatSQLite Format = "sqlite"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatJSONL, FormatCSV, FormatSQLite}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (valid: json, jsonl, csv, sqlite)", s)
}

// Compression selects an optional stream compressor for file formats.
type Compression string

const (
	CompressNone Compression = ""
	CompressGzip Compression = "gzip"
	CompressZstd Compression = "zstd"
)

// ParseCompression validates a compression name; "none" and "" disable it.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressNone, nil
	case "gzip":
		return CompressGzip, nil
	case "zstd":
		return CompressZstd, nil
	}
	return "", fmt.Errorf("unknown compression %q (valid: none, gzip, zstd)", s)
}

// ErrClosed is returned by Append and Flush after Close.
var ErrClosed = errors.New("writer closed")

// Row is anything with a fixed column layout. Columns must not depend on the
// receiver's contents; it is called on the zero value to lay out tables.
type Row interface {
	Columns() []string
	Values() ([]string, error)
}

// FlushObserver is notified after each batch reaches its sink.
type FlushObserver interface {
	BatchFlushed(format Format, rows int, elapsed time.Duration)
}

// Options configures a Writer.
type Options struct {
	// Dir is created if missing.
	Dir string

	// BaseName is the file stem shared by every file of the run.
	BaseName string

	Format    Format
	BatchSize int

	// Compression applies to json, jsonl and csv.
	Compression Compression

	// Table names the sqlite table. Defaults to "rows".
	Table string
}

func (o Options) validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", o.BatchSize)
	}
	if o.BaseName == "" {
		return errors.New("base name is required")
	}
	if o.Format == FormatSQLite && o.Compression != CompressNone {
		return errors.New("compression does not apply to sqlite output")
	}
	return nil
}

// sink persists whole batches. Rows reach it in append order.
type sink interface {
	write(ctx context.Context, rows []Row) error
	close(ctx context.Context) error
	paths() []string
}

// Writer accumulates rows and hands them to the sink in batches of
// BatchSize. Close flushes the partial final batch. A Writer is safe for
// concurrent use, although the pipelines use it from one goroutine.
type Writer[T Row] struct {
	mu       sync.Mutex
	opts     Options
	sink     sink
	batch    []T
	written  int
	closed   bool
	observer FlushObserver
	logger   *zap.Logger
}

// NewWriter creates the output directory and opens the sink for opts.Format.
func NewWriter[T Row](opts Options, logger *zap.Logger, observer FlushObserver) (*Writer[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", opts.Dir, err)
	}

	var zero T
	columns := zero.Columns()

	var (
		s   sink
		err error
	)
	switch opts.Format {
	case FormatJSON:
		s = newJSONSink(opts)
	case FormatJSONL:
		s, err = newJSONLSink(opts)
	case FormatCSV:
		s, err = newCSVSink(opts, columns)
	case FormatSQLite:
		s, err = newSQLiteSink(opts, columns)
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	return &Writer[T]{
		opts:     opts,
		sink:     s,
		batch:    make([]T, 0, opts.BatchSize),
		observer: observer,
		logger:   logger.Named("output").With(zap.String("format", string(opts.Format))),
	}, nil
}

// Append adds row to the current batch, flushing once it is full.
func (w *Writer[T]) Append(ctx context.Context, row T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.batch = append(w.batch, row)
	if len(w.batch) >= w.opts.BatchSize {
		return w.flushLocked(ctx)
	}
	return nil
}

// Flush writes the current batch, if any.
func (w *Writer[T]) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flushLocked(ctx)
}

// Close flushes the partial batch and releases the sink. It is idempotent.
func (w *Writer[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.flushLocked(ctx)
	closeErr := w.sink.close(ctx)
	w.logger.Info("output closed",
		zap.Int("rows", w.written),
		zap.Strings("paths", w.sink.paths()),
	)
	return errors.Join(flushErr, closeErr)
}

// Written returns the number of rows that reached the sink.
func (w *Writer[T]) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Paths lists the files written so far.
func (w *Writer[T]) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sink.paths()
}

func (w *Writer[T]) flushLocked(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	start := time.Now()

	rows := make([]Row, len(w.batch))
	for i, r := range w.batch {
		rows[i] = r
	}
	if err := w.sink.write(ctx, rows); err != nil {
		return fmt.Errorf("flush %d rows: %w", len(rows), err)
	}

	n := len(w.batch)
	w.written += n
	w.batch = w.batch[:0]
	elapsed := time.Since(start)

	w.logger.Debug("batch flushed", zap.Int("rows", n), zap.Int("total", w.written), zap.Duration("elapsed", elapsed))
	if w.observer != nil {
		w.observer.BatchFlushed(w.opts.Format, n, elapsed)
	}
	return nil
}
