package output

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func (c Compression) extension() string {
	switch c {
	case CompressGzip:
		return ".gz"
	case CompressZstd:
		return ".zst"
	}
	return ""
}

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

func newCompressor(c Compression, w io.Writer) (flushWriteCloser, error) {
	switch c {
	case CompressGzip:
		return gzip.NewWriter(w), nil
	case CompressZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return enc, nil
	}
	return nil, nil
}

// stream is an append-only output file with optional compression. flush
// pushes everything written so far to the file.
type stream struct {
	path string
	file *os.File
	buf  *bufio.Writer
	comp flushWriteCloser
}

func openStream(path string, c Compression) (*stream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &stream{path: path, file: f, buf: bufio.NewWriter(f)}
	if s.comp, err = newCompressor(c, s.buf); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *stream) Write(p []byte) (int, error) {
	if s.comp != nil {
		return s.comp.Write(p)
	}
	return s.buf.Write(p)
}

func (s *stream) flush() error {
	if s.comp != nil {
		if err := s.comp.Flush(); err != nil {
			return fmt.Errorf("flush compressor: %w", err)
		}
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

func (s *stream) close() error {
	if s.comp != nil {
		if err := s.comp.Close(); err != nil {
			s.file.Close()
			return fmt.Errorf("close compressor: %w", err)
		}
	}
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return s.file.Close()
}

// jsonSink writes each batch as its own JSON array document. A segment is
// written to a temporary file and renamed into place, so a segment on disk is
// always complete.
type jsonSink struct {
	opts     Options
	segments []string
}

func newJSONSink(opts Options) *jsonSink {
	return &jsonSink{opts: opts}
}

func (s *jsonSink) write(_ context.Context, rows []Row) error {
	name := fmt.Sprintf("%s_batch_%04d.json%s", s.opts.BaseName, len(s.segments)+1, s.opts.Compression.extension())
	path := filepath.Join(s.opts.Dir, name)

	data, err := gojson.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := writeAtomic(path, data, s.opts.Compression); err != nil {
		return err
	}
	s.segments = append(s.segments, path)
	return nil
}

// close writes a single empty document when the run produced no rows, so
// every run leaves a valid output behind.
func (s *jsonSink) close(ctx context.Context) error {
	if len(s.segments) > 0 {
		return nil
	}
	return s.write(ctx, []Row{})
}

func (s *jsonSink) paths() []string {
	return append([]string(nil), s.segments...)
}

func writeAtomic(path string, data []byte, c Compression) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	comp, err := newCompressor(c, tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if comp != nil {
		w = comp
	}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if comp != nil {
		if err := comp.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("close compressor: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// jsonlSink appends one JSON object per line to a single file.
type jsonlSink struct {
	out *stream
	enc *gojson.Encoder
}

func newJSONLSink(opts Options) (*jsonlSink, error) {
	path := filepath.Join(opts.Dir, opts.BaseName+".jsonl"+opts.Compression.extension())
	out, err := openStream(path, opts.Compression)
	if err != nil {
		return nil, err
	}
	enc := gojson.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return &jsonlSink{out: out, enc: enc}, nil
}

func (s *jsonlSink) write(_ context.Context, rows []Row) error {
	for _, r := range rows {
		if err := s.enc.Encode(r); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	return s.out.flush()
}

func (s *jsonlSink) close(context.Context) error { return s.out.close() }

func (s *jsonlSink) paths() []string { return []string{s.out.path} }

// csvSink appends flattened rows to a single file. The header is written
// once, when the file is empty.
type csvSink struct {
	out     *stream
	w       *csv.Writer
	columns []string
	header  bool
}

func newCSVSink(opts Options, columns []string) (*csvSink, error) {
	path := filepath.Join(opts.Dir, opts.BaseName+".csv"+opts.Compression.extension())
	needHeader := true
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		needHeader = false
	}
	out, err := openStream(path, opts.Compression)
	if err != nil {
		return nil, err
	}
	return &csvSink{out: out, w: csv.NewWriter(out), columns: columns, header: !needHeader}, nil
}

func (s *csvSink) write(_ context.Context, rows []Row) error {
	if !s.header {
		if err := s.w.Write(s.columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		s.header = true
	}
	for _, r := range rows {
		vals, err := r.Values()
		if err != nil {
			return fmt.Errorf("render row: %w", err)
		}
		if err := s.w.Write(vals); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return s.out.flush()
}

// close writes the header when nothing else was written, so an empty run
// still produces a readable file.
func (s *csvSink) close(ctx context.Context) error {
	if !s.header {
		if err := s.write(ctx, nil); err != nil {
			s.out.close()
			return err
		}
	}
	return s.out.close()
}

func (s *csvSink) paths() []string { return []string{s.out.path} }
