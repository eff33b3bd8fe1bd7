// Package jsonl reads and writes JSON lines files, one object per line.
//
// Files may live in partitioned directories ("country=PL/part-0.jsonl");
// those segments become the partitions of every batch read from the file
// and partition filters pushed down by the optimizer skip the whole file.
package jsonl

import (
	"bufio"
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/errors"
	rfjson "github.com/rowflow/rowflow/pkg/json"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/pool"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/schema"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 1000

// Source reads JSON lines files or a single reader.
type Source struct {
	paths     []string
	reader    io.Reader
	batchSize int
	limit     int
	filters   []partition.Filter
	schema    *schema.Schema
	factory   row.Factory
	logger    *zap.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithBatchSize sets the number of rows per batch.
func WithBatchSize(n int) Option { return func(s *Source) { s.batchSize = n } }

// WithSchema casts values to the schema definitions instead of inferring
// their types.
func WithSchema(sc schema.Schema) Option { return func(s *Source) { s.schema = &sc } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Source) { s.logger = l } }

// NewSource reads files matching paths. Paths may be glob patterns and are
// read in lexical order.
func NewSource(paths []string, opts ...Option) (*Source, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "jsonl source requires at least one path")
	}
	return newSource(paths, nil, opts)
}

// NewReaderSource reads a single stream, for example stdin.
func NewReaderSource(r io.Reader, opts ...Option) (*Source, error) {
	return newSource(nil, r, opts)
}

func newSource(paths []string, r io.Reader, opts []Option) (*Source, error) {
	s := &Source{
		paths:     paths,
		reader:    r,
		batchSize: DefaultBatchSize,
		factory:   row.NewFactory(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batchSize < 1 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument,
			"batch size must be greater than 0, got %d", s.batchSize)
	}
	return s, nil
}

// SetLimit stops the source after n rows.
func (s *Source) SetLimit(n int) { s.limit = n }

// AddPartitionFilter skips files whose partitions f rejects.
func (s *Source) AddPartitionFilter(f partition.Filter) {
	s.filters = append(s.filters, f)
}

func (s *Source) files() ([]string, error) {
	var out []string
	for _, p := range s.paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "invalid path pattern").
				WithDetail("path", p)
		}
		if len(matches) == 0 {
			return nil, errors.Newf(errors.ErrorTypeFile, "no file matches %q", p).WithDetail("path", p)
		}
		out = append(out, matches...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (s *Source) Extract(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		st := &state{yield: yield, limit: s.limit}
		if s.reader != nil {
			s.read(ctx, s.reader, nil, st)
			return
		}
		files, err := s.files()
		if err != nil {
			yield(row.Rows{}, err)
			return
		}
		for _, path := range files {
			ps := partition.FromPath(filepath.ToSlash(filepath.Dir(path)))
			if !s.keep(ps) {
				s.logger.Debug("partition pruned", zap.String("path", path))
				continue
			}
			if !s.readFile(ctx, path, ps, st) {
				return
			}
		}
	}
}

func (s *Source) keep(ps partition.Partitions) bool {
	for _, f := range s.filters {
		if !f.Keep(ps) {
			return false
		}
	}
	return true
}

// state is shared by every file of one extraction.
type state struct {
	yield   func(row.Rows, error) bool
	limit   int
	emitted int
}

func (s *Source) readFile(ctx context.Context, path string, ps partition.Partitions, st *state) bool {
	f, err := os.Open(path)
	if err != nil {
		st.yield(row.Rows{}, errors.Wrap(err, errors.ErrorTypeFile, "cannot open file").WithDetail("path", path))
		return false
	}
	defer f.Close()
	s.logger.Debug("reading file", zap.String("path", path), zap.String("partitions", ps.Path()))
	return s.read(ctx, f, ps, st)
}

// read decodes one stream. It returns false once the extraction must end.
func (s *Source) read(ctx context.Context, r io.Reader, ps partition.Partitions, st *state) bool {
	br := pool.GetReader(r)
	defer pool.PutReader(br)
	dec := rfjson.NewDecoder(br)
	batch := make([]row.Row, 0, s.batchSize)
	emit := func() bool {
		if len(batch) == 0 {
			return true
		}
		rows := row.NewRows(batch...).WithPartitions(ps...)
		batch = make([]row.Row, 0, s.batchSize)
		st.emitted += rows.Len()
		return st.yield(rows, nil)
	}

	for line := 1; ; line++ {
		if st.limit > 0 && st.emitted+len(batch) >= st.limit {
			emit()
			return false
		}
		if err := ctx.Err(); err != nil {
			st.yield(row.Rows{}, err)
			return false
		}
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				return emit()
			}
			st.yield(row.Rows{}, errors.Wrap(err, errors.ErrorTypeFile, "invalid json line").WithDetail("line", line))
			return false
		}
		r, err := s.toRow(doc)
		if err != nil {
			st.yield(row.Rows{}, errors.Wrap(err, errors.ErrorTypeRuntime, "cannot convert json line").
				WithDetail("line", line))
			return false
		}
		batch = append(batch, r)
		if len(batch) == s.batchSize && !emit() {
			return false
		}
	}
}

// toRow follows the schema order when a schema is set; entries unknown to
// the schema follow in name order. A missing entry is typed null when its
// definition is nullable and rejected otherwise.
func (s *Source) toRow(doc map[string]interface{}) (row.Row, error) {
	values := row.FromJSON(doc).(map[string]interface{})
	if s.schema == nil {
		return s.factory.FromMap(values)
	}
	entries := make([]row.Entry, 0, len(values))
	for _, def := range s.schema.Definitions() {
		v, ok := values[def.Name]
		if !ok {
			if !def.IsNullable() {
				return row.Row{}, errors.Newf(errors.ErrorTypeInvalidArgument,
					"entry %q is required by the schema but missing", def.Name).
					WithDetail("entry", def.Name)
			}
			entries = append(entries, row.NullOf(def.Name, def.Type))
			continue
		}
		e, err := s.factory.CreateWithSchema(def.Name, v, *s.schema)
		if err != nil {
			return row.Row{}, err
		}
		entries = append(entries, e)
	}
	var extra []string
	for name := range values {
		if !s.schema.Has(name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		e, err := s.factory.Create(name, values[name])
		if err != nil {
			return row.Row{}, err
		}
		entries = append(entries, e)
	}
	return row.New(entries...)
}

// Sink writes every row as one JSON object per line.
type Sink struct {
	w       *bufio.Writer
	closer  io.Closer
	encoder *rfjson.LineEncoder
}

// NewSink writes to w. The caller owns w.
func NewSink(w io.Writer) *Sink {
	buf := bufio.NewWriter(w)
	return &Sink{w: buf, encoder: rfjson.NewLineEncoder(buf)}
}

// CreateSink creates or truncates the file at path.
func CreateSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "cannot create directory").WithDetail("path", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "cannot create file").WithDetail("path", path)
	}
	s := NewSink(f)
	s.closer = f
	return s, nil
}

func (s *Sink) Load(_ context.Context, rows row.Rows) error {
	for _, r := range rows.All() {
		if err := s.encoder.Encode(r.ToNative()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeRuntime, "cannot encode row")
		}
	}
	return nil
}

// Finalize flushes buffered lines and closes the file it created.
func (s *Sink) Finalize(context.Context) error {
	if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "cannot flush output")
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
