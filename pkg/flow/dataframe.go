package flow

import (
	"context"
	"iter"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/extsort"
	"github.com/rowflow/rowflow/pkg/groupby"
	"github.com/rowflow/rowflow/pkg/join"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/pipeline"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/schema"
)

// pipeFactory creates a fresh pipe for every run, since blocking pipes hold
// per-run state.
type pipeFactory func() (pipeline.Pipe, error)

// DataFrame describes a pipeline. Operators append to it and return the
// same DataFrame; nothing runs until a trigger (Fetch, Get, GetAsArray,
// Run, Count) is called. The first invalid operator argument is reported
// by the trigger.
type DataFrame struct {
	flow   *Flow
	name   string
	source func() pipeline.Source
	pipes  []pipeFactory
	err    error
}

func (df *DataFrame) add(fn pipeFactory) *DataFrame {
	df.pipes = append(df.pipes, fn)
	return df
}

func (df *DataFrame) static(p pipeline.Pipe) *DataFrame {
	return df.add(func() (pipeline.Pipe, error) { return p, nil })
}

func (df *DataFrame) fail(err error) *DataFrame {
	if df.err == nil {
		df.err = err
	}
	return df
}

// Err returns the first operator error, if any.
func (df *DataFrame) Err() error { return df.err }

// Named sets the pipeline name used in logs and metrics.
func (df *DataFrame) Named(name string) *DataFrame {
	df.name = name
	return df
}

// Select keeps the named entries.
func (df *DataFrame) Select(names ...string) *DataFrame {
	return df.static(pipeline.Select(names...))
}

// Drop removes the named entries.
func (df *DataFrame) Drop(names ...string) *DataFrame {
	return df.static(pipeline.Drop(names...))
}

// Rename renames an entry.
func (df *DataFrame) Rename(from, to string) *DataFrame {
	return df.static(pipeline.Rename(from, to))
}

// WithEntry sets a computed entry.
func (df *DataFrame) WithEntry(name string, fn func(row.Row) (row.Entry, error)) *DataFrame {
	return df.static(pipeline.WithEntry(name, fn))
}

// Map replaces every row.
func (df *DataFrame) Map(fn func(row.Row) (row.Row, error)) *DataFrame {
	return df.static(pipeline.Map(fn))
}

// Filter keeps rows matching keep.
func (df *DataFrame) Filter(keep func(row.Row) bool) *DataFrame {
	return df.static(pipeline.Filter(keep))
}

// FilterPartitions skips batches whose partitions f rejects. Sources that
// understand partitions skip them before reading.
func (df *DataFrame) FilterPartitions(f partition.Filter) *DataFrame {
	return df.static(pipeline.PartitionFilter(f))
}

// Until stops the run at the first row failing cond.
func (df *DataFrame) Until(cond func(row.Row) bool) *DataFrame {
	return df.static(pipeline.Until(cond))
}

// Limit stops the run after n rows.
func (df *DataFrame) Limit(n int) *DataFrame {
	if _, err := pipeline.Limit(n); err != nil {
		return df.fail(err)
	}
	return df.add(func() (pipeline.Pipe, error) { return pipeline.Limit(n) })
}

// BatchSize re-chunks the stream into batches of n rows.
func (df *DataFrame) BatchSize(n int) *DataFrame {
	if _, err := pipeline.Batch(n); err != nil {
		return df.fail(err)
	}
	return df.add(func() (pipeline.Pipe, error) { return pipeline.Batch(n) })
}

// Collect gathers the whole stream into one batch.
func (df *DataFrame) Collect() *DataFrame {
	return df.add(func() (pipeline.Pipe, error) { return pipeline.Collect(), nil })
}

// PartitionBy splits batches by entry values and tags them with partitions.
func (df *DataFrame) PartitionBy(names ...string) *DataFrame {
	p, err := pipeline.PartitionBy(names...)
	if err != nil {
		return df.fail(err)
	}
	return df.static(p)
}

// SortBy sorts the whole stream. Sorts larger than the configured budget
// spill to the cache.
func (df *DataFrame) SortBy(keys ...row.SortKey) *DataFrame {
	if _, err := extsort.New(keys); err != nil {
		return df.fail(err)
	}
	return df.add(func() (pipeline.Pipe, error) {
		opts, err := df.flow.sorterOptions()
		if err != nil {
			return nil, err
		}
		sorter, err := extsort.New(keys, opts...)
		if err != nil {
			return nil, err
		}
		return pipeline.Sort(sorter), nil
	})
}

// GroupBy starts an aggregation grouped by keys.
func (df *DataFrame) GroupBy(keys ...string) *GroupedDataFrame {
	return &GroupedDataFrame{df: df, keys: keys}
}

// Aggregate folds the whole stream into a single row.
func (df *DataFrame) Aggregate(aggs ...groupby.Aggregation) *DataFrame {
	return df.GroupBy().Aggregate(aggs...)
}

// Join joins the stream with right. Entries of right are prefixed with the
// expression prefix, or the configured prefix when the expression keeps the
// default one.
func (df *DataFrame) Join(right pipeline.Source, expr join.Expression, typ join.Type) *DataFrame {
	if expr.Prefix == join.DefaultPrefix && df.flow.cfg.Join.Prefix != "" {
		expr = expr.WithPrefix(df.flow.cfg.Join.Prefix)
	}
	if _, err := join.New(expr, typ); err != nil {
		return df.fail(err)
	}
	return df.add(func() (pipeline.Pipe, error) {
		j, err := join.New(expr, typ,
			join.WithHashAlgorithm(df.flow.hash),
			join.WithLogger(df.flow.logger))
		if err != nil {
			return nil, err
		}
		return pipeline.Join(right, j), nil
	})
}

// Cache stores every batch under key while passing it on. Read it back
// with Flow.FromCache.
func (df *DataFrame) Cache(key string) *DataFrame {
	return df.static(pipeline.Cache(df.flow.cache, key))
}

// Validate fails the run when a batch does not match expected. A nil
// matcher means strict matching.
func (df *DataFrame) Validate(expected schema.Schema, matcher schema.Matcher) *DataFrame {
	return df.static(pipeline.SchemaValidator(expected, matcher))
}

// Write loads every batch into loader.
func (df *DataFrame) Write(loader pipeline.Loader) *DataFrame {
	return df.static(loader)
}

// GroupedDataFrame waits for the aggregations of a GroupBy.
type GroupedDataFrame struct {
	df   *DataFrame
	keys []string
}

// Aggregate completes the group by. Without aggregations every distinct
// key is emitted once.
func (g *GroupedDataFrame) Aggregate(aggs ...groupby.Aggregation) *DataFrame {
	df, keys := g.df, g.keys
	if _, err := newGroupBy(df.flow, keys, aggs); err != nil {
		return df.fail(err)
	}
	return df.add(func() (pipeline.Pipe, error) {
		gb, err := newGroupBy(df.flow, keys, aggs)
		if err != nil {
			return nil, err
		}
		return pipeline.GroupBy(gb), nil
	})
}

func newGroupBy(f *Flow, keys []string, aggs []groupby.Aggregation) (*groupby.GroupBy, error) {
	gb := groupby.New(keys...).With(
		groupby.WithHashAlgorithm(f.hash),
		groupby.WithLogger(f.logger))
	if err := gb.Aggregate(aggs...); err != nil {
		return nil, err
	}
	return gb, nil
}

func (df *DataFrame) build(extra ...pipeline.Pipe) (*pipeline.Pipeline, error) {
	if df.err != nil {
		return nil, df.err
	}
	pipes := make([]pipeline.Pipe, 0, len(df.pipes)+len(extra))
	for _, fn := range df.pipes {
		p, err := fn()
		if err != nil {
			return nil, err
		}
		pipes = append(pipes, p)
	}
	pipes = append(pipes, extra...)

	name := df.name
	if name == "" {
		name = df.flow.cfg.Name
	}
	return pipeline.New(name, df.source(),
		pipeline.WithPipes(pipes...),
		pipeline.WithLogger(df.flow.logger),
		pipeline.WithMetrics(df.flow.metrics))
}

// Get runs the pipeline lazily and yields its batches.
func (df *DataFrame) Get(ctx context.Context) iter.Seq2[row.Rows, error] {
	return df.process(ctx)
}

// Extract lets a DataFrame act as the source of another pipeline, for
// example the right side of a join.
func (df *DataFrame) Extract(ctx context.Context) iter.Seq2[row.Rows, error] {
	return df.process(ctx)
}

func (df *DataFrame) process(ctx context.Context, extra ...pipeline.Pipe) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		p, err := df.build(extra...)
		if err != nil {
			yield(row.Rows{}, err)
			return
		}
		for rows, err := range p.Process(ctx) {
			if !yield(rows, err) {
				return
			}
		}
	}
}

// GetAsArray is Get with every batch converted to maps.
func (df *DataFrame) GetAsArray(ctx context.Context) iter.Seq2[[]map[string]interface{}, error] {
	return func(yield func([]map[string]interface{}, error) bool) {
		for rows, err := range df.process(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rows.ToMaps(), nil) {
				return
			}
		}
	}
}

// Fetch runs the pipeline and returns at most limit rows as one batch. A
// limit of 0 returns every row.
func (df *DataFrame) Fetch(ctx context.Context, limit int) (row.Rows, error) {
	var extra []pipeline.Pipe
	switch {
	case limit < 0:
		return row.Rows{}, errors.Newf(errors.ErrorTypeInvalidArgument,
			"fetch limit cannot be negative, got %d", limit)
	case limit > 0:
		l, err := pipeline.Limit(limit)
		if err != nil {
			return row.Rows{}, err
		}
		extra = append(extra, l)
	}
	var batches []row.Rows
	for rows, err := range df.process(ctx, extra...) {
		if err != nil {
			return row.Rows{}, err
		}
		batches = append(batches, rows)
	}
	return row.NewRows().Merge(batches...), nil
}

// Run drains the pipeline, typically after Write.
func (df *DataFrame) Run(ctx context.Context) error {
	for _, err := range df.process(ctx) {
		if err != nil {
			return err
		}
	}
	return nil
}

// Count runs the pipeline and returns the number of rows it produced.
func (df *DataFrame) Count(ctx context.Context) (int, error) {
	n := 0
	for rows, err := range df.process(ctx) {
		if err != nil {
			return 0, err
		}
		n += rows.Len()
	}
	return n, nil
}
