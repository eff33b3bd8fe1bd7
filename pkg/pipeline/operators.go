package pipeline

import (
	"context"
	"iter"

	"github.com/rowflow/rowflow/pkg/cache"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/extsort"
	"github.com/rowflow/rowflow/pkg/groupby"
	"github.com/rowflow/rowflow/pkg/join"
	"github.com/rowflow/rowflow/pkg/row"
)

// BatchExpander re-chunks the stream into batches of size rows. Rows of
// different partitions are never mixed in one batch.
type BatchExpander struct {
	size   int
	buffer row.Rows
}

// Batch creates a BatchExpander. The size must be positive.
func Batch(size int) (*BatchExpander, error) {
	if size < 1 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument,
			"batch size must be greater than 0, got %d", size).WithDetail("size", size)
	}
	return &BatchExpander{size: size}, nil
}

func (b *BatchExpander) Expand(_ context.Context, rows row.Rows) ([]row.Rows, error) {
	var out []row.Rows
	if !b.buffer.Empty() && !b.buffer.Partitions().Equal(rows.Partitions()) {
		out = append(out, b.buffer)
		b.buffer = row.Rows{}
	}
	if b.buffer.Empty() {
		b.buffer = rows
	} else {
		b.buffer = b.buffer.Merge(rows)
	}
	for b.buffer.Len() >= b.size {
		out = append(out, b.buffer.Take(b.size))
		b.buffer = b.buffer.Drop(b.size)
	}
	return out, nil
}

func (b *BatchExpander) Flush(context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		rest := b.buffer
		b.buffer = row.Rows{}
		if !rest.Empty() {
			yield(rest, nil)
		}
	}
}

// CollectTransformer gathers the whole stream into a single batch.
type CollectTransformer struct {
	rows []row.Rows
}

// Collect creates a CollectTransformer.
func Collect() *CollectTransformer {
	return &CollectTransformer{}
}

func (c *CollectTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	c.rows = append(c.rows, rows)
	return row.Rows{}, nil
}

func (c *CollectTransformer) Flush(context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		all := row.NewRows().Merge(c.rows...)
		c.rows = nil
		if !all.Empty() {
			yield(all, nil)
		}
	}
}

// JoinTransformer joins the stream with the rows of another
// source (build side). The build side is loaded on first use.
type JoinTransformer struct {
	join  *join.HashJoin
	right Source
	built bool
}

// Join joins the stream with right using j.
func Join(right Source, j *join.HashJoin) *JoinTransformer {
	return &JoinTransformer{join: j, right: right}
}

func (t *JoinTransformer) build(ctx context.Context) error {
	if t.built {
		return nil
	}
	t.built = true
	return t.join.BuildFrom(ctx, t.right.Extract(ctx))
}

func (t *JoinTransformer) Transform(ctx context.Context, rows row.Rows) (row.Rows, error) {
	if err := t.build(ctx); err != nil {
		return row.Rows{}, err
	}
	return t.join.Match(rows)
}

func (t *JoinTransformer) Flush(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		if err := t.build(ctx); err != nil {
			yield(row.Rows{}, err)
			return
		}
		rest, err := t.join.Finish()
		if err != nil || !rest.Empty() {
			yield(rest, err)
		}
	}
}

// SortTransformer buffers the stream in an external sorter and emits it
// sorted once the source is exhausted.
type SortTransformer struct {
	sorter *extsort.Sorter
}

// Sort sorts the stream with sorter.
func Sort(sorter *extsort.Sorter) *SortTransformer {
	return &SortTransformer{sorter: sorter}
}

func (s *SortTransformer) Transform(ctx context.Context, rows row.Rows) (row.Rows, error) {
	return row.Rows{}, s.sorter.Add(ctx, rows)
}

func (s *SortTransformer) Flush(ctx context.Context) iter.Seq2[row.Rows, error] {
	return s.sorter.Sorted(ctx)
}

// Discard removes buckets left in the cache by a run that never reached
// or did not finish Flush.
func (s *SortTransformer) Discard(ctx context.Context) error {
	return s.sorter.Discard(ctx)
}

// GroupByTransformer folds the stream into groups and emits one row per
// group once the source is exhausted.
type GroupByTransformer struct {
	group *groupby.GroupBy
}

// GroupBy groups the stream with g.
func GroupBy(g *groupby.GroupBy) *GroupByTransformer {
	return &GroupByTransformer{group: g}
}

func (g *GroupByTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	return row.Rows{}, g.group.Group(rows)
}

func (g *GroupByTransformer) Flush(context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		out, err := g.group.Result()
		if err != nil || !out.Empty() {
			yield(out, err)
		}
	}
}

// CacheLoader appends every batch to a cache key.
type CacheLoader struct {
	cache cache.Cache
	key   string
}

// Cache appends every batch to key in c.
func Cache(c cache.Cache, key string) *CacheLoader {
	return &CacheLoader{cache: c, key: key}
}

func (c *CacheLoader) Load(ctx context.Context, rows row.Rows) error {
	return c.cache.Append(ctx, c.key, rows)
}
