// Package extsort sorts batch streams that may not fit in memory.
//
// Rows are buffered in memory while their estimated size stays under the
// memory limit. Once the limit is exceeded the buffer is spilled into the
// cache as sorted buckets of BucketSize consecutive rows and every later
// row follows the same path. Spilled buckets are combined with a k-way
// merge that reads one row at a time from each bucket.
//
// Both paths break ties by arrival order, so they produce the same output
// for the same input.
package extsort

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/cache"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/metrics"
	"github.com/rowflow/rowflow/pkg/row"
)

// Strategy selects how a Sorter sorts.
type Strategy int

const (
	// Auto sorts in memory until the memory limit is exceeded.
	Auto Strategy = iota
	// Memory never spills.
	Memory
	// Buckets always spills.
	Buckets
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Memory:
		return "memory"
	case Buckets:
		return "buckets"
	}
	return "auto"
}

// Defaults used when no option overrides them.
const (
	DefaultMemoryLimit = 256 << 20
	DefaultBucketSize  = 100
	DefaultBatchSize   = 1000
)

// Option configures a Sorter.
type Option func(*Sorter)

// WithMemoryLimit sets the estimated size in bytes buffered before spilling.
func WithMemoryLimit(bytes int64) Option { return func(s *Sorter) { s.memoryLimit = bytes } }

// WithBucketSize sets the number of rows per spilled bucket.
func WithBucketSize(rows int) Option { return func(s *Sorter) { s.bucketSize = rows } }

// WithBatchSize sets the number of rows per emitted batch.
func WithBatchSize(rows int) Option { return func(s *Sorter) { s.batchSize = rows } }

// WithStrategy forces a sort strategy.
func WithStrategy(strategy Strategy) Option { return func(s *Sorter) { s.strategy = strategy } }

// WithCache sets the spill cache. A MemoryCache is used by default.
func WithCache(c cache.Cache) Option { return func(s *Sorter) { s.cache = c } }

// WithID sets the prefix of the sorter's cache keys.
func WithID(id string) Option { return func(s *Sorter) { s.id = id } }

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option { return func(s *Sorter) { s.logger = log } }

// WithMetrics reports spilled buckets to c.
func WithMetrics(c *metrics.Collector) Option { return func(s *Sorter) { s.metrics = c } }

// Sorter accumulates batches and emits them sorted by its keys.
type Sorter struct {
	keys        []row.SortKey
	compare     func(a, b row.Row) int
	strategy    Strategy
	memoryLimit int64
	bucketSize  int
	batchSize   int
	cache       cache.Cache
	id          string
	logger      *zap.Logger
	metrics     *metrics.Collector

	buffer     []row.Row
	bufferSize int64
	spilled    bool
	buckets    []string
}

// New creates a sorter over keys.
func New(keys []row.SortKey, opts ...Option) (*Sorter, error) {
	if len(keys) == 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "sort requires at least one key")
	}
	s := &Sorter{
		keys:        keys,
		compare:     row.CompareBy(keys...),
		memoryLimit: DefaultMemoryLimit,
		bucketSize:  DefaultBucketSize,
		batchSize:   DefaultBatchSize,
		id:          uuid.NewString(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucketSize < 1 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "bucket size must be greater than 0, got %d", s.bucketSize)
	}
	if s.batchSize < 1 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "batch size must be greater than 0, got %d", s.batchSize)
	}
	if s.memoryLimit < 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "memory limit cannot be negative, got %d", s.memoryLimit)
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryCache()
	}
	s.logger = s.logger.With(zap.String("sorter", s.id))
	return s, nil
}

// Spilled reports whether the sorter switched to buckets.
func (s *Sorter) Spilled() bool { return s.spilled }

// Add buffers a batch, spilling once the memory limit is exceeded.
func (s *Sorter) Add(ctx context.Context, rows row.Rows) error {
	for _, r := range rows.All() {
		s.buffer = append(s.buffer, r)
		if s.spilled {
			if len(s.buffer) >= s.bucketSize {
				if err := s.flushBuckets(ctx, false); err != nil {
					return err
				}
			}
			continue
		}
		s.bufferSize += row.EstimateRowSize(r)
		if s.shouldSpill() {
			if err := s.spill(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sorter) shouldSpill() bool {
	switch s.strategy {
	case Memory:
		return false
	case Buckets:
		return true
	}
	return s.bufferSize > s.memoryLimit
}

func (s *Sorter) spill(ctx context.Context) error {
	s.logger.Debug("memory limit exceeded, spilling to buckets",
		zap.Int("rows", len(s.buffer)),
		zap.Int64("estimated_bytes", s.bufferSize),
		zap.Int64("memory_limit", s.memoryLimit))
	s.spilled = true
	s.bufferSize = 0
	return s.flushBuckets(ctx, false)
}

// flushBuckets writes full buckets from the buffer, and the partial
// remainder as well when all is set.
func (s *Sorter) flushBuckets(ctx context.Context, all bool) error {
	for len(s.buffer) >= s.bucketSize || (all && len(s.buffer) > 0) {
		n := min(s.bucketSize, len(s.buffer))
		bucket := slices.Clone(s.buffer[:n])
		s.buffer = s.buffer[n:]

		slices.SortStableFunc(bucket, s.compare)
		key := fmt.Sprintf("%s/bucket/%d", s.id, len(s.buckets))
		// registered before writing so a failed append is still cleaned up
		s.buckets = append(s.buckets, key)
		if err := s.cache.Append(ctx, key, row.NewRows(bucket...)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to spill sort bucket").
				WithDetail("key", key)
		}
		s.metrics.ObserveSpill(s.id)
	}
	if len(s.buffer) == 0 {
		s.buffer = nil
	}
	return nil
}

// Sorted emits every added row in order, in batches of the batch size.
// Spilled buckets are removed from the cache as they are exhausted and all
// remaining ones when the sequence ends, fails or is abandoned.
func (s *Sorter) Sorted(ctx context.Context) iter.Seq2[row.Rows, error] {
	if !s.spilled {
		return s.sortedInMemory(ctx)
	}
	return func(yield func(row.Rows, error) bool) {
		defer func() { _ = s.cleanup(context.WithoutCancel(ctx)) }()
		if err := s.flushBuckets(ctx, true); err != nil {
			yield(row.Rows{}, err)
			return
		}
		s.logger.Debug("merging sorted buckets", zap.Int("buckets", len(s.buckets)))
		for batch, err := range s.merge(ctx) {
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

func (s *Sorter) sortedInMemory(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		rows := s.buffer
		s.buffer, s.bufferSize = nil, 0
		slices.SortStableFunc(rows, s.compare)
		for chunk := range slices.Chunk(rows, s.batchSize) {
			if err := ctx.Err(); err != nil {
				yield(row.Rows{}, err)
				return
			}
			if !yield(row.NewRows(chunk...), nil) {
				return
			}
		}
	}
}

// Discard drops buffered rows and removes every spilled bucket still
// present in the cache. It is safe to call after Sorted and more than once.
func (s *Sorter) Discard(ctx context.Context) error {
	s.buffer, s.bufferSize = nil, 0
	return s.cleanup(ctx)
}

// cleanup removes every bucket still present in the cache.
func (s *Sorter) cleanup(ctx context.Context) error {
	var errs []error
	for _, key := range s.buckets {
		if err := s.cache.Remove(ctx, key); err != nil {
			s.logger.Warn("failed to remove sort bucket", zap.String("key", key), zap.Error(err))
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to remove sort bucket").
				WithDetail("key", key))
		}
	}
	s.buckets = nil
	return errors.Join(errs...)
}

// Sort drains batches through a new sorter.
func Sort(ctx context.Context, batches iter.Seq2[row.Rows, error], keys []row.SortKey, opts ...Option) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		s, err := New(keys, opts...)
		if err != nil {
			yield(row.Rows{}, err)
			return
		}
		for rows, err := range batches {
			if err == nil {
				err = s.Add(ctx, rows)
			}
			if err != nil {
				_ = s.cleanup(context.WithoutCancel(ctx))
				yield(row.Rows{}, err)
				return
			}
		}
		for rows, err := range s.Sorted(ctx) {
			if !yield(rows, err) || err != nil {
				return
			}
		}
	}
}
