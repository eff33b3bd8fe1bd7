// Package flow is the user facing API of rowflow. A DataFrame describes a
// pipeline fluently and runs it when one of its triggers is called.
//
// # Basic Usage
//
//	rows, err := flow.From(source).
//	    Filter(func(r row.Row) bool { return r.Has("id") }).
//	    GroupBy("country").Aggregate(groupby.Sum("total")).
//	    SortBy(row.Desc("total_sum")).
//	    Fetch(ctx, 10)
//
// # Configuration
//
// Package level constructors use NewBaseConfig defaults and the global
// logger. Build a Flow from a BaseConfig to choose the spill cache, the sort
// budget, the join hash algorithm and metrics:
//
//	cfg, err := config.LoadBaseConfig("rowflow.yaml")
//	f, err := flow.New(cfg)
//	err = f.From(source).SortBy(row.Asc("id")).Write(sink).Run(ctx)
package flow

import (
	"context"
	"iter"
	"sync"

	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/adapter/memory"
	"github.com/rowflow/rowflow/pkg/cache"
	"github.com/rowflow/rowflow/pkg/config"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/extsort"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/logger"
	"github.com/rowflow/rowflow/pkg/metrics"
	"github.com/rowflow/rowflow/pkg/pipeline"
	"github.com/rowflow/rowflow/pkg/row"
)

// autoMemoryFraction is the share of available memory a sort may use when
// the budget is derived from the host.
const autoMemoryFraction = 0.25

// Flow carries the components configured once and shared by every
// DataFrame it creates.
type Flow struct {
	cfg     *config.BaseConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	cache   cache.Cache
	hash    hash.Algorithm
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger replaces the logger.
func WithLogger(l *zap.Logger) Option { return func(f *Flow) { f.logger = l } }

// WithCache replaces the cache built from the configuration.
func WithCache(c cache.Cache) Option { return func(f *Flow) { f.cache = c } }

// WithMetrics reports to c regardless of the configuration.
func WithMetrics(c *metrics.Collector) Option { return func(f *Flow) { f.metrics = c } }

// New creates a Flow from cfg. A nil cfg uses NewBaseConfig defaults.
func New(cfg *config.BaseConfig, opts ...Option) (*Flow, error) {
	if cfg == nil {
		cfg = config.NewBaseConfig("rowflow")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logger.Get()
	}
	if f.metrics == nil && cfg.Observability.EnableMetrics {
		f.metrics = metrics.Default()
	}
	if f.cache == nil {
		c, err := cache.NewFromConfig(cfg.Cache, f.logger)
		if err != nil {
			return nil, err
		}
		f.cache = c
	}
	alg, err := hash.ByName(cfg.Join.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	f.hash = alg
	return f, nil
}

// Close releases the cache when it holds resources.
func (f *Flow) Close() error {
	if c, ok := f.cache.(cache.Closer); ok {
		return c.Close()
	}
	return nil
}

// Cache returns the cache used for spills and cached frames.
func (f *Flow) Cache() cache.Cache { return f.cache }

// From starts a DataFrame reading source.
func (f *Flow) From(source pipeline.Source) *DataFrame {
	return &DataFrame{flow: f, source: func() pipeline.Source { return source }}
}

// Read starts a DataFrame over in-memory batches. Every trigger replays
// them from the start.
func (f *Flow) Read(batches ...row.Rows) *DataFrame {
	return &DataFrame{flow: f, source: func() pipeline.Source { return memory.NewSource(batches...) }}
}

// FromCache starts a DataFrame over rows stored under key, for example by
// DataFrame.Cache.
func (f *Flow) FromCache(key string) *DataFrame {
	return &DataFrame{flow: f, source: func() pipeline.Source {
		return &cacheSource{cache: f.cache, key: key, batchSize: f.cfg.Performance.BatchSize}
	}}
}

func (f *Flow) sorterOptions() ([]extsort.Option, error) {
	limit := f.cfg.Sort.SortMemoryLimitBytes()
	if f.cfg.Sort.AutoMemoryLimit {
		auto, err := extsort.AutoMemoryLimit(autoMemoryFraction)
		if err != nil {
			return nil, err
		}
		limit = auto
	}
	return []extsort.Option{
		extsort.WithMemoryLimit(limit),
		extsort.WithBucketSize(f.cfg.Sort.BucketSize),
		extsort.WithBatchSize(f.cfg.Performance.BatchSize),
		extsort.WithCache(f.cache),
		extsort.WithLogger(f.logger),
		extsort.WithMetrics(f.metrics),
	}, nil
}

// defaultFlow never fails: defaults validate and the memory cache always opens.
var defaultFlow = sync.OnceValue(func() *Flow {
	f, _ := New(nil)
	return f
})

// From starts a DataFrame on the default Flow.
func From(source pipeline.Source) *DataFrame { return defaultFlow().From(source) }

// Read starts a DataFrame over in-memory batches on the default Flow.
func Read(batches ...row.Rows) *DataFrame { return defaultFlow().Read(batches...) }

// cacheSource streams rows stored in a cache back in batches.
type cacheSource struct {
	cache     cache.Cache
	key       string
	batchSize int
}

func (s *cacheSource) Extract(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		batch := make([]row.Row, 0, s.batchSize)
		for r, err := range s.cache.Read(ctx, s.key) {
			if err != nil {
				yield(row.Rows{}, err)
				return
			}
			batch = append(batch, r)
			if len(batch) == s.batchSize {
				if !yield(row.NewRows(batch...), nil) {
					return
				}
				batch = make([]row.Row, 0, s.batchSize)
			}
		}
		if len(batch) > 0 {
			yield(row.NewRows(batch...), nil)
		}
	}
}
