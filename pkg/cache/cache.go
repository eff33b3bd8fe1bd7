// Package cache stores batches of rows under string keys. It backs the
// external sort spill files and the user level Cache operator.
//
// Read is lenient and yields nothing for an unknown key while Get is strict
// and fails with a key_not_found error. None of the implementations
// coordinate between processes; BoltCache serializes writers through bbolt
// and MemoryCache uses a mutex so a single cache can be shared by the
// pipelines of one process.
package cache

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/rowflow/rowflow/pkg/compression"
	"github.com/rowflow/rowflow/pkg/config"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/logger"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/serializer"
)

// Cache is a key addressed, append only store of batches.
type Cache interface {
	Append(ctx context.Context, key string, rows row.Rows) error
	Read(ctx context.Context, key string) iter.Seq2[row.Row, error]
	Get(ctx context.Context, key string) (row.Rows, error)
	Has(ctx context.Context, key string) bool
	Remove(ctx context.Context, key string) error
}

// Closer is implemented by caches holding open resources.
type Closer interface {
	Close() error
}

func keyNotFound(key string) error {
	return errors.Newf(errors.ErrorTypeKeyNotFound, "cache key %q does not exist", key).
		WithDetail("key", key)
}

// collect drains Read into a batch, used by Get implementations.
func collect(ctx context.Context, c Cache, key string) (row.Rows, error) {
	if !c.Has(ctx, key) {
		return row.Rows{}, keyNotFound(key)
	}
	var rows []row.Row
	for r, err := range c.Read(ctx, key) {
		if err != nil {
			return row.Rows{}, err
		}
		rows = append(rows, r)
	}
	return row.NewRows(rows...), nil
}

// NewFromConfig builds the cache selected by cfg. Persistent caches
// serialize batches with the binary serializer compressed by the
// configured codec.
func NewFromConfig(cfg config.CacheConfig, log *zap.Logger) (Cache, error) {
	if log == nil {
		log = logger.Get()
	}
	switch cfg.Type {
	case config.CacheMemory, "":
		return NewMemoryCache(), nil
	}

	s, err := newSerializer(cfg.Compression)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.CacheFilesystem:
		return NewFilesystemCache(cfg.Path, s, log)
	case config.CacheBolt:
		return NewBoltCache(cfg.Path, s, log)
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported cache type: %q", cfg.Type).
		WithDetail("type", cfg.Type)
}

func newSerializer(algorithm string) (serializer.Serializer, error) {
	if algorithm == "" || algorithm == string(compression.None) {
		return serializer.NewBinary(), nil
	}
	c, err := compression.NewCompressor(&compression.Config{
		Algorithm: compression.Algorithm(algorithm),
		Level:     compression.Fastest,
	})
	if err != nil {
		return nil, err
	}
	return serializer.NewCompressing(serializer.NewBinary(), c)
}
