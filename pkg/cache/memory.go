package cache

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/rowflow/rowflow/pkg/row"
)

// MemoryCache keeps batches on the heap.
type MemoryCache struct {
	mu      sync.RWMutex
	batches map[string][]row.Rows
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{batches: make(map[string][]row.Rows)}
}

func (c *MemoryCache) Append(ctx context.Context, key string, rows row.Rows) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches[key] = append(c.batches[key], rows)
	return nil
}

func (c *MemoryCache) Read(ctx context.Context, key string) iter.Seq2[row.Row, error] {
	return func(yield func(row.Row, error) bool) {
		c.mu.RLock()
		batches := slices.Clone(c.batches[key])
		c.mu.RUnlock()

		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				yield(row.Row{}, err)
				return
			}
			for _, r := range batch.All() {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (row.Rows, error) {
	return collect(ctx, c, key)
}

func (c *MemoryCache) Has(_ context.Context, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.batches[key]
	return ok
}

func (c *MemoryCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.batches, key)
	return nil
}

// Keys returns the stored keys, used by tests to detect leaks.
func (c *MemoryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.batches))
	for k := range c.batches {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
