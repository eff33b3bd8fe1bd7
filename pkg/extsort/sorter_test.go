package extsort

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rowflow/rowflow/pkg/cache"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/row"
)

func randomBatches(seed int64, total, batchSize int) []row.Rows {
	rnd := rand.New(rand.NewSource(seed))
	var batches []row.Rows
	var rows []row.Row
	for i := 0; i < total; i++ {
		group := row.Int("group", int64(rnd.Intn(5)))
		if rnd.Intn(10) == 0 {
			group = row.Null("group")
		}
		rows = append(rows, row.Must(
			group,
			row.Float("score", float64(rnd.Intn(20))/2),
			row.Int("seq", int64(i)),
		))
		if len(rows) == batchSize {
			batches = append(batches, row.NewRows(rows...))
			rows = nil
		}
	}
	if len(rows) > 0 {
		batches = append(batches, row.NewRows(rows...))
	}
	return batches
}

func source(batches []row.Rows) func(func(row.Rows, error) bool) {
	return func(yield func(row.Rows, error) bool) {
		for _, b := range batches {
			if !yield(b, nil) {
				return
			}
		}
	}
}

// sequence renders the output as the arrival sequence numbers it holds.
func sequence(t *testing.T, batches func(func(row.Rows, error) bool)) []string {
	t.Helper()
	out := []string{}
	for rows, err := range batches {
		require.NoError(t, err)
		for _, r := range rows.All() {
			group, _ := r.Get("group")
			score, _ := r.Get("score")
			seq, _ := r.Get("seq")
			out = append(out, fmt.Sprintf("%s|%s|%s", group, score, seq))
		}
	}
	return out
}

func TestMemoryAndBucketsProduceIdenticalOrder(t *testing.T) {
	keys := []row.SortKey{row.Asc("group"), row.Desc("score")}

	for _, seed := range []int64{1, 2, 3} {
		batches := randomBatches(seed, 257, 16)
		ctx := context.Background()

		memory := sequence(t, Sort(ctx, source(batches), keys, WithStrategy(Memory), WithBatchSize(50)))

		for _, limit := range []int64{0, 512, 4096} {
			for _, bucketSize := range []int{1, 7, 100, 1000} {
				t.Run(fmt.Sprintf("seed %d limit %d bucket %d", seed, limit, bucketSize), func(t *testing.T) {
					c := cache.NewMemoryCache()
					spilled := sequence(t, Sort(ctx, source(batches), keys,
						WithMemoryLimit(limit),
						WithBucketSize(bucketSize),
						WithBatchSize(33),
						WithCache(c),
						WithLogger(zaptest.NewLogger(t)),
					))
					if diff := cmp.Diff(memory, spilled); diff != "" {
						t.Fatalf("bucket sort differs from memory sort (-memory +buckets):\n%s", diff)
					}
					assert.Empty(t, c.Keys(), "buckets must be removed")
				})
			}
		}
	}
}

func TestSortIsStable(t *testing.T) {
	rows := row.NewRows(
		row.Must(row.Int("k", 1), row.Str("v", "a")),
		row.Must(row.Int("k", 0), row.Str("v", "b")),
		row.Must(row.Int("k", 1), row.Str("v", "c")),
		row.Must(row.Int("k", 0), row.Str("v", "d")),
	)
	for _, strategy := range []Strategy{Memory, Buckets} {
		t.Run(strategy.String(), func(t *testing.T) {
			s, err := New([]row.SortKey{row.Asc("k")}, WithStrategy(strategy), WithBucketSize(1))
			require.NoError(t, err)
			require.NoError(t, s.Add(context.Background(), rows))
			assert.Equal(t, strategy == Buckets, s.Spilled())

			var got []interface{}
			for batch, err := range s.Sorted(context.Background()) {
				require.NoError(t, err)
				for _, r := range batch.All() {
					v, _ := r.ValueOf("v")
					got = append(got, v)
				}
			}
			assert.Equal(t, []interface{}{"b", "d", "a", "c"}, got)
		})
	}
}

func TestBucketsAreRemovedWhenConsumerStops(t *testing.T) {
	c, err := cache.NewFilesystemCache(filepath.Join(t.TempDir(), "spill"), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	s, err := New([]row.SortKey{row.Asc("seq")},
		WithStrategy(Buckets), WithBucketSize(10), WithBatchSize(5), WithCache(c), WithID("sort-test"))
	require.NoError(t, err)
	for _, b := range randomBatches(7, 100, 20) {
		require.NoError(t, s.Add(context.Background(), b))
	}

	for range s.Sorted(context.Background()) {
		break
	}
	for i := 0; i < 10; i++ {
		assert.False(t, c.Has(context.Background(), fmt.Sprintf("sort-test/bucket/%d", i)))
	}
}

func TestBucketsAreRemovedOnFailure(t *testing.T) {
	c := cache.NewMemoryCache()
	failing := func(yield func(row.Rows, error) bool) {
		for _, b := range randomBatches(3, 40, 10) {
			if !yield(b, nil) {
				return
			}
		}
		yield(row.Rows{}, errors.New(errors.ErrorTypeRuntime, "source failed"))
	}

	var failure error
	for _, err := range Sort(context.Background(), failing, []row.SortKey{row.Asc("seq")},
		WithStrategy(Buckets), WithBucketSize(5), WithCache(c)) {
		failure = err
	}
	require.Error(t, failure)
	assert.Empty(t, c.Keys())
}

func TestDiscardRemovesSpilledBuckets(t *testing.T) {
	c := cache.NewMemoryCache()
	s, err := New([]row.SortKey{row.Asc("seq")}, WithStrategy(Buckets), WithBucketSize(5), WithCache(c))
	require.NoError(t, err)
	for _, b := range randomBatches(11, 30, 10) {
		require.NoError(t, s.Add(context.Background(), b))
	}
	require.NotEmpty(t, c.Keys())

	require.NoError(t, s.Discard(context.Background()))
	assert.Empty(t, c.Keys())
	require.NoError(t, s.Discard(context.Background()), "discard is idempotent")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = New([]row.SortKey{row.Asc("a")}, WithBucketSize(0))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = New([]row.SortKey{row.Asc("a")}, WithBatchSize(-1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestAutoMemoryLimit(t *testing.T) {
	limit, err := AutoMemoryLimit(0.5)
	require.NoError(t, err)
	assert.Positive(t, limit)

	_, err = AutoMemoryLimit(0)
	require.Error(t, err)
}
