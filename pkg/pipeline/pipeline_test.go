package pipeline

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rowflow/rowflow/pkg/cache"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/extsort"
	"github.com/rowflow/rowflow/pkg/groupby"
	"github.com/rowflow/rowflow/pkg/join"
	"github.com/rowflow/rowflow/pkg/metrics"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/schema"
)

func TestRunThreadsBatchesThroughPipes(t *testing.T) {
	sink := &recordingLoader{}
	p, err := New("threads", newSource(numbered(3, 4)...),
		WithPipes(
			Filter(func(r row.Row) bool {
				v, _ := r.ValueOf("id")
				return v.(int64)%2 == 0
			}),
			Select("id"),
			sink,
		),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(metrics.NewCollector(prometheus.NewRegistry())),
	)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, p.State())

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, StateDone, p.State())
	assert.Len(t, sink.batches, 3)
	assert.Equal(t, 6, sink.rows())
	assert.Equal(t, []string{"id"}, sink.batches[0].At(0).Names())
	assert.Equal(t, 1, sink.finalized)
}

func TestLimitStopsPullingSource(t *testing.T) {
	src := newSource(numbered(5, 2)...)
	sink := &recordingLoader{}
	p, err := New("limit", plainSource{src},
		WithPipes(mustLimit(t, 3), sink),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3, sink.rows())
	assert.Equal(t, 2, src.pulled)
	assert.True(t, src.closed)
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, 1, sink.finalized)
}

func TestUntilStopsAtFirstFailingRow(t *testing.T) {
	src := newSource(numbered(3, 3)...)
	p, err := New("until", src, WithPipes(Until(func(r row.Row) bool {
		v, _ := r.ValueOf("id")
		return v.(int64) < 5
	})), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, ids(collect(t, p)))
	assert.Equal(t, 2, src.pulled)
}

func TestOptimizerIsTransparent(t *testing.T) {
	batches := []row.Rows{
		partitioned("PL", row.Must(row.Int("id", 1)), row.Must(row.Int("id", 2))),
		partitioned("US", row.Must(row.Int("id", 3)), row.Must(row.Int("id", 4))),
		partitioned("PL", row.Must(row.Int("id", 5)), row.Must(row.Int("id", 6))),
		partitioned("DE", row.Must(row.Int("id", 7))),
	}
	odd := func(r row.Row) bool {
		v, _ := r.ValueOf("id")
		return v.(int64)%2 == 1
	}

	tests := []struct {
		name   string
		pipes  func() []Pipe
		pushed bool
	}{
		{"leading limit", func() []Pipe { return []Pipe{mustLimit(t, 3)} }, true},
		{"limit behind projection", func() []Pipe {
			return []Pipe{Select("id"), Drop("name"), mustLimit(t, 5)}
		}, true},
		{"limit behind rename", func() []Pipe {
			return []Pipe{Rename("id", "key"), mustLimit(t, 3)}
		}, false},
		{"limit behind map", func() []Pipe {
			return []Pipe{Map(func(r row.Row) (row.Row, error) { return r, nil }), mustLimit(t, 3)}
		}, false},
		{"limit behind filter", func() []Pipe { return []Pipe{Filter(odd), mustLimit(t, 2)} }, false},
		{"partition filter then limit", func() []Pipe {
			return []Pipe{PartitionFilter(partition.Equal("country", "PL")), mustLimit(t, 3)}
		}, true},
		{"limit larger than input", func() []Pipe { return []Pipe{mustLimit(t, 100)} }, true},
		{"partition filters only", func() []Pipe {
			return []Pipe{
				PartitionFilter(partition.Not(partition.Equal("country", "US"))),
				PartitionFilter(partition.In("country", "PL", "US")),
			}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := New("plain", newSource(batches...), WithPipes(tt.pipes()...), WithOptimizer(nil))
			require.NoError(t, err)
			optimized, err := New("optimized", newSource(batches...), WithPipes(tt.pipes()...),
				WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)

			want := collect(t, plain)
			got := collect(t, optimized)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("optimized output differs (-want +got):\n%s", diff)
			}

			hasLimit := false
			for _, pipe := range optimized.Pipes() {
				if _, ok := pipe.(*LimitTransformer); ok {
					hasLimit = true
				}
			}
			assert.Equal(t, tt.pushed, !hasLimit && optimized.Source().(*sliceSource).limit > 0)
		})
	}
}

func TestFailingMapBeforeLimitFailsWithOptimizer(t *testing.T) {
	failing := func() []Pipe {
		return []Pipe{
			Map(func(r row.Row) (row.Row, error) {
				v, _ := r.ValueOf("id")
				if v.(int64) == 5 {
					return row.Row{}, errors.New(errors.ErrorTypeRuntime, "bad row")
				}
				return r, nil
			}),
			mustLimit(t, 3),
		}
	}
	for _, opt := range []*Optimizer{nil, DefaultOptimizer()} {
		src := newSource(numbered(1, 5)...)
		p, err := New("failing-map", src, WithPipes(failing()...), WithOptimizer(opt))
		require.NoError(t, err)
		require.Error(t, p.Run(context.Background()))
		assert.Zero(t, src.limit)
	}
}

func TestFinalizeAfterSuccess(t *testing.T) {
	first, second := &recordingLoader{}, &recordingLoader{}
	p, err := New("finalize", newSource(), WithPipes(first, second))
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, first.finalized)
	assert.Equal(t, 1, second.finalized)
}

func TestFinalizeOnlyEngagedLoadersAfterFailure(t *testing.T) {
	engaged, idle := &recordingLoader{}, &recordingLoader{}
	failing := Map(func(r row.Row) (row.Row, error) {
		return row.Row{}, errors.New(errors.ErrorTypeRuntime, "boom")
	})

	p, err := New("failure", newSource(numbered(2, 2)...),
		WithPipes(engaged, failing, idle),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, 1, engaged.finalized)
	assert.Equal(t, 0, idle.finalized)

	var rfErr *errors.Error
	require.True(t, errors.As(err, &rfErr))
	pipe, ok := rfErr.Detail("pipe")
	require.True(t, ok)
	assert.Equal(t, 1, pipe)
}

func TestFinalizeErrorsAreJoined(t *testing.T) {
	sink := &recordingLoader{err: errors.New(errors.ErrorTypeRuntime, "commit failed")}
	p, err := New("finalize-error", newSource(numbered(1, 1)...), WithPipes(sink))
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit failed")
}

func TestCancellationAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(numbered(5, 1)...)
	sink := &recordingLoader{}
	p, err := New("cancel", src, WithPipes(Callback(func(context.Context, row.Rows) error {
		cancel()
		return nil
	}), sink))
	require.NoError(t, err)

	err = p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.pulled)
	assert.True(t, src.closed)
	assert.Equal(t, 1, sink.finalized)
}

func TestSourceErrorsAbortRun(t *testing.T) {
	p, err := New("source-error", failingSource{}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRuntime))
}

func TestConsumerBreakStopsSource(t *testing.T) {
	src := newSource(numbered(4, 2)...)
	sink := &recordingLoader{}
	p, err := New("break", src, WithPipes(sink))
	require.NoError(t, err)

	for rows, err := range p.Process(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, 2, rows.Len())
		break
	}
	assert.True(t, src.closed)
	assert.Equal(t, 1, src.pulled)
	assert.Equal(t, 1, sink.finalized)
	assert.Equal(t, StateStopped, p.State())
}

func TestFlushersEmitAfterSource(t *testing.T) {
	sorter, err := extsort.New([]row.SortKey{row.Desc("id")}, extsort.WithBatchSize(4))
	require.NoError(t, err)
	batch, err := Batch(3)
	require.NoError(t, err)

	p, err := New("flush", newSource(numbered(3, 3)...), WithPipes(Sort(sorter), batch))
	require.NoError(t, err)

	var sizes []int
	var all []int64
	for rows, err := range p.Process(context.Background()) {
		require.NoError(t, err)
		sizes = append(sizes, rows.Len())
		all = append(all, ids(rows.ToMaps())...)
	}
	assert.Equal(t, []int{3, 3, 3}, sizes)
	assert.Equal(t, []int64{9, 8, 7, 6, 5, 4, 3, 2, 1}, all)
}

func TestStopDuringFlush(t *testing.T) {
	sorter, err := extsort.New([]row.SortKey{row.Desc("id")}, extsort.WithBatchSize(2))
	require.NoError(t, err)
	sink := &recordingLoader{}

	p, err := New("flush-stop", newSource(numbered(2, 5)...),
		WithPipes(Sort(sorter), mustLimit(t, 3), sink))
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3, sink.rows())
	assert.Equal(t, []int64{10, 9, 8}, ids(row.NewRows().Merge(sink.batches...).ToMaps()))
}

func TestSpilledSortBucketsRemovedOnAbort(t *testing.T) {
	spilled := func(t *testing.T) (*cache.MemoryCache, *extsort.Sorter) {
		mc := cache.NewMemoryCache()
		sorter, err := extsort.New([]row.SortKey{row.Asc("id")},
			extsort.WithStrategy(extsort.Buckets), extsort.WithBucketSize(1), extsort.WithCache(mc))
		require.NoError(t, err)
		return mc, sorter
	}

	t.Run("source error", func(t *testing.T) {
		mc, sorter := spilled(t)
		p, err := New("sort-abort", brokenSource{batches: numbered(1, 2)}, WithPipes(Sort(sorter)))
		require.NoError(t, err)

		require.Error(t, p.Run(context.Background()))
		assert.Empty(t, mc.Keys())
	})

	t.Run("cancelled", func(t *testing.T) {
		mc, sorter := spilled(t)
		ctx, cancel := context.WithCancel(context.Background())
		// cancelled while the second batch is in flight, after the first one spilled
		canceller := Filter(func(r row.Row) bool {
			if v, _ := r.ValueOf("id"); v == int64(3) {
				cancel()
			}
			return true
		})
		p, err := New("sort-cancel", newSource(numbered(3, 2)...), WithPipes(canceller, Sort(sorter)))
		require.NoError(t, err)

		assert.ErrorIs(t, p.Run(ctx), context.Canceled)
		assert.Empty(t, mc.Keys())
	})

	t.Run("pipe error after spill", func(t *testing.T) {
		mc, sorter := spilled(t)
		failing := Callback(func(context.Context, row.Rows) error {
			return errors.New(errors.ErrorTypeRuntime, "disk full")
		})
		p, err := New("sort-pipe-error", newSource(numbered(3, 2)...), WithPipes(Sort(sorter), failing))
		require.NoError(t, err)

		require.Error(t, p.Run(context.Background()))
		assert.Empty(t, mc.Keys())
	})
}

func TestGroupByPipe(t *testing.T) {
	g := groupby.New("group")
	require.NoError(t, g.Aggregate(groupby.Count("id")))

	p, err := New("group", newSource(numbered(2, 3)...), WithPipes(GroupBy(g)))
	require.NoError(t, err)

	got := collect(t, p)
	assert.Equal(t, []map[string]interface{}{
		{"group": int64(1), "id_count": int64(2)},
		{"group": int64(2), "id_count": int64(2)},
		{"group": int64(0), "id_count": int64(2)},
	}, got)
}

func TestJoinPipe(t *testing.T) {
	right := newSource(row.NewRows(
		row.Must(row.Int("id", 1), row.Str("v", "a")),
		row.Must(row.Int("id", 9), row.Str("v", "z")),
	))
	j, err := join.New(join.On(map[string]string{"id": "id"}), join.Right)
	require.NoError(t, err)

	p, err := New("join", newSource(numbered(1, 2)...), WithPipes(Select("id"), Join(right, j)))
	require.NoError(t, err)

	got := collect(t, p)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["joined_v"])
	assert.Equal(t, "z", got[1]["joined_v"])
	assert.Nil(t, got[1]["id"])
}

func TestPartitionByExpander(t *testing.T) {
	pb, err := PartitionBy("group")
	require.NoError(t, err)

	p, err := New("partition", newSource(numbered(1, 6)...), WithPipes(pb))
	require.NoError(t, err)

	var paths []string
	for rows, err := range p.Process(context.Background()) {
		require.NoError(t, err)
		paths = append(paths, rows.Partitions().Path())
	}
	assert.Equal(t, []string{"group=1", "group=2", "group=0"}, paths)
}

func TestSchemaValidatorPipe(t *testing.T) {
	expected := schema.Must(schema.Integer("id", false))
	p, err := New("validate", newSource(numbered(1, 1)...),
		WithPipes(Select("id"), SchemaValidator(expected, nil)))
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	p, err = New("validate", newSource(numbered(1, 1)...), WithPipes(SchemaValidator(expected, nil)))
	require.NoError(t, err)
	err = p.Run(context.Background())
	var validation *row.SchemaValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestNewValidatesPipes(t *testing.T) {
	_, err := New("bad", newSource(), WithPipes("not a pipe"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = New("bad", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = Limit(0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = Batch(0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestIsStop(t *testing.T) {
	assert.True(t, IsStop(ErrStop))
	assert.True(t, IsStop(LimitReached(10)))
	assert.False(t, IsStop(errors.New(errors.ErrorTypeRuntime, "boom")))
}
