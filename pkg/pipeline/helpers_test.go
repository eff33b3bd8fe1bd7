package pipeline

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
)

// sliceSource replays batches and honours limit and partition pushdown.
type sliceSource struct {
	batches []row.Rows
	limit   int
	filters []partition.Filter

	pulled int
	closed bool
}

func newSource(batches ...row.Rows) *sliceSource {
	return &sliceSource{batches: batches}
}

func (s *sliceSource) SetLimit(n int) { s.limit = n }

func (s *sliceSource) AddPartitionFilter(f partition.Filter) { s.filters = append(s.filters, f) }

func (s *sliceSource) Extract(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		defer func() { s.closed = true }()
		emitted := 0
	batches:
		for _, b := range s.batches {
			for _, f := range s.filters {
				if !f.Keep(b.Partitions()) {
					continue batches
				}
			}
			if s.limit > 0 {
				if emitted >= s.limit {
					return
				}
				b = b.Take(s.limit - emitted)
			}
			emitted += b.Len()
			s.pulled++
			if !yield(b, nil) {
				return
			}
		}
	}
}

// plainSource hides the optional capabilities of a sliceSource.
type plainSource struct{ src *sliceSource }

func (p plainSource) Extract(ctx context.Context) iter.Seq2[row.Rows, error] {
	return p.src.Extract(ctx)
}

// recordingLoader keeps every batch it receives.
type recordingLoader struct {
	batches   []row.Rows
	finalized int
	err       error
}

func (l *recordingLoader) Load(_ context.Context, rows row.Rows) error {
	l.batches = append(l.batches, rows)
	return nil
}

func (l *recordingLoader) Finalize(context.Context) error {
	l.finalized++
	return l.err
}

func (l *recordingLoader) rows() int {
	n := 0
	for _, b := range l.batches {
		n += b.Len()
	}
	return n
}

// numbered builds count batches of size rows with ids starting at 1.
func numbered(count, size int) []row.Rows {
	out := make([]row.Rows, count)
	id := int64(1)
	for i := range out {
		rows := make([]row.Row, size)
		for j := range rows {
			rows[j] = row.Must(row.Int("id", id), row.Str("name", "n"), row.Int("group", id%3))
			id++
		}
		out[i] = row.NewRows(rows...)
	}
	return out
}

func collect(t *testing.T, p *Pipeline) []map[string]interface{} {
	t.Helper()
	out := []map[string]interface{}{}
	for rows, err := range p.Process(context.Background()) {
		require.NoError(t, err)
		out = append(out, rows.ToMaps()...)
	}
	return out
}

func ids(maps []map[string]interface{}) []int64 {
	out := make([]int64, 0, len(maps))
	for _, m := range maps {
		out = append(out, m["id"].(int64))
	}
	return out
}

func mustLimit(t *testing.T, n int) *LimitTransformer {
	t.Helper()
	l, err := Limit(n)
	require.NoError(t, err)
	return l
}

func partitioned(value string, rows ...row.Row) row.Rows {
	return row.NewRows(rows...).WithPartitions(partition.Partition{Name: "country", Value: value})
}

type failingSource struct{}

func (failingSource) Extract(context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		yield(row.Rows{}, errors.New(errors.ErrorTypeFile, "cannot open"))
	}
}

// brokenSource yields its batches and then fails.
type brokenSource struct {
	batches []row.Rows
}

func (s brokenSource) Extract(context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		for _, b := range s.batches {
			if !yield(b, nil) {
				return
			}
		}
		yield(row.Rows{}, errors.New(errors.ErrorTypeFile, "connection reset"))
	}
}
