// Package memory provides a source and a sink backed by in-memory batches.
// The source honours limit and partition pushdown, which makes it the
// reference implementation for the optimizer.
package memory

import (
	"context"
	"iter"
	"sync"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
)

// Source replays batches.
type Source struct {
	batches []row.Rows
	limit   int
	filters []partition.Filter
}

// NewSource replays each batch as given.
func NewSource(batches ...row.Rows) *Source {
	return &Source{batches: batches}
}

// FromRows splits rows into batches of batchSize.
func FromRows(rows row.Rows, batchSize int) (*Source, error) {
	chunks, err := rows.Chunks(batchSize)
	if err != nil {
		return nil, err
	}
	return NewSource(chunks...), nil
}

// FromMaps builds rows from maps with the entry factory.
func FromMaps(maps []map[string]interface{}, batchSize int) (*Source, error) {
	factory := row.NewFactory()
	rows := make([]row.Row, len(maps))
	for i, m := range maps {
		r, err := factory.FromMap(m)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "cannot build row").
				WithDetail("row", i)
		}
		rows[i] = r
	}
	return FromRows(row.NewRows(rows...), batchSize)
}

// SetLimit stops the source after n rows.
func (s *Source) SetLimit(n int) { s.limit = n }

// AddPartitionFilter skips batches whose partitions f rejects.
func (s *Source) AddPartitionFilter(f partition.Filter) {
	s.filters = append(s.filters, f)
}

func (s *Source) keep(ps partition.Partitions) bool {
	for _, f := range s.filters {
		if !f.Keep(ps) {
			return false
		}
	}
	return true
}

func (s *Source) Extract(ctx context.Context) iter.Seq2[row.Rows, error] {
	return func(yield func(row.Rows, error) bool) {
		emitted := 0
		for _, b := range s.batches {
			if err := ctx.Err(); err != nil {
				yield(row.Rows{}, err)
				return
			}
			if !s.keep(b.Partitions()) {
				continue
			}
			if s.limit > 0 {
				if emitted >= s.limit {
					return
				}
				b = b.Take(s.limit - emitted)
			}
			emitted += b.Len()
			if !yield(b, nil) {
				return
			}
		}
	}
}

// Sink keeps every loaded batch. It is safe for concurrent use.
type Sink struct {
	mu        sync.Mutex
	batches   []row.Rows
	finalized int
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Load(_ context.Context, rows row.Rows) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, rows)
	return nil
}

func (s *Sink) Finalize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized++
	return nil
}

// Batches returns the loaded batches in arrival order.
func (s *Sink) Batches() []row.Rows {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]row.Rows, len(s.batches))
	copy(out, s.batches)
	return out
}

// Rows returns every loaded row as one batch.
func (s *Sink) Rows() row.Rows {
	return row.NewRows().Merge(s.Batches()...)
}

// Finalized returns how many times the sink was finalized.
func (s *Sink) Finalized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}
