package row

import (
	"iter"
	"slices"
	"strings"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/schema"
)

// Rows is an ordered batch of rows together with the partitions of the
// source it was read from.
type Rows struct {
	rows       []Row
	partitions partition.Partitions
}

// NewRows creates a batch without partitions.
func NewRows(rows ...Row) Rows {
	return Rows{rows: slices.Clone(rows)}
}

// Len returns the number of rows.
func (rs Rows) Len() int { return len(rs.rows) }

// Empty reports whether the batch holds no rows.
func (rs Rows) Empty() bool { return len(rs.rows) == 0 }

// At returns the row at position i.
func (rs Rows) At(i int) Row { return rs.rows[i] }

// All iterates rows with their position.
func (rs Rows) All() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i, r := range rs.rows {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Slice returns a copy of the underlying rows.
func (rs Rows) Slice() []Row { return slices.Clone(rs.rows) }

// Partitions returns the partitions the batch belongs to.
func (rs Rows) Partitions() partition.Partitions { return rs.partitions }

// WithPartitions returns the batch tagged with ps.
func (rs Rows) WithPartitions(ps ...partition.Partition) Rows {
	return Rows{rows: rs.rows, partitions: slices.Clone(partition.Partitions(ps))}
}

func (rs Rows) with(rows []Row) Rows {
	return Rows{rows: rows, partitions: rs.partitions}
}

// Add appends rows.
func (rs Rows) Add(rows ...Row) Rows {
	out := make([]Row, 0, len(rs.rows)+len(rows))
	out = append(out, rs.rows...)
	return rs.with(append(out, rows...))
}

// Merge concatenates batches in order. Partitions of rs are kept.
func (rs Rows) Merge(others ...Rows) Rows {
	n := len(rs.rows)
	for _, o := range others {
		n += len(o.rows)
	}
	out := make([]Row, 0, n)
	out = append(out, rs.rows...)
	for _, o := range others {
		out = append(out, o.rows...)
	}
	return rs.with(out)
}

// Chunks splits the batch into batches of at most size rows, preserving
// order and partitions.
func (rs Rows) Chunks(size int) ([]Rows, error) {
	if size < 1 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument,
			"chunk size must be greater than 0, got %d", size).WithDetail("size", size)
	}
	chunks := make([]Rows, 0, (len(rs.rows)+size-1)/size)
	for chunk := range slices.Chunk(rs.rows, size) {
		chunks = append(chunks, rs.with(slices.Clip(chunk)))
	}
	return chunks, nil
}

// Filter keeps rows for which keep returns true.
func (rs Rows) Filter(keep func(Row) bool) Rows {
	out := make([]Row, 0, len(rs.rows))
	for _, r := range rs.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return rs.with(out)
}

// Map replaces every row with fn(row).
func (rs Rows) Map(fn func(Row) (Row, error)) (Rows, error) {
	out := make([]Row, len(rs.rows))
	for i, r := range rs.rows {
		mapped, err := fn(r)
		if err != nil {
			return Rows{}, err
		}
		out[i] = mapped
	}
	return rs.with(out), nil
}

// FlatMap replaces every row with zero or more rows.
func (rs Rows) FlatMap(fn func(Row) ([]Row, error)) (Rows, error) {
	out := make([]Row, 0, len(rs.rows))
	for _, r := range rs.rows {
		mapped, err := fn(r)
		if err != nil {
			return Rows{}, err
		}
		out = append(out, mapped...)
	}
	return rs.with(out), nil
}

// Sort returns the batch stably sorted by cmp.
func (rs Rows) Sort(cmp func(a, b Row) int) Rows {
	out := slices.Clone(rs.rows)
	slices.SortStableFunc(out, cmp)
	return rs.with(out)
}

// SortBy sorts stably by keys.
func (rs Rows) SortBy(keys ...SortKey) Rows {
	return rs.Sort(CompareBy(keys...))
}

// Take keeps the first n rows.
func (rs Rows) Take(n int) Rows {
	n = min(max(n, 0), len(rs.rows))
	return rs.with(slices.Clone(rs.rows[:n]))
}

// Drop skips the first n rows.
func (rs Rows) Drop(n int) Rows {
	n = min(max(n, 0), len(rs.rows))
	return rs.with(slices.Clone(rs.rows[n:]))
}

// Reverse returns the rows in reverse order.
func (rs Rows) Reverse() Rows {
	out := slices.Clone(rs.rows)
	slices.Reverse(out)
	return rs.with(out)
}

// First returns the first row or a not-found error for an empty batch.
func (rs Rows) First() (Row, error) {
	if len(rs.rows) == 0 {
		return Row{}, errors.New(errors.ErrorTypeNotFound, "rows are empty")
	}
	return rs.rows[0], nil
}

// Unique drops rows equal to an earlier row. Objects are compared with cmp.
func (rs Rows) Unique(cmp ObjectComparator) Rows {
	seen := make(map[string][]Row, len(rs.rows))
	out := make([]Row, 0, len(rs.rows))
	for _, r := range rs.rows {
		key := r.contentKey()
		if slices.ContainsFunc(seen[key], func(o Row) bool { return o.EqualWith(r, cmp) }) {
			continue
		}
		seen[key] = append(seen[key], r)
		out = append(out, r)
	}
	return rs.with(out)
}

// DiffLeft returns the rows of rs that do not appear in other.
func (rs Rows) DiffLeft(other Rows) Rows {
	return rs.Filter(func(r Row) bool { return !other.Contains(r) })
}

// DiffRight returns the rows of other that do not appear in rs.
func (rs Rows) DiffRight(other Rows) Rows {
	return other.DiffLeft(rs)
}

// Contains reports whether an equal row is part of the batch.
func (rs Rows) Contains(r Row) bool {
	return slices.ContainsFunc(rs.rows, r.Equal)
}

// Schema merges the schemas of every row. Entries missing from some rows
// become nullable.
func (rs Rows) Schema() (schema.Schema, error) {
	if len(rs.rows) == 0 {
		return schema.Must(), nil
	}
	s := rs.rows[0].Schema()
	for _, r := range rs.rows[1:] {
		merged, err := s.Merge(r.Schema())
		if err != nil {
			return schema.Schema{}, err
		}
		s = merged
	}
	return s, nil
}

// PartitionBy splits the batch into one batch per distinct combination of
// the named entries' values, in first-seen order. Each batch is tagged with
// the partitions it was split on.
func (rs Rows) PartitionBy(names ...string) ([]Rows, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "partition by requires at least one entry")
	}
	var (
		order  []string
		groups = make(map[string]*Rows)
	)
	for _, r := range rs.rows {
		ps := make(partition.Partitions, 0, len(names))
		for _, name := range names {
			e, err := r.Get(name)
			if err != nil {
				return nil, err
			}
			p, err := partition.New(name, e.String())
			if err != nil {
				return nil, err
			}
			ps = append(ps, p)
		}
		id := ps.ID()
		g, ok := groups[id]
		if !ok {
			g = &Rows{partitions: append(slices.Clone(rs.partitions), ps...)}
			groups[id] = g
			order = append(order, id)
		}
		g.rows = append(g.rows, r)
	}
	out := make([]Rows, len(order))
	for i, id := range order {
		out[i] = *groups[id]
	}
	return out, nil
}

// Equal compares rows position by position.
func (rs Rows) Equal(o Rows) bool {
	return rs.EqualWith(o, StrictObjects)
}

// EqualWith is Equal with a custom object comparator.
func (rs Rows) EqualWith(o Rows, cmp ObjectComparator) bool {
	return slices.EqualFunc(rs.rows, o.rows, func(a, b Row) bool { return a.EqualWith(b, cmp) })
}

// Hash fingerprints the batch content, used to detect duplicate batches.
func (rs Rows) Hash(alg hash.Algorithm) string {
	var b strings.Builder
	for _, r := range rs.rows {
		b.WriteString(r.contentKey())
		b.WriteByte(0x1e)
	}
	return hash.String(alg, b.String())
}

// ToMaps converts every row with Row.ToNative.
func (rs Rows) ToMaps() []map[string]interface{} {
	out := make([]map[string]interface{}, len(rs.rows))
	for i, r := range rs.rows {
		out[i] = r.ToNative()
	}
	return out
}

// contentKey renders names and values independent of entry order.
func (r Row) contentKey() string {
	names := r.Names()
	slices.Sort(names)
	return strings.Join(names, ",") + "|" + r.Key(names...)
}
