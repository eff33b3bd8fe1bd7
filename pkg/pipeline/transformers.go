package pipeline

import (
	"context"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/schema"
)

// LimitTransformer passes at most limit rows and then stops the run. It
// counts across batches and serves a single run.
type LimitTransformer struct {
	limit int
	seen  int
}

// Limit creates a limit of n rows.
func Limit(n int) (*LimitTransformer, error) {
	if n < 1 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument,
			"limit must be greater than 0, got %d", n).WithDetail("limit", n)
	}
	return &LimitTransformer{limit: n}, nil
}

// Limit returns the configured limit.
func (l *LimitTransformer) Limit() int { return l.limit }

func (l *LimitTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	remaining := l.limit - l.seen
	if rows.Len() < remaining {
		l.seen += rows.Len()
		return rows, nil
	}
	l.seen = l.limit
	return rows.Take(remaining), LimitReached(l.limit)
}

// UntilTransformer passes rows while cond holds and stops at the first row
// that fails it.
type UntilTransformer struct {
	cond func(row.Row) bool
}

// Until creates an UntilTransformer.
func Until(cond func(row.Row) bool) *UntilTransformer {
	return &UntilTransformer{cond: cond}
}

func (u *UntilTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	for i, r := range rows.All() {
		if !u.cond(r) {
			return rows.Take(i), ErrStop
		}
	}
	return rows, nil
}

// FilterTransformer keeps rows matching a predicate.
type FilterTransformer struct {
	keep func(row.Row) bool
}

// Filter keeps the rows for which keep returns true.
func Filter(keep func(row.Row) bool) *FilterTransformer {
	return &FilterTransformer{keep: keep}
}

func (f *FilterTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	return rows.Filter(f.keep), nil
}

// PartitionFilterTransformer drops whole batches whose partitions are
// rejected by a filter.
type PartitionFilterTransformer struct {
	filter partition.Filter
}

// PartitionFilter creates a PartitionFilterTransformer.
func PartitionFilter(f partition.Filter) *PartitionFilterTransformer {
	return &PartitionFilterTransformer{filter: f}
}

func (p *PartitionFilterTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	if !p.filter.Keep(rows.Partitions()) {
		return row.NewRows().WithPartitions(rows.Partitions()...), nil
	}
	return rows, nil
}

// rowMapper applies fn to every row. It never changes the number of rows;
// infallible marks mappers whose fn cannot fail.
type rowMapper struct {
	fn         func(row.Row) (row.Row, error)
	infallible bool
}

func (m rowMapper) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	return rows.Map(m.fn)
}

func (m rowMapper) PreservesRowCount() bool { return m.infallible }

// Select keeps the named entries, in the given order. Unknown names are
// ignored.
func Select(names ...string) Transformer {
	return rowMapper{fn: func(r row.Row) (row.Row, error) { return r.Keep(names...), nil }, infallible: true}
}

// Keep is Select.
func Keep(names ...string) Transformer { return Select(names...) }

// Drop removes the named entries.
func Drop(names ...string) Transformer {
	return rowMapper{fn: func(r row.Row) (row.Row, error) { return r.Remove(names...), nil }, infallible: true}
}

// Rename renames an entry in every row that has it.
func Rename(from, to string) Transformer {
	return rowMapper{fn: func(r row.Row) (row.Row, error) {
		if !r.Has(from) {
			return r, nil
		}
		return r.Rename(from, to)
	}}
}

// WithEntry sets the entry computed by fn under name, replacing an existing
// entry of that name.
func WithEntry(name string, fn func(row.Row) (row.Entry, error)) Transformer {
	return rowMapper{fn: func(r row.Row) (row.Row, error) {
		e, err := fn(r)
		if err != nil {
			return row.Row{}, err
		}
		return r.Set(e.Rename(name)), nil
	}}
}

// Map replaces every row with fn(row).
func Map(fn func(row.Row) (row.Row, error)) Transformer {
	return rowMapper{fn: fn}
}

// PartitionByExpander splits batches by the values of partition entries.
type PartitionByExpander struct {
	names []string
}

// PartitionBy splits batches by names. At least one name is required.
func PartitionBy(names ...string) (*PartitionByExpander, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "partition by requires at least one entry")
	}
	return &PartitionByExpander{names: names}, nil
}

func (p *PartitionByExpander) Expand(_ context.Context, rows row.Rows) ([]row.Rows, error) {
	return rows.PartitionBy(p.names...)
}

// SchemaValidatorTransformer fails the run when a batch does not match the
// expected schema.
type SchemaValidatorTransformer struct {
	expected schema.Schema
	matcher  schema.Matcher
}

// SchemaValidator validates batches against expected. A nil matcher means
// strict matching.
func SchemaValidator(expected schema.Schema, matcher schema.Matcher) *SchemaValidatorTransformer {
	if matcher == nil {
		matcher = schema.StrictMatcher{}
	}
	return &SchemaValidatorTransformer{expected: expected, matcher: matcher}
}

func (v *SchemaValidatorTransformer) Transform(_ context.Context, rows row.Rows) (row.Rows, error) {
	if err := row.Validate(rows, v.expected, v.matcher); err != nil {
		return row.Rows{}, err
	}
	return rows, nil
}

// CallbackLoader hands every batch to a function.
type CallbackLoader struct {
	fn func(context.Context, row.Rows) error
}

// Callback hands every batch to fn.
func Callback(fn func(context.Context, row.Rows) error) *CallbackLoader {
	return &CallbackLoader{fn: fn}
}

func (c *CallbackLoader) Load(ctx context.Context, rows row.Rows) error {
	return c.fn(ctx, rows)
}
