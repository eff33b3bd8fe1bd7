package partition

import "slices"

// Filter decides whether a batch with the given partitions is kept.
// Filters are pure functions of their input, which makes them idempotent.
type Filter interface {
	Keep(partitions Partitions) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(Partitions) bool

func (f FilterFunc) Keep(ps Partitions) bool { return f(ps) }

// NoopFilter keeps everything.
type NoopFilter struct{}

func (NoopFilter) Keep(Partitions) bool { return true }

// OnPartition keeps batches whose partition name satisfies pred. Batches
// without that partition are kept, since nothing is known about them.
func OnPartition(name string, pred func(value string) bool) Filter {
	return FilterFunc(func(ps Partitions) bool {
		p, ok := ps.Get(name)
		if !ok {
			return true
		}
		return pred(p.Value)
	})
}

// Equal keeps batches whose partition name equals value.
func Equal(name, value string) Filter {
	return OnPartition(name, func(v string) bool { return v == value })
}

// In keeps batches whose partition name is one of values.
func In(name string, values ...string) Filter {
	return OnPartition(name, func(v string) bool { return slices.Contains(values, v) })
}

// All keeps batches accepted by every filter.
func All(filters ...Filter) Filter {
	return FilterFunc(func(ps Partitions) bool {
		for _, f := range filters {
			if !f.Keep(ps) {
				return false
			}
		}
		return true
	})
}

// Any keeps batches accepted by at least one filter.
func Any(filters ...Filter) Filter {
	return FilterFunc(func(ps Partitions) bool {
		for _, f := range filters {
			if f.Keep(ps) {
				return true
			}
		}
		return false
	})
}

// Not inverts a filter.
func Not(f Filter) Filter {
	return FilterFunc(func(ps Partitions) bool { return !f.Keep(ps) })
}
