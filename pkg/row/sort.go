package row

import (
	"strings"

	"github.com/rowflow/rowflow/pkg/errors"
)

// SortKey orders rows by one entry.
type SortKey struct {
	Name string
	Desc bool
}

// Asc sorts by name ascending, nulls first.
func Asc(name string) SortKey { return SortKey{Name: name} }

// Desc sorts by name descending, nulls last.
func Desc(name string) SortKey { return SortKey{Name: name, Desc: true} }

// String renders the key the way it is written in configuration.
func (k SortKey) String() string {
	if k.Desc {
		return k.Name + " desc"
	}
	return k.Name + " asc"
}

// ParseSortKey parses "name", "name asc" or "name desc".
func ParseSortKey(s string) (SortKey, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		return Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		return Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		return Desc(fields[0]), nil
	}
	return SortKey{}, errors.Newf(errors.ErrorTypeInvalidArgument,
		"invalid sort key %q, expected \"<entry> [asc|desc]\"", s)
}

// Compare orders two entries of any type. Numbers compare by value across
// integer and float, nulls sort before everything else.
func Compare(a, b Entry) int {
	return compareValues(a.val, b.val)
}

// CompareBy returns a row comparator over keys. Entries missing from a row
// sort as null.
func CompareBy(keys ...SortKey) func(a, b Row) int {
	return func(a, b Row) int {
		for _, k := range keys {
			ea, _ := a.Find(k.Name)
			eb, _ := b.Find(k.Name)
			c := compareValues(ea.val, eb.val)
			if c == 0 {
				continue
			}
			if k.Desc {
				return -c
			}
			return c
		}
		return 0
	}
}
