// Package row implements the typed data model that flows through rowflow
// pipelines.
//
// An Entry is a named, typed, immutable value. A Row is an ordered set of
// uniquely named entries and a Rows batch is the ordered sequence of rows
// passed between pipeline stages. None of these types are mutated in place:
// every operation returns a new value, which makes them safe to share
// between stages without copying.
//
// Entries are created either with the typed constructors (Int, Str, ...)
// or by a Factory that infers the type from native Go values. Conversion
// between entry types only happens through Cast.
package row

import (
	"slices"
	"strings"
	"time"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/schema"
	"github.com/rowflow/rowflow/pkg/types"
)

// Row is an ordered set of uniquely named entries.
type Row struct {
	entries []Entry
	index   map[string]int
}

// New creates a row. Duplicate entry names are rejected.
func New(entries ...Entry) (Row, error) {
	r := Row{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, exists := r.index[e.name]; exists {
			return Row{}, duplicateEntry(e.name)
		}
		r.index[e.name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Must is like New but panics on duplicate names.
func Must(entries ...Entry) Row {
	r, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

func duplicateEntry(name string) error {
	return errors.Newf(errors.ErrorTypeInvalidArgument,
		"entry %q already exists in row", name).WithDetail("entry", name)
}

// Entries returns the entries in row order.
func (r Row) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Len returns the number of entries.
func (r Row) Len() int {
	return len(r.entries)
}

// Names returns entry names in row order.
func (r Row) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Find returns the entry with name, if present.
func (r Row) Find(name string) (Entry, bool) {
	i, ok := r.index[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Get returns the entry with name or a not-found error.
func (r Row) Get(name string) (Entry, error) {
	e, ok := r.Find(name)
	if !ok {
		return Entry{}, errors.Newf(errors.ErrorTypeNotFound,
			"entry %q does not exist, available entries: %s", name, strings.Join(r.Names(), ", ")).
			WithDetail("entry", name)
	}
	return e, nil
}

// Has reports whether every name is present.
func (r Row) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := r.index[name]; !ok {
			return false
		}
	}
	return true
}

// ValueOf returns the raw value of the named entry.
func (r Row) ValueOf(name string) (interface{}, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return e.val, nil
}

// Add appends entries. Names already present are rejected.
func (r Row) Add(entries ...Entry) (Row, error) {
	return New(append(r.Entries(), entries...)...)
}

// Set adds entries, replacing existing entries with the same name in place.
func (r Row) Set(entries ...Entry) Row {
	out := r.Entries()
	index := make(map[string]int, len(r.index)+len(entries))
	for k, v := range r.index {
		index[k] = v
	}
	for _, e := range entries {
		if i, ok := index[e.name]; ok {
			out[i] = e
			continue
		}
		index[e.name] = len(out)
		out = append(out, e)
	}
	return Row{entries: out, index: index}
}

// Remove drops the named entries. Unknown names are ignored.
func (r Row) Remove(names ...string) Row {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !slices.Contains(names, e.name) {
			out = append(out, e)
		}
	}
	return Must(out...)
}

// Keep retains the named entries in the order they are given. Unknown
// names are ignored.
func (r Row) Keep(names ...string) Row {
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		if e, ok := r.Find(name); ok && !slices.ContainsFunc(out, func(x Entry) bool { return x.name == name }) {
			out = append(out, e)
		}
	}
	return Must(out...)
}

// Rename renames an entry. The source must exist and the target must not.
func (r Row) Rename(from, to string) (Row, error) {
	if _, err := r.Get(from); err != nil {
		return Row{}, err
	}
	if from == to {
		return r, nil
	}
	if r.Has(to) {
		return Row{}, duplicateEntry(to)
	}
	out := r.Entries()
	out[r.index[from]] = out[r.index[from]].Rename(to)
	return New(out...)
}

// Map replaces every entry with fn(entry).
func (r Row) Map(fn func(Entry) Entry) (Row, error) {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = fn(e)
	}
	return New(out...)
}

// Merge appends the entries of other, each renamed to prefix+name.
func (r Row) Merge(other Row, prefix string) (Row, error) {
	out := r.Entries()
	for _, e := range other.entries {
		out = append(out, e.Rename(prefix+e.name))
	}
	return New(out...)
}

// SortEntries returns a row with entries ordered by name.
func (r Row) SortEntries() Row {
	out := r.Entries()
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.name, b.name) })
	return Must(out...)
}

// Schema describes the row's entries.
func (r Row) Schema() schema.Schema {
	defs := make([]schema.Definition, len(r.entries))
	for i, e := range r.entries {
		defs[i] = schema.NewDefinition(e.name, e.typ)
	}
	return schema.Must(defs...)
}

// Equal reports whether both rows hold equal entries, regardless of order.
func (r Row) Equal(o Row) bool {
	return r.EqualWith(o, StrictObjects)
}

// EqualWith is Equal with a custom object comparator.
func (r Row) EqualWith(o Row, cmp ObjectComparator) bool {
	if len(r.entries) != len(o.entries) {
		return false
	}
	for _, e := range r.entries {
		other, ok := o.Find(e.name)
		if !ok || !e.EqualWith(other, cmp) {
			return false
		}
	}
	return true
}

// ToMap returns entry values keyed by name. Composite values are returned
// in their canonical representation.
func (r Row) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(r.entries))
	for _, e := range r.entries {
		out[e.name] = e.val
	}
	return out
}

// ToNative is ToMap with datetimes and uuids rendered as strings, suitable
// for JSON encoding.
func (r Row) ToNative() map[string]interface{} {
	out := make(map[string]interface{}, len(r.entries))
	for _, e := range r.entries {
		out[e.name] = toNative(e.val)
	}
	return out
}

// Key renders the values of the named entries as a single string. Missing
// entries are rendered as null. Values are tagged with their kind so that
// the string "1" and the integer 1 never produce the same key, while values
// that compare equal (1 and 1.0, one instant in two zones) always do.
func (r Row) Key(names ...string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		e, ok := r.Find(name)
		if !ok || e.val == nil {
			b.WriteString("null")
			continue
		}
		b.WriteString(keyTag(e))
		b.WriteByte(':')
		if e.typ.Kind == types.KindObject {
			// objects only bucket by class, comparators decide equality
			b.WriteString(e.typ.Class)
			continue
		}
		switch v := e.val.(type) {
		case time.Time:
			b.WriteString(formatValue(v.UTC()))
			continue
		case int64, float64:
			if d, ok := toDecimal(v, true); ok {
				b.WriteString(d.String())
				continue
			}
		}
		b.WriteString(e.String())
	}
	return b.String()
}

// keyTag groups numeric kinds together so 1 and 1.0 share a key.
func keyTag(e Entry) string {
	if e.typ.IsNumeric() {
		return "number"
	}
	return e.typ.Kind.String()
}
