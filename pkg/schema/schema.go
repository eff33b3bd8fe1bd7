// Package schema declares the expected shape of rows and decides whether
// two shapes are compatible.
//
// A Schema is an ordered set of Definitions, at most one per entry name.
// Schemas are values: every operation returns a new Schema and never
// modifies the receiver.
//
// Compatibility is decided by a Matcher:
//   - StrictMatcher requires identical definitions
//   - EvolvingMatcher accepts additive changes that never narrow types
package schema

import (
	"slices"
	"strings"

	"github.com/rowflow/rowflow/pkg/errors"
)

// Schema is an ordered set of uniquely named definitions.
type Schema struct {
	definitions []Definition
	index       map[string]int
}

// New builds a schema. Duplicate names are rejected.
func New(definitions ...Definition) (Schema, error) {
	s := Schema{
		definitions: make([]Definition, 0, len(definitions)),
		index:       make(map[string]int, len(definitions)),
	}
	for _, d := range definitions {
		if _, exists := s.index[d.Name]; exists {
			return Schema{}, errors.Newf(errors.ErrorTypeInvalidArgument,
				"entry definitions must be unique, %q is defined more than once", d.Name).
				WithDetail("entry", d.Name)
		}
		if d.Constraint == nil {
			d.Constraint = Void()
		}
		s.index[d.Name] = len(s.definitions)
		s.definitions = append(s.definitions, d)
	}
	return s, nil
}

// Must is like New but panics on duplicate names. Intended for static schemas.
func Must(definitions ...Definition) Schema {
	s, err := New(definitions...)
	if err != nil {
		panic(err)
	}
	return s
}

// Definitions returns a copy of the definitions in declaration order.
func (s Schema) Definitions() []Definition {
	return slices.Clone(s.definitions)
}

// Count returns the number of definitions.
func (s Schema) Count() int {
	return len(s.definitions)
}

// Names returns definition names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.definitions))
	for i, d := range s.definitions {
		names[i] = d.Name
	}
	return names
}

// Find returns the definition for name, if any.
func (s Schema) Find(name string) (Definition, bool) {
	i, ok := s.index[name]
	if !ok {
		return Definition{}, false
	}
	return s.definitions[i], true
}

// Get returns the definition for name or a not-found error.
func (s Schema) Get(name string) (Definition, error) {
	d, ok := s.Find(name)
	if !ok {
		return Definition{}, errors.Newf(errors.ErrorTypeNotFound,
			"there is no definition for %q in schema %s", name, s).
			WithDetail("entry", name)
	}
	return d, nil
}

// Has reports whether a definition exists for name.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Merge combines two schemas. Definitions present on only one side become
// nullable since rows from the other side do not carry them.
func (s Schema) Merge(other Schema) (Schema, error) {
	if s.Count() == 0 {
		return other, nil
	}
	if other.Count() == 0 {
		return s, nil
	}

	merged := make([]Definition, 0, len(s.definitions)+len(other.definitions))
	for _, d := range s.definitions {
		o, ok := other.Find(d.Name)
		if !ok {
			merged = append(merged, d.Nullable())
			continue
		}
		m, err := d.Merge(o)
		if err != nil {
			return Schema{}, err
		}
		merged = append(merged, m)
	}
	for _, o := range other.definitions {
		if !s.Has(o.Name) {
			merged = append(merged, o.Nullable())
		}
	}
	return New(merged...)
}

// Nullable returns a schema where every definition accepts null.
func (s Schema) Nullable() Schema {
	return s.mapDefinitions(Definition.Nullable)
}

// Remove drops definitions by name. Unknown names are ignored.
func (s Schema) Remove(names ...string) Schema {
	out := make([]Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		if !slices.Contains(names, d.Name) {
			out = append(out, d)
		}
	}
	return Must(out...)
}

// Keep retains only the named definitions, in schema order.
func (s Schema) Keep(names ...string) Schema {
	out := make([]Definition, 0, len(names))
	for _, d := range s.definitions {
		if slices.Contains(names, d.Name) {
			out = append(out, d)
		}
	}
	return Must(out...)
}

// Rename renames a definition. The target name must not exist.
func (s Schema) Rename(from, to string) (Schema, error) {
	if _, err := s.Get(from); err != nil {
		return Schema{}, err
	}
	if from == to {
		return s, nil
	}
	out := make([]Definition, len(s.definitions))
	for i, d := range s.definitions {
		if d.Name == from {
			d = d.Rename(to)
		}
		out[i] = d
	}
	return New(out...)
}

// Replace swaps the definition stored under d.Name.
func (s Schema) Replace(d Definition) (Schema, error) {
	if _, err := s.Get(d.Name); err != nil {
		return Schema{}, err
	}
	return s.mapDefinitions(func(existing Definition) Definition {
		if existing.Name == d.Name {
			return d
		}
		return existing
	}), nil
}

// Equal reports whether both schemas hold equal definitions in the same order.
func (s Schema) Equal(o Schema) bool {
	return slices.EqualFunc(s.definitions, o.definitions, Definition.Equal)
}

func (s Schema) mapDefinitions(fn func(Definition) Definition) Schema {
	out := make([]Definition, len(s.definitions))
	for i, d := range s.definitions {
		out[i] = fn(d)
	}
	return Must(out...)
}

// String renders the schema as "schema{id: integer, name: ?string}".
func (s Schema) String() string {
	parts := make([]string, len(s.definitions))
	for i, d := range s.definitions {
		parts[i] = d.String()
	}
	return "schema{" + strings.Join(parts, ", ") + "}"
}
