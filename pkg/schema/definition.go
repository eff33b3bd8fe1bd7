package schema

import (
	"maps"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/types"
)

// Definition declares the type and constraints of a single entry.
type Definition struct {
	Name       string
	Type       types.Type
	Constraint Constraint
	Metadata   map[string]interface{}
}

// DefinitionOption customizes a definition built with NewDefinition.
type DefinitionOption func(*Definition)

// WithConstraint attaches a value constraint.
func WithConstraint(c Constraint) DefinitionOption {
	return func(d *Definition) { d.Constraint = c }
}

// WithMetadata attaches a metadata key.
func WithMetadata(key string, value interface{}) DefinitionOption {
	return func(d *Definition) {
		if d.Metadata == nil {
			d.Metadata = make(map[string]interface{})
		}
		d.Metadata[key] = value
	}
}

// NewDefinition creates a definition. A nil constraint defaults to Void.
func NewDefinition(name string, typ types.Type, opts ...DefinitionOption) Definition {
	d := Definition{Name: name, Type: typ, Constraint: Void()}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Integer defines an integer entry.
func Integer(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.Integer(), nullable))
}

// Float defines a float entry.
func Float(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.Float(), nullable))
}

// Boolean defines a boolean entry.
func Boolean(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.Boolean(), nullable))
}

// String defines a string entry.
func String(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.String(), nullable))
}

// DateTime defines a datetime entry.
func DateTime(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.DateTime(), nullable))
}

// UUID defines a uuid entry.
func UUID(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.UUID(), nullable))
}

// JSON defines a json entry.
func JSON(name string, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.JSON(), nullable))
}

// List defines a list entry of element values.
func List(name string, element types.Type, nullable bool) Definition {
	return NewDefinition(name, nullableIf(types.List(element), nullable))
}

func nullableIf(t types.Type, nullable bool) types.Type {
	if nullable {
		return t.MakeNullable()
	}
	return t
}

// IsNullable reports whether the definition accepts null entries.
func (d Definition) IsNullable() bool {
	return d.Type.Nullable
}

// Nullable returns a copy of d accepting null.
func (d Definition) Nullable() Definition {
	d.Type = d.Type.MakeNullable()
	return d
}

// Rename returns a copy of d under a new name.
func (d Definition) Rename(name string) Definition {
	d.Name = name
	return d
}

// Equal compares name and type. Constraints and metadata are not compared.
func (d Definition) Equal(o Definition) bool {
	return d.Name == o.Name && d.Type.Equal(o.Type)
}

// Merge combines two definitions of the same entry observed in different rows.
// Integer and float merge into float; any other type difference is an error.
func (d Definition) Merge(o Definition) (Definition, error) {
	if d.Name != o.Name {
		return Definition{}, errors.Newf(errors.ErrorTypeInvalidLogic,
			"cannot merge definitions of %q and %q", d.Name, o.Name)
	}

	merged := Definition{
		Name:       d.Name,
		Type:       d.Type,
		Constraint: mergeConstraints(d.Constraint, o.Constraint),
		Metadata:   mergeMetadata(d.Metadata, o.Metadata),
	}
	nullable := d.Type.Nullable || o.Type.Nullable

	switch {
	case d.Type.Kind == types.KindNull:
		merged.Type = o.Type
	case o.Type.Kind == types.KindNull:
	case d.Type.MakeNullable().Equal(o.Type.MakeNullable()):
	case d.Type.IsNumeric() && o.Type.IsNumeric():
		merged.Type = types.Float()
	default:
		return Definition{}, errors.Newf(errors.ErrorTypeRuntime,
			"cannot merge %s with %s for entry %q", d.Type, o.Type, d.Name)
	}
	if nullable {
		merged.Type = merged.Type.MakeNullable()
	}
	return merged, nil
}

func mergeConstraints(a, b Constraint) Constraint {
	_, aVoid := a.(voidConstraint)
	_, bVoid := b.(voidConstraint)
	switch {
	case a == nil || aVoid:
		if b == nil {
			return Void()
		}
		return b
	case b == nil || bVoid:
		return a
	default:
		return Any(a, b)
	}
}

func mergeMetadata(a, b map[string]interface{}) map[string]interface{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}

// String renders the definition as "name: type".
func (d Definition) String() string {
	return d.Name + ": " + d.Type.String()
}
