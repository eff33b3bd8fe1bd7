package row

import (
	"fmt"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/schema"
	"github.com/rowflow/rowflow/pkg/types"
)

// SchemaValidationError reports a batch that does not match the expected
// schema. It unwraps to a schema_validation *errors.Error.
type SchemaValidationError struct {
	Expected schema.Schema
	Given    schema.Schema
	Rows     Rows
	cause    *errors.Error
}

func (e *SchemaValidationError) Error() string {
	return e.cause.Error()
}

func (e *SchemaValidationError) Unwrap() error {
	return e.cause
}

func newSchemaValidationError(expected, given schema.Schema, rs Rows, reason string) *SchemaValidationError {
	return &SchemaValidationError{
		Expected: expected,
		Given:    given,
		Rows:     rs,
		cause: errors.Newf(errors.ErrorTypeSchemaValidation,
			"%s, expected %s, given %s", reason, expected, given).
			WithDetail("rows", rs.Len()),
	}
}

// Validate checks a batch against expected with matcher, then checks every
// definition constraint against the row values.
func Validate(rs Rows, expected schema.Schema, matcher schema.Matcher) error {
	given, err := rs.Schema()
	if err != nil {
		return &SchemaValidationError{
			Expected: expected,
			Given:    schema.Must(),
			Rows:     rs,
			cause: errors.Wrap(err, errors.ErrorTypeSchemaValidation, "rows have inconsistent entry types").
				WithDetail("rows", rs.Len()),
		}
	}
	given = resolveNulls(given, expected)

	if !matcher.Match(expected, given) {
		return newSchemaValidationError(expected, given, rs, "rows do not match schema")
	}

	for _, def := range expected.Definitions() {
		if def.Constraint == nil {
			continue
		}
		for i, r := range rs.rows {
			e, ok := r.Find(def.Name)
			if !ok || e.IsNull() {
				continue
			}
			if !def.Constraint.IsSatisfiedBy(e.val) {
				return newSchemaValidationError(expected, given, rs,
					fmt.Sprintf("row %d entry %q violates %s", i, def.Name, def.Constraint))
			}
		}
	}
	return nil
}

// resolveNulls types entries that were null in every row after the nullable
// definition expected for them.
func resolveNulls(given, expected schema.Schema) schema.Schema {
	for _, d := range given.Definitions() {
		if d.Type.Kind != types.KindNull {
			continue
		}
		e, ok := expected.Find(d.Name)
		if !ok || !e.IsNullable() {
			continue
		}
		if replaced, err := given.Replace(schema.NewDefinition(d.Name, e.Type)); err == nil {
			given = replaced
		}
	}
	return given
}
