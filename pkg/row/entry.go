package row

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/types"
)

// DateTimeFormat is used whenever a datetime is rendered as text.
const DateTimeFormat = "2006-01-02T15:04:05.000000-07:00"

// Entry is a named, typed, immutable value.
type Entry struct {
	name string
	typ  types.Type
	val  interface{}
}

// NewEntry creates an entry of the given type. The value must already use
// the representation of that type (int64 for integers, []any for lists...);
// narrower Go integer and float widths are widened. Use Cast to convert
// between types.
func NewEntry(name string, typ types.Type, value interface{}) (Entry, error) {
	if name == "" {
		return Entry{}, errors.New(errors.ErrorTypeInvalidArgument, "entry name cannot be empty")
	}
	v, err := normalize(typ, value)
	if err != nil {
		return Entry{}, errors.Wrap(err, errors.ErrorTypeInvalidArgument,
			fmt.Sprintf("invalid value for entry %q of type %s", name, typ)).
			WithDetail("entry", name)
	}
	return Entry{name: name, typ: typ, val: v}, nil
}

// MustEntry is like NewEntry but panics on error.
func MustEntry(name string, typ types.Type, value interface{}) Entry {
	e, err := NewEntry(name, typ, value)
	if err != nil {
		panic(err)
	}
	return e
}

// Int creates an integer entry.
func Int(name string, v int64) Entry { return Entry{name: name, typ: types.Integer(), val: v} }

// Float creates a float entry.
func Float(name string, v float64) Entry { return Entry{name: name, typ: types.Float(), val: v} }

// Bool creates a boolean entry.
func Bool(name string, v bool) Entry { return Entry{name: name, typ: types.Boolean(), val: v} }

// Str creates a string entry.
func Str(name, v string) Entry { return Entry{name: name, typ: types.String(), val: v} }

// DateTime creates a datetime entry.
func DateTime(name string, v time.Time) Entry {
	return Entry{name: name, typ: types.DateTime(), val: v}
}

// UUID creates a uuid entry.
func UUID(name string, v uuid.UUID) Entry { return Entry{name: name, typ: types.UUID(), val: v} }

// Null creates an untyped null entry.
func Null(name string) Entry { return Entry{name: name, typ: types.Null()} }

// NullOf creates a null entry that keeps the nullable form of typ.
func NullOf(name string, typ types.Type) Entry {
	return Entry{name: name, typ: typ.MakeNullable()}
}

// JSON creates a json entry from an encoded document.
func JSON(name, document string) (Entry, error) {
	return NewEntry(name, types.JSON(), document)
}

// Object wraps an opaque Go value compared only for equality.
func Object(name string, v interface{}) (Entry, error) {
	if v == nil {
		return Entry{}, errors.Newf(errors.ErrorTypeInvalidArgument, "object entry %q cannot wrap nil", name)
	}
	return NewEntry(name, types.Object(reflect.TypeOf(v).String()), v)
}

// List creates a list entry of element.
func List(name string, element types.Type, values []interface{}) (Entry, error) {
	return NewEntry(name, types.List(element), values)
}

// Name returns the entry name.
func (e Entry) Name() string { return e.name }

// Type returns the declared type.
func (e Entry) Type() types.Type { return e.typ }

// Value returns the raw value in its canonical representation.
func (e Entry) Value() interface{} { return e.val }

// IsNull reports whether the entry holds no value.
func (e Entry) IsNull() bool { return e.val == nil }

// Rename returns a copy of e under a new name.
func (e Entry) Rename(name string) Entry {
	e.name = name
	return e
}

// WithValue returns a copy of e holding a new value of the same type.
func (e Entry) WithValue(value interface{}) (Entry, error) {
	return NewEntry(e.name, e.typ, value)
}

// String renders the value for display and hashing. Datetimes always carry
// microseconds and the zone offset.
func (e Entry) String() string {
	return formatValue(e.val)
}

// Equal compares name and value. Objects use the strict comparator.
func (e Entry) Equal(o Entry) bool {
	return e.EqualWith(o, StrictObjects)
}

// EqualWith compares name and value using cmp for object values.
func (e Entry) EqualWith(o Entry, cmp ObjectComparator) bool {
	return e.name == o.name && e.ValueEqual(o, cmp)
}

// ValueEqual compares values only. Numbers compare by decimal value.
func (e Entry) ValueEqual(o Entry, cmp ObjectComparator) bool {
	if e.val == nil || o.val == nil {
		return e.val == nil && o.val == nil
	}
	if e.typ.Kind == types.KindObject || o.typ.Kind == types.KindObject {
		return e.typ.Kind == o.typ.Kind && cmp(e.val, o.val)
	}
	if e.typ.IsNumeric() != o.typ.IsNumeric() || (!e.typ.IsNumeric() && e.typ.Kind != o.typ.Kind) {
		return false
	}
	return valuesEqual(e.val, o.val, cmp)
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	case time.Time:
		return t.Format(DateTimeFormat)
	case uuid.UUID:
		return t.String()
	case []interface{}, map[string]interface{}, map[int64]interface{}:
		data, err := jsonMarshal(toNative(t))
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
