package row

import (
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rowflow/rowflow/pkg/errors"
	rfjson "github.com/rowflow/rowflow/pkg/json"
	"github.com/rowflow/rowflow/pkg/schema"
	"github.com/rowflow/rowflow/pkg/types"
)

// Factory builds entries from native Go values.
type Factory struct {
	// DetectStrings enables recognising json, uuid and xml documents inside
	// string values. Enabled by NewFactory.
	DetectStrings bool
}

// NewFactory returns a factory with string detection enabled.
func NewFactory() Factory {
	return Factory{DetectStrings: true}
}

// Create infers the entry type from a native value. Accepted shapes are nil,
// Go integers, floats, bool, string, time.Time, uuid.UUID, slices, maps with
// string or integer keys, and structs or pointers wrapped as objects.
// Channels, functions and complex numbers are rejected.
func (f Factory) Create(name string, value interface{}) (Entry, error) {
	typ, err := f.inferType(value)
	if err != nil {
		return Entry{}, errors.Wrap(err, errors.ErrorTypeInvalidArgument,
			"cannot create entry \""+name+"\"").WithDetail("entry", name)
	}
	if s, ok := value.(string); ok && typ.Kind == types.KindUUID {
		value = uuid.MustParse(s)
	}
	return NewEntry(name, typ, value)
}

// CreateWithSchema honours the schema definition for name when present and
// casts the value to it, falling back to inference otherwise.
func (f Factory) CreateWithSchema(name string, value interface{}, s schema.Schema) (Entry, error) {
	def, ok := s.Find(name)
	if !ok {
		return f.Create(name, value)
	}
	if value == nil {
		if !def.IsNullable() {
			return Entry{}, errors.Newf(errors.ErrorTypeInvalidArgument,
				"entry %q is defined as %s and cannot be null", name, def.Type)
		}
		return NullOf(name, def.Type), nil
	}
	v, err := castValue(value, def.Type)
	if err != nil {
		return Entry{}, errors.Wrap(err, errors.ErrorTypeRuntime,
			"cannot create entry \""+name+"\" from schema definition "+def.Type.String()).
			WithDetail("entry", name)
	}
	return NewEntry(name, def.Type, v)
}

// FromMap builds a row from a map, creating entries in sorted key order.
func (f Factory) FromMap(values map[string]interface{}) (Row, error) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	slices.Sort(names)
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e, err := f.Create(name, values[name])
		if err != nil {
			return Row{}, err
		}
		entries = append(entries, e)
	}
	return New(entries...)
}

func (f Factory) inferType(v interface{}) (types.Type, error) {
	if _, ok := asInt64(v); ok {
		return types.Integer(), nil
	}
	switch t := v.(type) {
	case nil:
		return types.Null(), nil
	case float32, float64:
		return types.Float(), nil
	case bool:
		return types.Boolean(), nil
	case time.Time:
		return types.DateTime(), nil
	case uuid.UUID:
		return types.UUID(), nil
	case string:
		if f.DetectStrings {
			return detectString(t), nil
		}
		return types.String(), nil
	}

	// nested strings keep their representation so they are never detected
	f.DetectStrings = false
	if list, ok := asSlice(v); ok {
		return f.inferList(list)
	}
	if m, ok := asStringMap(v); ok {
		return f.inferStringMap(m)
	}
	if m, ok := asIntMap(v); ok {
		values := make([]interface{}, 0, len(m))
		for _, el := range m {
			values = append(values, el)
		}
		if element, ok := f.commonType(values); ok {
			return types.Map(types.Integer(), element), nil
		}
		return types.Type{}, errors.New(errors.ErrorTypeInvalidArgument, "maps with integer keys must hold values of a single type")
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Struct, reflect.Pointer, reflect.Interface:
		return types.Object(reflect.TypeOf(v).String()), nil
	}
	return types.Type{}, errors.Newf(errors.ErrorTypeInvalidArgument, "unsupported value of type %T", v)
}

// inferList returns list<T> for homogeneous slices and array otherwise.
func (f Factory) inferList(list []interface{}) (types.Type, error) {
	if len(list) == 0 {
		return types.Array(), nil
	}
	if element, ok := f.commonType(list); ok {
		return types.List(element), nil
	}
	return types.Array(), nil
}

// inferStringMap returns map<string, T> when values share a type, a
// structure with alphabetically ordered fields when they do not.
func (f Factory) inferStringMap(m map[string]interface{}) (types.Type, error) {
	if len(m) == 0 {
		return types.Array(), nil
	}
	keys := make([]string, 0, len(m))
	values := make([]interface{}, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		values = append(values, m[k])
	}
	if element, ok := f.commonType(values); ok {
		return types.Map(types.String(), element), nil
	}

	fields := make([]types.Field, len(keys))
	for i, k := range keys {
		t, err := f.inferType(m[k])
		if err != nil {
			return types.Type{}, err
		}
		fields[i] = types.Field{Name: k, Type: t}
	}
	return types.Structure(fields...), nil
}

// commonType returns the single type shared by all non-null values, nullable
// when nulls are present. Composite values never share a type here.
func (f Factory) commonType(values []interface{}) (types.Type, bool) {
	var (
		common   *types.Type
		nullable bool
	)
	for _, v := range values {
		if v == nil {
			nullable = true
			continue
		}
		t, err := f.inferType(v)
		if err != nil || !t.IsScalar() {
			return types.Type{}, false
		}
		if common == nil {
			common = &t
			continue
		}
		if !common.Equal(t) {
			return types.Type{}, false
		}
	}
	if common == nil {
		return types.Type{}, false
	}
	if nullable {
		return common.MakeNullable(), true
	}
	return *common, true
}

func detectString(s string) types.Type {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return types.String()
	}
	switch trimmed[0] {
	case '{', '[':
		if rfjson.Valid([]byte(trimmed)) {
			return types.JSON()
		}
	case '<':
		if checkXML(trimmed, true) == nil {
			return types.XML()
		}
	}
	if len(s) == 36 {
		if _, err := uuid.Parse(s); err == nil {
			return types.UUID()
		}
	}
	return types.String()
}
