package row

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	rfjson "github.com/rowflow/rowflow/pkg/json"
	"github.com/rowflow/rowflow/pkg/types"
)

// FloatPrecision is the number of decimal places compared by float equality.
const FloatPrecision = 6

// ObjectComparator compares the payloads of two object entries.
type ObjectComparator func(a, b interface{}) bool

// StrictObjects compares objects by identity: pointers must be the same
// pointer and other comparable values must be ==.
func StrictObjects(a, b interface{}) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// WeakObjects compares objects structurally.
func WeakObjects(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

func normalize(typ types.Type, v interface{}) (interface{}, error) {
	if v == nil {
		if typ.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("%s does not accept null", typ)
	}

	switch typ.Kind {
	case types.KindNull:
		return nil, fmt.Errorf("null type only accepts nil, got %T", v)
	case types.KindInteger:
		if i, ok := asInt64(v); ok {
			return i, nil
		}
	case types.KindFloat:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
	case types.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case types.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case types.KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case types.KindUUID:
		if u, ok := v.(uuid.UUID); ok {
			return u, nil
		}
	case types.KindJSON:
		if s, ok := v.(string); ok {
			if !rfjson.Valid([]byte(s)) {
				return nil, fmt.Errorf("invalid json document")
			}
			return s, nil
		}
	case types.KindXML, types.KindXMLNode:
		if s, ok := v.(string); ok {
			if err := checkXML(s, typ.Kind == types.KindXML); err != nil {
				return nil, err
			}
			return s, nil
		}
	case types.KindEnum:
		if s, ok := v.(string); ok {
			if !typ.HasCase(s) {
				return nil, fmt.Errorf("%q is not a case of %s", s, typ)
			}
			return s, nil
		}
	case types.KindObject:
		if typ.Class != "" && reflect.TypeOf(v).String() != typ.Class {
			return nil, fmt.Errorf("expected object of %s, got %T", typ.Class, v)
		}
		return v, nil
	case types.KindArray:
		if list, ok := asSlice(v); ok {
			return normalizeNative(list), nil
		}
		if m, ok := asStringMap(v); ok {
			return normalizeNative(m), nil
		}
	case types.KindList:
		list, ok := asSlice(v)
		if !ok || typ.Element == nil {
			break
		}
		out := make([]interface{}, len(list))
		for i, el := range list {
			n, err := normalize(*typ.Element, el)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case types.KindMap:
		return normalizeMap(typ, v)
	case types.KindStructure:
		m, ok := asStringMap(v)
		if !ok {
			break
		}
		out := make(map[string]interface{}, len(typ.Fields))
		for _, f := range typ.Fields {
			n, err := normalize(f.Type, m[f.Name])
			if err != nil {
				return nil, fmt.Errorf("structure field %q: %w", f.Name, err)
			}
			out[f.Name] = n
		}
		for k := range m {
			if _, ok := typ.Field(k); !ok {
				return nil, fmt.Errorf("structure has no field %q", k)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected %s value, got %T", typ, v)
}

func normalizeMap(typ types.Type, v interface{}) (interface{}, error) {
	if typ.Key == nil || typ.Value == nil {
		return nil, fmt.Errorf("map type requires key and value types")
	}
	switch typ.Key.Kind {
	case types.KindString:
		m, ok := asStringMap(v)
		if !ok {
			return nil, fmt.Errorf("expected %s value, got %T", typ, v)
		}
		out := make(map[string]interface{}, len(m))
		for k, el := range m {
			n, err := normalize(*typ.Value, el)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case types.KindInteger:
		m, ok := asIntMap(v)
		if !ok {
			return nil, fmt.Errorf("expected %s value, got %T", typ, v)
		}
		out := make(map[int64]interface{}, len(m))
		for k, el := range m {
			n, err := normalize(*typ.Value, el)
			if err != nil {
				return nil, fmt.Errorf("map key %d: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("map keys must be string or integer, got %s", typ.Key)
}

// normalizeNative converts untyped nested values to canonical representations.
func normalizeNative(v interface{}) interface{} {
	if i, ok := asInt64(v); ok {
		return i
	}
	switch t := v.(type) {
	case float32:
		return float64(t)
	case string, bool, float64, time.Time, uuid.UUID, nil:
		return t
	}
	if list, ok := asSlice(v); ok {
		out := make([]interface{}, len(list))
		for i, el := range list {
			out[i] = normalizeNative(el)
		}
		return out
	}
	if m, ok := asStringMap(v); ok {
		out := make(map[string]interface{}, len(m))
		for k, el := range m {
			out[k] = normalizeNative(el)
		}
		return out
	}
	if m, ok := asIntMap(v); ok {
		out := make(map[int64]interface{}, len(m))
		for k, el := range m {
			out[k] = normalizeNative(el)
		}
		return out
	}
	return v
}

func asInt64(v interface{}) (int64, bool) {
	switch i := v.(type) {
	case int64:
		return i, true
	case int:
		return int64(i), true
	case int8:
		return int64(i), true
	case int16:
		return int64(i), true
	case int32:
		return int64(i), true
	case uint8:
		return int64(i), true
	case uint16:
		return int64(i), true
	case uint32:
		return int64(i), true
	case uint:
		if uint64(i) <= math.MaxInt64 {
			return int64(i), true
		}
	case uint64:
		if i <= math.MaxInt64 {
			return int64(i), true
		}
	}
	return 0, false
}

func asSlice(v interface{}) ([]interface{}, bool) {
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is a value, not a list
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asStringMap(v interface{}) (map[string]interface{}, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asIntMap(v interface{}) (map[int64]interface{}, bool) {
	if m, ok := v.(map[int64]interface{}); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[int64]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, ok := asInt64(iter.Key().Interface())
		if !ok {
			return nil, false
		}
		out[k] = iter.Value().Interface()
	}
	return out, true
}

func checkXML(s string, document bool) error {
	dec := xml.NewDecoder(strings.NewReader(s))
	elements := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("invalid xml: %w", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			elements++
		}
	}
	if document && elements == 0 {
		return fmt.Errorf("xml document has no root element")
	}
	return nil
}

func valuesEqual(a, b interface{}, objects ObjectComparator) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		return compareNumbers(a, b, true) == 0
	}
	switch x := a.(type) {
	case string, bool, uuid.UUID:
		return a == b
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []interface{}:
		y, ok := b.([]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i], objects) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		y, ok := b.(map[string]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, exists := y[k]
			if !exists || !valuesEqual(v, w, objects) {
				return false
			}
		}
		return true
	case map[int64]interface{}:
		y, ok := b.(map[int64]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, exists := y[k]
			if !exists || !valuesEqual(v, w, objects) {
				return false
			}
		}
		return true
	}
	return objects(a, b)
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func toDecimal(v interface{}, round bool) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		d := decimal.NewFromFloat(n)
		if round {
			d = d.Round(FloatPrecision)
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

// compareNumbers orders int64 and float64 values by decimal value. When round
// is set floats are rounded to FloatPrecision first, which is what equality uses.
func compareNumbers(a, b interface{}, round bool) int {
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	}
	da, okA := toDecimal(a, round)
	db, okB := toDecimal(b, round)
	if !okA || !okB {
		return cmp.Compare(toFloat(a), toFloat(b))
	}
	return da.Cmp(db)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return math.NaN()
}

func valueRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	case uuid.UUID:
		return 5
	}
	return 6
}

// compareValues is a total order over canonical values: nulls first, then
// booleans, numbers, strings, datetimes, uuids and finally everything else
// by its text form.
func compareValues(a, b interface{}) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int64, float64:
		return compareNumbers(a, b, false)
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	case uuid.UUID:
		y := b.(uuid.UUID)
		return bytes.Compare(x[:], y[:])
	}
	return strings.Compare(formatValue(a), formatValue(b))
}

// toNative converts canonical values to plain Go values suitable for JSON.
func toNative(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.Format(DateTimeFormat)
	case uuid.UUID:
		return t.String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, el := range t {
			out[i] = toNative(el)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, el := range t {
			out[k] = toNative(el)
		}
		return out
	case map[int64]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, el := range t {
			out[strconv.FormatInt(k, 10)] = toNative(el)
		}
		return out
	}
	return v
}

func jsonMarshal(v interface{}) ([]byte, error) {
	return rfjson.Marshal(v)
}
