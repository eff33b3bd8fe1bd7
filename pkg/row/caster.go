package row

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rowflow/rowflow/pkg/errors"
	rfjson "github.com/rowflow/rowflow/pkg/json"
	"github.com/rowflow/rowflow/pkg/types"
)

// dateTimeLayouts are tried in order when casting strings to datetimes.
var dateTimeLayouts = []string{
	DateTimeFormat,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Cast converts an entry to another type. It is the only way an entry
// changes variant.
func Cast(e Entry, to types.Type) (Entry, error) {
	if e.typ.Equal(to) {
		return e, nil
	}
	if e.val == nil {
		if !to.Nullable {
			return Entry{}, errors.Newf(errors.ErrorTypeRuntime,
				"cannot cast null entry %q to %s", e.name, to).WithDetail("entry", e.name)
		}
		return NullOf(e.name, to), nil
	}
	v, err := castValue(e.val, to)
	if err != nil {
		return Entry{}, errors.Wrap(err, errors.ErrorTypeRuntime,
			fmt.Sprintf("cannot cast entry %q from %s to %s", e.name, e.typ, to)).
			WithDetail("entry", e.name)
	}
	return NewEntry(e.name, to, v)
}

func castValue(v interface{}, to types.Type) (interface{}, error) {
	if v == nil {
		if to.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("%s does not accept null", to)
	}
	if n, err := normalize(to, v); err == nil {
		return n, nil
	}

	switch to.Kind {
	case types.KindInteger:
		return castInteger(v)
	case types.KindFloat:
		return castFloat(v)
	case types.KindBoolean:
		return castBoolean(v)
	case types.KindString:
		return formatValue(normalizeNative(v)), nil
	case types.KindDateTime:
		return castDateTime(v)
	case types.KindUUID:
		if s, ok := v.(string); ok {
			return uuid.Parse(strings.TrimSpace(s))
		}
	case types.KindJSON:
		data, err := jsonMarshal(toNative(normalizeNative(v)))
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case types.KindEnum, types.KindXML, types.KindXMLNode:
		return normalize(to, formatValue(v))
	case types.KindArray:
		decoded, err := decodeJSONString(v)
		if err != nil {
			return nil, err
		}
		if m, ok := decoded.(map[int64]interface{}); ok {
			return toNative(m), nil
		}
		return normalize(to, decoded)
	case types.KindList:
		decoded, err := decodeJSONString(v)
		if err != nil {
			return nil, err
		}
		list, ok := asSlice(decoded)
		if !ok || to.Element == nil {
			break
		}
		out := make([]interface{}, len(list))
		for i, el := range list {
			c, err := castValue(el, *to.Element)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case types.KindMap:
		return castMap(v, to)
	case types.KindStructure:
		decoded, err := decodeJSONString(v)
		if err != nil {
			return nil, err
		}
		m, ok := asStringMap(decoded)
		if !ok {
			break
		}
		out := make(map[string]interface{}, len(to.Fields))
		for _, f := range to.Fields {
			c, err := castValue(m[f.Name], f.Type)
			if err != nil {
				return nil, fmt.Errorf("structure field %q: %w", f.Name, err)
			}
			out[f.Name] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported conversion from %T to %s", v, to)
}

func castInteger(v interface{}) (interface{}, error) {
	switch t := normalizeNative(v).(type) {
	case int64:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("cannot cast %v to integer", t)
		}
		return int64(t), nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to integer", t)
		}
		return int64(f), nil
	case time.Time:
		return t.Unix(), nil
	}
	return nil, fmt.Errorf("cannot cast %T to integer", v)
}

func castFloat(v interface{}) (interface{}, error) {
	switch t := normalizeNative(v).(type) {
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return float64(1), nil
		}
		return float64(0), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to float", t)
		}
		return f, nil
	case time.Time:
		return float64(t.UnixMicro()) / 1e6, nil
	}
	return nil, fmt.Errorf("cannot cast %T to float", v)
}

func castBoolean(v interface{}) (interface{}, error) {
	switch t := normalizeNative(v).(type) {
	case int64:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on", "t", "y":
			return true, nil
		case "false", "0", "no", "off", "f", "n", "":
			return false, nil
		}
		return nil, fmt.Errorf("cannot cast %q to boolean", t)
	}
	return nil, fmt.Errorf("cannot cast %T to boolean", v)
}

func castDateTime(v interface{}) (interface{}, error) {
	switch t := normalizeNative(v).(type) {
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateTimeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("unable to parse datetime %q", t)
	}
	return nil, fmt.Errorf("cannot cast %T to datetime", v)
}

func castMap(v interface{}, to types.Type) (interface{}, error) {
	decoded, err := decodeJSONString(v)
	if err != nil {
		return nil, err
	}
	if to.Key == nil || to.Value == nil {
		return nil, fmt.Errorf("map type requires key and value types")
	}

	entries := make(map[string]interface{})
	if m, ok := asStringMap(decoded); ok {
		entries = m
	} else if m, ok := asIntMap(decoded); ok {
		for k, el := range m {
			entries[strconv.FormatInt(k, 10)] = el
		}
	} else if list, ok := asSlice(decoded); ok {
		for i, el := range list {
			entries[strconv.Itoa(i)] = el
		}
	} else {
		return nil, fmt.Errorf("cannot cast %T to %s", v, to)
	}

	switch to.Key.Kind {
	case types.KindString:
		out := make(map[string]interface{}, len(entries))
		for k, el := range entries {
			c, err := castValue(el, *to.Value)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	case types.KindInteger:
		out := make(map[int64]interface{}, len(entries))
		for k, el := range entries {
			key, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("map key %q is not an integer", k)
			}
			c, err := castValue(el, *to.Value)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", k, err)
			}
			out[key] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("map keys must be string or integer, got %s", to.Key)
}

// decodeJSONString decodes v when it is a JSON encoded string and returns
// other values unchanged. JSON numbers become int64 or float64.
func decodeJSONString(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	var decoded interface{}
	if err := rfjson.UnmarshalNumber([]byte(s), &decoded); err != nil {
		return nil, fmt.Errorf("invalid json document: %w", err)
	}
	return FromJSON(decoded), nil
}

// FromJSON converts values decoded with json.UnmarshalNumber into values the
// Factory accepts: JSON numbers become int64 when integral and float64 otherwise.
func FromJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case rfjson.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []interface{}:
		for i, el := range t {
			t[i] = FromJSON(el)
		}
		return t
	case map[string]interface{}:
		for k, el := range t {
			t[k] = FromJSON(el)
		}
		return t
	}
	return v
}
