package serializer

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/pool"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/types"
)

// Version is the binary format version written by Binary.
const Version byte = 1

var magic = [2]byte{'R', 'F'}

const (
	payloadRow  byte = 'r'
	payloadRows byte = 's'
)

// tags of untyped values nested in array entries
const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagBool
	tagString
	tagTime
	tagUUID
	tagList
	tagStringMap
	tagIntMap
)

// Binary is the default serializer.
type Binary struct{}

// NewBinary returns the binary serializer.
func NewBinary() Binary { return Binary{} }

func (Binary) Serialize(rows row.Rows) ([]byte, error) {
	enc := newEncoder(payloadRows)
	ps := rows.Partitions()
	enc.uvarint(uint64(len(ps)))
	for _, p := range ps {
		enc.string(p.Name)
		enc.string(p.Value)
	}
	enc.uvarint(uint64(rows.Len()))
	for _, r := range rows.All() {
		if err := enc.row(r); err != nil {
			return nil, err
		}
	}
	return enc.buf, nil
}

func (Binary) Deserialize(data []byte) (row.Rows, error) {
	dec, err := newDecoder(data, payloadRows)
	if err != nil {
		return row.Rows{}, err
	}
	n := dec.uvarint()
	ps := make(partition.Partitions, 0, n)
	for i := uint64(0); i < n && dec.err == nil; i++ {
		ps = append(ps, partition.Partition{Name: dec.string(), Value: dec.string()})
	}
	count := dec.uvarint()
	rows := make([]row.Row, 0, min(count, uint64(len(data))))
	for i := uint64(0); i < count && dec.err == nil; i++ {
		r, err := dec.row()
		if err != nil {
			return row.Rows{}, err
		}
		rows = append(rows, r)
	}
	if dec.err != nil {
		return row.Rows{}, dec.err
	}
	out := row.NewRows(rows...)
	if len(ps) > 0 {
		out = out.WithPartitions(ps...)
	}
	return out, nil
}

func (Binary) SerializeRow(r row.Row) ([]byte, error) {
	enc := newEncoder(payloadRow)
	if err := enc.row(r); err != nil {
		return nil, err
	}
	return enc.buf, nil
}

func (Binary) DeserializeRow(data []byte) (row.Row, error) {
	dec, err := newDecoder(data, payloadRow)
	if err != nil {
		return row.Row{}, err
	}
	r, err := dec.row()
	if err != nil {
		return row.Row{}, err
	}
	return r, dec.err
}

type encoder struct {
	buf []byte
}

func newEncoder(payload byte) *encoder {
	e := &encoder{buf: make([]byte, 0, 256)}
	e.buf = append(e.buf, magic[0], magic[1], Version, payload)
	return e
}

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) uvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }

func (e *encoder) varint(v int64) { e.buf = binary.AppendVarint(e.buf, v) }

func (e *encoder) float(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) bool(b bool) { e.byte(boolByte(b)) }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (e *encoder) row(r row.Row) error {
	entries := r.Entries()
	e.uvarint(uint64(len(entries)))
	for _, entry := range entries {
		e.string(entry.Name())
		e.typ(entry.Type())
		if err := e.value(entry.Type(), entry.Value()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to serialize entry").
				WithDetail("entry", entry.Name())
		}
	}
	return nil
}

func (e *encoder) typ(t types.Type) {
	e.byte(byte(t.Kind))
	e.bool(t.Nullable)
	switch t.Kind {
	case types.KindList:
		e.bool(t.Element != nil)
		if t.Element != nil {
			e.typ(*t.Element)
		}
	case types.KindMap:
		e.bool(t.Key != nil && t.Value != nil)
		if t.Key != nil && t.Value != nil {
			e.typ(*t.Key)
			e.typ(*t.Value)
		}
	case types.KindStructure:
		e.uvarint(uint64(len(t.Fields)))
		for _, f := range t.Fields {
			e.string(f.Name)
			e.typ(f.Type)
		}
	case types.KindEnum:
		e.uvarint(uint64(len(t.Cases)))
		for _, c := range t.Cases {
			e.string(c)
		}
	case types.KindObject:
		e.string(t.Class)
	}
}

func (e *encoder) value(t types.Type, v interface{}) error {
	e.bool(v != nil)
	if v == nil {
		return nil
	}
	switch t.Kind {
	case types.KindInteger:
		e.varint(v.(int64))
	case types.KindFloat:
		e.float(v.(float64))
	case types.KindBoolean:
		e.bool(v.(bool))
	case types.KindString, types.KindJSON, types.KindXML, types.KindXMLNode, types.KindEnum:
		e.string(v.(string))
	case types.KindDateTime:
		e.time(v.(time.Time))
	case types.KindUUID:
		u := v.(uuid.UUID)
		e.buf = append(e.buf, u[:]...)
	case types.KindArray:
		return e.dynamic(v)
	case types.KindList:
		list := v.([]interface{})
		e.uvarint(uint64(len(list)))
		for _, el := range list {
			if err := e.value(*t.Element, el); err != nil {
				return err
			}
		}
	case types.KindMap:
		return e.mapValue(t, v)
	case types.KindStructure:
		m := v.(map[string]interface{})
		for _, f := range t.Fields {
			if err := e.value(f.Type, m[f.Name]); err != nil {
				return err
			}
		}
	case types.KindObject:
		buf := pool.GetBuffer()
		defer pool.PutBuffer(buf)
		if err := gob.NewEncoder(buf).Encode(&v); err != nil {
			return fmt.Errorf("object of %T is not gob encodable: %w", v, err)
		}
		e.bytes(buf.Bytes())
	default:
		return fmt.Errorf("unsupported kind %s", t.Kind)
	}
	return nil
}

func (e *encoder) mapValue(t types.Type, v interface{}) error {
	switch m := v.(type) {
	case map[string]interface{}:
		keys := sortedKeys(m)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			e.string(k)
			if err := e.value(*t.Value, m[k]); err != nil {
				return err
			}
		}
	case map[int64]interface{}:
		keys := sortedKeys(m)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			e.varint(k)
			if err := e.value(*t.Value, m[k]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unexpected map representation %T", v)
	}
	return nil
}

// time stores seconds, nanoseconds, the zone offset and the zone name.
func (e *encoder) time(t time.Time) {
	name, offset := t.Zone()
	e.varint(t.Unix())
	e.uvarint(uint64(t.Nanosecond()))
	e.varint(int64(offset))
	e.string(name)
}

func (e *encoder) dynamic(v interface{}) error {
	switch t := v.(type) {
	case nil:
		e.byte(tagNull)
	case int64:
		e.byte(tagInt)
		e.varint(t)
	case float64:
		e.byte(tagFloat)
		e.float(t)
	case bool:
		e.byte(tagBool)
		e.bool(t)
	case string:
		e.byte(tagString)
		e.string(t)
	case time.Time:
		e.byte(tagTime)
		e.time(t)
	case uuid.UUID:
		e.byte(tagUUID)
		e.buf = append(e.buf, t[:]...)
	case []interface{}:
		e.byte(tagList)
		e.uvarint(uint64(len(t)))
		for _, el := range t {
			if err := e.dynamic(el); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		e.byte(tagStringMap)
		keys := sortedKeys(t)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			e.string(k)
			if err := e.dynamic(t[k]); err != nil {
				return err
			}
		}
	case map[int64]interface{}:
		e.byte(tagIntMap)
		keys := sortedKeys(t)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			e.varint(k)
			if err := e.dynamic(t[k]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported nested value %T", v)
	}
	return nil
}

func sortedKeys[K string | int64](m map[K]interface{}) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// decoder records the first error and returns zero values afterwards, so
// callers check dec.err once per structure.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func newDecoder(data []byte, payload byte) (*decoder, error) {
	if len(data) < 4 || data[0] != magic[0] || data[1] != magic[1] {
		return nil, errors.New(errors.ErrorTypeRuntime, "payload is not a serialized rowflow batch")
	}
	if data[2] != Version {
		return nil, errors.Newf(errors.ErrorTypeRuntime, "unsupported serialization version %d", data[2]).
			WithDetail("version", data[2])
	}
	if data[3] != payload {
		return nil, errors.Newf(errors.ErrorTypeRuntime, "unexpected payload %q, expected %q", data[3], payload)
	}
	return &decoder{data: data, pos: 4}, nil
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = errors.Newf(errors.ErrorTypeRuntime, "corrupted payload at offset %d: "+format,
			append([]interface{}{d.pos}, args...)...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.data) {
		d.fail("need %d bytes", n)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool() bool { return d.byte() == 1 }

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		d.fail("invalid uvarint")
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		d.fail("invalid varint")
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) length() int {
	n := d.uvarint()
	if n > uint64(len(d.data)-d.pos) {
		d.fail("length %d exceeds payload", n)
		return 0
	}
	return int(n)
}

func (d *decoder) float() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (d *decoder) string() string { return string(d.take(d.length())) }

func (d *decoder) bytes() []byte { return d.take(d.length()) }

func (d *decoder) uuid() uuid.UUID {
	var u uuid.UUID
	copy(u[:], d.take(16))
	return u
}

func (d *decoder) time() time.Time {
	sec := d.varint()
	nsec := d.uvarint()
	offset := int(d.varint())
	name := d.string()
	t := time.Unix(sec, int64(nsec))
	if name == "UTC" && offset == 0 {
		return t.UTC()
	}
	return t.In(time.FixedZone(name, offset))
}

func (d *decoder) row() (row.Row, error) {
	n := d.length()
	entries := make([]row.Entry, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		name := d.string()
		t := d.typ(0)
		v := d.value(t)
		if d.err != nil {
			break
		}
		if t.Kind == types.KindNull {
			entries = append(entries, row.Null(name))
			continue
		}
		entry, err := row.NewEntry(name, t, v)
		if err != nil {
			return row.Row{}, errors.Wrap(err, errors.ErrorTypeRuntime, "failed to deserialize entry")
		}
		entries = append(entries, entry)
	}
	if d.err != nil {
		return row.Row{}, d.err
	}
	return row.New(entries...)
}

const maxTypeDepth = 64

func (d *decoder) typ(depth int) types.Type {
	if depth > maxTypeDepth {
		d.fail("type nesting too deep")
		return types.Type{}
	}
	t := types.Type{Kind: types.Kind(d.byte()), Nullable: d.bool()}
	switch t.Kind {
	case types.KindList:
		if d.bool() {
			el := d.typ(depth + 1)
			t.Element = &el
		}
	case types.KindMap:
		if d.bool() {
			k, v := d.typ(depth+1), d.typ(depth+1)
			t.Key, t.Value = &k, &v
		}
	case types.KindStructure:
		n := d.length()
		for i := 0; i < n && d.err == nil; i++ {
			t.Fields = append(t.Fields, types.Field{Name: d.string(), Type: d.typ(depth + 1)})
		}
	case types.KindEnum:
		n := d.length()
		for i := 0; i < n && d.err == nil; i++ {
			t.Cases = append(t.Cases, d.string())
		}
	case types.KindObject:
		t.Class = d.string()
	}
	return t
}

func (d *decoder) value(t types.Type) interface{} {
	if !d.bool() || d.err != nil {
		return nil
	}
	switch t.Kind {
	case types.KindInteger:
		return d.varint()
	case types.KindFloat:
		return d.float()
	case types.KindBoolean:
		return d.bool()
	case types.KindString, types.KindJSON, types.KindXML, types.KindXMLNode, types.KindEnum:
		return d.string()
	case types.KindDateTime:
		return d.time()
	case types.KindUUID:
		return d.uuid()
	case types.KindArray:
		return d.dynamic(0)
	case types.KindList:
		if t.Element == nil {
			d.fail("list without element type")
			return nil
		}
		n := d.length()
		list := make([]interface{}, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			list = append(list, d.value(*t.Element))
		}
		return list
	case types.KindMap:
		return d.mapValue(t)
	case types.KindStructure:
		m := make(map[string]interface{}, len(t.Fields))
		for _, f := range t.Fields {
			m[f.Name] = d.value(f.Type)
		}
		return m
	case types.KindObject:
		var v interface{}
		if err := gob.NewDecoder(bytes.NewReader(d.bytes())).Decode(&v); err != nil && d.err == nil {
			d.err = errors.Wrap(err, errors.ErrorTypeRuntime, "failed to decode object, register its type with gob.Register").
				WithDetail("class", t.Class)
		}
		return v
	}
	d.fail("unsupported kind %d", t.Kind)
	return nil
}

func (d *decoder) mapValue(t types.Type) interface{} {
	if t.Key == nil || t.Value == nil {
		d.fail("map without key or value type")
		return nil
	}
	n := d.length()
	if t.Key.Kind == types.KindInteger {
		m := make(map[int64]interface{}, n)
		for i := 0; i < n && d.err == nil; i++ {
			k := d.varint()
			m[k] = d.value(*t.Value)
		}
		return m
	}
	m := make(map[string]interface{}, n)
	for i := 0; i < n && d.err == nil; i++ {
		k := d.string()
		m[k] = d.value(*t.Value)
	}
	return m
}

func (d *decoder) dynamic(depth int) interface{} {
	if depth > maxTypeDepth {
		d.fail("value nesting too deep")
		return nil
	}
	switch tag := d.byte(); tag {
	case tagNull:
		return nil
	case tagInt:
		return d.varint()
	case tagFloat:
		return d.float()
	case tagBool:
		return d.bool()
	case tagString:
		return d.string()
	case tagTime:
		return d.time()
	case tagUUID:
		return d.uuid()
	case tagList:
		n := d.length()
		list := make([]interface{}, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			list = append(list, d.dynamic(depth+1))
		}
		return list
	case tagStringMap:
		n := d.length()
		m := make(map[string]interface{}, n)
		for i := 0; i < n && d.err == nil; i++ {
			k := d.string()
			m[k] = d.dynamic(depth + 1)
		}
		return m
	case tagIntMap:
		n := d.length()
		m := make(map[int64]interface{}, n)
		for i := 0; i < n && d.err == nil; i++ {
			k := d.varint()
			m[k] = d.dynamic(depth + 1)
		}
		return m
	default:
		d.fail("unknown value tag %d", tag)
		return nil
	}
}
