package serializer

import (
	"encoding/gob"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowflow/rowflow/pkg/compression"
	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/partition"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/types"
)

type money struct {
	Amount   int64
	Currency string
}

func init() {
	gob.Register(money{})
}

func everyVariant(t *testing.T) row.Row {
	t.Helper()
	warsaw := time.FixedZone("CET", 3600)
	entry := func(e row.Entry, err error) row.Entry {
		require.NoError(t, err)
		return e
	}
	structure := types.Structure(
		types.Field{Name: "id", Type: types.Integer()},
		types.Field{Name: "tags", Type: types.List(types.String())},
		types.Field{Name: "note", Type: types.String().MakeNullable()},
	)

	return row.Must(
		row.Int("int", -42),
		row.Float("float", 3.14159),
		row.Bool("bool", true),
		row.Str("string", "zażółć"),
		row.DateTime("datetime", time.Date(2024, 2, 29, 23, 59, 59, 123456789, warsaw)),
		row.DateTime("utc", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		row.Null("null"),
		row.NullOf("typed_null", types.Integer()),
		row.UUID("uuid", uuid.MustParse("9f1c8f9a-6f43-4b2e-9a34-0b2a52f0e2a1")),
		entry(row.JSON("json", `{"a":[1,2]}`)),
		entry(row.NewEntry("array", types.Array(), map[string]interface{}{"a": []interface{}{int64(1), "x", nil}, "b": 1.5})),
		entry(row.List("list", types.List(types.Integer()), []interface{}{[]interface{}{1, 2}, []interface{}{}})),
		entry(row.NewEntry("map", types.Map(types.Integer(), types.String().MakeNullable()), map[int64]interface{}{1: "a", 2: nil})),
		entry(row.NewEntry("structure", structure, map[string]interface{}{"id": 1, "tags": []interface{}{"x"}})),
		entry(row.NewEntry("enum", types.Enum("NEW", "DONE"), "DONE")),
		entry(row.NewEntry("xml", types.XML(), "<a><b>1</b></a>")),
		entry(row.NewEntry("xml_node", types.XMLNode(), "<b>1</b>")),
		entry(row.Object("object", money{Amount: 100, Currency: "PLN"})),
	)
}

func assertRowsIdentical(t *testing.T, want, got row.Row) {
	t.Helper()
	require.Equal(t, want.Names(), got.Names())
	for _, w := range want.Entries() {
		g, err := got.Get(w.Name())
		require.NoError(t, err)
		assert.True(t, w.Type().Equal(g.Type()), "type of %s: %s != %s", w.Name(), w.Type(), g.Type())
		assert.True(t, w.Equal(g), "value of %s", w.Name())
		assert.Equal(t, w.String(), g.String())
	}
}

func TestBinaryRoundTripsEveryVariant(t *testing.T) {
	original := everyVariant(t)
	s := NewBinary()

	data, err := s.SerializeRow(original)
	require.NoError(t, err)

	decoded, err := s.DeserializeRow(data)
	require.NoError(t, err)
	assertRowsIdentical(t, original, decoded)
}

func TestBinaryRoundTripsBatchWithPartitions(t *testing.T) {
	rows := row.NewRows(everyVariant(t), everyVariant(t)).
		WithPartitions(partition.Partition{Name: "year", Value: "2024"})

	for _, alg := range compression.Algorithms {
		t.Run(string(alg), func(t *testing.T) {
			c, err := compression.NewCompressor(&compression.Config{Algorithm: alg})
			require.NoError(t, err)
			s, err := NewCompressing(NewBinary(), c)
			require.NoError(t, err)

			data, err := s.Serialize(rows)
			require.NoError(t, err)
			decoded, err := s.Deserialize(data)
			require.NoError(t, err)

			require.Equal(t, rows.Len(), decoded.Len())
			assert.True(t, rows.Partitions().Equal(decoded.Partitions()))
			for i := range rows.Len() {
				assertRowsIdentical(t, rows.At(i), decoded.At(i))
			}
		})
	}
}

func TestBinaryRejectsForeignPayloads(t *testing.T) {
	s := NewBinary()

	_, err := s.Deserialize([]byte("nope"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRuntime))

	data, err := s.SerializeRow(row.Must(row.Int("id", 1)))
	require.NoError(t, err)

	_, err = s.Deserialize(data)
	require.Error(t, err, "row payload is not a batch")

	future := append([]byte{}, data...)
	future[2] = Version + 1
	_, err = s.DeserializeRow(future)
	require.Error(t, err)

	_, err = s.DeserializeRow(data[:len(data)-1])
	require.Error(t, err)
}

func TestBinaryEmptyBatch(t *testing.T) {
	s := NewBinary()
	data, err := s.Serialize(row.NewRows())
	require.NoError(t, err)
	decoded, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Zero(t, decoded.Len())
}
