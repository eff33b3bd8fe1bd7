package join

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/row"
)

func buildSide() row.Rows {
	return row.NewRows(
		row.Must(row.Int("id", 1), row.Str("v", "a")),
		row.Must(row.Int("id", 1), row.Str("v", "b")),
		row.Must(row.Int("id", 2), row.Str("v", "c")),
	)
}

func streamSide() row.Rows {
	return row.NewRows(
		row.Must(row.Int("id", 1)),
		row.Must(row.Int("id", 3)),
	)
}

func run(t *testing.T, typ Type, opts ...Option) row.Rows {
	t.Helper()
	j, err := New(On(map[string]string{"id": "id"}), typ, opts...)
	require.NoError(t, err)
	j.Build(buildSide())

	out, err := j.Match(streamSide())
	require.NoError(t, err)
	trailing, err := j.Finish()
	require.NoError(t, err)
	return out.Merge(trailing)
}

func values(t *testing.T, rows row.Rows, name string) []interface{} {
	t.Helper()
	out := []interface{}{}
	for _, r := range rows.All() {
		v, err := r.ValueOf(name)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestInnerJoin(t *testing.T) {
	for _, alg := range []hash.Algorithm{hash.XXHash{}, hash.Murmur3{}} {
		t.Run(alg.Name(), func(t *testing.T) {
			out := run(t, Inner, WithHashAlgorithm(alg))
			require.Equal(t, 2, out.Len())
			assert.Equal(t, []interface{}{"a", "b"}, values(t, out, "joined_v"))
			assert.Equal(t, []interface{}{int64(1), int64(1)}, values(t, out, "id"))
		})
	}
}

func TestLeftJoin(t *testing.T) {
	out := run(t, Left)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []interface{}{int64(1), int64(1), int64(3)}, values(t, out, "id"))
	assert.Equal(t, []interface{}{"a", "b", nil}, values(t, out, "joined_v"))

	last := out.At(2)
	v, err := last.Get("joined_v")
	require.NoError(t, err)
	assert.Equal(t, "?string", v.Type().String())
}

func TestLeftAntiJoin(t *testing.T) {
	out := run(t, LeftAnti)
	require.Equal(t, 1, out.Len())
	assert.True(t, out.At(0).Equal(row.Must(row.Int("id", 2), row.Str("v", "c"))))
}

func TestRightJoin(t *testing.T) {
	out := run(t, Right)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []interface{}{int64(1), int64(1), nil}, values(t, out, "id"))
	assert.Equal(t, []interface{}{"a", "b", "c"}, values(t, out, "joined_v"))
}

func TestJoinMatchesAcrossNumericTypes(t *testing.T) {
	j, err := New(On(map[string]string{"id": "key"}), Inner)
	require.NoError(t, err)
	j.Build(row.NewRows(row.Must(row.Float("key", 1.0), row.Str("v", "x"))))

	out, err := j.Match(row.NewRows(row.Must(row.Int("id", 1))))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestJoinWithCompositeCondition(t *testing.T) {
	expr := OnComparison(All(
		Equal("account", "account"),
		Any(Compare("amount", GreaterEqual, "threshold"), Identical("tier", "tier")),
	)).WithPrefix("limit_")

	j, err := New(expr, Inner)
	require.NoError(t, err)
	j.Build(row.NewRows(
		row.Must(row.Str("account", "A"), row.Int("threshold", 100), row.Str("tier", "gold")),
		row.Must(row.Str("account", "B"), row.Int("threshold", 10), row.Str("tier", "silver")),
	))

	out, err := j.Match(row.NewRows(
		row.Must(row.Str("account", "A"), row.Int("amount", 50), row.Str("tier", "gold")),
		row.Must(row.Str("account", "A"), row.Int("amount", 50), row.Str("tier", "basic")),
		row.Must(row.Str("account", "B"), row.Float("amount", 10.5), row.Str("tier", "basic")),
	))
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []interface{}{"gold", "basic"}, values(t, out, "tier"))
	assert.Equal(t, []interface{}{"A", "B"}, values(t, out, "limit_account"))
}

func TestNonEquiJoinUsesSingleBucket(t *testing.T) {
	j, err := New(OnComparison(Compare("ts", Less, "until")), Inner)
	require.NoError(t, err)
	j.Build(row.NewRows(
		row.Must(row.Int("until", 5)),
		row.Must(row.Int("until", 10)),
	))

	out, err := j.Match(row.NewRows(row.Must(row.Int("ts", 7))))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(10)}, values(t, out, "joined_until"))
}

func TestJoinPrefixCollision(t *testing.T) {
	j, err := New(On(map[string]string{"id": "id"}).WithPrefix(""), Inner)
	require.NoError(t, err)
	j.Build(buildSide())

	_, err = j.Match(streamSide())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestBuildFrom(t *testing.T) {
	j, err := New(On(map[string]string{"id": "id"}), Inner)
	require.NoError(t, err)

	batches := func(yield func(row.Rows, error) bool) {
		_ = yield(buildSide(), nil)
	}
	require.NoError(t, j.BuildFrom(context.Background(), batches))
	assert.Equal(t, 3, j.table.Len())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("left_anti")
	require.NoError(t, err)
	assert.Equal(t, LeftAnti, typ)

	_, err = ParseType("cross")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = New(On(nil), "outer")
	require.Error(t, err)
}
