package groupby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/row"
	"github.com/rowflow/rowflow/pkg/types"
)

func orders() row.Rows {
	return row.NewRows(
		row.Must(row.Str("country", "PL"), row.Int("amount", 10), row.Str("sku", "a")),
		row.Must(row.Str("country", "US"), row.Float("amount", 2.5), row.Str("sku", "b")),
		row.Must(row.Str("country", "PL"), row.Int("amount", 5), row.Str("sku", "a")),
		row.Must(row.Str("country", "US"), row.Int("amount", 1), row.Str("sku", "c")),
	)
}

func result(t *testing.T, g *GroupBy, batches ...row.Rows) []map[string]interface{} {
	t.Helper()
	for _, b := range batches {
		require.NoError(t, g.Group(b))
	}
	out, err := g.Result()
	require.NoError(t, err)
	return out.ToMaps()
}

func TestSumCoercesNumericStringsAndSkipsNulls(t *testing.T) {
	g := New("id")
	require.NoError(t, g.Aggregate(Sum("v")))

	rows := row.NewRows(
		row.Must(row.Int("id", 1), row.Str("v", "10")),
		row.Must(row.Int("id", 1), row.Str("v", "20")),
		row.Must(row.Int("id", 1), row.Null("v")),
		row.Must(row.Int("id", 1), row.Int("v", 30)),
	)
	got := result(t, g, rows)
	require.Len(t, got, 1)
	assert.Equal(t, int64(60), got[0]["v_sum"])
}

func TestGroupsKeepFirstSeenOrder(t *testing.T) {
	g := New("country")
	require.NoError(t, g.Aggregate(Sum("amount"), Count("sku"), CollectUnique("sku").As("skus")))

	got := result(t, g, orders())
	require.Len(t, got, 2)

	assert.Equal(t, "PL", got[0]["country"])
	assert.Equal(t, int64(15), got[0]["amount_sum"])
	assert.Equal(t, int64(2), got[0]["sku_count"])
	assert.Equal(t, []interface{}{"a"}, got[0]["skus"])

	assert.Equal(t, "US", got[1]["country"])
	assert.Equal(t, 3.5, got[1]["amount_sum"])
	assert.Equal(t, []interface{}{"b", "c"}, got[1]["skus"])
}

func TestGroupsSpanBatches(t *testing.T) {
	all := orders()
	g := New("country").With(WithHashAlgorithm(hash.Murmur3{}), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, g.Aggregate(Sum("amount")))

	got := result(t, g, all.Take(1), all.Drop(1).Take(2), all.Drop(3))
	require.Len(t, got, 2)
	assert.Equal(t, int64(15), got[0]["amount_sum"])
	assert.Equal(t, 3.5, got[1]["amount_sum"])
}

type constantHash struct{}

func (constantHash) Name() string          { return "constant" }
func (constantHash) Hash(_ []byte) string { return "0" }

func TestCollidingHashesKeepGroupsApart(t *testing.T) {
	g := New("country").With(WithHashAlgorithm(constantHash{}))
	require.NoError(t, g.Aggregate(Sum("amount")))

	got := result(t, g, orders())
	require.Len(t, got, 2)
	assert.Equal(t, "PL", got[0]["country"])
	assert.Equal(t, int64(15), got[0]["amount_sum"])
	assert.Equal(t, "US", got[1]["country"])
	assert.Equal(t, 3.5, got[1]["amount_sum"])
}

func TestAggregations(t *testing.T) {
	rows := row.NewRows(
		row.Must(row.Int("v", 4)),
		row.Must(row.Null("v")),
		row.Must(row.Int("v", 1)),
		row.Must(row.Int("v", 4)),
		row.Must(row.Int("v", 3)),
	)

	tests := []struct {
		agg  Aggregation
		want interface{}
	}{
		{Sum("v"), int64(12)},
		{Avg("v"), 3.0},
		{Min("v"), int64(1)},
		{Max("v"), int64(4)},
		{Count("v"), int64(4)},
		{First("v"), int64(4)},
		{Last("v"), int64(3)},
		{Collect("v"), []interface{}{int64(4), int64(1), int64(4), int64(3)}},
		{CollectUnique("v"), []interface{}{int64(4), int64(1), int64(3)}},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg.Kind), func(t *testing.T) {
			g := New()
			require.NoError(t, g.Aggregate(tt.agg))
			got := result(t, g, rows)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0][tt.agg.Name()])
		})
	}
}

func TestAverageIsFloat(t *testing.T) {
	g := New()
	require.NoError(t, g.Aggregate(Avg("v")))
	got := result(t, g, row.NewRows(row.Must(row.Int("v", 1)), row.Must(row.Int("v", 2))))
	assert.Equal(t, 1.5, got[0]["v_avg"])
}

func TestMinMaxOverNonNumericEntries(t *testing.T) {
	g := New()
	require.NoError(t, g.Aggregate(Min("name"), Max("name")))
	got := result(t, g, row.NewRows(
		row.Must(row.Str("name", "mike")),
		row.Must(row.Str("name", "anna")),
		row.Must(row.Str("name", "zoe")),
	))
	assert.Equal(t, "anna", got[0]["name_min"])
	assert.Equal(t, "zoe", got[0]["name_max"])
}

func TestCollectOfMixedTypesIsArray(t *testing.T) {
	g := New()
	require.NoError(t, g.Aggregate(Collect("v")))
	require.NoError(t, g.Group(row.NewRows(row.Must(row.Int("v", 1)), row.Must(row.Str("v", "x")))))

	out, err := g.Result()
	require.NoError(t, err)
	e, err := out.At(0).Get("v_collect")
	require.NoError(t, err)
	assert.Equal(t, types.KindArray, e.Type().Kind)
}

func TestMissingKeysGroupAsNull(t *testing.T) {
	g := New("k")
	require.NoError(t, g.Aggregate(Count("v")))
	got := result(t, g, row.NewRows(
		row.Must(row.Int("v", 1)),
		row.Must(row.Null("k"), row.Int("v", 2)),
		row.Must(row.Int("k", 1), row.Int("v", 3)),
	))
	require.Len(t, got, 2)
	assert.Nil(t, got[0]["k"])
	assert.Equal(t, int64(2), got[0]["v_count"])
}

func TestNumericKeysGroupAcrossTypes(t *testing.T) {
	g := New("k")
	require.NoError(t, g.Aggregate(Count("k")))
	got := result(t, g, row.NewRows(
		row.Must(row.Int("k", 1)),
		row.Must(row.Float("k", 1.0)),
		row.Must(row.Str("k", "1")),
	))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0]["k_count"])
}

func TestNonScalarKeysAreRejected(t *testing.T) {
	list, err := row.List("k", types.Integer(), []interface{}{int64(1)})
	require.NoError(t, err)

	g := New("k")
	require.NoError(t, g.Aggregate(Count("k")))
	err = g.Group(row.NewRows(row.Must(list)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRuntime))
}

func TestAggregateValidation(t *testing.T) {
	g := New("id")
	err := g.Aggregate()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	err = g.Aggregate(Sum("v"), Sum("v"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	err = g.Aggregate(First("v").As("id"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestKeysOnlyProducesDistinctKeys(t *testing.T) {
	got := result(t, New("country"), orders())
	assert.Equal(t, []map[string]interface{}{{"country": "PL"}, {"country": "US"}}, got)
}

func TestParse(t *testing.T) {
	a, err := Parse("SUM", "amount")
	require.NoError(t, err)
	assert.Equal(t, KindSum, a.Kind)
	assert.Equal(t, "total", a.As("total").Name())

	a, err = Parse("collect_unique", "sku")
	require.NoError(t, err)
	assert.Equal(t, "sku_collect_unique", a.Name())

	_, err = Parse("median", "amount")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = Parse("sum", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}
