package row

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowflow/rowflow/pkg/errors"
	"github.com/rowflow/rowflow/pkg/hash"
	"github.com/rowflow/rowflow/pkg/partition"
)

func sequence(n int) Rows {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Must(Int("id", int64(i)), Str("name", fmt.Sprintf("row-%d", i)))
	}
	return NewRows(rows...)
}

func TestChunksAreLosslessAndOrdered(t *testing.T) {
	for _, total := range []int{0, 1, 7, 10, 33} {
		rs := sequence(total)
		for _, size := range []int{1, 2, 3, 10, 50} {
			t.Run(fmt.Sprintf("%d rows by %d", total, size), func(t *testing.T) {
				chunks, err := rs.Chunks(size)
				require.NoError(t, err)

				merged := NewRows()
				for _, c := range chunks {
					assert.LessOrEqual(t, c.Len(), size)
					assert.NotZero(t, c.Len())
					merged = merged.Merge(c)
				}
				assert.True(t, rs.Equal(merged))
			})
		}
	}
}

func TestChunksRejectsNonPositiveSize(t *testing.T) {
	_, err := sequence(3).Chunks(0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestChunksKeepPartitions(t *testing.T) {
	p := partition.Partitions{{Name: "year", Value: "2024"}}
	chunks, err := sequence(4).WithPartitions(p...).Chunks(2)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.True(t, p.Equal(c.Partitions()))
	}
}

func TestRowsSortIsStable(t *testing.T) {
	rs := NewRows(
		Must(Int("g", 2), Str("v", "a")),
		Must(Int("g", 1), Str("v", "b")),
		Must(Null("g"), Str("v", "c")),
		Must(Int("g", 2), Str("v", "d")),
		Must(Int("g", 1), Str("v", "e")),
	)

	values := func(rs Rows) []interface{} {
		out := []interface{}{}
		for _, r := range rs.All() {
			v, _ := r.ValueOf("v")
			out = append(out, v)
		}
		return out
	}

	assert.Equal(t, []interface{}{"c", "b", "e", "a", "d"}, values(rs.SortBy(Asc("g"))))
	assert.Equal(t, []interface{}{"a", "d", "b", "e", "c"}, values(rs.SortBy(Desc("g"))))
	assert.Equal(t, []interface{}{"c", "e", "b", "d", "a"}, values(rs.SortBy(Asc("g"), Desc("v"))))
}

func TestRowsSlicing(t *testing.T) {
	rs := sequence(5)
	assert.Equal(t, 2, rs.Take(2).Len())
	assert.Equal(t, 5, rs.Take(10).Len())
	assert.Equal(t, 3, rs.Drop(2).Len())
	assert.Equal(t, 0, rs.Drop(10).Len())

	first, err := rs.Reverse().First()
	require.NoError(t, err)
	assert.True(t, first.Equal(rs.At(4)))

	_, err = NewRows().First()
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRowsFilterMapFlatMap(t *testing.T) {
	rs := sequence(4)
	even := rs.Filter(func(r Row) bool {
		v, _ := r.ValueOf("id")
		return v.(int64)%2 == 0
	})
	assert.Equal(t, 2, even.Len())

	mapped, err := rs.Map(func(r Row) (Row, error) { return r.Remove("name"), nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, mapped.At(0).Names())

	doubled, err := rs.FlatMap(func(r Row) ([]Row, error) { return []Row{r, r}, nil })
	require.NoError(t, err)
	assert.Equal(t, 8, doubled.Len())
}

func TestRowsUniqueAndDiff(t *testing.T) {
	a := Must(Int("id", 1))
	b := Must(Int("id", 2))
	c := Must(Int("id", 3))

	unique := NewRows(a, b, a, Must(Float("id", 1)), c).Unique(StrictObjects)
	assert.True(t, NewRows(a, b, c).Equal(unique))

	left := NewRows(a, b)
	right := NewRows(b, c)
	assert.True(t, NewRows(a).Equal(left.DiffLeft(right)))
	assert.True(t, NewRows(c).Equal(left.DiffRight(right)))
}

func TestRowsSchemaMergesRows(t *testing.T) {
	rs := NewRows(
		Must(Int("id", 1), Str("name", "a")),
		Must(Float("id", 2.5)),
	)
	s, err := rs.Schema()
	require.NoError(t, err)

	id, err := s.Get("id")
	require.NoError(t, err)
	assert.Equal(t, "float", id.Type.String())

	name, err := s.Get("name")
	require.NoError(t, err)
	assert.True(t, name.IsNullable())
}

func TestRowsPartitionBy(t *testing.T) {
	rs := NewRows(
		Must(Str("country", "PL"), Int("id", 1)),
		Must(Str("country", "US"), Int("id", 2)),
		Must(Str("country", "PL"), Int("id", 3)),
	)

	parts, err := rs.PartitionBy("country")
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "country=PL", parts[0].Partitions().ID())
	assert.Equal(t, 2, parts[0].Len())
	assert.Equal(t, "country=US", parts[1].Partitions().ID())
	assert.Equal(t, 1, parts[1].Len())

	_, err = rs.PartitionBy("missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRowsHash(t *testing.T) {
	a := NewRows(Must(Int("id", 1), Str("n", "x")))
	b := NewRows(Must(Str("n", "x"), Int("id", 1)))
	c := NewRows(Must(Int("id", 2), Str("n", "x")))

	alg := hash.Default()
	assert.Equal(t, a.Hash(alg), b.Hash(alg))
	assert.NotEqual(t, a.Hash(alg), c.Hash(alg))
}

func TestParseSortKey(t *testing.T) {
	for in, want := range map[string]SortKey{
		"total":       Asc("total"),
		"total asc":   Asc("total"),
		" total DESC": Desc("total"),
	} {
		got, err := ParseSortKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want.String(), got.String())
	}

	for _, in := range []string{"", "total up", "a b c"} {
		_, err := ParseSortKey(in)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), in)
	}
}
