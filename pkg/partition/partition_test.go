package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowflow/rowflow/pkg/errors"
)

func TestFromPath(t *testing.T) {
	ps := FromPath("/data/orders/year=2024/month=01/country=P%20L/file.csv")

	require.Len(t, ps, 3)
	assert.Equal(t, Partition{Name: "year", Value: "2024"}, ps[0])
	assert.Equal(t, Partition{Name: "country", Value: "P L"}, ps[2])
	assert.Equal(t, "year=2024/month=01/country=P%20L", ps.Path())
	assert.Empty(t, FromPath("/data/orders/file.csv"))
}

func TestNewValidates(t *testing.T) {
	_, err := New("", "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = New("year", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	p, err := New("year", "2024")
	require.NoError(t, err)
	assert.Equal(t, "year=2024", p.String())
}

func TestFilters(t *testing.T) {
	pl := Partitions{{"country", "PL"}, {"year", "2024"}}
	us := Partitions{{"country", "US"}, {"year", "2023"}}
	none := Partitions{}

	tests := []struct {
		name   string
		filter Filter
		want   []bool
	}{
		{"noop", NoopFilter{}, []bool{true, true, true}},
		{"equal", Equal("country", "PL"), []bool{true, false, true}},
		{"in", In("year", "2023", "2022"), []bool{false, true, true}},
		{"all", All(Equal("country", "PL"), Equal("year", "2023")), []bool{false, false, true}},
		{"any", Any(Equal("country", "PL"), Equal("year", "2023")), []bool{true, true, true}},
		{"not", Not(Equal("country", "PL")), []bool{false, true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []bool{tt.filter.Keep(pl), tt.filter.Keep(us), tt.filter.Keep(none)}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	batches := []Partitions{
		{{"country", "PL"}},
		{{"country", "US"}},
		{{"country", "DE"}},
		{{"country", "PL"}, {"year", "2024"}},
	}
	f := In("country", "PL", "DE")

	apply := func(in []Partitions) []Partitions {
		var out []Partitions
		for _, ps := range in {
			if f.Keep(ps) {
				out = append(out, ps)
			}
		}
		return out
	}

	once := apply(batches)
	assert.Equal(t, once, apply(once))
	assert.Len(t, once, 3)
}
