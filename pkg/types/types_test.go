package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{Integer(), "integer"},
		{Integer().MakeNullable(), "?integer"},
		{Null(), "null"},
		{List(String().MakeNullable()), "list<?string>"},
		{Map(String(), Float()), "map<string, float>"},
		{Structure(Field{"id", Integer()}, Field{"name", String().MakeNullable()}), "structure{id: integer, name: ?string}"},
		{Enum("A", "B"), "enum<A|B>"},
		{Object("time.Duration"), "object<time.Duration>"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeEqual(t *testing.T) {
	assert.True(t, List(Integer()).Equal(List(Integer())))
	assert.False(t, List(Integer()).Equal(List(Integer().MakeNullable())))
	assert.False(t, Integer().Equal(Integer().MakeNullable()))
	assert.True(t, Integer().MakeNullable().MakeRequired().Equal(Integer()))
	assert.False(t, Structure(Field{"a", Integer()}).Equal(Structure(Field{"b", Integer()})))
	assert.False(t, Enum("A").Equal(Enum("A", "B")))
	assert.True(t, Null().MakeRequired().Nullable)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("xml_node")
	assert.True(t, ok)
	assert.Equal(t, KindXMLNode, k)

	_, ok = ParseKind("decimal")
	assert.False(t, ok)
}
