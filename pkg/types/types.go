// Package types describes the closed set of entry types rowflow understands.
//
// A Type is a plain value: scalar kinds carry no extra data while composite
// kinds (list, map, structure, enum, object) describe their element, key,
// field or case layout. Nullability is part of the type so that schema
// definitions and entries share one description.
package types

import (
	"slices"
	"strings"
)

// Kind enumerates entry variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindString
	KindDateTime
	KindUUID
	KindJSON
	KindArray
	KindList
	KindMap
	KindStructure
	KindObject
	KindEnum
	KindXML
	KindXMLNode
)

var kindNames = [...]string{
	KindNull:      "null",
	KindInteger:   "integer",
	KindFloat:     "float",
	KindBoolean:   "boolean",
	KindString:    "string",
	KindDateTime:  "datetime",
	KindUUID:      "uuid",
	KindJSON:      "json",
	KindArray:     "array",
	KindList:      "list",
	KindMap:       "map",
	KindStructure: "structure",
	KindObject:    "object",
	KindEnum:      "enum",
	KindXML:       "xml",
	KindXMLNode:   "xml_node",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind resolves a kind from its name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// Field is a named member of a structure type.
type Field struct {
	Name string
	Type Type
}

// Type is the declared type of an entry or schema definition.
type Type struct {
	Kind     Kind
	Nullable bool

	// Element is the element type of a list.
	Element *Type
	// Key and Value describe a map.
	Key   *Type
	Value *Type
	// Fields describe a structure in declaration order.
	Fields []Field
	// Cases are the allowed enum values.
	Cases []string
	// Class names the Go type wrapped by an object entry.
	Class string
}

// Null returns the type of an untyped null. It is always nullable.
func Null() Type { return Type{Kind: KindNull, Nullable: true} }

// Integer returns the integer type.
func Integer() Type { return Type{Kind: KindInteger} }

// Float returns the float type.
func Float() Type { return Type{Kind: KindFloat} }

// Boolean returns the boolean type.
func Boolean() Type { return Type{Kind: KindBoolean} }

// String returns the string type.
func String() Type { return Type{Kind: KindString} }

// DateTime returns the datetime type.
func DateTime() Type { return Type{Kind: KindDateTime} }

// UUID returns the uuid type.
func UUID() Type { return Type{Kind: KindUUID} }

// JSON returns the json type.
func JSON() Type { return Type{Kind: KindJSON} }

// Array returns the type of an untyped array.
func Array() Type { return Type{Kind: KindArray} }

// XML returns the xml document type.
func XML() Type { return Type{Kind: KindXML} }

// XMLNode returns the xml node type.
func XMLNode() Type { return Type{Kind: KindXMLNode} }

// List returns a homogeneous list of element.
func List(element Type) Type {
	return Type{Kind: KindList, Element: &element}
}

// Map returns a map type. Keys must be string or integer.
func Map(key, value Type) Type {
	return Type{Kind: KindMap, Key: &key, Value: &value}
}

// Structure returns a structure with the given fields.
func Structure(fields ...Field) Type {
	return Type{Kind: KindStructure, Fields: fields}
}

// Object returns an opaque object type for the named class.
func Object(class string) Type {
	return Type{Kind: KindObject, Class: class}
}

// Enum returns an enum type over cases.
func Enum(cases ...string) Type {
	return Type{Kind: KindEnum, Cases: cases}
}

// MakeNullable returns a copy of t accepting null.
func (t Type) MakeNullable() Type {
	t.Nullable = true
	return t
}

// MakeRequired returns a copy of t rejecting null. Null types stay nullable.
func (t Type) MakeRequired() Type {
	if t.Kind != KindNull {
		t.Nullable = false
	}
	return t
}

// IsNumeric reports whether t holds integers or floats.
func (t Type) IsNumeric() bool {
	return t.Kind == KindInteger || t.Kind == KindFloat
}

// IsScalar reports whether values of t have no nested structure.
func (t Type) IsScalar() bool {
	switch t.Kind {
	case KindInteger, KindFloat, KindBoolean, KindString, KindDateTime, KindUUID, KindEnum, KindNull:
		return true
	}
	return false
}

// Field returns the structure field with the given name.
func (t Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasCase reports whether c is a member of an enum type.
func (t Type) HasCase(c string) bool {
	return slices.Contains(t.Cases, c)
}

// Equal compares two types including nullability of every nested type.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Nullable != o.Nullable || t.Class != o.Class {
		return false
	}
	if !equalPtr(t.Element, o.Element) || !equalPtr(t.Key, o.Key) || !equalPtr(t.Value, o.Value) {
		return false
	}
	if !slices.Equal(t.Cases, o.Cases) {
		return false
	}
	return slices.EqualFunc(t.Fields, o.Fields, func(a, b Field) bool {
		return a.Name == b.Name && a.Type.Equal(b.Type)
	})
}

func equalPtr(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// String renders t the way schemas are printed, for example
// "?list<integer>" or "structure{id: integer, name: ?string}".
func (t Type) String() string {
	var b strings.Builder
	if t.Nullable && t.Kind != KindNull {
		b.WriteByte('?')
	}
	b.WriteString(t.Kind.String())

	switch t.Kind {
	case KindList:
		if t.Element != nil {
			b.WriteString("<" + t.Element.String() + ">")
		}
	case KindMap:
		if t.Key != nil && t.Value != nil {
			b.WriteString("<" + t.Key.String() + ", " + t.Value.String() + ">")
		}
	case KindStructure:
		b.WriteByte('{')
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name + ": " + f.Type.String())
		}
		b.WriteByte('}')
	case KindEnum:
		b.WriteString("<" + strings.Join(t.Cases, "|") + ">")
	case KindObject:
		if t.Class != "" {
			b.WriteString("<" + t.Class + ">")
		}
	}
	return b.String()
}
