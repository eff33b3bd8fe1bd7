package join

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rowflow/rowflow/pkg/row"
)

// Comparison decides whether a stream row matches a build row.
type Comparison interface {
	Matches(stream, build row.Row) bool
	String() string
}

// keyed is implemented by comparisons that can only match rows with equal
// key values, which lets the hash table bucket build rows by those keys.
type keyed interface {
	keys() (stream, build []string)
}

type equal struct {
	stream, build string
}

// Equal matches rows whose entries hold equal values. Integers and floats
// compare by value and nulls match each other.
func Equal(stream, build string) Comparison { return equal{stream: stream, build: build} }

func (c equal) Matches(p, b row.Row) bool {
	pe, _ := p.Find(c.stream)
	be, _ := b.Find(c.build)
	return pe.ValueEqual(be, row.StrictObjects)
}

func (c equal) keys() ([]string, []string) { return []string{c.stream}, []string{c.build} }
func (c equal) String() string             { return fmt.Sprintf("%s == %s", c.stream, c.build) }

type identical struct {
	stream, build string
}

// Identical is Equal that also requires both entries to be of the same type.
func Identical(stream, build string) Comparison { return identical{stream: stream, build: build} }

func (c identical) Matches(p, b row.Row) bool {
	pe, _ := p.Find(c.stream)
	be, _ := b.Find(c.build)
	return pe.Type().Equal(be.Type()) && pe.ValueEqual(be, row.StrictObjects)
}

func (c identical) keys() ([]string, []string) { return []string{c.stream}, []string{c.build} }
func (c identical) String() string             { return fmt.Sprintf("%s === %s", c.stream, c.build) }

// Operator is an ordering comparison between two entries.
type Operator string

const (
	Less         Operator = "<"
	LessEqual    Operator = "<="
	Greater      Operator = ">"
	GreaterEqual Operator = ">="
	NotEqual     Operator = "!="
)

type compare struct {
	stream, build string
	op            Operator
}

// Compare matches rows where stream op build holds. Rows missing either
// entry, or holding nulls, never match.
func Compare(stream string, op Operator, build string) Comparison {
	return compare{stream: stream, build: build, op: op}
}

func (c compare) Matches(p, b row.Row) bool {
	pe, ok := p.Find(c.stream)
	if !ok || pe.IsNull() {
		return false
	}
	be, ok := b.Find(c.build)
	if !ok || be.IsNull() {
		return false
	}
	r := row.Compare(pe, be)
	switch c.op {
	case Less:
		return r < 0
	case LessEqual:
		return r <= 0
	case Greater:
		return r > 0
	case GreaterEqual:
		return r >= 0
	case NotEqual:
		return !pe.ValueEqual(be, row.StrictObjects)
	}
	return false
}

func (c compare) String() string { return fmt.Sprintf("%s %s %s", c.stream, c.op, c.build) }

type all []Comparison

// All matches when every comparison matches.
func All(comparisons ...Comparison) Comparison { return all(comparisons) }

func (c all) Matches(p, b row.Row) bool {
	for _, cmp := range c {
		if !cmp.Matches(p, b) {
			return false
		}
	}
	return true
}

// keys of a conjunction are the keys of its equality members.
func (c all) keys() ([]string, []string) {
	var stream, build []string
	for _, cmp := range c {
		if k, ok := cmp.(keyed); ok {
			p, b := k.keys()
			stream = append(stream, p...)
			build = append(build, b...)
		}
	}
	return stream, build
}

func (c all) String() string { return joinComparisons(" AND ", c) }

type anyOf []Comparison

// Any matches when at least one comparison matches.
func Any(comparisons ...Comparison) Comparison { return anyOf(comparisons) }

func (c anyOf) Matches(p, b row.Row) bool {
	for _, cmp := range c {
		if cmp.Matches(p, b) {
			return true
		}
	}
	return false
}

func (c anyOf) String() string { return joinComparisons(" OR ", c) }

func joinComparisons(sep string, comparisons []Comparison) string {
	parts := make([]string, len(comparisons))
	for i, c := range comparisons {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// DefaultPrefix is prepended to build entry names in merged rows.
const DefaultPrefix = "joined_"

// Expression describes how two sides are joined.
type Expression struct {
	Comparison Comparison
	Prefix     string
}

// On creates an expression matching all pairs with equal values, stream
// entry name to build entry name.
func On(pairs map[string]string) Expression {
	streams := make([]string, 0, len(pairs))
	for p := range pairs {
		streams = append(streams, p)
	}
	slices.Sort(streams)
	comparisons := make([]Comparison, len(streams))
	for i, p := range streams {
		comparisons[i] = Equal(p, pairs[p])
	}
	return Expression{Comparison: All(comparisons...), Prefix: DefaultPrefix}
}

// OnComparison creates an expression from an arbitrary comparison.
func OnComparison(c Comparison) Expression {
	return Expression{Comparison: c, Prefix: DefaultPrefix}
}

// WithPrefix replaces the prefix of build entries in merged rows.
func (e Expression) WithPrefix(prefix string) Expression {
	e.Prefix = prefix
	return e
}

// Keys returns the stream and build entries used for hashing. Comparisons
// that are not equality based hash every row into a single bucket.
func (e Expression) Keys() (stream, build []string) {
	if k, ok := e.Comparison.(keyed); ok {
		return k.keys()
	}
	return nil, nil
}
