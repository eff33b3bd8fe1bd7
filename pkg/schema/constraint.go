package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Constraint restricts the values a definition accepts beyond its type.
type Constraint interface {
	IsSatisfiedBy(value interface{}) bool
	String() string
}

type voidConstraint struct{}

// Void accepts every value.
func Void() Constraint { return voidConstraint{} }

func (voidConstraint) IsSatisfiedBy(interface{}) bool { return true }
func (voidConstraint) String() string                 { return "void" }

type sameAs struct{ value interface{} }

// SameAs accepts only values deeply equal to value.
func SameAs(value interface{}) Constraint { return sameAs{value: value} }

func (c sameAs) IsSatisfiedBy(v interface{}) bool { return reflect.DeepEqual(c.value, v) }
func (c sameAs) String() string                   { return fmt.Sprintf("same_as(%v)", c.value) }

type oneOf struct{ values []interface{} }

// OneOf accepts values deeply equal to one of values.
func OneOf(values ...interface{}) Constraint { return oneOf{values: values} }

func (c oneOf) IsSatisfiedBy(v interface{}) bool {
	for _, candidate := range c.values {
		if reflect.DeepEqual(candidate, v) {
			return true
		}
	}
	return false
}

func (c oneOf) String() string { return fmt.Sprintf("one_of(%v)", c.values) }

type all struct{ constraints []Constraint }

// All is satisfied when every constraint is satisfied.
func All(constraints ...Constraint) Constraint { return all{constraints: constraints} }

func (c all) IsSatisfiedBy(v interface{}) bool {
	for _, constraint := range c.constraints {
		if !constraint.IsSatisfiedBy(v) {
			return false
		}
	}
	return true
}

func (c all) String() string { return join("all", c.constraints) }

type anyOf struct{ constraints []Constraint }

// Any is satisfied when at least one constraint is satisfied.
func Any(constraints ...Constraint) Constraint { return anyOf{constraints: constraints} }

func (c anyOf) IsSatisfiedBy(v interface{}) bool {
	for _, constraint := range c.constraints {
		if constraint.IsSatisfiedBy(v) {
			return true
		}
	}
	return false
}

func (c anyOf) String() string { return join("any", c.constraints) }

func join(name string, constraints []Constraint) string {
	parts := make([]string, len(constraints))
	for i, c := range constraints {
		parts[i] = c.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
