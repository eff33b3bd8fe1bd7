package schema

// Matcher decides whether right is acceptable where left is expected.
type Matcher interface {
	Match(left, right Schema) bool
}

// StrictMatcher accepts only schemas with the same definitions, types and
// nullability. Definition order is not significant.
type StrictMatcher struct{}

func (StrictMatcher) Match(left, right Schema) bool {
	if left.Count() != right.Count() {
		return false
	}
	for _, l := range left.definitions {
		r, ok := right.Find(l.Name)
		if !ok || !l.Type.Equal(r.Type) {
			return false
		}
	}
	return true
}

// EvolvingMatcher accepts a right schema that evolves left by adding
// definitions. It is not commutative: right may grow but never shrink,
// change a base type or tighten nullability. When both schemas have the
// same number of definitions no change at all is accepted, including
// relaxing nullability.
type EvolvingMatcher struct{}

func (EvolvingMatcher) Match(left, right Schema) bool {
	if right.Count() < left.Count() {
		return false
	}
	additive := right.Count() > left.Count()

	for _, l := range left.definitions {
		r, ok := right.Find(l.Name)
		if !ok {
			return false
		}
		if !l.Type.MakeNullable().Equal(r.Type.MakeNullable()) {
			return false
		}
		if l.IsNullable() && !r.IsNullable() {
			return false
		}
		if !additive && l.IsNullable() != r.IsNullable() {
			return false
		}
	}
	return true
}
