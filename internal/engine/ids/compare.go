package ids

// Ordering mirrors a three-way comparison result.
type Ordering int

const (
	Less Ordering = -1
	Equal Ordering = 0
	Greater Ordering = 1
	// Incomparable is returned when neither join nor total ordering applies
	// across mismatched tags (e.g. an IRI versus a literal). Filters see
	// this as Undef; joins never call Compare for matching, only
	// JoinEquals (below in this file), which has its own
	// UNDEF-matches-anything rule.
	Incomparable Ordering = 2
)

// Compare implements the "internal" total order used for sorting and for
// binary-search filter evaluation: first by tag, then by payload for
// same-tagged values, except that Int and Double are compared numerically
// against each other so that mixed-numeric columns still sort by value.
// This is distinct from SPARQL's semantic ORDER BY order (IRIs, then
// blanks, then literals), which the OrderBy operator in ops/sort.go
// implements separately; it compares strings byte-wise, with no
// locale-aware collation.
func Compare(a, b Id) Ordering {
	if a == b {
		return Equal
	}
	if a.IsNumeric() && b.IsNumeric() {
		return compareFloat(a.AsDouble(), b.AsDouble())
	}
	if a.Tag() != b.Tag() {
		if a.Tag() < b.Tag() {
			return Less
		}
		return Greater
	}
	switch a.Tag() {
	case Int, Date:
		return compareInt64(a.ToInt(), b.ToInt())
	case Double:
		return compareFloat(a.ToDouble(), b.ToDouble())
	case Bool:
		return compareInt64(boolToInt(a.ToBool()), boolToInt(b.ToBool()))
	default:
		return compareUint64(a.Payload(), b.Payload())
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func compareInt64(a, b int64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func compareUint64(a, b uint64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func compareFloat(a, b float64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	case a == b:
		return Equal
	default:
		// NaN on either side: neither less, greater nor equal.
		// Correctness for NaN comparisons beyond three-valued semantics
		// is explicitly out of scope; treat as Incomparable.
		return Incomparable
	}
}

// Bool3 is the SPARQL three-valued logic result of a boolean expression.
type Bool3 uint8

const (
	B3False Bool3 = iota
	B3True
	B3Undef
)

// EqualForFilter implements filter (=) semantics: Undefined is unequal to
// everything, including another Undefined, and mismatched non-numeric tags
// yield Undef (incomparable), not False.
func EqualForFilter(a, b Id) Bool3 {
	if a.IsUndefined() || b.IsUndefined() {
		return B3False
	}
	ord := Compare(a, b)
	if ord == Incomparable {
		return B3Undef
	}
	if !a.IsNumeric() && !b.IsNumeric() && a.Tag() != b.Tag() {
		return B3Undef
	}
	return boolTo3(ord == Equal)
}

// RelationalForFilter implements <, <=, >, >= filter semantics. less and
// orEqual select which relation is being tested.
func RelationalForFilter(a, b Id, less, orEqual bool) Bool3 {
	if a.IsUndefined() || b.IsUndefined() {
		return B3False
	}
	if !a.IsNumeric() && !b.IsNumeric() && a.Tag() != b.Tag() {
		return B3Undef
	}
	ord := Compare(a, b)
	if ord == Incomparable {
		return B3Undef
	}
	if orEqual && ord == Equal {
		return B3True
	}
	if less {
		return boolTo3(ord == Less)
	}
	return boolTo3(ord == Greater)
}

func boolTo3(b bool) Bool3 {
	if b {
		return B3True
	}
	return B3False
}

// And implements three-valued logical AND (SPARQL effective boolean value
// conjunction): False is absorbing, otherwise Undef propagates.
func And(a, b Bool3) Bool3 {
	if a == B3False || b == B3False {
		return B3False
	}
	if a == B3Undef || b == B3Undef {
		return B3Undef
	}
	return B3True
}

// Or implements three-valued logical OR: True is absorbing, otherwise
// Undef propagates.
func Or(a, b Bool3) Bool3 {
	if a == B3True || b == B3True {
		return B3True
	}
	if a == B3Undef || b == B3Undef {
		return B3Undef
	}
	return B3False
}

// Not implements three-valued logical NOT.
func Not(a Bool3) Bool3 {
	switch a {
	case B3True:
		return B3False
	case B3False:
		return B3True
	default:
		return B3Undef
	}
}

// PassesFilter reports whether a Bool3 keeps a row in a FILTER: both False
// and Undef drop the row, per §4.3.
func PassesFilter(b Bool3) bool { return b == B3True }

// JoinEquals implements equality for join-column matching, where UNDEF
// matches anything (including another UNDEF) — the opposite rule from
// filter equality. Used by the sort-merge zipper and nested-loop joins.
func JoinEquals(a, b Id) bool {
	if a.IsUndefined() || b.IsUndefined() {
		return true
	}
	return Compare(a, b) == Equal
}

// MinusEquals implements the equality rule for MINUS matching (§4.2.5):
// standard equality where UNDEF matches only UNDEF. Note this differs from
// JoinEquals: MINUS never lets a concrete value match UNDEF.
func MinusEquals(a, b Id) bool {
	if a.IsUndefined() != b.IsUndefined() {
		return false
	}
	if a.IsUndefined() {
		return true
	}
	return Compare(a, b) == Equal
}
