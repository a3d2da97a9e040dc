package ids

import "testing"

func TestIntRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 12345, -12345, (1 << 59) - 1, -(1 << 59)} {
		if !FitsInt(v) {
			t.Fatalf("expected %d to fit", v)
		}
		id := FromInt(v)
		if id.Tag() != Int {
			t.Fatalf("expected tag Int, got %v", id.Tag())
		}
		if got := id.ToInt(); got != v {
			t.Errorf("FromInt(%d).ToInt() = %d", v, got)
		}
	}
}

func TestBoolRoundTrip(t *testing.T) {
	if !FromBool(true).ToBool() {
		t.Error("expected true")
	}
	if FromBool(false).ToBool() {
		t.Error("expected false")
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	v := 3.25
	id := FromDouble(v)
	if id.Tag() != Double {
		t.Fatalf("expected tag Double, got %v", id.Tag())
	}
	if got := id.ToDouble(); got != v {
		t.Errorf("FromDouble(%v).ToDouble() = %v", v, got)
	}
}

func TestUndefinedEquality(t *testing.T) {
	if !UndefinedId.IsUndefined() {
		t.Error("expected UndefinedId.IsUndefined()")
	}
	// Undefined compares equal to everything for join purposes...
	if !JoinEquals(UndefinedId, FromInt(5)) {
		t.Error("JoinEquals: UNDEF should match any value")
	}
	if !JoinEquals(UndefinedId, UndefinedId) {
		t.Error("JoinEquals: UNDEF should match UNDEF")
	}
	// ...but unequal to everything in filters, including itself.
	if EqualForFilter(UndefinedId, FromInt(5)) != B3False {
		t.Error("EqualForFilter: UNDEF = 5 should be False")
	}
	if EqualForFilter(UndefinedId, UndefinedId) != B3False {
		t.Error("EqualForFilter: UNDEF = UNDEF should be False")
	}
}

func TestMinusEquals(t *testing.T) {
	if !MinusEquals(UndefinedId, UndefinedId) {
		t.Error("MinusEquals: UNDEF should equal UNDEF")
	}
	if MinusEquals(UndefinedId, FromInt(1)) {
		t.Error("MinusEquals: UNDEF should not equal a concrete value")
	}
	if !MinusEquals(FromInt(7), FromInt(7)) {
		t.Error("MinusEquals: equal concrete values should match")
	}
}

func TestCrossTagOrdering(t *testing.T) {
	// The internal order is total across tags (sorting needs a stable
	// order for mixed columns)...
	a := FromVocabIndex(1)
	b := FromBool(true)
	if Compare(a, b) != Less || Compare(b, a) != Greater {
		t.Errorf("expected deterministic cross-tag ordering by tag")
	}
	// ...but filter equality across non-numeric tags is Undef, not a
	// value judgment.
	if EqualForFilter(a, b) != B3Undef {
		t.Errorf("expected cross-tag filter equality to be Undef")
	}
}

func TestNumericCrossTagComparable(t *testing.T) {
	a := FromInt(3)
	b := FromDouble(3.0)
	if Compare(a, b) != Equal {
		t.Errorf("expected Int(3) == Double(3.0)")
	}
}

func TestThreeValuedLogic(t *testing.T) {
	cases := []struct {
		a, b Bool3
		and  Bool3
		or   Bool3
	}{
		{B3True, B3True, B3True, B3True},
		{B3True, B3False, B3False, B3True},
		{B3False, B3False, B3False, B3False},
		{B3True, B3Undef, B3Undef, B3True},
		{B3False, B3Undef, B3False, B3Undef},
		{B3Undef, B3Undef, B3Undef, B3Undef},
	}
	for _, c := range cases {
		if got := And(c.a, c.b); got != c.and {
			t.Errorf("And(%v,%v) = %v, want %v", c.a, c.b, got, c.and)
		}
		if got := Or(c.a, c.b); got != c.or {
			t.Errorf("Or(%v,%v) = %v, want %v", c.a, c.b, got, c.or)
		}
	}
}
