package ids

import "testing"

func TestLocalVocabRoundTrip(t *testing.T) {
	v := NewLocalVocab()
	id := v.GetOrAdd(`"hello"`)
	if id.Tag() != LocalVocabIndex {
		t.Fatalf("expected LocalVocabIndex tag, got %v", id.Tag())
	}
	if again := v.GetOrAdd(`"hello"`); again != id {
		t.Fatal("repeated interning must return the same id")
	}
	s, ok := v.Lookup(id)
	if !ok || s != `"hello"` {
		t.Fatalf("Lookup = %q, %v", s, ok)
	}
}

func TestMergeSmallerIntoRemapsIndices(t *testing.T) {
	big := NewLocalVocab()
	for _, s := range []string{"<a>", "<b>", "<c>"} {
		big.GetOrAdd(s)
	}
	small := NewLocalVocab()
	smallB := small.GetOrAdd("<b>") // present in big at a different index
	smallX := small.GetOrAdd("<x>") // new to big

	survivor, remapBig, remapSmall := MergeSmallerInto(big, small)
	if survivor != big {
		t.Fatal("the larger vocabulary must survive")
	}
	// Big-side ids pass through unchanged.
	if got := remapBig(FromLocalVocabIndex(0)); got != FromLocalVocabIndex(0) {
		t.Fatal("surviving side must not be remapped")
	}
	// Small-side ids land on the equivalent string in the survivor.
	mappedB := remapSmall(smallB)
	if s, _ := survivor.Lookup(mappedB); s != "<b>" {
		t.Fatalf("remapped <b> resolves to %q", s)
	}
	mappedX := remapSmall(smallX)
	if s, _ := survivor.Lookup(mappedX); s != "<x>" {
		t.Fatalf("remapped <x> resolves to %q", s)
	}
	// Non-local ids pass through any remap untouched.
	if remapSmall(FromInt(7)) != FromInt(7) {
		t.Fatal("non-LocalVocabIndex ids must pass through")
	}
}

func TestCloneIsSharedForkIsIndependent(t *testing.T) {
	v := NewLocalVocab()
	v.GetOrAdd("<a>")
	clone := v.Clone()
	if clone.Len() != 1 {
		t.Fatal("clone must see the shared entries")
	}
	fork := v.Fork()
	fork.GetOrAdd("<b>")
	if v.Len() != 1 {
		t.Fatal("forked additions must not leak into the original")
	}
	if fork.Len() != 2 {
		t.Fatal("the fork must hold both entries")
	}
}
