package ids

// LocalVocab is a per-query, append-only dictionary mapping the full
// lexical form of a term (materialized at runtime by BIND, VALUES, or an
// expression result — never present in the persistent index) to a
// LocalVocabIndex Id. It is shared by reference count between a Result and
// its descendants, merged on join by unioning the smaller side into the
// larger and remapping its indices, and never persisted.
//
type LocalVocab struct {
	strings []string
	index map[string]uint64
	refs    *int32
}

// NewLocalVocab creates an empty LocalVocab with one reference.
func NewLocalVocab() *LocalVocab {
	refs := int32(1)
	return &LocalVocab{
		index: make(map[string]uint64),
		refs:  &refs,
	}
}

// Clone returns a cheap reference-counted alias of v: no strings are
// copied, only the refcount is bumped. Safe because a LocalVocab is never
// mutated after the Result that owns it is handed to a consumer — callers
// that need to add entries must call Fork instead.
func (v *LocalVocab) Clone() *LocalVocab {
	*v.refs++
	return v
}

// Release decrements the refcount. The backing arrays are left for the GC
// once the last reference drops; there is no explicit free since Go has no
// manual memory management here, only the query-level allocator tracks
// bytes (see idtable.Allocator).
func (v *LocalVocab) Release() {
	if v.refs != nil {
		*v.refs--
	}
}

// Fork returns a new, independently mutable LocalVocab holding a copy of
// v's entries (the strings slice and index map are copied eagerly) so that an
// operator that needs to add entries (BIND, VALUES, aggregate results)
// never mutates a vocabulary some other operator still holds a reference
// to.
func (v *LocalVocab) Fork() *LocalVocab {
	n := NewLocalVocab()
	n.strings = append(n.strings, v.strings...)
	for k, val := range v.index {
		n.index[k] = val
	}
	return n
}

// GetOrAdd interns s, returning its LocalVocabIndex Id. Repeated calls with
// the same string return the same Id.
func (v *LocalVocab) GetOrAdd(s string) Id {
	if i, ok := v.index[s]; ok {
		return FromLocalVocabIndex(i)
	}
	i := uint64(len(v.strings))
	v.strings = append(v.strings, s)
	v.index[s] = i
	return FromLocalVocabIndex(i)
}

// Lookup returns the string for a LocalVocabIndex Id previously produced by
// this vocabulary (or one it was merged from).
func (v *LocalVocab) Lookup(id Id) (string, bool) {
	if id.Tag() != LocalVocabIndex {
		return "", false
	}
	i := id.Payload()
	if i >= uint64(len(v.strings)) {
		return "", false
	}
	return v.strings[i], true
}

// Len reports the number of distinct strings interned.
func (v *LocalVocab) Len() int { return len(v.strings) }

// MergeSmallerInto merges the smaller of a, b into the larger, remapping
// every LocalVocabIndex Id carried by rows already bound to the smaller
// vocabulary. It returns the surviving (larger) vocabulary and a remap
// function: given an old Id produced by the vocabulary that was merged
// away, Remap returns the equivalent Id valid in the surviving vocabulary.
// Ids from the surviving side, and Ids with any tag other than
// LocalVocabIndex, are returned unchanged by Remap.
func MergeSmallerInto(a, b *LocalVocab) (survivor *LocalVocab, remapA, remapB func(Id) Id) {
	identity := func(id Id) Id { return id }
	if a == b {
		return a, identity, identity
	}
	if len(a.strings) >= len(b.strings) {
		remap := mergeInto(a, b)
		return a, identity, remap
	}
	remap := mergeInto(b, a)
	return b, remap, identity
}

// mergeInto merges the entries of small into big, returning a function
// that maps an old LocalVocabIndex Id (valid within small) to its Id
// within big.
func mergeInto(big, small *LocalVocab) func(Id) Id {
	offsets := make([]uint64, len(small.strings))
	for i, s := range small.strings {
		offsets[i] = big.GetOrAdd(s).Payload()
	}
	return func(id Id) Id {
		if id.Tag() != LocalVocabIndex {
			return id
		}
		i := id.Payload()
		if i >= uint64(len(offsets)) {
			return id
		}
		return FromLocalVocabIndex(offsets[i])
	}
}
