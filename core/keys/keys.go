// Package keys defines variable identifiers for factor graphs: plain
// continuous keys, discrete keys with a finite cardinality, and assignments
// of values to discrete keys.
package keys

import (
	"fmt"
	"sort"
)

// Key identifies a variable in a factor graph. Keys are opaque: the engine
// never interprets them beyond ordering and equality.
type Key uint64

// symbolShift places the category character in the top byte of a Key.
const symbolShift = 56

// Symbol packs a category character and an index into a Key. It is a pure
// function; two calls with the same arguments always return the same Key.
func Symbol(category rune, index uint64) Key {
	return Key(uint64(category)<<symbolShift | (index & (1<<symbolShift - 1)))
}

// String renders symbol-packed keys as "x1", and raw keys as their integer
// value.
func (k Key) String() string {
	category := rune(k >> symbolShift)
	if category >= 'a' && category <= 'z' || category >= 'A' && category <= 'Z' {
		return fmt.Sprintf("%c%d", category, uint64(k)&(1<<symbolShift-1))
	}
	return fmt.Sprintf("%d", uint64(k))
}

// DiscreteKey is a Key with a fixed number of possible values.
type DiscreteKey struct {
	Key         Key
	Cardinality int
}

// NewDiscreteKey validates that the cardinality is at least 2.
func NewDiscreteKey(k Key, cardinality int) (DiscreteKey, error) {
	if cardinality < 2 {
		return DiscreteKey{}, fmt.Errorf("discrete key %v: cardinality %d < 2", k, cardinality)
	}
	return DiscreteKey{Key: k, Cardinality: cardinality}, nil
}

// Binary is shorthand for a two-valued discrete key.
func Binary(k Key) DiscreteKey {
	return DiscreteKey{Key: k, Cardinality: 2}
}

// SortDiscrete orders discrete keys by ascending Key id, in place, and
// returns the slice.
func SortDiscrete(dkeys []DiscreteKey) []DiscreteKey {
	sort.Slice(dkeys, func(i, j int) bool { return dkeys[i].Key < dkeys[j].Key })
	return dkeys
}

// UnionDiscrete merges discrete key sets into a sorted, deduplicated slice.
// Conflicting cardinalities for the same Key are a construction bug and
// panic rather than silently picking one.
func UnionDiscrete(sets ...[]DiscreteKey) []DiscreteKey {
	seen := make(map[Key]int)
	var out []DiscreteKey
	for _, set := range sets {
		for _, dk := range set {
			if card, ok := seen[dk.Key]; ok {
				if card != dk.Cardinality {
					panic(fmt.Sprintf("key %v declared with cardinalities %d and %d", dk.Key, card, dk.Cardinality))
				}
				continue
			}
			seen[dk.Key] = dk.Cardinality
			out = append(out, dk)
		}
	}
	return SortDiscrete(out)
}

// Assignment maps discrete keys to a chosen value in [0, cardinality). It
// may be partial.
type Assignment map[Key]int

// Clone returns an independent copy.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// With returns a copy extended with one additional choice.
func (a Assignment) With(k Key, value int) Assignment {
	out := a.Clone()
	out[k] = value
	return out
}

// Restrict keeps only the choices for the given keys.
func (a Assignment) Restrict(dkeys []DiscreteKey) Assignment {
	out := make(Assignment, len(dkeys))
	for _, dk := range dkeys {
		if v, ok := a[dk.Key]; ok {
			out[dk.Key] = v
		}
	}
	return out
}

// Agrees reports whether two assignments pick the same value for every key
// they share.
func (a Assignment) Agrees(b Assignment) bool {
	for k, v := range a {
		if w, ok := b[k]; ok && w != v {
			return false
		}
	}
	return true
}

// Equal reports whether both assignments contain exactly the same choices.
func (a Assignment) Equal(b Assignment) bool {
	if len(a) != len(b) {
		return false
	}
	return a.Agrees(b)
}

// SortKeys orders plain keys ascending, in place, and returns the slice.
func SortKeys(ks []Key) []Key {
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// ContainsKey reports membership of k in ks.
func ContainsKey(ks []Key, k Key) bool {
	for _, candidate := range ks {
		if candidate == k {
			return true
		}
	}
	return false
}
