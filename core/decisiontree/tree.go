// Package decisiontree implements an immutable decision tree: a function
// from discrete variable assignments to values of some type T. Internal
// nodes branch on one discrete key, leaves hold values, and a nil subtree
// marks an assignment region as absent (pruned or infeasible).
//
// Trees are persistent. Every operation returns a new tree that shares
// unmodified subtrees with its inputs; nodes are never mutated after
// construction, so sharing is safe.
//
// Canonical layout: along any root-to-leaf path key ids strictly decrease,
// so the root branches on the highest key. The canonical leaf order used by
// Fold and Assignments therefore enumerates assignments with the lowest key
// varying fastest. Wherever leaf order breaks ties, this is the order that
// applies.
package decisiontree

import (
	"fmt"

	"github.com/adalundhe/switchback/core/keys"
)

// Tree is one node of a decision tree over values of type T. The zero of
// *Tree (nil) is the absent leaf.
type Tree[T any] struct {
	// Leaf payload; meaningful when branches is nil.
	value T

	// Branch payload: one child per value of key, in value order. Children
	// may be nil (absent).
	key      keys.DiscreteKey
	branches []*Tree[T]
}

// NewLeaf returns a leaf holding v.
func NewLeaf[T any](v T) *Tree[T] {
	return &Tree[T]{value: v}
}

// NewChoice returns an internal node branching on key. The number of
// branches must equal the key's cardinality. If every branch is the same
// node the choice collapses to that shared subtree.
func NewChoice[T any](key keys.DiscreteKey, branches []*Tree[T]) *Tree[T] {
	if len(branches) != key.Cardinality {
		panic(fmt.Sprintf("choice on %v: %d branches for cardinality %d", key.Key, len(branches), key.Cardinality))
	}
	first := branches[0]
	collapsible := true
	for _, b := range branches[1:] {
		if b != first {
			collapsible = false
			break
		}
	}
	if collapsible {
		return first
	}
	return &Tree[T]{key: key, branches: branches}
}

// IsLeaf reports whether t is a (present) leaf.
func (t *Tree[T]) IsLeaf() bool {
	return t != nil && t.branches == nil
}

// Value returns the leaf payload. It reports false for absent leaves and
// internal nodes.
func (t *Tree[T]) Value() (T, bool) {
	if !t.IsLeaf() {
		var zero T
		return zero, false
	}
	return t.value, true
}

// Build constructs a canonical tree over dkeys from values listed in
// canonical order. len(values) must be the product of the cardinalities.
// dkeys need not be sorted; they are sorted internally.
func Build[T any](dkeys []keys.DiscreteKey, values []*Tree[T]) *Tree[T] {
	sorted := keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...))
	size := 1
	for _, dk := range sorted {
		size *= dk.Cardinality
	}
	if len(values) != size {
		panic(fmt.Sprintf("build: %d values for %d assignments", len(values), size))
	}
	return build(sorted, values)
}

// BuildLeaves is Build over plain leaf values.
func BuildLeaves[T any](dkeys []keys.DiscreteKey, values []T) *Tree[T] {
	nodes := make([]*Tree[T], len(values))
	for i, v := range values {
		nodes[i] = NewLeaf(v)
	}
	return Build(dkeys, nodes)
}

func build[T any](sorted []keys.DiscreteKey, values []*Tree[T]) *Tree[T] {
	if len(sorted) == 0 {
		return values[0]
	}
	top := sorted[len(sorted)-1]
	stride := len(values) / top.Cardinality
	branches := make([]*Tree[T], top.Cardinality)
	for v := 0; v < top.Cardinality; v++ {
		branches[v] = build(sorted[:len(sorted)-1], values[v*stride:(v+1)*stride])
	}
	return NewChoice(top, branches)
}

// FromAssignments constructs a tree over dkeys by calling f once per
// canonical assignment. A nil return marks the branch absent.
func FromAssignments[T any](dkeys []keys.DiscreteKey, f func(keys.Assignment) *Tree[T]) *Tree[T] {
	assignments := Assignments(dkeys)
	nodes := make([]*Tree[T], len(assignments))
	for i, a := range assignments {
		nodes[i] = f(a)
	}
	return Build(dkeys, nodes)
}

// Restrict follows branches for every key present in the assignment and
// returns the resulting subtree. A full assignment yields a leaf (or nil);
// a partial assignment yields the tree over the remaining keys.
func (t *Tree[T]) Restrict(a keys.Assignment) *Tree[T] {
	if t == nil || t.branches == nil {
		return t
	}
	if v, ok := a[t.key.Key]; ok {
		return t.branches[v].Restrict(a)
	}
	branches := make([]*Tree[T], len(t.branches))
	for i, b := range t.branches {
		branches[i] = b.Restrict(a)
	}
	return NewChoice(t.key, branches)
}

// At evaluates the tree under a full assignment. It reports false when the
// assignment lands on an absent leaf.
func (t *Tree[T]) At(a keys.Assignment) (T, bool) {
	return t.Restrict(a).Value()
}

// Prune replaces leaves failing keep with the absent marker. Tree shape and
// every surviving leaf are preserved as-is.
func (t *Tree[T]) Prune(keep func(T) bool) *Tree[T] {
	if t == nil {
		return nil
	}
	if t.branches == nil {
		if keep(t.value) {
			return t
		}
		return nil
	}
	branches := make([]*Tree[T], len(t.branches))
	changed := false
	for i, b := range t.branches {
		branches[i] = b.Prune(keep)
		if branches[i] != b {
			changed = true
		}
	}
	if !changed {
		return t
	}
	return &Tree[T]{key: t.key, branches: branches}
}

// Map applies f to every present leaf.
func Map[A, B any](t *Tree[A], f func(A) B) *Tree[B] {
	if t == nil {
		return nil
	}
	if t.branches == nil {
		return NewLeaf(f(t.value))
	}
	branches := make([]*Tree[B], len(t.branches))
	for i, b := range t.branches {
		branches[i] = Map(b, f)
	}
	return NewChoice(t.key, branches)
}

// Combine pointwise-applies op over the union of both trees' keys. A tree
// missing a key is replicated across that key's values. If either side is
// absent for some assignment the result is absent there.
func Combine[A, B, C any](a *Tree[A], b *Tree[B], op func(A, B) C) *Tree[C] {
	if a == nil || b == nil {
		return nil
	}
	switch {
	case a.branches == nil && b.branches == nil:
		return NewLeaf(op(a.value, b.value))
	case a.branches == nil, b.branches != nil && b.key.Key > a.key.Key:
		branches := make([]*Tree[C], len(b.branches))
		for i, bb := range b.branches {
			branches[i] = Combine(a, bb, op)
		}
		return NewChoice(b.key, branches)
	case b.branches == nil, a.key.Key > b.key.Key:
		branches := make([]*Tree[C], len(a.branches))
		for i, ab := range a.branches {
			branches[i] = Combine(ab, b, op)
		}
		return NewChoice(a.key, branches)
	default:
		// Same key at both roots.
		branches := make([]*Tree[C], len(a.branches))
		for i := range a.branches {
			branches[i] = Combine(a.branches[i], b.branches[i], op)
		}
		return NewChoice(a.key, branches)
	}
}

// Fold reduces the present leaves in canonical order.
func Fold[T, R any](t *Tree[T], init R, op func(R, T) R) R {
	if t == nil {
		return init
	}
	if t.branches == nil {
		return op(init, t.value)
	}
	acc := init
	for _, b := range t.branches {
		acc = Fold(b, acc, op)
	}
	return acc
}

// CountLeaves returns the number of present leaves reachable in t. Note
// that collapsed subtrees count once, not once per represented assignment;
// use Assignments plus At when the assignment-weighted count matters.
func CountLeaves[T any](t *Tree[T]) int {
	return Fold(t, 0, func(n int, _ T) int { return n + 1 })
}

// Assignments enumerates the full Cartesian product over dkeys in canonical
// order: the lowest key varies fastest.
func Assignments(dkeys []keys.DiscreteKey) []keys.Assignment {
	sorted := keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...))
	size := 1
	for _, dk := range sorted {
		size *= dk.Cardinality
	}
	out := make([]keys.Assignment, size)
	for i := 0; i < size; i++ {
		a := make(keys.Assignment, len(sorted))
		rest := i
		for _, dk := range sorted {
			a[dk.Key] = rest % dk.Cardinality
			rest /= dk.Cardinality
		}
		out[i] = a
	}
	return out
}
