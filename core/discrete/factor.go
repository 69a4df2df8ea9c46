// Package discrete implements tabular factors over finite discrete
// variables, stored as decision trees, and their elimination into
// conditionals.
//
// Potentials are unnormalized throughout: elimination never rescales
// values, so a conditional's entries are the raw products of the factors
// that produced it. Callers that want probabilities normalize explicitly.
package discrete

import (
	"fmt"
	"sort"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/viterin/vek"
)

// TableFactor is a potential over a set of discrete keys.
type TableFactor struct {
	dkeys []keys.DiscreteKey // sorted ascending
	tree  *decisiontree.Tree[float64]
}

// NewTableFactor builds a factor from values listed in canonical order
// (lowest key varying fastest).
func NewTableFactor(dkeys []keys.DiscreteKey, values []float64) (*TableFactor, error) {
	sorted := keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...))
	size := 1
	for _, dk := range sorted {
		if dk.Cardinality < 2 {
			return nil, fmt.Errorf("key %v has cardinality %d", dk.Key, dk.Cardinality)
		}
		size *= dk.Cardinality
	}
	if len(values) != size {
		return nil, fmt.Errorf("%d values for %d assignments", len(values), size)
	}
	return &TableFactor{dkeys: sorted, tree: decisiontree.BuildLeaves(sorted, values)}, nil
}

// FromTree wraps an existing decision tree as a factor over dkeys.
func FromTree(dkeys []keys.DiscreteKey, tree *decisiontree.Tree[float64]) *TableFactor {
	sorted := keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...))
	return &TableFactor{dkeys: sorted, tree: tree}
}

// Keys returns the factor's discrete keys, ascending.
func (f *TableFactor) Keys() []keys.DiscreteKey {
	return append([]keys.DiscreteKey(nil), f.dkeys...)
}

// Tree exposes the underlying decision tree.
func (f *TableFactor) Tree() *decisiontree.Tree[float64] {
	return f.tree
}

// Evaluate returns the potential at a full assignment; absent leaves read
// as zero mass.
func (f *TableFactor) Evaluate(a keys.Assignment) float64 {
	v, ok := f.tree.At(a)
	if !ok {
		return 0
	}
	return v
}

// Mul returns the pointwise product over the union of both key sets.
func (f *TableFactor) Mul(other *TableFactor) *TableFactor {
	return &TableFactor{
		dkeys: keys.UnionDiscrete(f.dkeys, other.dkeys),
		tree:  decisiontree.Combine(f.tree, other.tree, func(a, b float64) float64 { return a * b }),
	}
}

// Marginalize sums (or maximizes, for MPE) the factor over the given key.
func (f *TableFactor) Marginalize(dk keys.DiscreteKey, policy Policy) *TableFactor {
	var remaining []keys.DiscreteKey
	for _, existing := range f.dkeys {
		if existing.Key != dk.Key {
			remaining = append(remaining, existing)
		}
	}
	tree := decisiontree.FromAssignments(remaining, func(a keys.Assignment) *decisiontree.Tree[float64] {
		acc, any := 0.0, false
		for v := 0; v < dk.Cardinality; v++ {
			value, ok := f.tree.At(a.With(dk.Key, v))
			if !ok {
				continue
			}
			any = true
			if policy == MaxProduct {
				if value > acc {
					acc = value
				}
			} else {
				acc += value
			}
		}
		if !any {
			return nil
		}
		return decisiontree.NewLeaf(acc)
	})
	return &TableFactor{dkeys: remaining, tree: tree}
}

// Sum adds all present leaf masses.
func (f *TableFactor) Sum() float64 {
	return vek.Sum(f.values())
}

// Normalize scales the factor so its masses sum to one. A zero factor is
// returned unchanged.
func (f *TableFactor) Normalize() *TableFactor {
	total := f.Sum()
	if total == 0 {
		return f
	}
	return &TableFactor{
		dkeys: f.dkeys,
		tree:  decisiontree.Map(f.tree, func(v float64) float64 { return v / total }),
	}
}

// Max returns the largest present leaf mass.
func (f *TableFactor) Max() float64 {
	values := f.values()
	if len(values) == 0 {
		return 0
	}
	return vek.Max(values)
}

func (f *TableFactor) values() []float64 {
	return decisiontree.Fold(f.tree, []float64(nil), func(acc []float64, v float64) []float64 {
		return append(acc, v)
	})
}

// TopK returns the assignments of the k largest nonzero masses. Fewer are
// returned when fewer nonzero leaves exist. Ties resolve in canonical
// assignment order (lowest key fastest), earlier assignments winning.
func (f *TableFactor) TopK(k int) []keys.Assignment {
	type ranked struct {
		index int
		a     keys.Assignment
		mass  float64
	}
	var entries []ranked
	for i, a := range decisiontree.Assignments(f.dkeys) {
		if mass := f.Evaluate(a); mass > 0 {
			entries = append(entries, ranked{index: i, a: a, mass: mass})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].mass != entries[j].mass {
			return entries[i].mass > entries[j].mass
		}
		return entries[i].index < entries[j].index
	})
	if k > len(entries) {
		k = len(entries)
	}
	out := make([]keys.Assignment, k)
	for i := 0; i < k; i++ {
		out[i] = entries[i].a
	}
	return out
}

// CountNonzero counts assignments carrying positive mass.
func (f *TableFactor) CountNonzero() int {
	count := 0
	for _, a := range decisiontree.Assignments(f.dkeys) {
		if f.Evaluate(a) > 0 {
			count++
		}
	}
	return count
}

// Equal reports approximate equality over the full assignment grid.
func (f *TableFactor) Equal(other *TableFactor, tol float64) bool {
	if len(f.dkeys) != len(other.dkeys) {
		return false
	}
	for i := range f.dkeys {
		if f.dkeys[i] != other.dkeys[i] {
			return false
		}
	}
	for _, a := range decisiontree.Assignments(f.dkeys) {
		d := f.Evaluate(a) - other.Evaluate(a)
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}
