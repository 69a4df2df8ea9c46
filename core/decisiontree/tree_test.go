package decisiontree

import (
	"testing"

	"github.com/adalundhe/switchback/core/keys"
)

var (
	m1 = keys.Binary(keys.Symbol('m', 1))
	m2 = keys.Binary(keys.Symbol('m', 2))
	m3 = keys.DiscreteKey{Key: keys.Symbol('m', 3), Cardinality: 3}
)

func TestBuildLeaves_CanonicalOrder(t *testing.T) {
	// Canonical order: lowest key varies fastest.
	tree := BuildLeaves([]keys.DiscreteKey{m2, m1}, []float64{1, 2, 3, 4})

	cases := []struct {
		v1, v2 int
		want   float64
	}{
		{0, 0, 1},
		{1, 0, 2},
		{0, 1, 3},
		{1, 1, 4},
	}
	for _, tc := range cases {
		got, ok := tree.At(keys.Assignment{m1.Key: tc.v1, m2.Key: tc.v2})
		if !ok || got != tc.want {
			t.Errorf("At(m1=%d, m2=%d) = %v, %v; want %v", tc.v1, tc.v2, got, ok, tc.want)
		}
	}
}

func TestRestrict_PartialAssignment(t *testing.T) {
	tree := BuildLeaves([]keys.DiscreteKey{m1, m2}, []float64{1, 2, 3, 4})

	sub := tree.Restrict(keys.Assignment{m2.Key: 1})
	if got, ok := sub.At(keys.Assignment{m1.Key: 0}); !ok || got != 3 {
		t.Errorf("restricted At(m1=0) = %v, %v; want 3", got, ok)
	}
	if got, ok := sub.At(keys.Assignment{m1.Key: 1}); !ok || got != 4 {
		t.Errorf("restricted At(m1=1) = %v, %v; want 4", got, ok)
	}

	// The original tree is unchanged.
	if got, _ := tree.At(keys.Assignment{m1.Key: 0, m2.Key: 0}); got != 1 {
		t.Errorf("source tree mutated: At(0,0) = %v", got)
	}
}

func TestCombine_UnionOfKeys(t *testing.T) {
	a := BuildLeaves([]keys.DiscreteKey{m1}, []float64{2, 3})
	b := BuildLeaves([]keys.DiscreteKey{m2}, []float64{10, 100})

	product := Combine(a, b, func(x, y float64) float64 { return x * y })
	for _, tc := range []struct {
		v1, v2 int
		want   float64
	}{
		{0, 0, 20}, {1, 0, 30}, {0, 1, 200}, {1, 1, 300},
	} {
		got, ok := product.At(keys.Assignment{m1.Key: tc.v1, m2.Key: tc.v2})
		if !ok || got != tc.want {
			t.Errorf("product At(m1=%d, m2=%d) = %v, %v; want %v", tc.v1, tc.v2, got, ok, tc.want)
		}
	}
}

func TestCombine_AbsentPropagates(t *testing.T) {
	a := BuildLeaves([]keys.DiscreteKey{m1}, []float64{2, 3}).
		Prune(func(v float64) bool { return v > 2 })
	b := BuildLeaves([]keys.DiscreteKey{m1}, []float64{5, 7})

	sum := Combine(a, b, func(x, y float64) float64 { return x + y })
	if _, ok := sum.At(keys.Assignment{m1.Key: 0}); ok {
		t.Error("expected absent leaf at m1=0 after combining with pruned tree")
	}
	if got, ok := sum.At(keys.Assignment{m1.Key: 1}); !ok || got != 10 {
		t.Errorf("At(m1=1) = %v, %v; want 10", got, ok)
	}
}

func TestFold_CanonicalTraversal(t *testing.T) {
	tree := BuildLeaves([]keys.DiscreteKey{m1, m2}, []float64{1, 2, 3, 4})

	var order []float64
	Fold(tree, 0, func(acc int, v float64) int {
		order = append(order, v)
		return acc + 1
	})
	want := []float64{1, 2, 3, 4}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("fold order = %v, want %v", order, want)
		}
	}
}

func TestPrune_KeepsShapeAndValues(t *testing.T) {
	tree := BuildLeaves([]keys.DiscreteKey{m1, m2}, []float64{1, 2, 3, 4})
	pruned := tree.Prune(func(v float64) bool { return v >= 3 })

	if n := CountLeaves(pruned); n != 2 {
		t.Errorf("CountLeaves = %d, want 2", n)
	}
	if _, ok := pruned.At(keys.Assignment{m1.Key: 0, m2.Key: 0}); ok {
		t.Error("pruned leaf still present")
	}
	if got, ok := pruned.At(keys.Assignment{m1.Key: 1, m2.Key: 1}); !ok || got != 4 {
		t.Errorf("surviving leaf = %v, %v; want 4", got, ok)
	}
	if n := CountLeaves(tree); n != 4 {
		t.Errorf("input tree modified: CountLeaves = %d, want 4", n)
	}
}

func TestAssignments_TernaryKey(t *testing.T) {
	assignments := Assignments([]keys.DiscreteKey{m3, m1})
	if len(assignments) != 6 {
		t.Fatalf("len = %d, want 6", len(assignments))
	}
	// Lowest key (m1) varies fastest.
	if assignments[0][m1.Key] != 0 || assignments[1][m1.Key] != 1 {
		t.Errorf("m1 does not vary fastest: %v", assignments[:2])
	}
	if assignments[2][m3.Key] != 1 || assignments[2][m1.Key] != 0 {
		t.Errorf("unexpected third assignment: %v", assignments[2])
	}
}

func TestNewChoice_CollapsesSharedBranches(t *testing.T) {
	leaf := NewLeaf(1.5)
	collapsed := NewChoice(m1, []*Tree[float64]{leaf, leaf})
	if collapsed != leaf {
		t.Error("choice over identical subtrees should collapse")
	}
}

func TestRestrict_CollapsedTreeStillAnswers(t *testing.T) {
	// A tree that never branches on m2 must replicate across it.
	tree := BuildLeaves([]keys.DiscreteKey{m1}, []float64{4, 8})
	got, ok := tree.At(keys.Assignment{m1.Key: 1, m2.Key: 0})
	if !ok || got != 8 {
		t.Errorf("At over superset assignment = %v, %v; want 8", got, ok)
	}
}
