package hybrid

import (
	"fmt"

	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
)

// ============================================================
// Factor graph
// ============================================================

// FactorGraph collects continuous, discrete and mixture factors over a
// shared variable set.
type FactorGraph struct {
	factors []*Factor
}

func NewFactorGraph(factors ...*Factor) *FactorGraph {
	return &FactorGraph{factors: factors}
}

// Push appends a factor.
func (g *FactorGraph) Push(f *Factor) {
	g.factors = append(g.factors, f)
}

func (g *FactorGraph) AddContinuous(f *linear.JacobianFactor) {
	g.Push(NewContinuousFactor(f))
}

func (g *FactorGraph) AddDiscrete(f *discrete.TableFactor) {
	g.Push(NewDiscreteFactor(f))
}

func (g *FactorGraph) AddMixture(f *MixtureFactor) {
	g.Push(NewMixtureHybridFactor(f))
}

func (g *FactorGraph) Size() int {
	return len(g.factors)
}

func (g *FactorGraph) At(i int) *Factor {
	return g.factors[i]
}

func (g *FactorGraph) Factors() []*Factor {
	return g.factors
}

// ContinuousKeys returns the distinct continuous variables, unsorted.
func (g *FactorGraph) ContinuousKeys() []keys.Key {
	seen := make(map[keys.Key]struct{})
	for _, f := range g.factors {
		for _, k := range f.ContinuousKeys() {
			seen[k] = struct{}{}
		}
	}
	return sortedKeySet(seen)
}

// DiscreteKeys returns the distinct discrete variables with their
// cardinalities.
func (g *FactorGraph) DiscreteKeys() []keys.DiscreteKey {
	sets := make([][]keys.DiscreteKey, 0, len(g.factors))
	for _, f := range g.factors {
		sets = append(sets, f.DiscreteKeys())
	}
	return keys.UnionDiscrete(sets...)
}

// discreteKeyOf resolves k against the discrete declarations in the graph.
func (g *FactorGraph) discreteKeyOf(k keys.Key) (keys.DiscreteKey, bool) {
	for _, f := range g.factors {
		for _, dk := range f.DiscreteKeys() {
			if dk.Key == k {
				return dk, true
			}
		}
	}
	return keys.DiscreteKey{}, false
}

// ============================================================
// Sequential elimination
// ============================================================

// EliminateSequential eliminates every variable in the ordering and
// requires the graph to be fully consumed. An empty ordering falls back to
// DefaultOrdering.
func (g *FactorGraph) EliminateSequential(ordering Ordering, policy Policy) (*BayesNet, error) {
	if len(ordering) == 0 {
		ordering = DefaultOrdering(g)
	}
	net, remaining, err := g.EliminatePartialSequential(ordering, policy)
	if err != nil {
		return nil, err
	}
	if remaining.Size() > 0 {
		return nil, fmt.Errorf("ordering covers %d of %d variables: %d factors remain",
			len(ordering), len(g.ContinuousKeys())+len(g.DiscreteKeys()), remaining.Size())
	}
	return net, nil
}

// EliminatePartialSequential eliminates exactly the variables in the
// ordering, producing one conditional per frontal block and the factor
// graph over the variables left behind.
func (g *FactorGraph) EliminatePartialSequential(ordering Ordering, policy Policy) (*BayesNet, *FactorGraph, error) {
	net := &BayesNet{}
	working := append([]*Factor(nil), g.factors...)
	for _, blk := range ordering.split(g.discreteKeyOf, false) {
		conditional, rest, err := eliminateBlock(working, blk, policy)
		if err != nil {
			return nil, nil, err
		}
		net.Push(conditional)
		working = rest
	}
	return net, &FactorGraph{factors: working}, nil
}

// eliminateBlock splits the working set into factors touching the block's
// frontals and the rest, eliminates the block, and pushes the residuals
// back.
func eliminateBlock(working []*Factor, blk block, policy Policy) (*Conditional, []*Factor, error) {
	frontals := blk.frontals()
	var selected, rest []*Factor
	for _, f := range working {
		touched := false
		for _, k := range frontals {
			if f.Touches(k) {
				touched = true
				break
			}
		}
		if touched {
			selected = append(selected, f)
		} else {
			rest = append(rest, f)
		}
	}
	if len(selected) == 0 {
		return nil, nil, fmt.Errorf("no factor touches %v", frontals)
	}

	var conditional *Conditional
	var residuals []*Factor
	var err error
	if blk.discrete != nil {
		conditional, residuals, err = EliminateDiscrete(selected, blk.discrete, policy)
	} else {
		conditional, residuals, err = EliminateContinuous(selected, blk.continuous)
	}
	if err != nil {
		return nil, nil, err
	}
	return conditional, append(rest, residuals...), nil
}
