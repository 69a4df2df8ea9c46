// Package hybrid implements variable elimination over factor graphs mixing
// Gaussian factors, tabular discrete factors, and mixture factors whose
// Gaussian relationship switches on discrete modes. Elimination produces
// hybrid Bayes nets (sequential) or Bayes trees (multifrontal), both of
// which support assignment projection, probability-based pruning, and
// incremental re-elimination through the Smoother.
package hybrid

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
)

// FactorKind tags the variant held by a Factor.
type FactorKind int

const (
	FactorContinuous FactorKind = iota
	FactorDiscrete
	FactorMixture
)

// Factor is a tagged variant over the three factor families the engine
// consumes. Exactly one payload is set, matching the kind.
type Factor struct {
	kind       FactorKind
	continuous *linear.JacobianFactor
	discrete   *discrete.TableFactor
	mixture    *MixtureFactor
}

// NewContinuousFactor wraps a Gaussian factor.
func NewContinuousFactor(f *linear.JacobianFactor) *Factor {
	return &Factor{kind: FactorContinuous, continuous: f}
}

// NewDiscreteFactor wraps a tabular factor.
func NewDiscreteFactor(f *discrete.TableFactor) *Factor {
	return &Factor{kind: FactorDiscrete, discrete: f}
}

// NewMixtureHybridFactor wraps a mixture factor.
func NewMixtureHybridFactor(f *MixtureFactor) *Factor {
	return &Factor{kind: FactorMixture, mixture: f}
}

// Kind returns the variant tag.
func (f *Factor) Kind() FactorKind { return f.kind }

// Continuous returns the Gaussian payload, nil for other kinds.
func (f *Factor) Continuous() *linear.JacobianFactor { return f.continuous }

// Discrete returns the tabular payload, nil for other kinds.
func (f *Factor) Discrete() *discrete.TableFactor { return f.discrete }

// Mixture returns the mixture payload, nil for other kinds.
func (f *Factor) Mixture() *MixtureFactor { return f.mixture }

// ContinuousKeys lists the factor's continuous variables.
func (f *Factor) ContinuousKeys() []keys.Key {
	switch f.kind {
	case FactorContinuous:
		return f.continuous.Keys()
	case FactorMixture:
		return f.mixture.ContinuousKeys()
	default:
		return nil
	}
}

// DiscreteKeys lists the factor's discrete variables.
func (f *Factor) DiscreteKeys() []keys.DiscreteKey {
	switch f.kind {
	case FactorDiscrete:
		return f.discrete.Keys()
	case FactorMixture:
		return f.mixture.DiscreteKeys()
	default:
		return nil
	}
}

// Touches reports whether the factor references the variable k.
func (f *Factor) Touches(k keys.Key) bool {
	if keys.ContainsKey(f.ContinuousKeys(), k) {
		return true
	}
	for _, dk := range f.DiscreteKeys() {
		if dk.Key == k {
			return true
		}
	}
	return false
}

// =============================================================================
// Mixture Factor
// =============================================================================

// mixtureCacheSize bounds the lazily materialized branch cache. Mode spaces
// past this size are already past what elimination can enumerate cheaply.
const mixtureCacheSize = 1024

// Generator produces the Gaussian factor for one discrete assignment. A nil
// factor marks the branch infeasible.
type Generator func(keys.Assignment) (*linear.JacobianFactor, error)

// MixtureFactor relates continuous variables through a Gaussian factor
// selected by a discrete assignment. Components either come pre-built as a
// decision tree or are materialized lazily through a generator; lazy
// branches are cached.
type MixtureFactor struct {
	continuousKeys []keys.Key
	discreteKeys   []keys.DiscreteKey

	components *decisiontree.Tree[*linear.JacobianFactor]
	generate   Generator
	cache      *lru.Cache[int, *linear.JacobianFactor]
}

// NewMixtureFactor builds a mixture from per-assignment components listed
// in canonical order. Every component must cover exactly the declared
// continuous keys; a mismatch fails construction with
// KindCardinalityMismatch.
func NewMixtureFactor(continuousKeys []keys.Key, dkeys []keys.DiscreteKey, components []*linear.JacobianFactor) (*MixtureFactor, error) {
	for i, component := range components {
		if component == nil {
			continue
		}
		if err := checkComponentKeys(continuousKeys, component); err != nil {
			return nil, &Error{
				Kind:    KindCardinalityMismatch,
				Detail:  fmt.Sprintf("component %d", i),
				Wrapped: err,
			}
		}
	}
	nodes := make([]*decisiontree.Tree[*linear.JacobianFactor], len(components))
	for i, component := range components {
		if component != nil {
			nodes[i] = decisiontree.NewLeaf(component)
		}
	}
	return &MixtureFactor{
		continuousKeys: append([]keys.Key(nil), continuousKeys...),
		discreteKeys:   keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...)),
		components:     decisiontree.Build(dkeys, nodes),
	}, nil
}

// NewLazyMixtureFactor builds a mixture whose components are produced on
// demand by gen and cached. Key-count validation happens the first time a
// branch is materialized.
func NewLazyMixtureFactor(continuousKeys []keys.Key, dkeys []keys.DiscreteKey, gen Generator) (*MixtureFactor, error) {
	if gen == nil {
		return nil, fmt.Errorf("lazy mixture factor: nil generator")
	}
	cache, err := lru.New[int, *linear.JacobianFactor](mixtureCacheSize)
	if err != nil {
		return nil, err
	}
	return &MixtureFactor{
		continuousKeys: append([]keys.Key(nil), continuousKeys...),
		discreteKeys:   keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...)),
		generate:       gen,
		cache:          cache,
	}, nil
}

// fromTree wraps an already-assembled component tree, used for the
// residual factors elimination pushes back into the working set. Branches
// may be nil where upstream pruning removed them.
func mixtureFromTree(continuousKeys []keys.Key, dkeys []keys.DiscreteKey, components *decisiontree.Tree[*linear.JacobianFactor]) *MixtureFactor {
	return &MixtureFactor{
		continuousKeys: append([]keys.Key(nil), continuousKeys...),
		discreteKeys:   keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...)),
		components:     components,
	}
}

// ContinuousKeys lists the continuous variables the mixture relates.
func (m *MixtureFactor) ContinuousKeys() []keys.Key {
	return append([]keys.Key(nil), m.continuousKeys...)
}

// DiscreteKeys lists the discrete variables the mixture switches on.
func (m *MixtureFactor) DiscreteKeys() []keys.DiscreteKey {
	return append([]keys.DiscreteKey(nil), m.discreteKeys...)
}

// FactorFor resolves the Gaussian factor at a discrete assignment. It
// returns nil for branches marked infeasible.
func (m *MixtureFactor) FactorFor(a keys.Assignment) (*linear.JacobianFactor, error) {
	if m.components != nil {
		f, ok := m.components.At(a)
		if !ok {
			return nil, nil
		}
		return f, nil
	}

	index := m.assignmentIndex(a)
	if cached, ok := m.cache.Get(index); ok {
		return cached, nil
	}
	f, err := m.generate(a.Restrict(m.discreteKeys))
	if err != nil {
		return nil, err
	}
	if f != nil {
		if err := checkComponentKeys(m.continuousKeys, f); err != nil {
			return nil, &Error{Kind: KindCardinalityMismatch, Assignment: a.Restrict(m.discreteKeys), Wrapped: err}
		}
	}
	m.cache.Add(index, f)
	return f, nil
}

// assignmentIndex linearizes the assignment in canonical order for use as
// a cache key.
func (m *MixtureFactor) assignmentIndex(a keys.Assignment) int {
	index, stride := 0, 1
	for _, dk := range m.discreteKeys {
		index += a[dk.Key] * stride
		stride *= dk.Cardinality
	}
	return index
}

func checkComponentKeys(declared []keys.Key, f *linear.JacobianFactor) error {
	got := f.Keys()
	if len(got) != len(declared) {
		return fmt.Errorf("component has %d continuous keys, mixture declares %d", len(got), len(declared))
	}
	for _, k := range declared {
		if !keys.ContainsKey(got, k) {
			return fmt.Errorf("component missing declared key %v", k)
		}
	}
	return nil
}
