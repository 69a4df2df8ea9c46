package hybrid

import (
	"errors"
	"fmt"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
	"gonum.org/v1/gonum/mat"
)

// Policy re-exports the discrete elimination policy for callers of this
// package.
type Policy = discrete.Policy

const (
	SumProduct = discrete.SumProduct
	MaxProduct = discrete.MaxProduct
)

// EliminateContinuous removes a block of frontal continuous variables from
// the given factors. It returns the produced conditional (a Gaussian
// mixture when any mixture factor participates, a plain Gaussian
// conditional otherwise) and the residual factors to push back into the
// working set.
func EliminateContinuous(factors []*Factor, frontals []keys.Key) (*Conditional, []*Factor, error) {
	var continuousOnly []*linear.JacobianFactor
	var discreteOnly []*discrete.TableFactor
	var mixtures []*MixtureFactor
	for _, f := range factors {
		switch f.Kind() {
		case FactorContinuous:
			continuousOnly = append(continuousOnly, f.Continuous())
		case FactorDiscrete:
			discreteOnly = append(discreteOnly, f.Discrete())
		case FactorMixture:
			mixtures = append(mixtures, f.Mixture())
		}
	}

	dkeys := make([][]keys.DiscreteKey, 0, len(mixtures))
	for _, m := range mixtures {
		dkeys = append(dkeys, m.DiscreteKeys())
	}
	modes := keys.UnionDiscrete(dkeys...)

	if len(modes) == 0 {
		conditional, residuals, err := eliminatePlain(continuousOnly, frontals)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range discreteOnly {
			residuals = append(residuals, NewDiscreteFactor(d))
		}
		return conditional, residuals, nil
	}

	assignments := decisiontree.Assignments(modes)
	conditionals := make([]*decisiontree.Tree[*linear.Conditional], len(assignments))
	remainders := make([]*decisiontree.Tree[*linear.JacobianFactor], len(assignments))
	scalars := make([]float64, len(assignments))

	var separator []keys.Key
	informative := false
	anyRemaining := false
	for i, a := range assignments {
		branch := append([]*linear.JacobianFactor(nil), continuousOnly...)
		feasible := true
		for _, m := range mixtures {
			component, err := m.FactorFor(a)
			if err != nil {
				return nil, nil, err
			}
			if component == nil {
				feasible = false
				break
			}
			branch = append(branch, component)
		}
		if !feasible {
			informative = true
			continue
		}

		result, err := linear.Eliminate(branch, frontals)
		if err != nil {
			if errors.Is(err, linear.ErrSingular) {
				return nil, nil, &Error{Kind: KindSingularElimination, Assignment: a, Wrapped: err}
			}
			return nil, nil, err
		}
		conditionals[i] = decisiontree.NewLeaf(result.Conditional)
		if result.Remaining != nil {
			remainders[i] = decisiontree.NewLeaf(result.Remaining)
			anyRemaining = true
		}
		scalars[i] = result.Scalar
		if result.Scalar != 1 {
			informative = true
		}
		separator = result.Conditional.Parents()
	}

	mixture := NewGaussianMixture(frontals, separator, modes, decisiontree.Build(modes, conditionals))

	var residuals []*Factor
	if anyRemaining {
		// A feasible branch without leftover rows still needs a present
		// leaf, or later products would treat it as infeasible. A single
		// zero row carries no information.
		var template *linear.JacobianFactor
		for i := range assignments {
			if remainders[i] != nil {
				template, _ = remainders[i].Value()
				break
			}
		}
		filler := decisiontree.NewLeaf(zeroRowFactor(template))
		for i := range assignments {
			if conditionals[i] != nil && remainders[i] == nil {
				remainders[i] = filler
			}
		}
		residuals = append(residuals, NewMixtureHybridFactor(
			mixtureFromTree(separator, modes, decisiontree.Build(modes, remainders)),
		))
	}

	if informative || len(discreteOnly) > 0 {
		residual, err := discrete.NewTableFactor(modes, scalars)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range discreteOnly {
			residual = residual.Mul(d)
		}
		residuals = append(residuals, NewDiscreteFactor(residual))
	}

	return NewMixtureConditional(mixture), residuals, nil
}

func eliminatePlain(factors []*linear.JacobianFactor, frontals []keys.Key) (*Conditional, []*Factor, error) {
	if len(factors) == 0 {
		return nil, nil, fmt.Errorf("eliminate %v: no factors", frontals)
	}
	result, err := linear.Eliminate(factors, frontals)
	if err != nil {
		if errors.Is(err, linear.ErrSingular) {
			return nil, nil, &Error{Kind: KindSingularElimination, Wrapped: err}
		}
		return nil, nil, err
	}
	var residuals []*Factor
	if result.Remaining != nil {
		residuals = append(residuals, NewContinuousFactor(result.Remaining))
	}
	// With no discrete keys in play the scalar is a constant of the joint
	// and carries no information about any variable; drop it.
	return NewGaussianConditional(result.Conditional), residuals, nil
}

// EliminateDiscrete removes a block of frontal discrete variables. Every
// participating factor must be purely discrete: a mixture factor here
// means a continuous variable still depends on these modes, which violates
// the elimination ordering.
func EliminateDiscrete(factors []*Factor, frontals []keys.DiscreteKey, policy Policy) (*Conditional, []*Factor, error) {
	var tables []*discrete.TableFactor
	for _, f := range factors {
		if f.Kind() != FactorDiscrete {
			return nil, nil, &Error{
				Kind:   KindOrderingViolation,
				Detail: fmt.Sprintf("eliminating %v with continuous dependencies pending", frontalNames(frontals)),
			}
		}
		tables = append(tables, f.Discrete())
	}
	conditional, residual, err := discrete.Eliminate(tables, frontals, policy)
	if err != nil {
		return nil, nil, err
	}
	var residuals []*Factor
	if residual != nil {
		residuals = append(residuals, NewDiscreteFactor(residual))
	}
	return NewDiscreteConditional(conditional), residuals, nil
}

func frontalNames(frontals []keys.DiscreteKey) []keys.Key {
	out := make([]keys.Key, len(frontals))
	for i, dk := range frontals {
		out[i] = dk.Key
	}
	return out
}

// zeroRowFactor builds an informationless single row over the same
// variables as the template factor.
func zeroRowFactor(template *linear.JacobianFactor) *linear.JacobianFactor {
	tkeys := template.Keys()
	terms := make([]linear.Term, len(tkeys))
	for i, k := range tkeys {
		terms[i] = linear.Term{Key: k, A: mat.NewDense(1, template.Width(k), nil)}
	}
	f, err := linear.NewJacobian([]float64{0}, terms...)
	if err != nil {
		panic(err)
	}
	return f
}
