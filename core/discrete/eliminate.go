package discrete

import (
	"fmt"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/keys"
)

// Policy selects the elimination semantics: Sum-Product computes marginals,
// Max-Product computes the most probable explanation.
type Policy int

const (
	SumProduct Policy = iota
	MaxProduct
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case SumProduct:
		return "sum-product"
	case MaxProduct:
		return "max-product"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Conditional is a discrete conditional over frontal keys given parent
// keys. Its potential is the unnormalized product of the factors it was
// eliminated from.
type Conditional struct {
	factor   *TableFactor
	frontals []keys.DiscreteKey
	parents  []keys.DiscreteKey
}

// NewConditional wraps a factor with a frontal/parent split. Every frontal
// and parent must appear in the factor's key set.
func NewConditional(factor *TableFactor, frontals []keys.DiscreteKey) *Conditional {
	frontalSet := make(map[keys.Key]bool, len(frontals))
	for _, dk := range frontals {
		frontalSet[dk.Key] = true
	}
	var parents []keys.DiscreteKey
	for _, dk := range factor.Keys() {
		if !frontalSet[dk.Key] {
			parents = append(parents, dk)
		}
	}
	return &Conditional{
		factor:   factor,
		frontals: keys.SortDiscrete(append([]keys.DiscreteKey(nil), frontals...)),
		parents:  parents,
	}
}

// Frontals returns the conditioned keys.
func (c *Conditional) Frontals() []keys.DiscreteKey {
	return append([]keys.DiscreteKey(nil), c.frontals...)
}

// Parents returns the conditioning keys.
func (c *Conditional) Parents() []keys.DiscreteKey {
	return append([]keys.DiscreteKey(nil), c.parents...)
}

// Factor exposes the underlying potential.
func (c *Conditional) Factor() *TableFactor {
	return c.factor
}

// Evaluate returns the potential at a full assignment.
func (c *Conditional) Evaluate(a keys.Assignment) float64 {
	return c.factor.Evaluate(a)
}

// Eliminate removes the frontal keys from the product of the given factors.
// The conditional keeps the raw product; the returned factor is its sum-
// or max-marginal over the frontal keys, nil when no parent keys remain.
func Eliminate(factors []*TableFactor, frontals []keys.DiscreteKey, policy Policy) (*Conditional, *TableFactor, error) {
	if len(factors) == 0 {
		return nil, nil, fmt.Errorf("discrete eliminate: no factors")
	}
	product := factors[0]
	for _, f := range factors[1:] {
		product = product.Mul(f)
	}
	for _, frontal := range frontals {
		found := false
		for _, dk := range product.Keys() {
			if dk.Key == frontal.Key {
				found = true
				break
			}
		}
		if !found {
			// The frontal never appears: extend the product with a uniform
			// branch so the conditional still covers it.
			ones := make([]float64, frontal.Cardinality)
			for i := range ones {
				ones[i] = 1
			}
			uniform, err := NewTableFactor([]keys.DiscreteKey{frontal}, ones)
			if err != nil {
				return nil, nil, err
			}
			product = product.Mul(uniform)
		}
	}

	conditional := NewConditional(product, frontals)
	if len(conditional.parents) == 0 {
		return conditional, nil, nil
	}
	marginal := product
	for _, frontal := range frontals {
		marginal = marginal.Marginalize(frontal, policy)
	}
	return conditional, marginal, nil
}

// Optimize extracts the most probable assignment from conditionals listed
// in elimination order, by argmax back-substitution in reverse. Ties take
// the canonically first assignment.
func Optimize(conditionals []*Conditional) keys.Assignment {
	chosen := keys.Assignment{}
	for i := len(conditionals) - 1; i >= 0; i-- {
		c := conditionals[i]
		restricted := c.factor.Tree().Restrict(chosen.Restrict(c.parents))
		best, bestMass := keys.Assignment(nil), -1.0
		for _, a := range decisiontree.Assignments(c.frontals) {
			v, ok := restricted.At(a)
			if ok && v > bestMass {
				best, bestMass = a, v
			}
		}
		for k, v := range best {
			chosen[k] = v
		}
	}
	return chosen
}
