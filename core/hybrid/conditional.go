package hybrid

import (
	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
)

// ConditionalKind tags the variant held by a Conditional.
type ConditionalKind int

const (
	ConditionalGaussian ConditionalKind = iota
	ConditionalDiscrete
	ConditionalMixture
)

// Conditional is a tagged variant over the three conditional families a
// hybrid elimination can produce.
type Conditional struct {
	kind     ConditionalKind
	gaussian *linear.Conditional
	discrete *discrete.Conditional
	mixture  *GaussianMixture
}

// NewGaussianConditional wraps a plain Gaussian conditional.
func NewGaussianConditional(c *linear.Conditional) *Conditional {
	return &Conditional{kind: ConditionalGaussian, gaussian: c}
}

// NewDiscreteConditional wraps a discrete conditional.
func NewDiscreteConditional(c *discrete.Conditional) *Conditional {
	return &Conditional{kind: ConditionalDiscrete, discrete: c}
}

// NewMixtureConditional wraps a Gaussian mixture.
func NewMixtureConditional(m *GaussianMixture) *Conditional {
	return &Conditional{kind: ConditionalMixture, mixture: m}
}

// Kind returns the variant tag.
func (c *Conditional) Kind() ConditionalKind { return c.kind }

// AsGaussian returns the Gaussian payload, nil for other kinds.
func (c *Conditional) AsGaussian() *linear.Conditional { return c.gaussian }

// AsDiscrete returns the discrete payload, nil for other kinds.
func (c *Conditional) AsDiscrete() *discrete.Conditional { return c.discrete }

// AsMixture returns the mixture payload, nil for other kinds.
func (c *Conditional) AsMixture() *GaussianMixture { return c.mixture }

// Frontals lists the conditioned variables.
func (c *Conditional) Frontals() []keys.Key {
	switch c.kind {
	case ConditionalGaussian:
		return c.gaussian.Frontals()
	case ConditionalMixture:
		return c.mixture.Frontals()
	default:
		var out []keys.Key
		for _, dk := range c.discrete.Frontals() {
			out = append(out, dk.Key)
		}
		return out
	}
}

// Parents lists the conditioning variables, discrete parents included.
func (c *Conditional) Parents() []keys.Key {
	switch c.kind {
	case ConditionalGaussian:
		return c.gaussian.Parents()
	case ConditionalMixture:
		out := c.mixture.ContinuousParents()
		for _, dk := range c.mixture.DiscreteKeys() {
			out = append(out, dk.Key)
		}
		return out
	default:
		var out []keys.Key
		for _, dk := range c.discrete.Parents() {
			out = append(out, dk.Key)
		}
		return out
	}
}

// Keys lists frontals and parents together.
func (c *Conditional) Keys() []keys.Key {
	return append(c.Frontals(), c.Parents()...)
}

// =============================================================================
// Gaussian Mixture
// =============================================================================

// GaussianMixture is a family of Gaussian conditionals over the same
// frontal and continuous parent variables, indexed by an assignment of its
// discrete keys. Branches removed by pruning are absent.
type GaussianMixture struct {
	frontals          []keys.Key
	continuousParents []keys.Key
	discreteKeys      []keys.DiscreteKey

	conditionals *decisiontree.Tree[*linear.Conditional]
}

// NewGaussianMixture assembles a mixture from a conditional tree.
func NewGaussianMixture(frontals, continuousParents []keys.Key, dkeys []keys.DiscreteKey, conditionals *decisiontree.Tree[*linear.Conditional]) *GaussianMixture {
	return &GaussianMixture{
		frontals:          append([]keys.Key(nil), frontals...),
		continuousParents: append([]keys.Key(nil), continuousParents...),
		discreteKeys:      keys.SortDiscrete(append([]keys.DiscreteKey(nil), dkeys...)),
		conditionals:      conditionals,
	}
}

// Frontals lists the conditioned continuous variables.
func (g *GaussianMixture) Frontals() []keys.Key {
	return append([]keys.Key(nil), g.frontals...)
}

// ContinuousParents lists the continuous conditioning variables.
func (g *GaussianMixture) ContinuousParents() []keys.Key {
	return append([]keys.Key(nil), g.continuousParents...)
}

// DiscreteKeys lists the discrete variables the mixture branches on.
func (g *GaussianMixture) DiscreteKeys() []keys.DiscreteKey {
	return append([]keys.DiscreteKey(nil), g.discreteKeys...)
}

// Tree exposes the underlying conditional tree.
func (g *GaussianMixture) Tree() *decisiontree.Tree[*linear.Conditional] {
	return g.conditionals
}

// ConditionalFor resolves the Gaussian conditional at a discrete
// assignment. It reports false for pruned branches.
func (g *GaussianMixture) ConditionalFor(a keys.Assignment) (*linear.Conditional, bool) {
	return g.conditionals.At(a)
}

// NrComponents counts the branches still present across the full
// assignment grid.
func (g *GaussianMixture) NrComponents() int {
	count := 0
	for _, a := range decisiontree.Assignments(g.discreteKeys) {
		if _, ok := g.conditionals.At(a); ok {
			count++
		}
	}
	return count
}

// restrictTo nulls every branch whose assignment fails keep, returning a
// new mixture sharing surviving subtrees.
func (g *GaussianMixture) restrictTo(keep func(keys.Assignment) bool) *GaussianMixture {
	tree := decisiontree.FromAssignments(g.discreteKeys, func(a keys.Assignment) *decisiontree.Tree[*linear.Conditional] {
		conditional, ok := g.conditionals.At(a)
		if !ok || !keep(a) {
			return nil
		}
		return decisiontree.NewLeaf(conditional)
	})
	return &GaussianMixture{
		frontals:          g.frontals,
		continuousParents: g.continuousParents,
		discreteKeys:      g.discreteKeys,
		conditionals:      tree,
	}
}

// asFactor converts the mixture back into an equivalent mixture factor for
// re-elimination.
func (g *GaussianMixture) asFactor() *MixtureFactor {
	continuousKeys := append(g.Frontals(), g.continuousParents...)
	components := decisiontree.Map(g.conditionals, func(c *linear.Conditional) *linear.JacobianFactor {
		return c.AsFactor()
	})
	return mixtureFromTree(continuousKeys, g.discreteKeys, components)
}

// Equal reports approximate equality of structure and every branch.
func (g *GaussianMixture) Equal(o *GaussianMixture, tol float64) bool {
	if o == nil || len(g.discreteKeys) != len(o.discreteKeys) {
		return false
	}
	for i := range g.discreteKeys {
		if g.discreteKeys[i] != o.discreteKeys[i] {
			return false
		}
	}
	for _, a := range decisiontree.Assignments(g.discreteKeys) {
		mine, okMine := g.conditionals.At(a)
		theirs, okTheirs := o.conditionals.At(a)
		if okMine != okTheirs {
			return false
		}
		if okMine && !mine.Equal(theirs, tol) {
			return false
		}
	}
	return true
}
