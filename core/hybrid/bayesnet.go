package hybrid

import (
	"fmt"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
)

// BayesNet holds the conditionals produced by sequential elimination, in
// elimination order.
type BayesNet struct {
	conditionals []*Conditional
}

func (b *BayesNet) Push(c *Conditional) {
	b.conditionals = append(b.conditionals, c)
}

func (b *BayesNet) Size() int {
	return len(b.conditionals)
}

func (b *BayesNet) At(i int) *Conditional {
	return b.conditionals[i]
}

func (b *BayesNet) Conditionals() []*Conditional {
	return b.conditionals
}

// Choose fixes every discrete variable to the given assignment and returns
// the purely Gaussian Bayes net over the continuous variables. Discrete
// conditionals drop out; each mixture contributes the component the
// assignment selects.
func (b *BayesNet) Choose(a keys.Assignment) (*linear.BayesNet, error) {
	net := &linear.BayesNet{}
	for _, c := range b.conditionals {
		gaussian, err := chooseComponent(c, a)
		if err != nil {
			return nil, err
		}
		if gaussian != nil {
			net.Push(gaussian)
		}
	}
	return net, nil
}

func chooseComponent(c *Conditional, a keys.Assignment) (*linear.Conditional, error) {
	switch c.Kind() {
	case ConditionalGaussian:
		return c.AsGaussian(), nil
	case ConditionalDiscrete:
		return nil, nil
	default:
		m := c.AsMixture()
		for _, dk := range m.DiscreteKeys() {
			if _, ok := a[dk.Key]; !ok {
				return nil, &Error{
					Kind:   KindInconsistentAssignment,
					Key:    dk.Key,
					Detail: "no value assigned",
				}
			}
		}
		gaussian, ok := m.ConditionalFor(a)
		if !ok {
			return nil, &Error{
				Kind:       KindInconsistentAssignment,
				Assignment: a.Restrict(m.DiscreteKeys()),
				Detail:     "assignment selects a pruned component",
			}
		}
		return gaussian, nil
	}
}

// ModePosterior returns the normalized joint over the modes. A discrete
// conditional stores the unnormalized product of every factor its
// elimination step saw, so the conditional covering the most modes already
// carries the full joint; it must span every discrete variable in the net.
func (b *BayesNet) ModePosterior() (*discrete.TableFactor, error) {
	var widest *discrete.TableFactor
	covered := make(map[keys.Key]struct{})
	total := make(map[keys.Key]struct{})
	for _, c := range b.conditionals {
		if c.Kind() != ConditionalDiscrete {
			continue
		}
		factor := c.AsDiscrete().Factor()
		for _, dk := range factor.Keys() {
			total[dk.Key] = struct{}{}
		}
		if widest == nil || len(factor.Keys()) > len(widest.Keys()) {
			widest = factor
		}
	}
	if widest == nil {
		return nil, fmt.Errorf("no discrete conditionals")
	}
	for _, dk := range widest.Keys() {
		covered[dk.Key] = struct{}{}
	}
	if len(covered) != len(total) {
		return nil, fmt.Errorf("no discrete conditional spans all %d modes", len(total))
	}
	return widest.Normalize(), nil
}

// Optimize picks the most probable mode assignment from the discrete
// conditionals, then back-substitutes the Gaussian net that assignment
// selects.
func (b *BayesNet) Optimize() (keys.Assignment, map[keys.Key][]float64, error) {
	var dcs []*discrete.Conditional
	for _, c := range b.conditionals {
		if c.Kind() == ConditionalDiscrete {
			dcs = append(dcs, c.AsDiscrete())
		}
	}
	modes := discrete.Optimize(dcs)
	net, err := b.Choose(modes)
	if err != nil {
		return nil, nil, err
	}
	solution, err := net.Optimize()
	if err != nil {
		return nil, nil, err
	}
	return modes, solution, nil
}

// Prune keeps the maxLeaves most probable assignments of the discrete
// conditional covering target and discards every component that only those
// assignments could not select. Sequential elimination leaves the joint on
// the widest discrete potential covering target, with narrower marginals
// behind it, so the widest one is ranked. The surviving leaves keep their
// exact values; removed joint leaves read as zero and removed mixture
// components become absent. The receiver is left untouched.
func (b *BayesNet) Prune(target keys.Key, maxLeaves int) (*BayesNet, error) {
	jointAt, width := -1, 0
	for i, c := range b.conditionals {
		if c.Kind() != ConditionalDiscrete {
			continue
		}
		dkeys := c.AsDiscrete().Factor().Keys()
		covers := false
		for _, dk := range dkeys {
			if dk.Key == target {
				covers = true
				break
			}
		}
		if covers && len(dkeys) > width {
			jointAt, width = i, len(dkeys)
		}
	}
	if jointAt == -1 {
		return nil, fmt.Errorf("prune %v: no discrete conditional over it", target)
	}

	joint := b.conditionals[jointAt].AsDiscrete()
	keep := joint.Factor().TopK(maxLeaves)
	keepFn := func(a keys.Assignment) bool {
		for _, k := range keep {
			if a.Agrees(k) {
				return true
			}
		}
		return false
	}

	pruned := &BayesNet{conditionals: make([]*Conditional, len(b.conditionals))}
	for i, c := range b.conditionals {
		switch {
		case i == jointAt:
			rewritten, err := zeroOutside(joint, keepFn)
			if err != nil {
				return nil, err
			}
			pruned.conditionals[i] = NewDiscreteConditional(rewritten)
		case c.Kind() == ConditionalMixture:
			pruned.conditionals[i] = NewMixtureConditional(c.AsMixture().restrictTo(keepFn))
		default:
			pruned.conditionals[i] = c
		}
	}
	return pruned, nil
}

// zeroOutside rewrites a discrete conditional so that leaves failing keep
// read as zero while surviving leaves keep their exact stored values.
func zeroOutside(c *discrete.Conditional, keep func(keys.Assignment) bool) (*discrete.Conditional, error) {
	factor := c.Factor()
	dkeys := factor.Keys()
	assignments := decisiontree.Assignments(dkeys)
	values := make([]float64, 0, len(assignments))
	for _, a := range assignments {
		if keep(a) {
			values = append(values, factor.Evaluate(a))
		} else {
			values = append(values, 0)
		}
	}
	rewritten, err := discrete.NewTableFactor(dkeys, values)
	if err != nil {
		return nil, err
	}
	return discrete.NewConditional(rewritten, c.Frontals()), nil
}
