package linear

import "github.com/adalundhe/switchback/core/keys"

// BayesNet is an ordered list of Gaussian conditionals in elimination
// (frontal-before-parent) order.
type BayesNet struct {
	conditionals []*Conditional
}

// Push appends a conditional produced by the next elimination step.
func (bn *BayesNet) Push(c *Conditional) {
	bn.conditionals = append(bn.conditionals, c)
}

// Size returns the number of conditionals.
func (bn *BayesNet) Size() int {
	return len(bn.conditionals)
}

// At returns the i-th conditional in elimination order.
func (bn *BayesNet) At(i int) *Conditional {
	return bn.conditionals[i]
}

// Conditionals returns the conditionals in elimination order.
func (bn *BayesNet) Conditionals() []*Conditional {
	return append([]*Conditional(nil), bn.conditionals...)
}

// Optimize back-substitutes through the net in reverse elimination order,
// producing the joint conditional mean. Every parent of every conditional
// must be a frontal of a later conditional.
func (bn *BayesNet) Optimize() (map[keys.Key][]float64, error) {
	solution := make(map[keys.Key][]float64)
	for i := len(bn.conditionals) - 1; i >= 0; i-- {
		extended, err := bn.conditionals[i].Solve(solution)
		if err != nil {
			return nil, err
		}
		solution = extended
	}
	return solution, nil
}
