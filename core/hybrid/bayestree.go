package hybrid

import (
	"fmt"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
)

// ============================================================
// Cliques
// ============================================================

// Clique is one node of a Bayes tree: a conditional over its frontal
// variables given the separator it shares with its parent.
type Clique struct {
	conditional *Conditional
	parent      *Clique
	children    []*Clique
}

func (c *Clique) Conditional() *Conditional {
	return c.conditional
}

func (c *Clique) Parent() *Clique {
	return c.parent
}

func (c *Clique) Children() []*Clique {
	return append([]*Clique(nil), c.children...)
}

// Frontals lists the variables this clique owns.
func (c *Clique) Frontals() []keys.Key {
	return c.conditional.Frontals()
}

// Separator lists the variables shared with the parent clique.
func (c *Clique) Separator() []keys.Key {
	return c.conditional.Parents()
}

func (c *Clique) keySet() map[keys.Key]struct{} {
	set := make(map[keys.Key]struct{})
	for _, k := range c.conditional.Keys() {
		set[k] = struct{}{}
	}
	return set
}

// ============================================================
// Bayes tree
// ============================================================

// BayesTree is the clique tree produced by multifrontal elimination.
type BayesTree struct {
	roots []*Clique
	index map[keys.Key]*Clique
}

// Size returns the number of cliques.
func (t *BayesTree) Size() int {
	count := 0
	t.walk(func(*Clique) { count++ })
	return count
}

// Roots returns the root cliques.
func (t *BayesTree) Roots() []*Clique {
	return append([]*Clique(nil), t.roots...)
}

// CliqueFor returns the clique owning k as a frontal, or nil.
func (t *BayesTree) CliqueFor(k keys.Key) *Clique {
	return t.index[k]
}

func (t *BayesTree) walk(visit func(*Clique)) {
	var rec func(c *Clique)
	rec = func(c *Clique) {
		visit(c)
		for _, child := range c.children {
			rec(child)
		}
	}
	for _, root := range t.roots {
		rec(root)
	}
}

// Conditionals returns every clique conditional with children listed
// before their parents, so the slice is valid elimination order.
func (t *BayesTree) Conditionals() []*Conditional {
	var ordered []*Conditional
	var rec func(c *Clique)
	rec = func(c *Clique) {
		for _, child := range c.children {
			rec(child)
		}
		ordered = append(ordered, c.conditional)
	}
	for _, root := range t.roots {
		rec(root)
	}
	return ordered
}

// asBayesNet flattens the tree into an equivalent sequential net.
func (t *BayesTree) asBayesNet() *BayesNet {
	return &BayesNet{conditionals: t.Conditionals()}
}

// Choose fixes the discrete variables and returns the Gaussian net the
// assignment selects.
func (t *BayesTree) Choose(a keys.Assignment) (*linear.BayesNet, error) {
	return t.asBayesNet().Choose(a)
}

// Optimize solves for the most probable modes and the continuous solution
// under them.
func (t *BayesTree) Optimize() (keys.Assignment, map[keys.Key][]float64, error) {
	return t.asBayesNet().Optimize()
}

// ModePosterior returns the normalized distribution over every discrete
// mode in the tree.
func (t *BayesTree) ModePosterior() (*discrete.TableFactor, error) {
	return t.asBayesNet().ModePosterior()
}

// Prune keeps the maxLeaves most probable assignments of the discrete
// clique owning target. The clique's joint keeps its exact surviving
// values with every other leaf zeroed; mixture cliques lose the components
// no surviving assignment can select. Returns a new tree with the same
// clique structure; the receiver is untouched.
func (t *BayesTree) Prune(target keys.Key, maxLeaves int) (*BayesTree, error) {
	owner := t.index[target]
	if owner == nil || owner.conditional.Kind() != ConditionalDiscrete {
		return nil, fmt.Errorf("prune %v: no discrete clique over it", target)
	}
	joint := owner.conditional.AsDiscrete()
	keep := joint.Factor().TopK(maxLeaves)
	keepFn := func(a keys.Assignment) bool {
		for _, k := range keep {
			if a.Agrees(k) {
				return true
			}
		}
		return false
	}

	pruned := &BayesTree{index: make(map[keys.Key]*Clique)}
	var clone func(c *Clique, parent *Clique) (*Clique, error)
	clone = func(c *Clique, parent *Clique) (*Clique, error) {
		conditional := c.conditional
		switch {
		case c == owner:
			rewritten, err := zeroOutside(joint, keepFn)
			if err != nil {
				return nil, err
			}
			conditional = NewDiscreteConditional(rewritten)
		case conditional.Kind() == ConditionalMixture:
			conditional = NewMixtureConditional(conditional.AsMixture().restrictTo(keepFn))
		}
		copied := &Clique{conditional: conditional, parent: parent}
		indexClique(pruned, copied, conditional.Frontals())
		for _, child := range c.children {
			copiedChild, err := clone(child, copied)
			if err != nil {
				return nil, err
			}
			copied.children = append(copied.children, copiedChild)
		}
		return copied, nil
	}
	for _, root := range t.roots {
		copied, err := clone(root, nil)
		if err != nil {
			return nil, err
		}
		pruned.roots = append(pruned.roots, copied)
	}
	return pruned, nil
}

// ============================================================
// Multifrontal elimination
// ============================================================

// EliminateMultifrontal eliminates every variable in the ordering into a
// Bayes tree, requiring the graph to be fully consumed. An empty ordering
// falls back to DefaultOrdering.
func (g *FactorGraph) EliminateMultifrontal(ordering Ordering, policy Policy) (*BayesTree, error) {
	if len(ordering) == 0 {
		ordering = DefaultOrdering(g)
	}
	tree, remaining, err := g.EliminatePartialMultifrontal(ordering, policy)
	if err != nil {
		return nil, err
	}
	if remaining.Size() > 0 {
		return nil, fmt.Errorf("ordering covers %d variables: %d factors remain", len(ordering), remaining.Size())
	}
	return tree, nil
}

// EliminatePartialMultifrontal eliminates exactly the variables in the
// ordering. Consecutive discrete variables are eliminated jointly; cliques
// whose separator was not eliminated become roots. Returns the tree and
// the factor graph over the variables left behind.
func (g *FactorGraph) EliminatePartialMultifrontal(ordering Ordering, policy Policy) (*BayesTree, *FactorGraph, error) {
	blocks := ordering.split(g.discreteKeyOf, true)

	steps := make([]*Conditional, 0, len(blocks))
	working := append([]*Factor(nil), g.factors...)
	for _, blk := range blocks {
		conditional, rest, err := eliminateBlock(working, blk, policy)
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, conditional)
		working = rest
	}

	tree := assembleTree(steps)
	return tree, &FactorGraph{factors: working}, nil
}

// assembleTree builds cliques from the per-step conditionals. Steps are
// visited last-eliminated first, so a step's parent clique always exists
// before the step itself is placed. A step merges into its parent clique
// when its separator equals the parent clique's full variable set; a
// continuous step never merges into a discrete clique.
func assembleTree(steps []*Conditional) *BayesTree {
	stepOwner := make(map[keys.Key]int)
	for i, c := range steps {
		for _, k := range c.Frontals() {
			stepOwner[k] = i
		}
	}

	tree := &BayesTree{index: make(map[keys.Key]*Clique)}
	cliqueOf := make([]*Clique, len(steps))
	for i := len(steps) - 1; i >= 0; i-- {
		c := steps[i]

		parentStep := -1
		for _, k := range c.Parents() {
			if owner, ok := stepOwner[k]; ok && (parentStep == -1 || owner < parentStep) {
				parentStep = owner
			}
		}

		if parentStep == -1 {
			clique := &Clique{conditional: c}
			tree.roots = append(tree.roots, clique)
			cliqueOf[i] = clique
			indexClique(tree, clique, c.Frontals())
			continue
		}

		parent := cliqueOf[parentStep]
		if shouldMerge(c, parent) {
			merged, err := combineConditionals(c, parent.conditional)
			if err != nil {
				// Separator equality guarantees compatible shapes.
				panic(err)
			}
			parent.conditional = merged
			cliqueOf[i] = parent
			indexClique(tree, parent, c.Frontals())
			continue
		}

		clique := &Clique{conditional: c, parent: parent}
		parent.children = append(parent.children, clique)
		cliqueOf[i] = clique
		indexClique(tree, clique, c.Frontals())
	}
	return tree
}

func indexClique(tree *BayesTree, clique *Clique, frontals []keys.Key) {
	for _, k := range frontals {
		tree.index[k] = clique
	}
}

// shouldMerge applies the clique merge rule: the child's separator must
// cover the parent clique's entire variable set, and a continuous child
// never joins a discrete clique.
func shouldMerge(child *Conditional, parent *Clique) bool {
	if child.Kind() == ConditionalDiscrete || parent.conditional.Kind() == ConditionalDiscrete {
		return false
	}
	parentKeys := parent.keySet()
	separator := child.Parents()
	if len(separator) != len(parentKeys) {
		return false
	}
	for _, k := range separator {
		if _, ok := parentKeys[k]; !ok {
			return false
		}
	}
	return true
}

// combineConditionals stacks a conditional on top of the one it was
// conditioned on, producing the joint conditional over both frontal sets.
// Mixtures combine branchwise over the union of their discrete keys.
func combineConditionals(top, bottom *Conditional) (*Conditional, error) {
	if top.Kind() == ConditionalGaussian && bottom.Kind() == ConditionalGaussian {
		combined, err := linear.Combine(top.AsGaussian(), bottom.AsGaussian())
		if err != nil {
			return nil, err
		}
		return NewGaussianConditional(combined), nil
	}

	topTree, topKeys := asMixtureTree(top)
	bottomTree, bottomKeys := asMixtureTree(bottom)

	var combineErr error
	combined := decisiontree.Combine(topTree, bottomTree, func(a, b *linear.Conditional) *linear.Conditional {
		stacked, err := linear.Combine(a, b)
		if err != nil && combineErr == nil {
			combineErr = err
		}
		return stacked
	})
	if combineErr != nil {
		return nil, combineErr
	}

	dkeys := keys.UnionDiscrete(topKeys, bottomKeys)
	frontals := append(top.Frontals(), bottom.Frontals()...)
	parents := continuousParentsOf(combined, dkeys)
	return NewMixtureConditional(NewGaussianMixture(frontals, parents, dkeys, combined)), nil
}

// asMixtureTree views a Gaussian or mixture conditional as a decision tree
// of Gaussian components.
func asMixtureTree(c *Conditional) (*decisiontree.Tree[*linear.Conditional], []keys.DiscreteKey) {
	if c.Kind() == ConditionalGaussian {
		return decisiontree.NewLeaf(c.AsGaussian()), nil
	}
	m := c.AsMixture()
	return m.Tree(), m.DiscreteKeys()
}

// continuousParentsOf reads the parent keys off any surviving component.
func continuousParentsOf(tree *decisiontree.Tree[*linear.Conditional], dkeys []keys.DiscreteKey) []keys.Key {
	for _, a := range decisiontree.Assignments(dkeys) {
		if component, ok := tree.At(a); ok {
			return component.Parents()
		}
	}
	return nil
}
