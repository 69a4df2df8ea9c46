package hybrid

import (
	"fmt"
	"log/slog"

	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
)

// SmootherConfig tunes incremental inference.
type SmootherConfig struct {
	// Policy selects sum-product or max-product discrete elimination.
	Policy Policy
}

func DefaultSmootherConfig() SmootherConfig {
	return SmootherConfig{Policy: SumProduct}
}

// Smoother maintains a Bayes tree across incremental updates. Each Update
// re-eliminates only the cliques the new factors touch, together with
// their ancestors; untouched subtrees are grafted back unchanged.
type Smoother struct {
	tree   *BayesTree
	policy Policy
}

func NewSmoother(config SmootherConfig) *Smoother {
	return &Smoother{
		tree:   &BayesTree{index: make(map[keys.Key]*Clique)},
		policy: config.Policy,
	}
}

// Tree returns the current Bayes tree.
func (s *Smoother) Tree() *BayesTree {
	return s.tree
}

// Size returns the current number of cliques.
func (s *Smoother) Size() int {
	return s.tree.Size()
}

// CliqueFor returns the clique owning k, or nil.
func (s *Smoother) CliqueFor(k keys.Key) *Clique {
	return s.tree.CliqueFor(k)
}

// Update folds new factors into the tree. The affected cliques and every
// ancestor up to their roots are converted back into factors and
// re-eliminated together with the new ones; subtrees hanging off removed
// cliques are re-attached afterwards. On error the smoother is unchanged.
func (s *Smoother) Update(factors ...*Factor) error {
	if len(factors) == 0 {
		return nil
	}

	removed := s.affectedCliques(factors)
	refactored := make([]*Factor, 0, len(removed)+len(factors))
	s.tree.walk(func(clique *Clique) {
		if _, gone := removed[clique]; gone {
			refactored = append(refactored, conditionalAsFactor(clique.conditional))
		}
	})
	refactored = append(refactored, factors...)

	orphans := s.collectOrphans(removed)

	regraph := NewFactorGraph(refactored...)
	ordering := DefaultOrdering(regraph)
	tree, remaining, err := regraph.EliminatePartialMultifrontal(ordering, s.policy)
	if err != nil {
		return err
	}
	if remaining.Size() > 0 {
		return fmt.Errorf("smoother update left %d factors uneliminated", remaining.Size())
	}

	position := make(map[keys.Key]int, len(ordering))
	for i, k := range ordering {
		position[k] = i
	}
	for _, orphan := range orphans {
		graft(tree, orphan, position)
	}

	slog.Debug("smoother update",
		slog.Int("new_factors", len(factors)),
		slog.Int("removed_cliques", len(removed)),
		slog.Int("orphans", len(orphans)),
		slog.Int("cliques", tree.Size()))

	s.tree = tree
	return nil
}

// Prune keeps the maxLeaves most probable mode assignments, replacing the
// tree. On error the smoother is unchanged.
func (s *Smoother) Prune(target keys.Key, maxLeaves int) error {
	pruned, err := s.tree.Prune(target, maxLeaves)
	if err != nil {
		return err
	}
	slog.Debug("smoother prune",
		slog.String("target", target.String()),
		slog.Int("max_leaves", maxLeaves),
		slog.Int("cliques", pruned.Size()))
	s.tree = pruned
	return nil
}

// Optimize solves for the most probable modes and the continuous solution
// under them.
func (s *Smoother) Optimize() (keys.Assignment, map[keys.Key][]float64, error) {
	return s.tree.Optimize()
}

// ModePosterior returns the normalized distribution over the discrete
// modes of the current tree.
func (s *Smoother) ModePosterior() (*discrete.TableFactor, error) {
	return s.tree.ModePosterior()
}

// affectedCliques marks every clique owning a variable the new factors
// touch, then closes the set over parents.
func (s *Smoother) affectedCliques(factors []*Factor) map[*Clique]struct{} {
	removed := make(map[*Clique]struct{})
	mark := func(clique *Clique) {
		for clique != nil {
			if _, done := removed[clique]; done {
				return
			}
			removed[clique] = struct{}{}
			clique = clique.parent
		}
	}
	for _, f := range factors {
		for _, k := range f.ContinuousKeys() {
			if clique := s.tree.CliqueFor(k); clique != nil {
				mark(clique)
			}
		}
		for _, dk := range f.DiscreteKeys() {
			if clique := s.tree.CliqueFor(dk.Key); clique != nil {
				mark(clique)
			}
		}
	}
	return removed
}

// collectOrphans finds the subtrees left hanging once the removed cliques
// go: every surviving clique whose parent is removed, plus surviving
// roots.
func (s *Smoother) collectOrphans(removed map[*Clique]struct{}) []*Clique {
	var orphans []*Clique
	s.tree.walk(func(clique *Clique) {
		if _, gone := removed[clique]; gone {
			return
		}
		if clique.parent == nil {
			orphans = append(orphans, clique)
			return
		}
		if _, gone := removed[clique.parent]; gone {
			orphans = append(orphans, clique)
		}
	})
	return orphans
}

// graft attaches an orphan subtree under the clique owning its
// first-eliminated separator key, or as a new root when the separator is
// empty, then folds the subtree into the index.
func graft(tree *BayesTree, orphan *Clique, position map[keys.Key]int) {
	var parent *Clique
	best := -1
	for _, k := range orphan.Separator() {
		pos, eliminated := position[k]
		if !eliminated {
			continue
		}
		if best == -1 || pos < best {
			best = pos
			parent = tree.index[k]
		}
	}

	orphan.parent = parent
	if parent == nil {
		tree.roots = append(tree.roots, orphan)
	} else {
		parent.children = append(parent.children, orphan)
	}

	var index func(c *Clique)
	index = func(c *Clique) {
		indexClique(tree, c, c.Frontals())
		for _, child := range c.children {
			index(child)
		}
	}
	index(orphan)
}

// conditionalAsFactor converts a removed clique conditional back into a
// factor for re-elimination.
func conditionalAsFactor(c *Conditional) *Factor {
	switch c.Kind() {
	case ConditionalGaussian:
		return NewContinuousFactor(c.AsGaussian().AsFactor())
	case ConditionalDiscrete:
		return NewDiscreteFactor(c.AsDiscrete().Factor())
	default:
		return NewMixtureHybridFactor(c.AsMixture().asFactor())
	}
}
