package hybrid

import (
	"testing"

	"github.com/adalundhe/switchback/core/decisiontree"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEliminateMultifrontal_CliqueStructure(t *testing.T) {
	s := newSwitching(t, 3)

	tree, err := s.graph().EliminateMultifrontal(nil, SumProduct)
	require.NoError(t, err)
	require.Equal(t, 3, tree.Size())

	// x2 merges into the clique eliminating x3: its separator {x3, m1,
	// m2} covers that clique entirely.
	x2Clique := tree.CliqueFor(xk(2))
	require.NotNil(t, x2Clique)
	assert.Same(t, x2Clique, tree.CliqueFor(xk(3)))
	assert.Equal(t, []keys.Key{xk(2), xk(3)}, x2Clique.Frontals())
	assert.ElementsMatch(t, []keys.Key{mk(1).Key, mk(2).Key}, x2Clique.Separator())

	// x1's separator {x2, m1} does not cover {x2, x3, m1, m2}, so it
	// stays its own clique.
	x1Clique := tree.CliqueFor(xk(1))
	require.NotNil(t, x1Clique)
	assert.NotSame(t, x1Clique, x2Clique)
	assert.Same(t, x2Clique, x1Clique.Parent())

	// The discrete suffix forms one root clique; the continuous clique
	// below it never merges across the kind boundary.
	mClique := tree.CliqueFor(mk(1).Key)
	require.NotNil(t, mClique)
	assert.Same(t, mClique, tree.CliqueFor(mk(2).Key))
	assert.Nil(t, mClique.Parent())
	require.Equal(t, ConditionalDiscrete, mClique.Conditional().Kind())

	joint := mClique.Conditional().AsDiscrete().Factor()
	assert.InDelta(t, 0.0619233, joint.Evaluate(assign(1, 0, 2, 0)), 1e-5)
	assert.InDelta(t, 0.183743, joint.Evaluate(assign(1, 1, 2, 0)), 1e-5)
	assert.InDelta(t, 0.204159, joint.Evaluate(assign(1, 0, 2, 1)), 1e-5)
	assert.InDelta(t, 0.2, joint.Evaluate(assign(1, 1, 2, 1)), 1e-5)
}

func TestMultifrontal_MatchesSequential(t *testing.T) {
	s := newSwitching(t, 3)

	net, err := s.graph().EliminateSequential(nil, SumProduct)
	require.NoError(t, err)
	tree, err := s.graph().EliminateMultifrontal(nil, SumProduct)
	require.NoError(t, err)

	// Both factorizations describe the same density: fixing the modes and
	// back-substituting must agree for every assignment.
	for _, a := range decisiontree.Assignments([]keys.DiscreteKey{mk(1), mk(2)}) {
		fromNet, err := net.Choose(a)
		require.NoError(t, err)
		xNet, err := fromNet.Optimize()
		require.NoError(t, err)

		fromTree, err := tree.Choose(a)
		require.NoError(t, err)
		xTree, err := fromTree.Optimize()
		require.NoError(t, err)

		for k := 1; k <= 3; k++ {
			require.Len(t, xTree[xk(k)], 1)
			assert.InDelta(t, xNet[xk(k)][0], xTree[xk(k)][0], 1e-9, "assignment %v, x%d", a, k)
		}
	}
}

// The 4-step chain has 8 mode assignments; keeping the best 5 zeroes the
// three least probable leaves and drops the matching mixture components.
func TestBayesTree_PruneKeepsTopAssignments(t *testing.T) {
	s := newSwitching(t, 4)
	// Continuous chain plus the mode prior, no mode transitions.
	graph := NewFactorGraph(s.factors[:8]...)

	tree, err := graph.EliminateMultifrontal(nil, SumProduct)
	require.NoError(t, err)
	require.Equal(t, 4, tree.Size())

	mClique := tree.CliqueFor(mk(3).Key)
	require.NotNil(t, mClique)
	joint := mClique.Conditional().AsDiscrete().Factor()

	expected := map[[3]int]float64{
		{0, 0, 0}: 0.11267528,
		{1, 0, 0}: 0.18576102,
		{0, 1, 0}: 0.18754662,
		{1, 1, 0}: 0.30623871,
		{0, 0, 1}: 0.18576102,
		{1, 0, 1}: 0.30622428,
		{0, 1, 1}: 0.30623871,
		{1, 1, 1}: 0.5,
	}
	for modes, value := range expected {
		a := assign(1, modes[0], 2, modes[1], 3, modes[2])
		assert.InDelta(t, value, joint.Evaluate(a), 1e-6, "modes %v", modes)
	}

	pruned, err := tree.Prune(mk(3).Key, 5)
	require.NoError(t, err)

	prunedJoint := pruned.CliqueFor(mk(3).Key).Conditional().AsDiscrete().Factor()
	assert.Equal(t, 5, prunedJoint.CountNonzero())

	// The original tree is untouched.
	assert.Equal(t, 8, joint.CountNonzero())

	lastClique := pruned.CliqueFor(xk(4))
	require.Equal(t, ConditionalMixture, lastClique.Conditional().Kind())
	lastMixture := lastClique.Conditional().AsMixture()
	unprunedMixture := tree.CliqueFor(xk(4)).Conditional().AsMixture()

	for modes := range expected {
		a := assign(1, modes[0], 2, modes[1], 3, modes[2])
		value := prunedJoint.Evaluate(a)
		component, ok := lastMixture.ConditionalFor(a)
		if value == 0 {
			assert.False(t, ok, "modes %v must be pruned", modes)
			continue
		}
		// Survivors keep their exact stored values and components.
		assert.Equal(t, joint.Evaluate(a), value, "modes %v", modes)
		require.True(t, ok)
		original, ok := unprunedMixture.ConditionalFor(a)
		require.True(t, ok)
		assert.Same(t, original, component, "modes %v", modes)
	}
	assert.Equal(t, 5, lastMixture.NrComponents())
}

func TestBayesTree_ChooseRejectsPrunedBranch(t *testing.T) {
	s := newSwitching(t, 4)
	graph := NewFactorGraph(s.factors[:8]...)

	tree, err := graph.EliminateMultifrontal(nil, SumProduct)
	require.NoError(t, err)
	pruned, err := tree.Prune(mk(3).Key, 5)
	require.NoError(t, err)

	// (0,0,0) is the weakest assignment and always goes first.
	_, err = pruned.Choose(assign(1, 0, 2, 0, 3, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKind(KindInconsistentAssignment))

	// The best assignment survives.
	solution, err := pruned.Choose(assign(1, 1, 2, 1, 3, 1))
	require.NoError(t, err)
	x, err := solution.Optimize()
	require.NoError(t, err)
	for k := 1; k <= 4; k++ {
		assert.InDelta(t, -1.0, x[xk(k)][0], 1e-6)
	}
}
