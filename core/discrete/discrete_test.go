package discrete

import (
	"testing"

	"github.com/adalundhe/switchback/core/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	m1 = keys.Binary(keys.Symbol('m', 1))
	m2 = keys.Binary(keys.Symbol('m', 2))
)

func modePrior(t *testing.T) *TableFactor {
	t.Helper()
	f, err := NewTableFactor([]keys.DiscreteKey{m1}, []float64{0.5, 0.5})
	require.NoError(t, err)
	return f
}

func modeTransition(t *testing.T) *TableFactor {
	t.Helper()
	// P(m2 | m1): canonical order, m1 varies fastest.
	f, err := NewTableFactor([]keys.DiscreteKey{m1, m2}, []float64{1.0 / 3, 0.6, 2.0 / 3, 0.4})
	require.NoError(t, err)
	return f
}

func TestTableFactor_Evaluate(t *testing.T) {
	f := modeTransition(t)
	assert.InDelta(t, 1.0/3, f.Evaluate(keys.Assignment{m1.Key: 0, m2.Key: 0}), 1e-12)
	assert.InDelta(t, 0.6, f.Evaluate(keys.Assignment{m1.Key: 1, m2.Key: 0}), 1e-12)
	assert.InDelta(t, 2.0/3, f.Evaluate(keys.Assignment{m1.Key: 0, m2.Key: 1}), 1e-12)
	assert.InDelta(t, 0.4, f.Evaluate(keys.Assignment{m1.Key: 1, m2.Key: 1}), 1e-12)
}

func TestTableFactor_MulExpandsKeys(t *testing.T) {
	joint := modePrior(t).Mul(modeTransition(t))
	assert.Len(t, joint.Keys(), 2)
	assert.InDelta(t, 0.5*2.0/3, joint.Evaluate(keys.Assignment{m1.Key: 0, m2.Key: 1}), 1e-12)
	assert.InDelta(t, 1.0, joint.Sum(), 1e-12)
}

func TestEliminate_ConditionalKeepsRawProduct(t *testing.T) {
	conditional, residual, err := Eliminate(
		[]*TableFactor{modePrior(t), modeTransition(t)},
		[]keys.DiscreteKey{m1},
		SumProduct,
	)
	require.NoError(t, err)

	// Unnormalized semantics: the conditional stores the product itself.
	assert.InDelta(t, 0.5/3, conditional.Evaluate(keys.Assignment{m1.Key: 0, m2.Key: 0}), 1e-12)
	assert.Equal(t, []keys.DiscreteKey{m1}, conditional.Frontals())
	assert.Equal(t, []keys.DiscreteKey{m2}, conditional.Parents())

	require.NotNil(t, residual)
	// Sum marginal over m1.
	assert.InDelta(t, 0.5/3+0.3, residual.Evaluate(keys.Assignment{m2.Key: 0}), 1e-12)
	assert.InDelta(t, 0.5*2.0/3+0.2, residual.Evaluate(keys.Assignment{m2.Key: 1}), 1e-12)
}

func TestEliminate_MaxProduct(t *testing.T) {
	_, residual, err := Eliminate(
		[]*TableFactor{modePrior(t), modeTransition(t)},
		[]keys.DiscreteKey{m1},
		MaxProduct,
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, residual.Evaluate(keys.Assignment{m2.Key: 0}), 1e-12)
	assert.InDelta(t, 0.5*2.0/3, residual.Evaluate(keys.Assignment{m2.Key: 1}), 1e-12)
}

func TestEliminate_AllFrontalsNoResidual(t *testing.T) {
	conditional, residual, err := Eliminate(
		[]*TableFactor{modePrior(t), modeTransition(t)},
		[]keys.DiscreteKey{m1, m2},
		SumProduct,
	)
	require.NoError(t, err)
	assert.Nil(t, residual)
	assert.Empty(t, conditional.Parents())
}

func TestOptimize_PicksJointArgmax(t *testing.T) {
	conditional, residual, err := Eliminate(
		[]*TableFactor{modePrior(t), modeTransition(t)},
		[]keys.DiscreteKey{m1},
		MaxProduct,
	)
	require.NoError(t, err)
	tail, _, err := Eliminate([]*TableFactor{residual}, []keys.DiscreteKey{m2}, MaxProduct)
	require.NoError(t, err)

	best := Optimize([]*Conditional{conditional, tail})
	// Joint maxima: (m1=0, m2=1) carries 1/3.
	assert.Equal(t, 0, best[m1.Key])
	assert.Equal(t, 1, best[m2.Key])
}

func TestTopK_TieBreaksCanonically(t *testing.T) {
	f, err := NewTableFactor([]keys.DiscreteKey{m1, m2}, []float64{0.4, 0.1, 0.4, 0.1})
	require.NoError(t, err)

	top := f.TopK(3)
	require.Len(t, top, 3)
	// The two 0.4 masses rank first in canonical order.
	assert.True(t, top[0].Equal(keys.Assignment{m1.Key: 0, m2.Key: 0}))
	assert.True(t, top[1].Equal(keys.Assignment{m1.Key: 0, m2.Key: 1}))
	assert.True(t, top[2].Equal(keys.Assignment{m1.Key: 1, m2.Key: 0}))
}

func TestTopK_FewerNonzeroThanRequested(t *testing.T) {
	f, err := NewTableFactor([]keys.DiscreteKey{m1}, []float64{0.7, 0})
	require.NoError(t, err)
	assert.Len(t, f.TopK(5), 1)
}

func TestNormalize(t *testing.T) {
	f, err := NewTableFactor([]keys.DiscreteKey{m1}, []float64{2, 6})
	require.NoError(t, err)
	n := f.Normalize()
	assert.InDelta(t, 0.25, n.Evaluate(keys.Assignment{m1.Key: 0}), 1e-12)
	assert.InDelta(t, 0.75, n.Evaluate(keys.Assignment{m1.Key: 1}), 1e-12)
	// Input untouched.
	assert.InDelta(t, 2, f.Evaluate(keys.Assignment{m1.Key: 0}), 1e-12)
}
