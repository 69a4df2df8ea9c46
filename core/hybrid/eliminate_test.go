package hybrid

import (
	"errors"
	"math"
	"testing"

	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-7

func TestEliminateContinuous_MixtureStep(t *testing.T) {
	s := newSwitching(t, 3)

	// Prior on x1 plus the first transition mixture.
	conditional, residuals, err := EliminateContinuous(
		[]*Factor{s.factors[0], s.factors[1]},
		[]keys.Key{xk(1)},
	)
	require.NoError(t, err)
	require.Equal(t, ConditionalMixture, conditional.Kind())

	mixture := conditional.AsMixture()
	assert.Equal(t, []keys.Key{xk(1)}, mixture.Frontals())
	assert.Equal(t, []keys.Key{xk(2)}, mixture.ContinuousParents())
	assert.Equal(t, []keys.DiscreteKey{mk(1)}, mixture.DiscreteKeys())

	// Stacking [10; -1 1 | b] and factorizing gives the same R, S for both
	// modes and a mode-dependent rhs.
	still, ok := mixture.ConditionalFor(assign(1, 0))
	require.True(t, ok)
	assert.InDelta(t, 10.04987562, still.R().At(0, 0), tol)
	assert.InDelta(t, -0.09950372, still.S().At(0, 0), tol)
	assert.InDelta(t, -9.85086814, still.D()[0], tol)

	moving, ok := mixture.ConditionalFor(assign(1, 1))
	require.True(t, ok)
	assert.InDelta(t, 10.04987562, moving.R().At(0, 0), tol)
	assert.InDelta(t, -9.95037190, moving.D()[0], tol)

	// One leftover row per mode survives as a mixture factor on x2; the
	// scalar is 1 while continuous separator variables remain.
	require.Len(t, residuals, 1)
	require.Equal(t, FactorMixture, residuals[0].Kind())
	assert.Equal(t, []keys.Key{xk(2)}, residuals[0].ContinuousKeys())
}

func TestEliminateContinuous_NoModes(t *testing.T) {
	prior := NewContinuousFactor(linear.NewUnary(xk(1), 10, -10))
	between := NewContinuousFactor(linear.NewBinary(xk(1), -1, xk(2), 1, -1))

	conditional, residuals, err := EliminateContinuous(
		[]*Factor{prior, between}, []keys.Key{xk(1)})
	require.NoError(t, err)
	require.Equal(t, ConditionalGaussian, conditional.Kind())
	assert.Equal(t, []keys.Key{xk(2)}, conditional.AsGaussian().Parents())
	require.Len(t, residuals, 1)
	assert.Equal(t, FactorContinuous, residuals[0].Kind())
}

func TestEliminateContinuous_ScalarResidual(t *testing.T) {
	// Both rows constrain the single frontal, so the leftover residual
	// norm per mode lands in a discrete factor.
	zero := linear.NewUnary(xk(1), 1, -1)
	one := linear.NewUnary(xk(1), 1, 0)
	m, err := NewMixtureFactor(
		[]keys.Key{xk(1)},
		[]keys.DiscreteKey{mk(1)},
		[]*linear.JacobianFactor{zero, one},
	)
	require.NoError(t, err)

	conditional, residuals, err := EliminateContinuous(
		[]*Factor{
			NewContinuousFactor(linear.NewUnary(xk(1), 10, -10)),
			NewMixtureHybridFactor(m),
		},
		[]keys.Key{xk(1)},
	)
	require.NoError(t, err)
	require.Equal(t, ConditionalMixture, conditional.Kind())

	require.Len(t, residuals, 1)
	require.Equal(t, FactorDiscrete, residuals[0].Kind())
	table := residuals[0].Discrete()

	// Mode 0 fits exactly; mode 1 leaves squared residual 100/101.
	assert.InDelta(t, 1.0, table.Evaluate(assign(1, 0)), tol)
	assert.InDelta(t, math.Exp(-50.0/101.0), table.Evaluate(assign(1, 1)), tol)
}

func TestEliminateContinuous_InfeasibleBranchGetsZeroWeight(t *testing.T) {
	m, err := NewMixtureFactor(
		[]keys.Key{xk(1)},
		[]keys.DiscreteKey{mk(1)},
		[]*linear.JacobianFactor{linear.NewUnary(xk(1), 1, 0), nil},
	)
	require.NoError(t, err)

	conditional, residuals, err := EliminateContinuous(
		[]*Factor{NewMixtureHybridFactor(m)}, []keys.Key{xk(1)})
	require.NoError(t, err)

	mixture := conditional.AsMixture()
	_, ok := mixture.ConditionalFor(assign(1, 0))
	assert.True(t, ok)
	_, ok = mixture.ConditionalFor(assign(1, 1))
	assert.False(t, ok, "pruned branch must stay absent")

	require.Len(t, residuals, 1)
	require.Equal(t, FactorDiscrete, residuals[0].Kind())
	assert.Equal(t, 0.0, residuals[0].Discrete().Evaluate(assign(1, 1)))
}

func TestEliminateContinuous_Singular(t *testing.T) {
	underdetermined := NewContinuousFactor(linear.NewBinary(xk(1), 0, xk(2), 1, 0))
	_, _, err := EliminateContinuous([]*Factor{underdetermined}, []keys.Key{xk(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKind(KindSingularElimination)))
}

func TestEliminateDiscrete_OrderingViolation(t *testing.T) {
	s := newSwitching(t, 3)

	_, _, err := EliminateDiscrete(
		[]*Factor{s.factors[1], s.factors[5]},
		[]keys.DiscreteKey{mk(1)},
		SumProduct,
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKind(KindOrderingViolation)))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, KindOrderingViolation, typed.Kind)
}

func TestEliminateContinuous_LazyMixtureMaterializesOnDemand(t *testing.T) {
	calls := 0
	gen := func(a keys.Assignment) (*linear.JacobianFactor, error) {
		calls++
		if a[mk(1).Key] == 0 {
			return linear.NewBinary(xk(1), -1, xk(2), 1, -1), nil
		}
		return linear.NewBinary(xk(1), -1, xk(2), 1, 0), nil
	}
	lazy, err := NewLazyMixtureFactor(
		[]keys.Key{xk(1), xk(2)},
		[]keys.DiscreteKey{mk(1)},
		gen,
	)
	require.NoError(t, err)

	prior := NewContinuousFactor(linear.NewUnary(xk(1), 10, -10))
	conditional, residuals, err := EliminateContinuous(
		[]*Factor{prior, NewMixtureHybridFactor(lazy)},
		[]keys.Key{xk(1)},
	)
	require.NoError(t, err)
	require.Equal(t, ConditionalMixture, conditional.Kind())
	assert.Equal(t, 2, conditional.AsMixture().NrComponents())
	assert.Equal(t, 2, calls)
	require.Len(t, residuals, 1)
	assert.Equal(t, FactorMixture, residuals[0].Kind())

	// The lazy path must factorize exactly like pre-built components.
	eagerCond, _, err := EliminateContinuous(
		[]*Factor{prior, transitionMixture(t, 1)},
		[]keys.Key{xk(1)},
	)
	require.NoError(t, err)
	assert.True(t, conditional.AsMixture().Equal(eagerCond.AsMixture(), tol))

	// Re-resolving a branch hits the cache instead of the generator.
	first, err := lazy.FactorFor(assign(1, 0))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 2, calls)

	again, err := lazy.FactorFor(assign(1, 0))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 2, calls)
}
