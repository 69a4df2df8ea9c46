package hybrid

import (
	"testing"

	"github.com/adalundhe/switchback/core/discrete"
	"github.com/adalundhe/switchback/core/keys"
	"github.com/adalundhe/switchback/core/linear"
	"github.com/stretchr/testify/require"
)

// The switching fixture is a K-step chain of continuous states x1..xK with
// binary modes m1..m(K-1) selecting between two motion hypotheses per
// step, linearized at x(k)=k. Factor layout mirrors index order used
// throughout the tests: prior on x1, the K-1 mode-dependent transitions,
// measurements on x2..xK, then the mode prior and transitions.
type switching struct {
	K       int
	factors []*Factor
}

func xk(i int) keys.Key {
	return keys.Symbol('x', uint64(i))
}

func mk(i int) keys.DiscreteKey {
	return keys.Binary(keys.Symbol('m', uint64(i)))
}

func transitionMixture(t *testing.T, k int) *Factor {
	t.Helper()
	still := linear.NewBinary(xk(k), -1, xk(k+1), 1, -1)
	moving := linear.NewBinary(xk(k), -1, xk(k+1), 1, 0)
	m, err := NewMixtureFactor(
		[]keys.Key{xk(k), xk(k + 1)},
		[]keys.DiscreteKey{mk(k)},
		[]*linear.JacobianFactor{still, moving},
	)
	require.NoError(t, err)
	return NewMixtureHybridFactor(m)
}

func modePrior(t *testing.T) *Factor {
	t.Helper()
	f, err := discrete.NewTableFactor([]keys.DiscreteKey{mk(1)}, []float64{0.5, 0.5})
	require.NoError(t, err)
	return NewDiscreteFactor(f)
}

func modeTransition(t *testing.T, k int) *Factor {
	t.Helper()
	f, err := discrete.NewTableFactor(
		[]keys.DiscreteKey{mk(k - 1), mk(k)},
		[]float64{1.0 / 3.0, 0.6, 2.0 / 3.0, 0.4},
	)
	require.NoError(t, err)
	return NewDiscreteFactor(f)
}

func newSwitching(t *testing.T, K int) *switching {
	t.Helper()
	s := &switching{K: K}
	s.factors = append(s.factors, NewContinuousFactor(linear.NewUnary(xk(1), 10, -10)))
	for k := 1; k < K; k++ {
		s.factors = append(s.factors, transitionMixture(t, k))
	}
	for k := 2; k <= K; k++ {
		s.factors = append(s.factors, NewContinuousFactor(linear.NewUnary(xk(k), 10, -10)))
	}
	s.factors = append(s.factors, modePrior(t))
	for k := 2; k < K; k++ {
		s.factors = append(s.factors, modeTransition(t, k))
	}
	return s
}

func (s *switching) graph() *FactorGraph {
	return NewFactorGraph(s.factors...)
}

// continuousOrdering lists x1..xK.
func (s *switching) continuousOrdering() Ordering {
	var out Ordering
	for k := 1; k <= s.K; k++ {
		out = append(out, xk(k))
	}
	return out
}

func assign(pairs ...int) keys.Assignment {
	a := make(keys.Assignment)
	for i := 0; i+1 < len(pairs); i += 2 {
		a[mk(pairs[i]).Key] = pairs[i+1]
	}
	return a
}
