// Package linear implements Gaussian factors in Jacobian (square-root
// information) form and their elimination into conditionals. Rows are
// assumed whitened: noise models are folded into the coefficients at
// construction, so a factor's error is 0.5*||Ax - b||^2.
package linear

import (
	"fmt"

	"github.com/adalundhe/switchback/core/keys"
	"gonum.org/v1/gonum/mat"
)

// Term is one variable block of a Jacobian factor.
type Term struct {
	Key keys.Key
	A   *mat.Dense
}

// JacobianFactor is a Gaussian factor ||A1*x1 + ... + Ak*xk - b||^2 over a
// set of continuous variables. Immutable after construction.
type JacobianFactor struct {
	keys   []keys.Key
	widths []int
	blocks []*mat.Dense
	b      []float64
}

// NewJacobian builds a factor from variable blocks and a right-hand side.
// All blocks must have len(b) rows.
func NewJacobian(b []float64, terms ...Term) (*JacobianFactor, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("jacobian factor needs at least one term")
	}
	f := &JacobianFactor{b: append([]float64(nil), b...)}
	for _, term := range terms {
		rows, cols := term.A.Dims()
		if rows != len(b) {
			return nil, fmt.Errorf("block for %v has %d rows, rhs has %d", term.Key, rows, len(b))
		}
		if keys.ContainsKey(f.keys, term.Key) {
			return nil, fmt.Errorf("duplicate key %v", term.Key)
		}
		f.keys = append(f.keys, term.Key)
		f.widths = append(f.widths, cols)
		f.blocks = append(f.blocks, mat.DenseCopyOf(term.A))
	}
	return f, nil
}

// NewUnary is scalar-variable shorthand: a*x = b.
func NewUnary(k keys.Key, a, b float64) *JacobianFactor {
	f, err := NewJacobian([]float64{b}, Term{Key: k, A: mat.NewDense(1, 1, []float64{a})})
	if err != nil {
		panic(err)
	}
	return f
}

// NewBinary is scalar-variable shorthand: a1*x1 + a2*x2 = b.
func NewBinary(k1 keys.Key, a1 float64, k2 keys.Key, a2 float64, b float64) *JacobianFactor {
	f, err := NewJacobian([]float64{b},
		Term{Key: k1, A: mat.NewDense(1, 1, []float64{a1})},
		Term{Key: k2, A: mat.NewDense(1, 1, []float64{a2})},
	)
	if err != nil {
		panic(err)
	}
	return f
}

// Keys lists the factor's variables in block order.
func (f *JacobianFactor) Keys() []keys.Key {
	return append([]keys.Key(nil), f.keys...)
}

// Rows returns the number of measurement rows.
func (f *JacobianFactor) Rows() int {
	return len(f.b)
}

// Width returns the column width of key k, or 0 if absent.
func (f *JacobianFactor) Width(k keys.Key) int {
	for i, fk := range f.keys {
		if fk == k {
			return f.widths[i]
		}
	}
	return 0
}

func (f *JacobianFactor) block(k keys.Key) *mat.Dense {
	for i, fk := range f.keys {
		if fk == k {
			return f.blocks[i]
		}
	}
	return nil
}

// Error evaluates 0.5*||Ax - b||^2 at the given solution.
func (f *JacobianFactor) Error(x map[keys.Key][]float64) float64 {
	residual := append([]float64(nil), f.b...)
	for i, k := range f.keys {
		values, ok := x[k]
		if !ok {
			continue
		}
		for r := 0; r < len(residual); r++ {
			for c := 0; c < f.widths[i]; c++ {
				residual[r] -= f.blocks[i].At(r, c) * values[c]
			}
		}
	}
	var sum float64
	for _, r := range residual {
		sum += r * r
	}
	return 0.5 * sum
}
