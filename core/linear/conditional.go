package linear

import (
	"fmt"
	"math"

	"github.com/adalundhe/switchback/core/keys"
	"gonum.org/v1/gonum/mat"
)

// Conditional is a Gaussian conditional density p(frontals | parents) in
// square-root form: R*x_f + S*x_p = d with R upper triangular. The diagonal
// of R is kept positive so conditionals produced along different
// elimination paths compare equal.
type Conditional struct {
	frontals []keys.Key
	fwidths  []int
	parents  []keys.Key
	pwidths  []int

	r *mat.Dense // fw x fw, upper triangular
	s *mat.Dense // fw x pw, nil when there are no parents
	d []float64
}

// Frontals lists the conditioned variables in elimination order.
func (c *Conditional) Frontals() []keys.Key {
	return append([]keys.Key(nil), c.frontals...)
}

// Parents lists the conditioning variables.
func (c *Conditional) Parents() []keys.Key {
	return append([]keys.Key(nil), c.parents...)
}

// FrontalWidth returns the total column width of the frontal block.
func (c *Conditional) FrontalWidth() int {
	var w int
	for _, fw := range c.fwidths {
		w += fw
	}
	return w
}

// R returns the upper triangular frontal block.
func (c *Conditional) R() mat.Matrix { return c.r }

// S returns the parent block, or nil when the conditional has no parents.
func (c *Conditional) S() mat.Matrix {
	if c.s == nil {
		return nil
	}
	return c.s
}

// D returns the right-hand side.
func (c *Conditional) D() []float64 {
	return append([]float64(nil), c.d...)
}

// Solve computes the conditional mean of the frontal variables given parent
// values, extending x with the result. x must contain every parent.
func (c *Conditional) Solve(x map[keys.Key][]float64) (map[keys.Key][]float64, error) {
	fw := c.FrontalWidth()
	rhs := append([]float64(nil), c.d...)

	col := 0
	for i, pk := range c.parents {
		values, ok := x[pk]
		if !ok {
			return nil, fmt.Errorf("solve: missing parent %v", pk)
		}
		if len(values) != c.pwidths[i] {
			return nil, fmt.Errorf("solve: parent %v has width %d, want %d", pk, len(values), c.pwidths[i])
		}
		for r := 0; r < fw; r++ {
			for j := 0; j < c.pwidths[i]; j++ {
				rhs[r] -= c.s.At(r, col+j) * values[j]
			}
		}
		col += c.pwidths[i]
	}

	// Back-substitution on the triangular frontal block.
	solution := make([]float64, fw)
	for r := fw - 1; r >= 0; r-- {
		v := rhs[r]
		for j := r + 1; j < fw; j++ {
			v -= c.r.At(r, j) * solution[j]
		}
		pivot := c.r.At(r, r)
		if math.Abs(pivot) < singularTol {
			return nil, fmt.Errorf("solve: %w on row %d", ErrSingular, r)
		}
		solution[r] = v / pivot
	}

	out := make(map[keys.Key][]float64, len(x)+len(c.frontals))
	for k, v := range x {
		out[k] = v
	}
	offset := 0
	for i, fk := range c.frontals {
		out[fk] = append([]float64(nil), solution[offset:offset+c.fwidths[i]]...)
		offset += c.fwidths[i]
	}
	return out, nil
}

// AsFactor converts the conditional back into an equivalent Jacobian
// factor, used when re-eliminating previously built structure.
func (c *Conditional) AsFactor() *JacobianFactor {
	rows := c.FrontalWidth()
	var terms []Term
	col := 0
	for i, fk := range c.frontals {
		block := mat.NewDense(rows, c.fwidths[i], nil)
		block.Copy(c.r.Slice(0, rows, col, col+c.fwidths[i]))
		terms = append(terms, Term{Key: fk, A: block})
		col += c.fwidths[i]
	}
	col = 0
	for i, pk := range c.parents {
		block := mat.NewDense(rows, c.pwidths[i], nil)
		block.Copy(c.s.Slice(0, rows, col, col+c.pwidths[i]))
		terms = append(terms, Term{Key: pk, A: block})
		col += c.pwidths[i]
	}
	f, err := NewJacobian(c.d, terms...)
	if err != nil {
		panic(err)
	}
	return f
}

// Equal reports approximate equality of keys, widths and coefficients.
func (c *Conditional) Equal(o *Conditional, tol float64) bool {
	if o == nil {
		return false
	}
	if len(c.frontals) != len(o.frontals) || len(c.parents) != len(o.parents) {
		return false
	}
	for i := range c.frontals {
		if c.frontals[i] != o.frontals[i] || c.fwidths[i] != o.fwidths[i] {
			return false
		}
	}
	for i := range c.parents {
		if c.parents[i] != o.parents[i] || c.pwidths[i] != o.pwidths[i] {
			return false
		}
	}
	if !mat.EqualApprox(c.r, o.r, tol) {
		return false
	}
	if (c.s == nil) != (o.s == nil) {
		return false
	}
	if c.s != nil && !mat.EqualApprox(c.s, o.s, tol) {
		return false
	}
	for i := range c.d {
		if math.Abs(c.d[i]-o.d[i]) > tol {
			return false
		}
	}
	return true
}

// Combine stacks two conditionals produced by consecutive elimination steps
// into one multi-frontal conditional: top's frontals are eliminated before
// bottom's, and every parent of top must be a frontal or parent of bottom.
func Combine(top, bottom *Conditional) (*Conditional, error) {
	frontals := append(top.Frontals(), bottom.frontals...)
	fwidths := append(append([]int(nil), top.fwidths...), bottom.fwidths...)

	widths := make(map[keys.Key]int)
	for i, fk := range bottom.frontals {
		widths[fk] = bottom.fwidths[i]
	}
	for i, pk := range bottom.parents {
		widths[pk] = bottom.pwidths[i]
	}
	for i, pk := range top.parents {
		w, ok := widths[pk]
		if !ok {
			return nil, fmt.Errorf("combine: parent %v of top conditional unknown to bottom", pk)
		}
		if w != top.pwidths[i] {
			return nil, fmt.Errorf("combine: width mismatch for %v", pk)
		}
	}
	parents := bottom.Parents()
	pwidths := append([]int(nil), bottom.pwidths...)

	fw := 0
	for _, w := range fwidths {
		fw += w
	}
	pw := 0
	for _, w := range pwidths {
		pw += w
	}

	offsets := make(map[keys.Key]int)
	col := 0
	for i, fk := range frontals {
		offsets[fk] = col
		col += fwidths[i]
	}
	for i, pk := range parents {
		offsets[pk] = col
		col += pwidths[i]
	}

	r := mat.NewDense(fw, fw, nil)
	var s *mat.Dense
	if pw > 0 {
		s = mat.NewDense(fw, pw, nil)
	}
	d := make([]float64, fw)

	place := func(c *Conditional, rowOffset int) {
		srcCol := 0
		for i, fk := range c.frontals {
			dst := offsets[fk]
			for row := 0; row < c.FrontalWidth(); row++ {
				for j := 0; j < c.fwidths[i]; j++ {
					r.Set(rowOffset+row, dst+j, c.r.At(row, srcCol+j))
				}
			}
			srcCol += c.fwidths[i]
		}
		srcCol = 0
		for i, pk := range c.parents {
			dst := offsets[pk]
			for row := 0; row < c.FrontalWidth(); row++ {
				for j := 0; j < c.pwidths[i]; j++ {
					if dst < fw {
						r.Set(rowOffset+row, dst+j, c.s.At(row, srcCol+j))
					} else {
						s.Set(rowOffset+row, dst-fw+j, c.s.At(row, srcCol+j))
					}
				}
			}
			srcCol += c.pwidths[i]
		}
		copy(d[rowOffset:rowOffset+c.FrontalWidth()], c.d)
	}
	place(top, 0)
	place(bottom, top.FrontalWidth())

	return &Conditional{
		frontals: frontals,
		fwidths:  fwidths,
		parents:  parents,
		pwidths:  pwidths,
		r:        r,
		s:        s,
		d:        d,
	}, nil
}
