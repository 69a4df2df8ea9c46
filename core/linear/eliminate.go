package linear

import (
	"errors"
	"fmt"
	"math"

	"github.com/adalundhe/switchback/core/keys"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular reports a rank-deficient system: the stacked rows do not
// constrain every frontal dimension.
var ErrSingular = errors.New("singular elimination")

const (
	// singularTol is the pivot magnitude below which the frontal block is
	// treated as rank deficient.
	singularTol = 1e-9

	// zeroRowTol is the magnitude below which a leftover row is dropped
	// entirely.
	zeroRowTol = 1e-12
)

// Result carries the output of eliminating a block of frontal variables.
type Result struct {
	// Conditional is p(frontals | separator).
	Conditional *Conditional

	// Remaining is the marginal factor on the separator variables, nil when
	// the elimination consumed every variable or left no information.
	Remaining *JacobianFactor

	// Scalar is the normalization constant exp(-0.5*r^2) of the residual
	// left once no separator variables remain. It is 1 whenever Remaining
	// is non-nil: with separator variables present the residual rows stay
	// inside Remaining and surface at a later elimination.
	Scalar float64
}

// Eliminate removes the frontal variables from the given factors by dense
// QR factorization of the stacked system.
func Eliminate(factors []*JacobianFactor, frontals []keys.Key) (*Result, error) {
	if len(factors) == 0 {
		return nil, fmt.Errorf("eliminate: no factors")
	}

	widths, err := collectWidths(factors)
	if err != nil {
		return nil, err
	}
	for _, fk := range frontals {
		if _, ok := widths[fk]; !ok {
			return nil, fmt.Errorf("eliminate: frontal %v not present in any factor", fk)
		}
	}

	var separator []keys.Key
	for k := range widths {
		if !keys.ContainsKey(frontals, k) {
			separator = append(separator, k)
		}
	}
	keys.SortKeys(separator)

	// Column layout: frontal blocks, separator blocks, rhs.
	offsets := make(map[keys.Key]int)
	col := 0
	for _, k := range frontals {
		offsets[k] = col
		col += widths[k]
	}
	fw := col
	for _, k := range separator {
		offsets[k] = col
		col += widths[k]
	}
	totalWidth := col
	n := totalWidth + 1

	rows := 0
	for _, f := range factors {
		rows += f.Rows()
	}
	stackedRows := rows
	if stackedRows < n {
		stackedRows = n // zero padding keeps gonum's QR applicable
	}
	stacked := mat.NewDense(stackedRows, n, nil)
	row := 0
	for _, f := range factors {
		for i, k := range f.keys {
			dst := offsets[k]
			for r := 0; r < f.Rows(); r++ {
				for c := 0; c < f.widths[i]; c++ {
					stacked.Set(row+r, dst+c, f.blocks[i].At(r, c))
				}
			}
		}
		for r, b := range f.b {
			stacked.Set(row+r, totalWidth, b)
		}
		row += f.Rows()
	}

	var qr mat.QR
	qr.Factorize(stacked)
	var rmat mat.Dense
	qr.RTo(&rmat)

	// Positive diagonal: Q absorbs the sign flip.
	for i := 0; i < n; i++ {
		if rmat.At(i, i) < 0 {
			for j := i; j < n; j++ {
				rmat.Set(i, j, -rmat.At(i, j))
			}
		}
	}

	for i := 0; i < fw; i++ {
		if rmat.At(i, i) < singularTol {
			return nil, fmt.Errorf("eliminate frontal %v: %w", frontals, ErrSingular)
		}
	}

	conditional := &Conditional{
		frontals: append([]keys.Key(nil), frontals...),
		parents:  separator,
		d:        make([]float64, fw),
		r:        mat.NewDense(fw, fw, nil),
	}
	for _, k := range frontals {
		conditional.fwidths = append(conditional.fwidths, widths[k])
	}
	for _, k := range separator {
		conditional.pwidths = append(conditional.pwidths, widths[k])
	}
	conditional.r.Copy(rmat.Slice(0, fw, 0, fw))
	if sw := totalWidth - fw; sw > 0 {
		conditional.s = mat.NewDense(fw, sw, nil)
		conditional.s.Copy(rmat.Slice(0, fw, fw, totalWidth))
	}
	for i := 0; i < fw; i++ {
		conditional.d[i] = rmat.At(i, totalWidth)
	}

	result := &Result{Conditional: conditional, Scalar: 1}
	if totalWidth == fw {
		// Nothing remains: the leftover row is a pure residual.
		if rows > fw {
			r := rmat.At(fw, totalWidth)
			result.Scalar = math.Exp(-0.5 * r * r)
		}
		return result, nil
	}

	remaining, err := remainingFactor(&rmat, fw, totalWidth, separator, widths)
	if err != nil {
		return nil, err
	}
	result.Remaining = remaining
	return result, nil
}

// remainingFactor assembles the leftover R rows into a factor on the
// separator. The final pure-residual row rides along as a zero-coefficient
// row so its information reappears when the separator is eliminated.
func remainingFactor(rmat *mat.Dense, fw, totalWidth int, separator []keys.Key, widths map[keys.Key]int) (*JacobianFactor, error) {
	var keep []int
	for i := fw; i <= totalWidth; i++ {
		magnitude := 0.0
		for j := fw; j <= totalWidth; j++ {
			magnitude += math.Abs(rmat.At(i, j))
		}
		if magnitude > zeroRowTol {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, nil
	}

	b := make([]float64, len(keep))
	for out, i := range keep {
		b[out] = rmat.At(i, totalWidth)
	}
	var terms []Term
	col := fw
	for _, k := range separator {
		block := mat.NewDense(len(keep), widths[k], nil)
		for out, i := range keep {
			for j := 0; j < widths[k]; j++ {
				block.Set(out, j, rmat.At(i, col+j))
			}
		}
		terms = append(terms, Term{Key: k, A: block})
		col += widths[k]
	}
	return NewJacobian(b, terms...)
}

func collectWidths(factors []*JacobianFactor) (map[keys.Key]int, error) {
	widths := make(map[keys.Key]int)
	for _, f := range factors {
		for i, k := range f.keys {
			if w, ok := widths[k]; ok {
				if w != f.widths[i] {
					return nil, fmt.Errorf("key %v used with widths %d and %d", k, w, f.widths[i])
				}
				continue
			}
			widths[k] = f.widths[i]
		}
	}
	return widths, nil
}
