package matting

import (
	"gonum.org/v1/gonum/mat"
)

// coo accumulates symmetric sparse matrix entries as triplets. Repeated
// (row, col) pairs are summed when the matrix is compressed, which is exactly
// the additive assembly the overlapping windows need.
type coo struct {
	n    int
	rows []int32
	cols []int32
	vals []float64
}

func newCOO(n, sizeHint int) *coo {
	return &coo{
		n:    n,
		rows: make([]int32, 0, sizeHint),
		cols: make([]int32, 0, sizeHint),
		vals: make([]float64, 0, sizeHint),
	}
}

func (c *coo) add(row, col int32, v float64) {
	c.rows = append(c.rows, row)
	c.cols = append(c.cols, col)
	c.vals = append(c.vals, v)
}

// buildLaplacian assembles the matting Laplacian over the full pixel domain
// under the local color-line model. Within every window of the given radius
// the cost matrix is I_n - (1/n)(1 + d_i^T C^{-1} d_j) with d the colors
// centered on the window mean and C the covariance regularized by
// (eps/n)*I. Windows lying strictly inside the known region, after dilating
// the unknown set by the window diameter, contribute nothing to the solve
// and are skipped; in typical trimaps that removes almost all of them.
//
// Returns the triplet store and the number of assembled windows.
func buildLaplacian(img *RGB, known []bool, eps float64, radius int) (*coo, int) {
	w, h := img.W, img.H
	if radius < 1 {
		radius = 1
	}
	diam := 2*radius + 1
	n := diam * diam
	fn := float64(n)

	if w < diam || h < diam {
		return newCOO(w*h, 0), 0
	}

	band := dilateBinary(invertMask(known), w, h, diam)

	// Rough triplet count for a thin unknown band.
	hint := min(countTrue(band)*n*n, (w-2*radius)*(h-2*radius)*n*n)
	lap := newCOO(w*h, hint)

	// Per-window scratch, reused across all windows.
	inds := make([]int32, n)
	d := make([]float64, n*3)
	cd := make([]float64, n*3) // C^{-1} d_j, per window pixel
	sym := mat.NewSymDense(3, nil)
	cinv := mat.NewSymDense(3, nil)
	var chol mat.Cholesky

	windows := 0
	for cy := radius; cy < h-radius; cy++ {
		for cx := radius; cx < w-radius; cx++ {
			touches := false
			for dy := -radius; dy <= radius && !touches; dy++ {
				row := (cy + dy) * w
				for dx := -radius; dx <= radius; dx++ {
					if band[row+cx+dx] {
						touches = true
						break
					}
				}
			}
			if !touches {
				continue
			}
			windows++

			var mr, mg, mb float64
			k := 0
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					idx := (cy+dy)*w + (cx + dx)
					inds[k] = int32(idx)
					off := idx * 3
					r, g, b := img.Pix[off], img.Pix[off+1], img.Pix[off+2]
					d[k*3] = r
					d[k*3+1] = g
					d[k*3+2] = b
					mr += r
					mg += g
					mb += b
					k++
				}
			}
			mr /= fn
			mg /= fn
			mb /= fn

			var c00, c01, c02, c11, c12, c22 float64
			for i := 0; i < n; i++ {
				r := d[i*3] - mr
				g := d[i*3+1] - mg
				b := d[i*3+2] - mb
				d[i*3] = r
				d[i*3+1] = g
				d[i*3+2] = b
				c00 += r * r
				c01 += r * g
				c02 += r * b
				c11 += g * g
				c12 += g * b
				c22 += b * b
			}
			reg := eps / fn
			sym.SetSym(0, 0, c00/fn+reg)
			sym.SetSym(0, 1, c01/fn)
			sym.SetSym(0, 2, c02/fn)
			sym.SetSym(1, 1, c11/fn+reg)
			sym.SetSym(1, 2, c12/fn)
			sym.SetSym(2, 2, c22/fn+reg)

			i00, i01, i02, i11, i12, i22 := invertCovariance(sym, cinv, &chol, reg)

			for j := 0; j < n; j++ {
				r, g, b := d[j*3], d[j*3+1], d[j*3+2]
				cd[j*3] = i00*r + i01*g + i02*b
				cd[j*3+1] = i01*r + i11*g + i12*b
				cd[j*3+2] = i02*r + i12*g + i22*b
			}

			for i := 0; i < n; i++ {
				ri, gi, bi := d[i*3], d[i*3+1], d[i*3+2]
				for j := 0; j < n; j++ {
					v := -(1 + ri*cd[j*3] + gi*cd[j*3+1] + bi*cd[j*3+2]) / fn
					if i == j {
						v++
					}
					lap.add(inds[i], inds[j], v)
				}
			}
		}
	}
	return lap, windows
}

// invertCovariance returns the upper-triangle entries of C^{-1}. The
// regularized covariance is positive definite so the Cholesky factorization
// almost always succeeds; pivoted Gaussian elimination covers the
// near-singular leftovers, and as a last resort the color term is dropped,
// which degenerates the window cost to a plain graph Laplacian.
func invertCovariance(sym, cinv *mat.SymDense, chol *mat.Cholesky, reg float64) (i00, i01, i02, i11, i12, i22 float64) {
	if chol.Factorize(sym) {
		if err := chol.InverseTo(cinv); err == nil {
			return cinv.At(0, 0), cinv.At(0, 1), cinv.At(0, 2),
				cinv.At(1, 1), cinv.At(1, 2), cinv.At(2, 2)
		}
	}

	var inv [9]float64
	a := make([]float64, 9)
	col := make([]float64, 3)
	ok := true
	for j := 0; j < 3 && ok; j++ {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				a[r*3+c] = sym.At(r, c)
			}
			a[r*3+r] += reg
		}
		col[0], col[1], col[2] = 0, 0, 0
		col[j] = 1
		if !solveLinearSystemInPlace(a, col, 3) {
			ok = false
			break
		}
		inv[j] = col[0]
		inv[3+j] = col[1]
		inv[6+j] = col[2]
	}
	if ok {
		return inv[0], inv[1], inv[2], inv[4], inv[5], inv[8]
	}
	return 0, 0, 0, 0, 0, 0
}

func invertMask(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, v := range mask {
		out[i] = !v
	}
	return out
}

// dilateBinary applies binary dilation with a k×k square structuring element
// anchored at k/2, separable into two max passes.
func dilateBinary(mask []bool, w, h, k int) []bool {
	lo := -(k / 2)
	hi := k - 1 - k/2

	tmp := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			for d := lo; d <= hi; d++ {
				nx := x + d
				if nx >= 0 && nx < w && mask[row+nx] {
					tmp[row+x] = true
					break
				}
			}
		}
	}

	out := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for d := lo; d <= hi; d++ {
				ny := y + d
				if ny >= 0 && ny < h && tmp[ny*w+x] {
					out[y*w+x] = true
					break
				}
			}
		}
	}
	return out
}
