package matting

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// csr is a compressed sparse row matrix for the reduced linear system.
type csr struct {
	n      int
	rowPtr []int
	colInd []int32
	vals   []float64
	diag   []float64
}

func (a *csr) mulVec(dst, x []float64) {
	for r := 0; r < a.n; r++ {
		sum := 0.0
		for i := a.rowPtr[r]; i < a.rowPtr[r+1]; i++ {
			sum += a.vals[i] * x[a.colInd[i]]
		}
		dst[r] = sum
	}
}

// newCSR compresses triplets into CSR form, summing duplicates.
func newCSR(n int, rows, cols []int32, vals []float64) *csr {
	rowPtr := make([]int, n+1)
	for _, r := range rows {
		rowPtr[r+1]++
	}
	for i := 0; i < n; i++ {
		rowPtr[i+1] += rowPtr[i]
	}

	colTmp := make([]int32, len(rows))
	valTmp := make([]float64, len(rows))
	pos := make([]int, n)
	copy(pos, rowPtr[:n])
	for i, r := range rows {
		p := pos[r]
		colTmp[p] = cols[i]
		valTmp[p] = vals[i]
		pos[r] = p + 1
	}

	a := &csr{
		n:      n,
		rowPtr: make([]int, n+1),
		colInd: make([]int32, 0, len(rows)),
		vals:   make([]float64, 0, len(rows)),
		diag:   make([]float64, n),
	}
	for r := 0; r < n; r++ {
		start, end := rowPtr[r], rowPtr[r+1]
		seg := colTmp[start:end]
		segV := valTmp[start:end]
		sort.Sort(&rowEntries{cols: seg, vals: segV})
		for i := 0; i < len(seg); {
			c := seg[i]
			sum := segV[i]
			for i++; i < len(seg) && seg[i] == c; i++ {
				sum += segV[i]
			}
			a.colInd = append(a.colInd, c)
			a.vals = append(a.vals, sum)
			if int(c) == r {
				a.diag[r] = sum
			}
		}
		a.rowPtr[r+1] = len(a.colInd)
	}
	return a
}

type rowEntries struct {
	cols []int32
	vals []float64
}

func (e *rowEntries) Len() int           { return len(e.cols) }
func (e *rowEntries) Less(i, j int) bool { return e.cols[i] < e.cols[j] }
func (e *rowEntries) Swap(i, j int) {
	e.cols[i], e.cols[j] = e.cols[j], e.cols[i]
	e.vals[i], e.vals[j] = e.vals[j], e.vals[i]
}

// solveAlpha minimizes a^T L a + (a-p)^T D (a-p) for the unknown pixels.
// Known pixels are eliminated from the system: their prior values enter the
// right-hand side as -L_UK * p_K, which makes the output at known pixels
// exactly the prior by construction. The reduced system
// (L_UU + diag(conf_U)) a_U = -L_UK p_K + conf_U p_U is symmetric positive
// (semi-)definite and solved with Jacobi-preconditioned conjugate gradient.
//
// Failures never surface as errors: a numerical breakdown falls back to the
// prior, a non-converged solve keeps the current iterate, and both mark the
// report as degraded. All values are clamped to [0,1] afterwards.
func solveAlpha(lap *coo, prior *Grid, known []bool, conf []float64, opt Options, rep *Report) *Grid {
	total := len(known)
	toReduced := make([]int32, total)
	var fullIdx []int32
	for i := range known {
		if known[i] {
			toReduced[i] = -1
			continue
		}
		toReduced[i] = int32(len(fullIdx))
		fullIdx = append(fullIdx, int32(i))
	}
	nu := len(fullIdx)

	out := prior.Clone()
	if nu == 0 {
		clampGrid(out)
		return out
	}

	rhs := make([]float64, nu)
	for u, full := range fullIdx {
		rhs[u] = conf[full] * prior.Pix[full]
	}

	var rRows, rCols []int32
	var rVals []float64
	for i, row := range lap.rows {
		ur := toReduced[row]
		if ur < 0 {
			continue
		}
		col := lap.cols[i]
		uc := toReduced[col]
		if uc < 0 {
			rhs[ur] -= lap.vals[i] * prior.Pix[col]
			continue
		}
		rRows = append(rRows, ur)
		rCols = append(rCols, uc)
		rVals = append(rVals, lap.vals[i])
	}
	// Guarantee a diagonal slot per row and fold in the prior confidence.
	for u, full := range fullIdx {
		rRows = append(rRows, int32(u))
		rCols = append(rCols, int32(u))
		rVals = append(rVals, conf[full])
	}

	a := newCSR(nu, rRows, rCols, rVals)

	// Unknown pixels no window reaches (images smaller than a window, or
	// stray unknowns the band dilation missed) have empty rows; pin them to
	// the prior so the system stays non-singular.
	pinned := 0
	for u := 0; u < nu; u++ {
		if a.diag[u] == 0 && a.rowPtr[u+1]-a.rowPtr[u] <= 1 {
			for i := a.rowPtr[u]; i < a.rowPtr[u+1]; i++ {
				a.vals[i] = 0
			}
			setDiag(a, u, 1)
			rhs[u] = prior.Pix[fullIdx[u]]
			pinned++
		}
	}
	if pinned > 0 {
		rep.Degraded = true
		rep.warnf("solver: %d unknown pixel(s) unreachable by any window, pinned to the prior", pinned)
	}

	x := make([]float64, nu)
	for u, full := range fullIdx {
		x[u] = prior.Pix[full]
	}

	tol := opt.CGTol
	if tol <= 0 {
		tol = 1e-7
	}
	iters, residual, failed := cgSolve(a, rhs, x, opt.CGMaxIter, tol)
	rep.CGIterations = iters
	rep.Residual = residual
	switch {
	case failed:
		rep.Degraded = true
		rep.warnf("solver: conjugate gradient broke down after %d iterations, returning the trimap prior", iters)
		return clampGridOf(prior)
	case residual > tol:
		rep.Degraded = true
		rep.warnf("solver: not converged after %d iterations (relative residual %.2e)", iters, residual)
	}

	for u, full := range fullIdx {
		out.Pix[full] = x[u]
	}
	clampGrid(out)
	return out
}

func setDiag(a *csr, row int, v float64) {
	for i := a.rowPtr[row]; i < a.rowPtr[row+1]; i++ {
		if int(a.colInd[i]) == row {
			a.vals[i] = v
			a.diag[row] = v
			return
		}
	}
}

// cgSolve runs Jacobi-preconditioned conjugate gradient on the symmetric
// positive (semi-)definite system a*x = b, starting from the given x.
// Returns the iteration count, the final relative residual and whether the
// iteration broke down numerically.
func cgSolve(a *csr, b, x []float64, maxIter int, tol float64) (int, float64, bool) {
	n := a.n
	if maxIter <= 0 {
		maxIter = 2000
	}

	invDiag := make([]float64, n)
	for i, d := range a.diag {
		if d > 0 {
			invDiag[i] = 1 / d
		} else {
			invDiag[i] = 1
		}
	}

	bNorm := floats.Norm(b, 2)
	if bNorm == 0 {
		for i := range x {
			x[i] = 0
		}
		return 0, 0, false
	}

	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	a.mulVec(r, x)
	floats.Scale(-1, r)
	floats.Add(r, b)
	floats.MulTo(z, invDiag, r)
	copy(p, z)
	rz := floats.Dot(r, z)

	iters := 0
	residual := floats.Norm(r, 2) / bNorm
	for ; iters < maxIter; iters++ {
		if residual <= tol {
			return iters, residual, false
		}
		a.mulVec(ap, p)
		pap := floats.Dot(p, ap)
		if pap <= 0 || math.IsNaN(pap) || math.IsInf(pap, 0) {
			return iters, residual, true
		}
		step := rz / pap
		floats.AddScaled(x, step, p)
		floats.AddScaled(r, -step, ap)
		floats.MulTo(z, invDiag, r)
		rzNext := floats.Dot(r, z)
		if math.IsNaN(rzNext) || math.IsInf(rzNext, 0) {
			return iters, residual, true
		}
		beta := rzNext / rz
		rz = rzNext
		floats.Scale(beta, p)
		floats.Add(p, z)
		residual = floats.Norm(r, 2) / bNorm
	}
	return iters, residual, false
}

func clampGrid(g *Grid) {
	for i, v := range g.Pix {
		g.Pix[i] = clamp01(v)
	}
}

func clampGridOf(g *Grid) *Grid {
	out := g.Clone()
	clampGrid(out)
	return out
}

// solveLinearSystemInPlace solves A*b = rhs by Gaussian elimination with
// partial pivoting, overwriting both arguments. A is n×n row-major.
func solveLinearSystemInPlace(a []float64, b []float64, n int) bool {
	for col := 0; col < n; col++ {
		pivotRow := col
		maxAbs := math.Abs(a[col*n+col])
		for r := col + 1; r < n; r++ {
			v := math.Abs(a[r*n+col])
			if v > maxAbs {
				maxAbs = v
				pivotRow = r
			}
		}
		if maxAbs < 1e-12 {
			return false
		}

		if pivotRow != col {
			rowA := col * n
			rowB := pivotRow * n
			for c := col; c < n; c++ {
				a[rowA+c], a[rowB+c] = a[rowB+c], a[rowA+c]
			}
			b[col], b[pivotRow] = b[pivotRow], b[col]
		}

		pivot := a[col*n+col]
		for r := col + 1; r < n; r++ {
			f := a[r*n+col] / pivot
			a[r*n+col] = 0
			rowR := r * n
			rowC := col * n
			for c := col + 1; c < n; c++ {
				a[rowR+c] -= f * a[rowC+c]
			}
			b[r] -= f * b[col]
		}
	}

	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		row := i * n
		for c := i + 1; c < n; c++ {
			sum -= a[row+c] * b[c]
		}
		diag := a[row+i]
		if math.Abs(diag) < 1e-12 {
			return false
		}
		b[i] = sum / diag
	}
	return true
}
