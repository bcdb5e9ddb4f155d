package matting

import "math"

// postProcessAlpha is the optional cosmetic finisher: a gray-level
// morphological closing then opening removes speckle and small protrusions,
// and a Gaussian blur limited to a narrow band around the matte boundary
// softens the transition. Pixels away from the boundary keep their solved
// values, so large constrained regions are untouched.
func postProcessAlpha(alpha *Grid) *Grid {
	w, h := alpha.W, alpha.H
	kernel := max(3, max(w, h)/200)
	if kernel%2 == 0 {
		kernel++
	}
	radius := kernel / 2

	closed := erodeGray(dilateGray(alpha, radius), radius)
	opened := dilateGray(erodeGray(closed, radius), radius)

	sigma := float64(kernel) / 3.0
	blurred := gaussianBlurGrid(opened, sigma)
	band := boundaryBand(opened, radius+int(math.Ceil(2*sigma)))

	out := NewGrid(w, h)
	for i := range out.Pix {
		if band[i] {
			out.Pix[i] = clamp01(blurred.Pix[i])
		} else {
			out.Pix[i] = clamp01(opened.Pix[i])
		}
	}
	return out
}

// boundaryBand marks pixels within the given radius of the binarized matte
// boundary (a 4-neighbor transition across 0.5).
func boundaryBand(g *Grid, radius int) []bool {
	w, h := g.W, g.H
	edge := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			here := g.Pix[idx] >= 0.5
			if x+1 < w && (g.Pix[idx+1] >= 0.5) != here {
				edge[idx] = true
				edge[idx+1] = true
			}
			if y+1 < h && (g.Pix[idx+w] >= 0.5) != here {
				edge[idx] = true
				edge[idx+w] = true
			}
		}
	}
	return dilateBinary(edge, w, h, 2*radius+1)
}

func erodeGray(g *Grid, radius int) *Grid {
	return rankFilter(g, radius, true)
}

func dilateGray(g *Grid, radius int) *Grid {
	return rankFilter(g, radius, false)
}

// rankFilter applies a separable square min (erode) or max (dilate) filter.
func rankFilter(g *Grid, radius int, minimum bool) *Grid {
	w, h := g.W, g.H
	tmp := NewGrid(w, h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			v := g.Pix[row+x]
			for d := -radius; d <= radius; d++ {
				nx := x + d
				if nx < 0 || nx >= w {
					continue
				}
				nv := g.Pix[row+nx]
				if minimum == (nv < v) {
					v = nv
				}
			}
			tmp.Pix[row+x] = v
		}
	}
	out := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := tmp.Pix[y*w+x]
			for d := -radius; d <= radius; d++ {
				ny := y + d
				if ny < 0 || ny >= h {
					continue
				}
				nv := tmp.Pix[ny*w+x]
				if minimum == (nv < v) {
					v = nv
				}
			}
			out.Pix[y*w+x] = v
		}
	}
	return out
}

// gaussianBlurGrid applies a separable Gaussian with radius ceil(4*sigma),
// renormalizing the kernel at the borders.
func gaussianBlurGrid(g *Grid, sigma float64) *Grid {
	if sigma <= 0 {
		return g.Clone()
	}
	radius := int(math.Ceil(4 * sigma))
	kernel := make([]float64, 2*radius+1)
	sfactor := -0.5 / (sigma * sigma)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(sfactor * x * x)
	}

	w, h := g.W, g.H
	tmp := NewGrid(w, h)
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			sum, weight := 0.0, 0.0
			for d := -radius; d <= radius; d++ {
				nx := x + d
				if nx < 0 || nx >= w {
					continue
				}
				k := kernel[d+radius]
				sum += k * g.Pix[row+nx]
				weight += k
			}
			tmp.Pix[row+x] = sum / weight
		}
	}
	out := NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, weight := 0.0, 0.0
			for d := -radius; d <= radius; d++ {
				ny := y + d
				if ny < 0 || ny >= h {
					continue
				}
				k := kernel[d+radius]
				sum += k * tmp.Pix[ny*w+x]
				weight += k
			}
			out.Pix[y*w+x] = sum / weight
		}
	}
	return out
}
